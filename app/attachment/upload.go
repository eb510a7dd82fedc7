package attachment

import (
	"mime/multipart"

	"bitwise74/reactions-api/internal"
	"bitwise74/reactions-api/internal/apperr"
	"bitwise74/reactions-api/internal/ingest"
	"bitwise74/reactions-api/pkg/validators"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type reactionForm struct {
	File       *multipart.FileHeader `form:"file_content"`
	QuestionID string                `form:"question_id"`
	IsRecorded string                `form:"is_recorded"`
	ReplyTo    string                `form:"reply_to"`
	TimeStamp  string                `form:"time_stamp"`
}

type chatForm struct {
	File         *multipart.FileHeader `form:"file_content"`
	ConnectionID string                `form:"connection_id"`
	IsRecorded   string                `form:"is_recorded"`
	ReplyTo      string                `form:"reply_from_chat_id"`
	TimeStamp    string                `form:"time_stamp"`
}

// Reaction stores a voice reaction to a daily question
func Reaction(c *gin.Context, d *internal.Deps) {
	var f reactionForm
	if err := c.ShouldBind(&f); err != nil {
		fail(c, apperr.Wrap(apperr.InvalidInput, "Invalid request", err))
		return
	}

	upload(c, d, ingest.EntryReaction, validators.Upload{
		File:            f.File,
		ConversationRef: f.QuestionID,
		ReplyTo:         f.ReplyTo,
		IsRecorded:      f.IsRecorded,
		TimeStamp:       f.TimeStamp,
	})
}

// Chat stores a file posted into a chat room
func Chat(c *gin.Context, d *internal.Deps) {
	var f chatForm
	if err := c.ShouldBind(&f); err != nil {
		fail(c, apperr.Wrap(apperr.InvalidInput, "Invalid request", err))
		return
	}

	upload(c, d, ingest.EntryChat, validators.Upload{
		File:            f.File,
		ConversationRef: f.ConnectionID,
		ReplyTo:         f.ReplyTo,
		IsRecorded:      f.IsRecorded,
		TimeStamp:       f.TimeStamp,
	})
}

func upload(c *gin.Context, d *internal.Deps, entry ingest.Entry, u validators.Upload) {
	requestID := c.GetString("requestID")
	userID := c.MustGet("userID").(string)

	form, err := validators.UploadValidator(u, d.MaxSize)
	if err != nil {
		fail(c, apperr.Wrap(apperr.InvalidInput, err.Error(), err))
		return
	}

	file, err := form.File.Open()
	if err != nil {
		fail(c, apperr.Wrap(apperr.InvalidInput, "Failed to read file", err))
		return
	}
	defer file.Close()

	res, err := d.Pipeline.Ingest(c.Request.Context(), ingest.Request{
		Entry:           entry,
		Body:            file,
		FileName:        form.File.Filename,
		ContentType:     form.File.Header.Get("Content-Type"),
		IsRecordedAudio: form.IsRecordedAudio,
		ReplyToID:       form.ReplyToID,
		ConversationRef: form.ConversationRef,
		SenderID:        userID,
		TimeStamp:       form.TimeStamp,
	})
	if err != nil {
		fail(c, err)
		return
	}

	zap.L().Debug("Attachment stored",
		zap.String("requestID", requestID),
		zap.String("key", res.Attachment.StorageKey),
		zap.String("docType", res.Attachment.DocType))

	succeed(c, res)
}
