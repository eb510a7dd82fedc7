// Package validators checks the form fields of upload requests before any
// file content is read
package validators

import (
	"errors"
	"mime/multipart"
	"regexp"
	"strconv"
	"strings"
)

var (
	ErrNoFile              = errors.New("no file found")
	ErrFileNameTooLong     = errors.New("file name is too long")
	ErrFileTooLarge        = errors.New("file too large")
	ErrNoConversation      = errors.New("no conversation provided")
	ErrInvalidConversation = errors.New("invalid conversation id")
	ErrInvalidReplyTo      = errors.New("invalid reply id")
	ErrInvalidRecordedFlag = errors.New("invalid is_recorded value")
	ErrInvalidTimeStamp    = errors.New("invalid time stamp")
)

const (
	maxFileNameSize  = 255
	maxTimeStampSize = 32
)

var conversationRef = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Upload holds the raw form values of an upload. Field names differ between
// entry points, the handlers bind them into this shape.
type Upload struct {
	File            *multipart.FileHeader
	ConversationRef string
	ReplyTo         string
	IsRecorded      string
	TimeStamp       string
}

type ValidUpload struct {
	File            *multipart.FileHeader
	ConversationRef string
	ReplyToID       *uint
	IsRecordedAudio bool
	TimeStamp       string
}

// UploadValidator returns the parsed form. maxSize of 0 disables the size
// check.
func UploadValidator(u Upload, maxSize int64) (*ValidUpload, error) {
	if u.File == nil || u.File.Filename == "" {
		return nil, ErrNoFile
	}

	if len(u.File.Filename) > maxFileNameSize {
		return nil, ErrFileNameTooLong
	}

	if maxSize > 0 && u.File.Size > maxSize {
		return nil, ErrFileTooLarge
	}

	ref := strings.TrimSpace(u.ConversationRef)
	if ref == "" {
		return nil, ErrNoConversation
	}

	if !conversationRef.MatchString(ref) {
		return nil, ErrInvalidConversation
	}

	out := &ValidUpload{
		File:            u.File,
		ConversationRef: ref,
	}

	if s := strings.TrimSpace(u.ReplyTo); s != "" {
		id, err := strconv.ParseUint(s, 10, 32)
		if err != nil || id == 0 {
			return nil, ErrInvalidReplyTo
		}

		replyTo := uint(id)
		out.ReplyToID = &replyTo
	}

	if s := strings.TrimSpace(u.IsRecorded); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, ErrInvalidRecordedFlag
		}

		out.IsRecordedAudio = b
	}

	if len(u.TimeStamp) > maxTimeStampSize {
		return nil, ErrInvalidTimeStamp
	}
	out.TimeStamp = strings.TrimSpace(u.TimeStamp)

	return out, nil
}
