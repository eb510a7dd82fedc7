// Package linker records an uploaded object and attaches it to the
// conversation it was posted in.
package linker

import (
	"context"
	"errors"
	"time"

	"bitwise74/reactions-api/internal/apperr"
	"bitwise74/reactions-api/internal/media"
	"bitwise74/reactions-api/internal/model"
	"bitwise74/reactions-api/internal/notify"
	"bitwise74/reactions-api/internal/repository"
	"bitwise74/reactions-api/internal/storage"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// Upper bound for handing one attachment event to the notifier.
const notifyTimeout = 5 * time.Second

type Repository interface {
	Link(ctx context.Context, in repository.LinkInput) (*model.Entry, error)
	Participants(ctx context.Context, conversationID string) ([]string, error)
}

// Request describes what the uploaded object is and where it was posted.
type Request struct {
	ConversationKind string
	ConversationRef  string
	SenderID         string
	ReplyToID        *uint
	TimeStamp        string
	FileName         string
	Class            media.Classification
	Duration         float64
	Waveform         []float64
	URL              string
}

// ConversationID is the id a conversation is stored under.
func ConversationID(kind, ref string) string {
	return kind + ":" + ref
}

type Linker struct {
	repo     Repository
	notifier notify.Notifier
	pending  conc.WaitGroup
}

func New(r Repository, n notify.Notifier) *Linker {
	return &Linker{repo: r, notifier: n}
}

// Link writes the attachment record and its conversation entry in one
// transaction, then notifies the other members in the background.
// Notification failures are logged and never returned.
func (l *Linker) Link(ctx context.Context, up *storage.Result, req Request) (*model.Attachment, *model.Entry, error) {
	convID := ConversationID(req.ConversationKind, req.ConversationRef)

	a := &model.Attachment{
		ID:             uuid.NewString(),
		StorageKey:     up.Key,
		URL:            req.URL,
		ContentType:    up.ContentType,
		DocType:        req.Class.String(),
		FileName:       req.FileName,
		Size:           up.Size,
		Duration:       req.Duration,
		Waveform:       model.Waveform(req.Waveform),
		CreatedBy:      req.SenderID,
		ConversationID: convID,
		ReplyToID:      req.ReplyToID,
		CreatedAt:      time.Now().UTC(),
	}

	entry, err := l.repo.Link(ctx, repository.LinkInput{
		Attachment:       a,
		ConversationID:   convID,
		ConversationKind: req.ConversationKind,
		SenderID:         req.SenderID,
		ReplyToID:        req.ReplyToID,
		TimeStamp:        req.TimeStamp,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrReplyTargetNotFound):
			return nil, nil, apperr.Wrap(apperr.LinkError, "Reply target not found", err)
		case errors.Is(err, repository.ErrConversationKind):
			return nil, nil, apperr.Wrap(apperr.LinkError, "Conversation does not accept this upload", err)
		}

		return nil, nil, apperr.Wrap(apperr.LinkError, "Failed to save attachment", err)
	}

	detached := context.WithoutCancel(ctx)
	l.pending.Go(func() {
		ctx, cancel := context.WithTimeout(detached, notifyTimeout)
		defer cancel()

		l.fanOut(ctx, a)
	})

	return a, entry, nil
}

// Wait blocks until every started fan-out has finished.
func (l *Linker) Wait() {
	l.pending.Wait()
}

func (l *Linker) fanOut(ctx context.Context, a *model.Attachment) {
	members, err := l.repo.Participants(ctx, a.ConversationID)
	if err != nil {
		zap.L().Warn("Failed to load participants, skipping notifications",
			zap.String("conversation_id", a.ConversationID),
			zap.Error(err))
		return
	}

	recipients := make([]string, 0, len(members))
	for _, m := range members {
		if m != a.CreatedBy {
			recipients = append(recipients, m)
		}
	}

	if len(recipients) == 0 {
		return
	}

	rep := l.notifier.Notify(ctx, recipients, notify.AttachmentEvent(a.DocType, a.CreatedBy, a.ID, a.ConversationID))
	for userID, err := range rep.Failed {
		zap.L().Warn("Failed to notify participant",
			zap.String("user_id", userID),
			zap.String("attachment_id", a.ID),
			zap.Error(err))
	}
}
