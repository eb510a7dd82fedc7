package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"bitwise74/reactions-api/internal/model"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type NotificationSaver interface {
	SaveNotification(ctx context.Context, n *model.Notification) error
}

// Processor persists notifications pulled from the queue.
type Processor struct {
	store NotificationSaver
}

func NewProcessor(s NotificationSaver) *Processor {
	return &Processor{store: s}
}

func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAttachmentReceived, p.handleAttachmentReceived)
	return mux
}

func (p *Processor) handleAttachmentReceived(ctx context.Context, task *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		// Broken payloads are dropped without retries
		return fmt.Errorf("failed to decode payload, %v, %w", err, asynq.SkipRetry)
	}

	err := p.store.SaveNotification(ctx, &model.Notification{
		UserID:         payload.UserID,
		SenderID:       payload.Event.SenderID,
		Title:          payload.Event.Title,
		Text:           payload.Event.Text,
		SubType:        payload.Event.SubType,
		AttachmentID:   payload.Event.AttachmentID,
		ConversationID: payload.Event.ConversationID,
	})
	if err != nil {
		return err
	}

	zap.L().Debug("Notification stored", zap.String("user_id", payload.UserID), zap.String("attachment_id", payload.Event.AttachmentID))
	return nil
}
