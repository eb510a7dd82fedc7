// Package notify fans attachment events out to the members of a
// conversation.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// TypeAttachmentReceived is enqueued once per recipient of an attachment.
const TypeAttachmentReceived = "notification:attachment"

const Title = "New Attachment"

type Event struct {
	Title          string `json:"title"`
	Text           string `json:"text"`
	SubType        string `json:"sub_type"`
	SenderID       string `json:"sender_id"`
	AttachmentID   string `json:"attachment_id"`
	ConversationID string `json:"conversation_id"`
}

// AttachmentEvent builds the event sent when a new attachment is posted.
func AttachmentEvent(class, senderID, attachmentID, conversationID string) Event {
	return Event{
		Title:          Title,
		Text:           fmt.Sprintf("Attachment received %s.", class),
		SubType:        class,
		SenderID:       senderID,
		AttachmentID:   attachmentID,
		ConversationID: conversationID,
	}
}

// Report tells which recipients were reached. A failed recipient never
// affects the others.
type Report struct {
	Delivered []string
	Failed    map[string]error
}

type Notifier interface {
	Notify(ctx context.Context, recipients []string, ev Event) Report
}

type Payload struct {
	UserID string `json:"user_id"`
	Event  Event  `json:"event"`
}

func NewTask(userID string, ev Event) (*asynq.Task, error) {
	data, err := json.Marshal(Payload{UserID: userID, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification payload, %w", err)
	}

	return asynq.NewTask(TypeAttachmentReceived, data), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier hands every recipient its own task so delivery is retried
// per user by the worker.
type AsynqNotifier struct {
	client   Enqueuer
	parallel int
}

func NewAsynqNotifier(c Enqueuer, parallel int) *AsynqNotifier {
	if parallel <= 0 {
		parallel = 8
	}

	return &AsynqNotifier{client: c, parallel: parallel}
}

func (n *AsynqNotifier) Notify(ctx context.Context, recipients []string, ev Event) Report {
	var (
		mu  sync.Mutex
		rep = Report{Failed: map[string]error{}}
	)

	p := pool.New().WithMaxGoroutines(n.parallel)
	for _, userID := range recipients {
		p.Go(func() {
			err := n.enqueue(ctx, userID, ev)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				rep.Failed[userID] = err
				return
			}
			rep.Delivered = append(rep.Delivered, userID)
		})
	}
	p.Wait()

	return rep
}

func (n *AsynqNotifier) enqueue(ctx context.Context, userID string, ev Event) error {
	task, err := NewTask(userID, ev)
	if err != nil {
		return err
	}

	if _, err := n.client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("failed to enqueue notification, %w", err)
	}

	return nil
}

// LogNotifier only writes the events to the log. Used when no queue is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, recipients []string, ev Event) Report {
	for _, userID := range recipients {
		zap.L().Info("Notification",
			zap.String("user_id", userID),
			zap.String("title", ev.Title),
			zap.String("text", ev.Text),
			zap.String("attachment_id", ev.AttachmentID))
	}

	return Report{Delivered: recipients, Failed: map[string]error{}}
}
