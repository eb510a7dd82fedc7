// Package repository is the gorm backed persistence of attachments and the
// conversations they are posted in.
package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"bitwise74/reactions-api/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrReplyTargetNotFound = errors.New("reply target not found in conversation")
	ErrConversationKind    = errors.New("conversation exists with a different kind")
)

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// LinkInput is everything that gets written for one upload.
type LinkInput struct {
	Attachment       *model.Attachment
	ConversationID   string
	ConversationKind string
	SenderID         string
	ReplyToID        *uint
	TimeStamp        string
}

// Link records the attachment, posts it into its conversation and bumps the
// reply counter of the answered entry. Either everything is written or
// nothing is.
func (r *Repository) Link(ctx context.Context, in LinkInput) (*model.Entry, error) {
	var entry *model.Entry

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(in.Attachment).Error; err != nil {
			return fmt.Errorf("failed to create attachment, %w", err)
		}

		if err := conversation(tx, in.ConversationID, in.ConversationKind); err != nil {
			return err
		}

		if in.ReplyToID != nil {
			res := tx.
				Model(&model.Entry{}).
				Where("id = ? AND conversation_id = ?", *in.ReplyToID, in.ConversationID).
				Update("reply_counter", gorm.Expr("COALESCE(reply_counter, 0) + ?", 1))
			if res.Error != nil {
				return fmt.Errorf("failed to update reply counter, %w", res.Error)
			}

			if res.RowsAffected != 1 {
				return ErrReplyTargetNotFound
			}
		}

		e := &model.Entry{
			ConversationID: in.ConversationID,
			AttachmentID:   in.Attachment.ID,
			SenderID:       in.SenderID,
			ReplyToID:      in.ReplyToID,
			TimeStamp:      in.TimeStamp,
		}
		if err := tx.Create(e).Error; err != nil {
			return fmt.Errorf("failed to create entry, %w", err)
		}

		if err := addMembers(tx, in.ConversationID, []string{in.SenderID}); err != nil {
			return err
		}

		entry = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Join makes users members of a conversation, creating the conversation
// when it doesn't exist yet. Existing members are left untouched.
func (r *Repository) Join(ctx context.Context, conversationID, kind string, userIDs ...string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := conversation(tx, conversationID, kind); err != nil {
			return err
		}

		return addMembers(tx, conversationID, userIDs)
	})
}

// Leave removes a user from a conversation. Leaving twice is not an error.
func (r *Repository) Leave(ctx context.Context, conversationID, userID string) error {
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Delete(&model.Participant{}).
		Error
	if err != nil {
		return fmt.Errorf("failed to remove participant, %w", err)
	}

	return nil
}

func conversation(tx *gorm.DB, id, kind string) error {
	conv := model.Conversation{}
	err := tx.
		Where(model.Conversation{ID: id}).
		Attrs(model.Conversation{Kind: kind}).
		FirstOrCreate(&conv).
		Error
	if err != nil {
		return fmt.Errorf("failed to get conversation, %w", err)
	}

	if conv.Kind != kind {
		return ErrConversationKind
	}

	return nil
}

func addMembers(tx *gorm.DB, conversationID string, userIDs []string) error {
	ids := slices.Clone(userIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	members := make([]model.Participant, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			members = append(members, model.Participant{ConversationID: conversationID, UserID: id})
		}
	}

	if len(members) == 0 {
		return nil
	}

	err := tx.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&members).
		Error
	if err != nil {
		return fmt.Errorf("failed to register participants, %w", err)
	}

	return nil
}

// Participants returns the ids of every user taking part in a conversation.
func (r *Repository) Participants(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string

	err := r.db.WithContext(ctx).
		Model(&model.Participant{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id").
		Pluck("user_id", &ids).
		Error
	if err != nil {
		return nil, fmt.Errorf("failed to query participants, %w", err)
	}

	return ids, nil
}

func (r *Repository) Attachment(ctx context.Context, id string) (*model.Attachment, error) {
	var a model.Attachment

	err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attachment, %w", err)
	}

	return &a, nil
}

func (r *Repository) SaveNotification(ctx context.Context, n *model.Notification) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to save notification, %w", err)
	}

	return nil
}

func (r *Repository) VendorConfig(ctx context.Context, tag string) (*model.VendorConfig, error) {
	var c model.VendorConfig

	err := r.db.WithContext(ctx).Where("tag = ?", tag).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query vendor config, %w", err)
	}

	return &c, nil
}

func (r *Repository) VendorConfigs(ctx context.Context) ([]model.VendorConfig, error) {
	var cs []model.VendorConfig

	if err := r.db.WithContext(ctx).Order("tag").Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("failed to query vendor configs, %w", err)
	}

	return cs, nil
}
