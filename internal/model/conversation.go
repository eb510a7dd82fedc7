package model

import "time"

const (
	ConversationReaction = "reaction"
	ConversationChat     = "chat"
)

// Conversation is either the reaction thread of a daily question or a chat
// room.
type Conversation struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"not null;index" json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry links an attachment into a conversation. Replies bump the counter of
// the entry they answer.
type Entry struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	AttachmentID   string    `gorm:"index;not null" json:"attachment_id"`
	SenderID       string    `gorm:"not null" json:"sender_id"`
	ReplyToID      *uint     `gorm:"index" json:"reply_to_id,omitempty"`
	ReplyCounter   *int      `json:"reply_counter"`
	TimeStamp      string    `json:"time_stamp,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type Participant struct {
	ConversationID string    `gorm:"primaryKey"`
	UserID         string    `gorm:"primaryKey"`
	JoinedAt       time.Time `gorm:"autoCreateTime"`
}
