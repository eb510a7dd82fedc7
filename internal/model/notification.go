package model

import "time"

type Notification struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"index;not null" json:"-"`
	SenderID       string    `json:"sender_id"`
	Title          string    `json:"title"`
	Text           string    `json:"text"`
	SubType        string    `json:"sub_type"`
	AttachmentID   string    `json:"attachment_id"`
	ConversationID string    `json:"conversation_id"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}
