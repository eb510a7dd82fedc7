// Package model defines database models
package model

import "time"

// Attachment is a stored media object.
type Attachment struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	StorageKey     string    `gorm:"uniqueIndex;not null" json:"file_key"`
	URL            string    `json:"url"`
	ContentType    string    `json:"content_type"`
	DocType        string    `gorm:"index" json:"doc_type"`
	FileName       string    `json:"file_name"`
	Size           int64     `json:"size"`
	Duration       float64   `json:"duration"`
	Waveform       Waveform  `gorm:"type:text" json:"waveform,omitempty"`
	CreatedBy      string    `gorm:"index;not null" json:"created_by"`
	ConversationID string    `gorm:"index;not null" json:"conversation_id"`
	ReplyToID      *uint     `json:"reply_to_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
