package model

import "time"

// VendorConfig stores credentials of an external service as a JSON document.
type VendorConfig struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	Tag          string    `gorm:"uniqueIndex;not null"`
	ConfigDetail string    `gorm:"type:text;not null"`
	UpdatedAt    time.Time
}

func (VendorConfig) TableName() string {
	return "external_vendor_config"
}
