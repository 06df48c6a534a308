package store

import (
	"time"

	"gorm.io/datatypes"
)

// AttachmentModel is the GORM model backing attachment records.
type AttachmentModel struct {
	ID               string  `gorm:"primaryKey"`
	OwnerID          string  `gorm:"not null;index"`
	ConversationID   string  `gorm:"not null;index"`
	MessageID        *string `gorm:"index"`
	FileName         string  `gorm:"not null"`
	DeclaredMIMEType string
	ByteSize         int64  `gorm:"not null"`
	StoragePath      string `gorm:"not null"`
	ExtractionState  string `gorm:"not null;index"`
	ExtractedText    *string
	ExtractionMeta   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt        time.Time      `gorm:"not null;index"`
	UpdatedAt        time.Time      `gorm:"not null"`
}
