package models

import (
	"time"

	"gorm.io/gorm"
)

// CachedConversation mirrors one Directory entry for an owner identity.
type CachedConversation struct {
	OwnerID        string    `gorm:"primaryKey;type:varchar(64)"`
	ConversationID string    `gorm:"primaryKey;type:varchar(64)"`
	Payload        string    `gorm:"type:text;not null"`
	ActiveAt       time.Time `gorm:"index"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// CachedMessage mirrors one Ledger message.
type CachedMessage struct {
	MessageID      string    `gorm:"primaryKey;type:varchar(64)"`
	ConversationID string    `gorm:"type:varchar(64);index:idx_conv_created,priority:1"`
	Payload        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index:idx_conv_created,priority:2"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// Migrate creates or updates the cache tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&CachedConversation{}, &CachedMessage{})
}
