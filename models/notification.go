package models

import (
	"encoding/json"
	"time"
)

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationArchived NotificationStatus = "archived"
)

type Notification struct {
	ID        string             `json:"_id"`
	UserID    string             `json:"userId"`
	Type      string             `json:"type"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Status    NotificationStatus `json:"status"`
	Metadata  json.RawMessage    `json:"metadata,omitempty"`
	Link      string             `json:"link,omitempty"`
	ReadAt    *time.Time         `json:"readAt,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
