package models

import (
	"bytes"
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageVideo    MessageType = "video"
	MessageAudio    MessageType = "audio"
	MessageFile     MessageType = "file"
	MessageLocation MessageType = "location"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile, MessageLocation:
		return true
	}
	return false
}

// MessageStatus is the delivery status of a message. It only moves forward:
// sent -> delivered -> read.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

func (s MessageStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Before reports whether next is strictly further along than s.
func (s MessageStatus) Before(next MessageStatus) bool {
	return next.rank() > s.rank()
}

// Max returns the further-along of the two statuses.
func (s MessageStatus) Max(other MessageStatus) MessageStatus {
	if s.Before(other) {
		return other
	}
	return s
}

// Reply is the quoted message a message replies to.
type Reply struct {
	ID      string `json:"_id"`
	Content string `json:"content,omitempty"`
	Sender  Ref    `json:"senderId"`
}

// UnmarshalJSON accepts a bare id as well as the populated object.
func (r *Reply) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = Reply{ID: id}
		return nil
	}
	type plain Reply
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*r = Reply(p)
	return nil
}

type Message struct {
	ID             string        `json:"_id"`
	ConversationID string        `json:"conversationId"`
	Sender         Ref           `json:"senderId"`
	Receiver       Ref           `json:"receiverId"`
	Type           MessageType   `json:"type"`
	Content        string        `json:"content"`
	MediaURL       string        `json:"mediaUrl,omitempty"`
	ThumbnailURL   string        `json:"thumbnailUrl,omitempty"`
	FileName       string        `json:"fileName,omitempty"`
	FileSize       int64         `json:"fileSize,omitempty"`
	MimeType       string        `json:"mimeType,omitempty"`
	Status         MessageStatus `json:"status"`
	DeliveredAt    *time.Time    `json:"deliveredAt,omitempty"`
	ReadAt         *time.Time    `json:"readAt,omitempty"`
	ReplyTo        *Reply        `json:"replyTo,omitempty"`
	IsDeleted      bool          `json:"isDeleted"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// MessagePatch is a partial update. Zero fields are left untouched.
type MessagePatch struct {
	Status      MessageStatus
	DeliveredAt *time.Time
	ReadAt      *time.Time
	Deleted     bool
}

// Apply merges p into m and reports whether anything changed. A status that
// would move backwards is ignored, and deletion cannot be undone.
func (m *Message) Apply(p MessagePatch) bool {
	changed := false
	if p.Status != "" && m.Status.Before(p.Status) {
		m.Status = p.Status
		changed = true
	}
	if p.DeliveredAt != nil && m.DeliveredAt == nil && !m.Status.Before(StatusDelivered) {
		t := *p.DeliveredAt
		m.DeliveredAt = &t
		changed = true
	}
	if p.ReadAt != nil && m.ReadAt == nil && m.Status == StatusRead {
		t := *p.ReadAt
		m.ReadAt = &t
		changed = true
	}
	if p.Deleted && !m.IsDeleted {
		m.IsDeleted = true
		changed = true
	}
	return changed
}

// Reconcile folds a newer server copy of the same message into m. Server
// fields win, except that status never regresses and deletion sticks.
func (m *Message) Reconcile(incoming Message) {
	status := m.Status.Max(incoming.Status)
	deliveredAt, readAt, deleted := m.DeliveredAt, m.ReadAt, m.IsDeleted
	*m = incoming.Clone()
	m.Status = status
	if m.DeliveredAt == nil {
		m.DeliveredAt = deliveredAt
	}
	if m.ReadAt == nil {
		m.ReadAt = readAt
	}
	m.IsDeleted = m.IsDeleted || deleted
}

// Clone returns a copy that shares no pointers with m.
func (m Message) Clone() Message {
	out := m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		out.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		out.ReadAt = &t
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	return out
}

// DisplayContent is the text to render. Deleted messages render nothing.
func (m Message) DisplayContent() string {
	if m.IsDeleted {
		return ""
	}
	return m.Content
}

// Preview is the one-line summary shown in the conversation list.
func (m Message) Preview() string {
	if m.IsDeleted {
		return "This message was deleted"
	}
	switch m.Type {
	case MessageImage:
		return "Photo"
	case MessageVideo:
		return "Video"
	case MessageAudio:
		return "Audio"
	case MessageFile:
		return "File"
	case MessageLocation:
		return "Location"
	}
	return m.Content
}

// Involves reports whether userID sent or received the message.
func (m Message) Involves(userID string) bool {
	return m.Sender.Is(userID) || m.Receiver.Is(userID)
}

// Counterpart returns the participant that is not userID.
func (m Message) Counterpart(userID string) Ref {
	if m.Sender.Is(userID) {
		return m.Receiver
	}
	return m.Sender
}
