package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags a live event envelope.
type EventType string

const (
	EventNewMessage         EventType = "new_message"
	EventMessageSent        EventType = "message_sent"
	EventMessagesRead       EventType = "messages_read"
	EventMessageDeleted     EventType = "message_deleted"
	EventTypingStart        EventType = "typing_start"
	EventTypingStop         EventType = "typing_stop"
	EventNotification       EventType = "notification"
	EventUnreadCountUpdated EventType = "unread_count_updated"
)

var (
	ErrEmptyEventType      = errors.New("event has no type")
	ErrMissingConversation = errors.New("event names no conversation")
	ErrMissingMessage      = errors.New("event carries no message")
)

// Event is the envelope used in both directions on the live channel.
type Event struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// DecodeEvent parses one inbound frame.
func DecodeEvent(frame []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.Type == "" {
		return Event{}, ErrEmptyEventType
	}
	return ev, nil
}

// NewEvent builds an envelope around payload.
func NewEvent(t EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{Type: t, Data: data}, nil
}

func (e Event) decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s payload: %w", e.Type, err)
	}
	return nil
}

// MessagePayload is the data of new_message and message_sent.
type MessagePayload struct {
	ConversationID string   `json:"conversationId"`
	Message        *Message `json:"message"`
}

// MessagePayload decodes and normalizes a message event. The conversation id
// is taken from either the envelope data or the message and written to both.
func (e Event) MessagePayload() (*MessagePayload, error) {
	var p MessagePayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.Message == nil || p.Message.ID == "" {
		return nil, ErrMissingMessage
	}
	if p.ConversationID == "" {
		p.ConversationID = p.Message.ConversationID
	}
	if p.ConversationID == "" {
		return nil, ErrMissingConversation
	}
	if p.Message.ConversationID == "" {
		p.Message.ConversationID = p.ConversationID
	}
	return &p, nil
}

// ReadPayload is the data of messages_read.
type ReadPayload struct {
	ConversationID string   `json:"conversationId"`
	UserID         string   `json:"userId,omitempty"`
	ReadBy         string   `json:"readBy,omitempty"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

// Reader is the user who read the messages, if the server said so.
func (p ReadPayload) Reader() string {
	if p.ReadBy != "" {
		return p.ReadBy
	}
	return p.UserID
}

func (e Event) ReadPayload() (*ReadPayload, error) {
	var p ReadPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.ConversationID == "" {
		return nil, ErrMissingConversation
	}
	return &p, nil
}

// DeletedPayload is the data of message_deleted.
type DeletedPayload struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

func (e Event) DeletedPayload() (*DeletedPayload, error) {
	var p DeletedPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.ConversationID == "" {
		return nil, ErrMissingConversation
	}
	if p.MessageID == "" {
		return nil, ErrMissingMessage
	}
	return &p, nil
}

// TypingPayload is the data of typing_start and typing_stop, both directions.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	TargetUserID   string `json:"targetUserId,omitempty"`
	UserID         string `json:"userId,omitempty"`
}

func (e Event) TypingPayload() (*TypingPayload, error) {
	var p TypingPayload
	if err := e.decode(&p); err != nil {
		return nil, err
	}
	if p.ConversationID == "" {
		return nil, ErrMissingConversation
	}
	return &p, nil
}

// NotificationPayload decodes the notification carried by a notification event.
func (e Event) NotificationPayload() (*Notification, error) {
	var n Notification
	if err := e.decode(&n); err != nil {
		return nil, err
	}
	return &n, nil
}
