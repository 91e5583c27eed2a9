package models

import (
	"sort"
	"strings"
	"time"
)

// Conversation is the client view of a one-to-one conversation.
type Conversation struct {
	ID               string     `json:"_id"`
	OtherParticipant Ref        `json:"otherParticipant"`
	LastMessage      *Message   `json:"lastMessage,omitempty"`
	LastMessageAt    *time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount      int        `json:"unreadCount"`
	IsArchived       bool       `json:"isArchived"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// ActiveAt is the recency used to order the conversation list.
func (c Conversation) ActiveAt() time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	if !c.UpdatedAt.IsZero() {
		return c.UpdatedAt
	}
	return c.CreatedAt
}

// Clone returns a copy that shares no pointers with c.
func (c Conversation) Clone() Conversation {
	out := c
	if c.LastMessage != nil {
		m := c.LastMessage.Clone()
		out.LastMessage = &m
	}
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		out.LastMessageAt = &t
	}
	return out
}

// PairKey identifies the unordered participant pair of a conversation.
// Both orderings of the same two users give the same key.
func PairKey(userID1, userID2 string) string {
	ids := []string{userID1, userID2}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}
