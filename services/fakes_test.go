package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"matrimony-chat/models"
)

var errUnavailable = errors.New("service unavailable")

// fakeAPI is a scriptable ChatAPI. Unset funcs return zero values.
type fakeAPI struct {
	mu sync.Mutex

	listConversations func(page int) ([]models.Conversation, *models.Pagination, error)
	getOrCreate       func(u1, u2 string) (*models.Conversation, error)
	listMessages      func(q MessageQuery) ([]models.Message, *models.Pagination, error)
	sendMessage       func(req SendMessageRequest) (*models.Message, error)
	unreadTotal       func() (int, error)
	notificationStats func() (int, error)
	listNotifications func(q NotificationQuery) ([]models.Notification, *models.Pagination, error)

	calls map[string]int
	reads []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{calls: map[string]int{}}
}

func (f *fakeAPI) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *fakeAPI) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAPI) ListConversations(_ context.Context, _ string, page, _ int) ([]models.Conversation, *models.Pagination, error) {
	f.record("list_conversations")
	if f.listConversations == nil {
		return nil, nil, nil
	}
	return f.listConversations(page)
}

func (f *fakeAPI) GetOrCreateConversation(_ context.Context, u1, u2 string) (*models.Conversation, error) {
	f.record("get_or_create_conversation")
	if f.getOrCreate == nil {
		return nil, errUnavailable
	}
	return f.getOrCreate(u1, u2)
}

func (f *fakeAPI) ListMessages(_ context.Context, _ string, q MessageQuery) ([]models.Message, *models.Pagination, error) {
	f.record("list_messages")
	if f.listMessages == nil {
		return nil, nil, nil
	}
	return f.listMessages(q)
}

func (f *fakeAPI) SendMessage(_ context.Context, req SendMessageRequest) (*models.Message, error) {
	f.record("send_message")
	if f.sendMessage == nil {
		return nil, errUnavailable
	}
	return f.sendMessage(req)
}

func (f *fakeAPI) MarkRead(_ context.Context, conversationID, _ string) error {
	f.mu.Lock()
	f.calls["mark_read"]++
	f.reads = append(f.reads, conversationID)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) DeleteMessage(context.Context, string, string) error {
	f.record("delete_message")
	return nil
}

func (f *fakeAPI) UnreadTotal(context.Context, string) (int, error) {
	f.record("unread_total")
	if f.unreadTotal == nil {
		return 0, nil
	}
	return f.unreadTotal()
}

func (f *fakeAPI) NotificationStats(context.Context, string) (int, error) {
	f.record("notification_stats")
	if f.notificationStats == nil {
		return 0, nil
	}
	return f.notificationStats()
}

func (f *fakeAPI) ListNotifications(_ context.Context, _ string, q NotificationQuery) ([]models.Notification, *models.Pagination, error) {
	f.record("list_notifications")
	if f.listNotifications == nil {
		return nil, nil, nil
	}
	return f.listNotifications(q)
}

func (f *fakeAPI) MarkNotificationRead(context.Context, string) error {
	f.record("mark_notification_read")
	return nil
}

func (f *fakeAPI) MarkAllNotificationsRead(context.Context, string) error {
	f.record("mark_all_notifications_read")
	return nil
}

func (f *fakeAPI) DeleteNotification(context.Context, string) error {
	f.record("delete_notification")
	return nil
}

// memStore is an in-memory SnapshotStore.
type memStore struct {
	mu    sync.Mutex
	convs map[string][]models.Conversation
	msgs  map[string][]models.Message
}

func newMemStore() *memStore {
	return &memStore{convs: map[string][]models.Conversation{}, msgs: map[string][]models.Message{}}
}

func (s *memStore) SaveConversations(_ context.Context, owner string, convs []models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[owner] = append([]models.Conversation(nil), convs...)
	return nil
}

func (s *memStore) LoadConversations(_ context.Context, owner string) ([]models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Conversation(nil), s.convs[owner]...), nil
}

func (s *memStore) SaveMessages(_ context.Context, cid string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs[cid] = append([]models.Message(nil), msgs...)
	return nil
}

func (s *memStore) LoadMessages(_ context.Context, cid string, limit int) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.msgs[cid]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return append([]models.Message(nil), msgs...), nil
}

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func minuteAt(minutes int) time.Time {
	return baseTime.Add(time.Duration(minutes) * time.Minute)
}

func textMessage(id, conv, from, to string, minute int) models.Message {
	return models.Message{
		ID:             id,
		ConversationID: conv,
		Sender:         models.Ref{ID: from},
		Receiver:       models.Ref{ID: to},
		Type:           models.MessageText,
		Content:        "message " + id,
		Status:         models.StatusSent,
		CreatedAt:      minuteAt(minute),
		UpdatedAt:      minuteAt(minute),
	}
}

func conversation(id, other, name string, minute int) models.Conversation {
	ts := minuteAt(minute)
	return models.Conversation{
		ID:               id,
		OtherParticipant: models.Ref{ID: other, Name: name},
		LastMessageAt:    &ts,
		CreatedAt:        ts,
		UpdatedAt:        ts,
	}
}

func messageEvent(t *testing.T, typ models.EventType, msg models.Message) models.Event {
	t.Helper()
	ev, err := models.NewEvent(typ, models.MessagePayload{ConversationID: msg.ConversationID, Message: &msg})
	require.NoError(t, err)
	return ev
}

func rawEvent(t *testing.T, typ models.EventType, data any) models.Event {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return models.Event{Type: typ, Data: b}
}
