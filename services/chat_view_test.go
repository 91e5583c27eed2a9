package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrimony-chat/models"
)

type viewFixture struct {
	api       *fakeAPI
	bus       *Bus
	directory *Directory
	sender    *recordingSender
	typing    *TypingTracker
	view      *ChatView
}

func newViewFixture(t *testing.T, history []models.Message) *viewFixture {
	t.Helper()
	api := newFakeAPI()
	api.listMessages = func(MessageQuery) ([]models.Message, *models.Pagination, error) {
		return history, &models.Pagination{Page: 1, Pages: 1}, nil
	}
	api.sendMessage = func(req SendMessageRequest) (*models.Message, error) {
		m := textMessage("m-sent", req.ConversationID, req.SenderID, req.ReceiverID, 30)
		m.Content = req.Content
		return &m, nil
	}

	bus := NewBus(zerolog.Nop())
	conv := conversation("c1", "u2", "Asha", 0)
	conv.UnreadCount = 2
	directory := NewDirectory("u1", api, nil, 50, zerolog.Nop())
	directory.Upsert(conv)
	directory.Start(bus)

	sender := &recordingSender{}
	typing := NewTypingTracker(sender, "u1", time.Hour, 0, zerolog.Nop())
	typing.Start(bus)

	view := NewChatView(ChatViewConfig{
		Identity:     "u1",
		Conversation: conv,
		API:          api,
		Directory:    directory,
		Typing:       typing,
		PageSize:     50,
		Log:          zerolog.Nop(),
	})
	t.Cleanup(func() {
		view.Close()
		typing.Close()
		directory.Close()
	})
	return &viewFixture{api: api, bus: bus, directory: directory, sender: sender, typing: typing, view: view}
}

func statusOf(v *ChatView, id string) models.MessageStatus {
	for _, m := range v.Messages() {
		if m.ID == id {
			return m.Status
		}
	}
	return ""
}

func TestChatViewOpenMarksReceivedMessagesRead(t *testing.T) {
	f := newViewFixture(t, []models.Message{
		textMessage("m1", "c1", "u2", "u1", 1),
		textMessage("m2", "c1", "u1", "u2", 2),
	})

	require.NoError(t, f.view.Open(context.Background(), f.bus))

	require.Eventually(t, func() bool { return statusOf(f.view, "m1") == models.StatusRead }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.StatusSent, statusOf(f.view, "m2"))
	assert.Equal(t, []string{"c1"}, f.api.reads)

	conv, err := f.directory.Get("c1")
	require.NoError(t, err)
	assert.Zero(t, conv.UnreadCount)
}

func TestChatViewOpenWithNothingUnread(t *testing.T) {
	f := newViewFixture(t, []models.Message{textMessage("m2", "c1", "u1", "u2", 2)})
	require.NoError(t, f.view.Open(context.Background(), f.bus))
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, f.api.count("mark_read"))
}

func TestChatViewSendAndEchoAddOnce(t *testing.T) {
	f := newViewFixture(t, nil)
	require.NoError(t, f.view.Open(context.Background(), f.bus))

	f.view.Keystroke()
	msg, err := f.view.Send(context.Background(), "  namaste  ", "")
	require.NoError(t, err)
	assert.Equal(t, "namaste", msg.Content)

	f.bus.Publish(messageEvent(t, models.EventMessageSent, *msg))

	assert.Equal(t, []string{"m-sent"}, messageIDs(f.view.Messages()))
	assert.Equal(t, []models.EventType{models.EventTypingStart, models.EventTypingStop}, f.sender.types())

	conv, err := f.directory.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "m-sent", conv.LastMessage.ID)

	_, err = f.view.Send(context.Background(), "   ", models.MessageText)
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestChatViewEchoBeforeResponse(t *testing.T) {
	f := newViewFixture(t, nil)
	require.NoError(t, f.view.Open(context.Background(), f.bus))

	echo := textMessage("m-sent", "c1", "u1", "u2", 30)
	f.bus.Publish(messageEvent(t, models.EventMessageSent, echo))
	_, err := f.view.Send(context.Background(), "hello", models.MessageText)
	require.NoError(t, err)

	assert.Len(t, f.view.Messages(), 1)
}

func TestChatViewLiveEvents(t *testing.T) {
	f := newViewFixture(t, []models.Message{textMessage("m2", "c1", "u1", "u2", 2)})
	require.NoError(t, f.view.Open(context.Background(), f.bus))

	// Incoming message is delivered and then read while the view is open.
	f.bus.Publish(messageEvent(t, models.EventNewMessage, textMessage("m3", "c1", "u2", "u1", 3)))
	require.Eventually(t, func() bool { return statusOf(f.view, "m3") == models.StatusRead }, time.Second, 5*time.Millisecond)

	// The other participant read our message.
	f.bus.Publish(rawEvent(t, models.EventMessagesRead, map[string]string{"conversationId": "c1", "readBy": "u2"}))
	assert.Equal(t, models.StatusRead, statusOf(f.view, "m2"))

	f.bus.Publish(rawEvent(t, models.EventMessageDeleted, map[string]string{"conversationId": "c1", "messageId": "m2"}))
	msgs := f.view.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsDeleted)

	// Other conversations do not leak in.
	f.bus.Publish(messageEvent(t, models.EventNewMessage, textMessage("x1", "c9", "u7", "u1", 4)))
	assert.Len(t, f.view.Messages(), 2)

	f.bus.Publish(rawEvent(t, models.EventTypingStart, map[string]string{"conversationId": "c1", "userId": "u2"}))
	assert.True(t, f.view.State().OtherTyping)
}

func TestChatViewCloseStopsUpdates(t *testing.T) {
	f := newViewFixture(t, nil)
	require.NoError(t, f.view.Open(context.Background(), f.bus))
	f.view.Close()

	f.bus.Publish(messageEvent(t, models.EventNewMessage, textMessage("m5", "c1", "u2", "u1", 5)))
	assert.Empty(t, f.view.Messages())
}
