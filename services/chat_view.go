package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"matrimony-chat/models"
)

var (
	ErrEmptyMessage  = errors.New("message content is empty")
	ErrNoParticipant = errors.New("conversation has no other participant")
)

// ChatViewConfig wires a view to the client's shared components. Directory,
// Unread and Store may be nil.
type ChatViewConfig struct {
	Identity     string
	Conversation models.Conversation
	API          MessageAPI
	Directory    *Directory
	Typing       *TypingTracker
	Unread       *UnreadAggregator
	Store        SnapshotStore
	PageSize     int
	Log          zerolog.Logger
}

// ViewState is what a UI renders for an open conversation.
type ViewState struct {
	Conversation models.Conversation `json:"conversation"`
	Messages     []models.Message    `json:"messages"`
	HasMore      bool                `json:"hasMore"`
	Loading      bool                `json:"loading"`
	OtherTyping  bool                `json:"otherTyping"`
}

// ChatView binds one open conversation to its Ledger and applies the live
// events that concern it.
type ChatView struct {
	identity     string
	conversation models.Conversation
	api          MessageAPI
	directory    *Directory
	typing       *TypingTracker
	unread       *UnreadAggregator
	ledger       *Ledger
	log          zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	unsub       Unsubscribe
	closed      bool
	marking     bool
	markPending bool
}

func NewChatView(cfg ChatViewConfig) *ChatView {
	ctx, cancel := context.WithCancel(context.Background())
	log := cfg.Log.With().Str("conversation_id", cfg.Conversation.ID).Logger()
	return &ChatView{
		identity:     cfg.Identity,
		conversation: cfg.Conversation.Clone(),
		api:          cfg.API,
		directory:    cfg.Directory,
		typing:       cfg.Typing,
		unread:       cfg.Unread,
		ledger:       NewLedger(cfg.Conversation.ID, cfg.API, cfg.Store, cfg.PageSize, cfg.Log),
		log:          log.With().Str("component", "chat-view").Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (v *ChatView) ConversationID() string {
	return v.conversation.ID
}

// Open subscribes to the bus, loads the newest page and marks what the
// identity received as read.
func (v *ChatView) Open(ctx context.Context, bus Subscriber) error {
	unsub := bus.Subscribe(v.handle)
	v.mu.Lock()
	v.unsub = unsub
	v.mu.Unlock()

	if err := v.ledger.Load(ctx); err != nil {
		return err
	}
	v.markReadAsync()
	return nil
}

func (v *ChatView) handle(ev models.Event) {
	switch ev.Type {
	case models.EventNewMessage, models.EventMessageSent:
		p, err := ev.MessagePayload()
		if err != nil || p.ConversationID != v.conversation.ID {
			return
		}
		v.ledger.AddMessage(*p.Message)
		if ev.Type == models.EventNewMessage && p.Message.Receiver.Is(v.identity) {
			now := time.Now().UTC()
			v.ledger.UpdateMessage(p.Message.ID, models.MessagePatch{
				Status:      models.StatusDelivered,
				DeliveredAt: &now,
			})
			v.markReadAsync()
		}

	case models.EventMessagesRead:
		p, err := ev.ReadPayload()
		if err != nil || p.ConversationID != v.conversation.ID {
			return
		}
		v.applyRead(p)

	case models.EventMessageDeleted:
		p, err := ev.DeletedPayload()
		if err != nil || p.ConversationID != v.conversation.ID {
			return
		}
		v.ledger.DeleteMessage(p.MessageID)
	}
}

// applyRead marks read the messages the reader received. Without a reader
// the event is taken as the other participant reading our messages.
func (v *ChatView) applyRead(p *models.ReadPayload) {
	now := time.Now().UTC()
	patch := models.MessagePatch{Status: models.StatusRead, ReadAt: &now}
	if len(p.MessageIDs) > 0 {
		v.ledger.MarkAsRead(p.MessageIDs)
		return
	}

	readByMe := p.Reader() == v.identity
	v.ledger.MarkWhere(func(m models.Message) bool {
		if readByMe {
			return m.Receiver.Is(v.identity)
		}
		return m.Sender.Is(v.identity)
	}, patch)
}

func (v *ChatView) unreadForMe() []string {
	var ids []string
	for _, m := range v.ledger.Messages() {
		if m.Receiver.Is(v.identity) && m.Status != models.StatusRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

// markReadAsync runs markRead on its own goroutine; overlapping requests
// collapse into one follow-up run.
func (v *ChatView) markReadAsync() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	if v.marking {
		v.markPending = true
		v.mu.Unlock()
		return
	}
	v.marking = true
	v.wg.Add(1)
	v.mu.Unlock()

	go func() {
		defer v.wg.Done()
		for {
			if err := v.markRead(v.ctx); err != nil && v.ctx.Err() == nil {
				v.log.Warn().Err(err).Msg("mark conversation read")
			}
			v.mu.Lock()
			if !v.markPending || v.closed {
				v.marking = false
				v.mu.Unlock()
				return
			}
			v.markPending = false
			v.mu.Unlock()
		}
	}()
}

func (v *ChatView) markRead(ctx context.Context) error {
	ids := v.unreadForMe()
	if len(ids) == 0 {
		return nil
	}
	if err := v.api.MarkRead(ctx, v.conversation.ID, v.identity); err != nil {
		return err
	}
	v.ledger.MarkAsRead(ids)
	if v.directory != nil {
		v.directory.ResetUnread(v.conversation.ID)
	}
	if v.unread != nil {
		v.unread.resyncAsync()
	}
	return nil
}

// LoadMore fetches older history.
func (v *ChatView) LoadMore(ctx context.Context) (int, error) {
	return v.ledger.LoadMore(ctx)
}

// Send posts a message. The returned message is added right away; the
// message_sent echo for it is absorbed by the ledger's id check.
func (v *ChatView) Send(ctx context.Context, content string, typ models.MessageType) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	other := v.conversation.OtherParticipant.ID
	if other == "" {
		return nil, ErrNoParticipant
	}
	if typ == "" {
		typ = models.MessageText
	}
	if v.typing != nil {
		v.typing.Flush(v.conversation.ID)
	}

	msg, err := v.api.SendMessage(ctx, SendMessageRequest{
		SenderID:       v.identity,
		ReceiverID:     other,
		ConversationID: v.conversation.ID,
		Content:        content,
		Type:           typ,
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	if msg.ConversationID == "" {
		msg.ConversationID = v.conversation.ID
	}
	v.ledger.AddMessage(*msg)
	if v.directory != nil {
		v.directory.Touch(*msg)
	}
	return msg, nil
}

// Delete removes one of the identity's messages.
func (v *ChatView) Delete(ctx context.Context, messageID string) error {
	if err := v.api.DeleteMessage(ctx, messageID, v.identity); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	v.ledger.DeleteMessage(messageID)
	return nil
}

// Keystroke reports local typing to the other participant.
func (v *ChatView) Keystroke() {
	if v.typing == nil || v.conversation.OtherParticipant.IsZero() {
		return
	}
	v.typing.Keystroke(v.conversation.ID, v.conversation.OtherParticipant.ID)
}

func (v *ChatView) Messages() []models.Message {
	return v.ledger.Messages()
}

func (v *ChatView) State() ViewState {
	state := ViewState{
		Conversation: v.conversation.Clone(),
		Messages:     v.ledger.Messages(),
		HasMore:      v.ledger.HasMore(),
		Loading:      v.ledger.Loading(),
	}
	if v.directory != nil {
		if conv, err := v.directory.Get(v.conversation.ID); err == nil {
			state.Conversation = conv
		}
	}
	if v.typing != nil {
		state.OtherTyping = v.typing.IsTyping(v.conversation.ID)
	}
	return state
}

// Close unsubscribes, stops background work and discards the ledger.
func (v *ChatView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	unsub := v.unsub
	v.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	v.cancel()
	v.wg.Wait()
	v.ledger.Close()
	if v.typing != nil {
		v.typing.Flush(v.conversation.ID)
	}
}
