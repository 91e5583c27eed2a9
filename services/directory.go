package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"matrimony-chat/models"
)

// maxDirectoryPages bounds the page walk in Load.
const maxDirectoryPages = 100

var ErrConversationNotFound = errors.New("conversation not found")

// Directory is the identity's conversation list, most recently active first.
// REST seeds it; live message events keep it current in between.
type Directory struct {
	identity string
	api      ConversationAPI
	store    SnapshotStore
	pageSize int
	log      zerolog.Logger

	mu     sync.RWMutex
	convs  []models.Conversation
	loaded bool
	closed bool
	unsub  Unsubscribe
}

// NewDirectory builds an empty directory. store may be nil.
func NewDirectory(identity string, api ConversationAPI, store SnapshotStore, pageSize int, log zerolog.Logger) *Directory {
	return &Directory{
		identity: identity,
		api:      api,
		store:    store,
		pageSize: pageSize,
		log:      log.With().Str("component", "directory").Logger(),
	}
}

// Start subscribes the directory to live events.
func (d *Directory) Start(bus Subscriber) {
	unsub := bus.Subscribe(d.handle)
	d.mu.Lock()
	d.unsub = unsub
	d.mu.Unlock()
}

// Close unsubscribes; late Load results are discarded.
func (d *Directory) Close() {
	d.mu.Lock()
	unsub := d.unsub
	d.unsub = nil
	d.closed = true
	d.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Load replaces the list with every page the server returns. Live activity
// newer than the fetched copy of a conversation survives the replacement. On
// failure the previous list is kept; on a cold start the snapshot cache seeds
// it.
func (d *Directory) Load(ctx context.Context) error {
	convs, err := d.fetchAll(ctx)
	if err != nil {
		d.seedFromCache(ctx)
		return fmt.Errorf("load conversations: %w", err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	for i := range convs {
		if j := d.indexLocked(convs[i].ID); j >= 0 {
			keepNewerActivity(&convs[i], d.convs[j])
		}
	}
	sortByActivity(convs)
	d.convs = convs
	d.loaded = true
	d.mu.Unlock()

	d.log.Debug().Int("conversations", len(convs)).Msg("directory loaded")
	if d.store != nil {
		if err := d.store.SaveConversations(ctx, d.identity, convs); err != nil {
			d.log.Warn().Err(err).Msg("cache conversations")
		}
	}
	return nil
}

// keepNewerActivity copies held's last message and unread count into fetched
// when held saw a later message.
func keepNewerActivity(fetched *models.Conversation, held models.Conversation) {
	if held.LastMessageAt == nil {
		return
	}
	if fetched.LastMessageAt != nil && !held.LastMessageAt.After(*fetched.LastMessageAt) {
		return
	}
	held = held.Clone()
	fetched.LastMessage = held.LastMessage
	fetched.LastMessageAt = held.LastMessageAt
	fetched.UnreadCount = held.UnreadCount
}

func (d *Directory) fetchAll(ctx context.Context) ([]models.Conversation, error) {
	var all []models.Conversation
	for page := 1; page <= maxDirectoryPages; page++ {
		convs, pagination, err := d.api.ListConversations(ctx, d.identity, page, d.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, convs...)
		if len(convs) == 0 || !pagination.More() {
			break
		}
	}
	return dedupeConversations(all), nil
}

func (d *Directory) seedFromCache(ctx context.Context) {
	if d.store == nil {
		return
	}
	d.mu.RLock()
	cold := !d.loaded && len(d.convs) == 0
	d.mu.RUnlock()
	if !cold {
		return
	}

	convs, err := d.store.LoadConversations(ctx, d.identity)
	if err != nil {
		d.log.Warn().Err(err).Msg("read cached conversations")
		return
	}
	sortByActivity(convs)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.loaded || len(d.convs) > 0 {
		return
	}
	d.convs = convs
	d.log.Info().Int("conversations", len(convs)).Msg("directory seeded from cache")
}

func (d *Directory) handle(ev models.Event) {
	switch ev.Type {
	case models.EventNewMessage, models.EventMessageSent:
		p, err := ev.MessagePayload()
		if err != nil {
			d.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("ignoring message event")
			return
		}
		if !p.Message.Involves(d.identity) {
			return
		}
		toMe := ev.Type == models.EventNewMessage && p.Message.Receiver.Is(d.identity)
		d.applyMessage(p.ConversationID, *p.Message, toMe)

	case models.EventMessageDeleted:
		p, err := ev.DeletedPayload()
		if err != nil {
			return
		}
		d.mu.Lock()
		if i := d.indexLocked(p.ConversationID); i >= 0 {
			if last := d.convs[i].LastMessage; last != nil && last.ID == p.MessageID {
				last.Apply(models.MessagePatch{Deleted: true})
			}
		}
		d.mu.Unlock()

	case models.EventMessagesRead:
		p, err := ev.ReadPayload()
		if err != nil || p.Reader() != d.identity {
			return
		}
		d.ResetUnread(p.ConversationID)
	}
}

func (d *Directory) applyMessage(conversationID string, msg models.Message, incrementUnread bool) {
	at := msg.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	var conv models.Conversation
	if i := d.indexLocked(conversationID); i >= 0 {
		conv = d.convs[i]
		d.convs = append(d.convs[:i], d.convs[i+1:]...)
	} else {
		conv = models.Conversation{
			ID:               conversationID,
			OtherParticipant: msg.Counterpart(d.identity),
			CreatedAt:        at,
		}
	}

	if conv.LastMessageAt == nil || !at.Before(*conv.LastMessageAt) {
		m := msg.Clone()
		conv.LastMessage = &m
		conv.LastMessageAt = &at
	}
	conv.UpdatedAt = at
	if incrementUnread {
		conv.UnreadCount++
	}
	d.convs = append([]models.Conversation{conv}, d.convs...)
}

// Touch records msg as the latest activity of its conversation without
// changing the unread count.
func (d *Directory) Touch(msg models.Message) {
	if !msg.Involves(d.identity) {
		return
	}
	d.applyMessage(msg.ConversationID, msg, false)
}

// Upsert inserts or replaces conv and moves it to the front.
func (d *Directory) Upsert(conv models.Conversation) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i := d.indexLocked(conv.ID); i >= 0 {
		d.convs = append(d.convs[:i], d.convs[i+1:]...)
	}
	d.convs = append([]models.Conversation{conv.Clone()}, d.convs...)
}

// ResetUnread zeroes the unread count of one conversation.
func (d *Directory) ResetUnread(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.indexLocked(conversationID)
	if i < 0 {
		return false
	}
	d.convs[i].UnreadCount = 0
	return true
}

func (d *Directory) Get(conversationID string) (models.Conversation, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.indexLocked(conversationID)
	if i < 0 {
		return models.Conversation{}, ErrConversationNotFound
	}
	return d.convs[i].Clone(), nil
}

// FindByParticipant returns the conversation with userID, if listed.
func (d *Directory) FindByParticipant(userID string) (models.Conversation, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, c := range d.convs {
		if c.OtherParticipant.Is(userID) {
			return c.Clone(), true
		}
	}
	return models.Conversation{}, false
}

// Conversations returns a copy of the list in display order.
func (d *Directory) Conversations() []models.Conversation {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Conversation, len(d.convs))
	for i, c := range d.convs {
		out[i] = c.Clone()
	}
	return out
}

// Search filters by participant name, case-insensitively. An empty query
// returns everything.
func (d *Directory) Search(q string) []models.Conversation {
	q = strings.ToLower(strings.TrimSpace(q))
	all := d.Conversations()
	if q == "" {
		return all
	}
	out := all[:0]
	for _, c := range all {
		if strings.Contains(strings.ToLower(c.OtherParticipant.Name), q) {
			out = append(out, c)
		}
	}
	return out
}

func (d *Directory) indexLocked(conversationID string) int {
	for i := range d.convs {
		if d.convs[i].ID == conversationID {
			return i
		}
	}
	return -1
}

func sortByActivity(convs []models.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].ActiveAt().After(convs[j].ActiveAt())
	})
}

func dedupeConversations(convs []models.Conversation) []models.Conversation {
	seen := make(map[string]struct{}, len(convs))
	out := convs[:0]
	for _, c := range convs {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}
