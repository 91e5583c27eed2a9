package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"matrimony-chat/models"
)

// Ledger is the ordered message history of one open conversation. Messages
// are kept oldest first and unique by id.
type Ledger struct {
	conversationID string
	api            MessageAPI
	store          SnapshotStore
	pageSize       int
	log            zerolog.Logger

	mu      sync.Mutex
	msgs    []models.Message
	hasMore bool
	loading bool
	loaded  bool
	closed  bool
}

// NewLedger builds an empty ledger. store may be nil.
func NewLedger(conversationID string, api MessageAPI, store SnapshotStore, pageSize int, log zerolog.Logger) *Ledger {
	return &Ledger{
		conversationID: conversationID,
		api:            api,
		store:          store,
		pageSize:       pageSize,
		hasMore:        true,
		log: log.With().
			Str("component", "ledger").
			Str("conversation_id", conversationID).
			Logger(),
	}
}

func (l *Ledger) ConversationID() string {
	return l.conversationID
}

// Load fetches the newest page. Messages already added live are kept.
func (l *Ledger) Load(ctx context.Context) error {
	if !l.begin() {
		return nil
	}
	msgs, pagination, err := l.api.ListMessages(ctx, l.conversationID, MessageQuery{Page: 1, Limit: l.pageSize})

	l.mu.Lock()
	l.loading = false
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		l.mu.Unlock()
		l.seedFromCache(ctx)
		return fmt.Errorf("load messages: %w", err)
	}
	l.mergeLocked(msgs)
	l.hasMore = pagination.More()
	l.loaded = true
	snapshot := l.snapshotLocked()
	l.mu.Unlock()

	l.log.Debug().Int("messages", len(msgs)).Bool("has_more", pagination.More()).Msg("ledger loaded")
	if l.store != nil {
		if err := l.store.SaveMessages(ctx, l.conversationID, newest(snapshot, l.pageSize)); err != nil {
			l.log.Warn().Err(err).Msg("cache messages")
		}
	}
	return nil
}

// LoadMore fetches the page before the oldest held message and prepends it.
// It returns how many messages were added. It is a no-op while another fetch
// is in flight or once the history is exhausted.
func (l *Ledger) LoadMore(ctx context.Context) (int, error) {
	l.mu.Lock()
	if l.loading || !l.hasMore || l.closed || len(l.msgs) == 0 || l.msgs[0].CreatedAt.IsZero() {
		l.mu.Unlock()
		return 0, nil
	}
	l.loading = true
	cursor := l.msgs[0].CreatedAt
	l.mu.Unlock()

	msgs, pagination, err := l.api.ListMessages(ctx, l.conversationID, MessageQuery{Limit: l.pageSize, Before: cursor})

	l.mu.Lock()
	defer l.mu.Unlock()
	l.loading = false
	if l.closed {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load older messages: %w", err)
	}
	if len(msgs) == 0 {
		l.hasMore = false
		return 0, nil
	}

	before := len(l.msgs)
	l.mergeLocked(msgs)
	if pagination != nil {
		l.hasMore = pagination.More()
	} else {
		l.hasMore = len(msgs) >= l.pageSize
	}
	return len(l.msgs) - before, nil
}

func (l *Ledger) begin() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.loading || l.closed {
		return false
	}
	l.loading = true
	return true
}

func (l *Ledger) seedFromCache(ctx context.Context) {
	if l.store == nil {
		return
	}
	l.mu.Lock()
	cold := !l.loaded && len(l.msgs) == 0
	l.mu.Unlock()
	if !cold {
		return
	}

	msgs, err := l.store.LoadMessages(ctx, l.conversationID, l.pageSize)
	if err != nil {
		l.log.Warn().Err(err).Msg("read cached messages")
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.loaded {
		return
	}
	l.mergeLocked(msgs)
}

// AddMessage inserts msg unless a message with the same id is already held,
// in which case the two copies are reconciled. It reports whether msg was new.
func (l *Ledger) AddMessage(msg models.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	if i := l.indexLocked(msg.ID); i >= 0 {
		l.msgs[i].Reconcile(msg)
		return false
	}
	l.insertLocked(msg.Clone())
	return true
}

// UpdateMessage applies a partial update. Status never moves backwards.
func (l *Ledger) UpdateMessage(id string, patch models.MessagePatch) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := l.indexLocked(id)
	if i < 0 {
		return false
	}
	return l.msgs[i].Apply(patch)
}

// DeleteMessage marks the message deleted. Its id and position are kept so
// later events for it still resolve.
func (l *Ledger) DeleteMessage(id string) bool {
	return l.UpdateMessage(id, models.MessagePatch{Deleted: true})
}

// MarkAsRead sets the given messages to read locally and returns how many
// changed.
func (l *Ledger) MarkAsRead(ids []string) int {
	now := time.Now().UTC()
	patch := models.MessagePatch{Status: models.StatusRead, ReadAt: &now}

	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, id := range ids {
		if i := l.indexLocked(id); i >= 0 && l.msgs[i].Apply(patch) {
			n++
		}
	}
	return n
}

// MarkWhere applies patch to every message matching pred and returns the ids
// that changed.
func (l *Ledger) MarkWhere(pred func(models.Message) bool, patch models.MessagePatch) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var changed []string
	for i := range l.msgs {
		if pred(l.msgs[i]) && l.msgs[i].Apply(patch) {
			changed = append(changed, l.msgs[i].ID)
		}
	}
	return changed
}

func (l *Ledger) Messages() []models.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

func (l *Ledger) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// Close discards the ledger; results of fetches still in flight are dropped.
func (l *Ledger) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
}

func (l *Ledger) snapshotLocked() []models.Message {
	out := make([]models.Message, len(l.msgs))
	for i, m := range l.msgs {
		out[i] = m.Clone()
	}
	return out
}

func (l *Ledger) indexLocked(id string) int {
	for i := len(l.msgs) - 1; i >= 0; i-- {
		if l.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// insertLocked places msg after every message not newer than it. A message
// without a timestamp sorts as newest, so it never becomes the paging cursor.
func (l *Ledger) insertLocked(msg models.Message) {
	i := sort.Search(len(l.msgs), func(i int) bool {
		held := l.msgs[i].CreatedAt
		switch {
		case msg.CreatedAt.IsZero():
			return false
		case held.IsZero():
			return true
		}
		return held.After(msg.CreatedAt)
	})
	l.msgs = append(l.msgs, models.Message{})
	copy(l.msgs[i+1:], l.msgs[i:])
	l.msgs[i] = msg
}

func (l *Ledger) mergeLocked(msgs []models.Message) {
	for _, m := range msgs {
		if i := l.indexLocked(m.ID); i >= 0 {
			l.msgs[i].Reconcile(m)
			continue
		}
		l.insertLocked(m.Clone())
	}
}

func newest(msgs []models.Message, n int) []models.Message {
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}
