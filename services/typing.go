package services

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"matrimony-chat/models"
)

// EventSender is the outbound half of the Session.
type EventSender interface {
	Send(ev models.Event) bool
}

type outboundTyping struct {
	targetUserID string
	timer        *time.Timer
	gen          uint64
	starting     bool
}

type inboundTyping struct {
	userID string
	timer  *time.Timer
}

// TypingTracker debounces the identity's own typing signal and tracks the
// remote participant's signal per conversation.
type TypingTracker struct {
	sender     EventSender
	identity   string
	idle       time.Duration
	inboundTTL time.Duration
	log        zerolog.Logger

	mu       sync.Mutex
	outbound map[string]*outboundTyping
	inbound  map[string]*inboundTyping
	unsub    Unsubscribe
}

// NewTypingTracker builds a tracker. A zero inboundTTL keeps a remote
// indicator until typing_stop arrives.
func NewTypingTracker(sender EventSender, identity string, idle, inboundTTL time.Duration, log zerolog.Logger) *TypingTracker {
	return &TypingTracker{
		sender:     sender,
		identity:   identity,
		idle:       idle,
		inboundTTL: inboundTTL,
		log:        log.With().Str("component", "typing").Logger(),
		outbound:   make(map[string]*outboundTyping),
		inbound:    make(map[string]*inboundTyping),
	}
}

func (t *TypingTracker) Start(bus Subscriber) {
	unsub := bus.Subscribe(t.handle)
	t.mu.Lock()
	t.unsub = unsub
	t.mu.Unlock()
}

// Keystroke signals local typing. The first keystroke sends typing_start;
// every keystroke pushes the typing_stop deadline out by the idle period.
// Nothing is sent while the tracker's lock is held.
func (t *TypingTracker) Keystroke(conversationID, targetUserID string) {
	if conversationID == "" || targetUserID == "" {
		return
	}

	t.mu.Lock()
	if entry, ok := t.outbound[conversationID]; ok {
		if !entry.starting {
			t.armLocked(conversationID, entry)
		}
		t.mu.Unlock()
		return
	}
	entry := &outboundTyping{targetUserID: targetUserID, starting: true}
	t.outbound[conversationID] = entry
	t.mu.Unlock()

	sent := t.send(models.EventTypingStart, conversationID, targetUserID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outbound[conversationID] != entry {
		return
	}
	if !sent {
		delete(t.outbound, conversationID)
		return
	}
	entry.starting = false
	t.armLocked(conversationID, entry)
}

// armLocked restarts the idle timer. Bumping gen retires a timer that has
// already fired but not yet taken the lock.
func (t *TypingTracker) armLocked(conversationID string, entry *outboundTyping) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	entry.gen++
	gen := entry.gen
	entry.timer = time.AfterFunc(t.idle, func() { t.expire(conversationID, gen) })
}

func (t *TypingTracker) expire(conversationID string, gen uint64) {
	t.mu.Lock()
	entry, ok := t.outbound[conversationID]
	if !ok || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.outbound, conversationID)
	t.mu.Unlock()

	t.send(models.EventTypingStop, conversationID, entry.targetUserID)
}

// Flush sends typing_stop right away if a start is outstanding.
func (t *TypingTracker) Flush(conversationID string) {
	t.mu.Lock()
	entry, ok := t.outbound[conversationID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(t.outbound, conversationID)
	t.mu.Unlock()

	t.send(models.EventTypingStop, conversationID, entry.targetUserID)
}

// IsLocalTyping reports whether a typing_start is outstanding.
func (t *TypingTracker) IsLocalTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.outbound[conversationID]
	return ok
}

func (t *TypingTracker) send(typ models.EventType, conversationID, targetUserID string) bool {
	ev, err := models.NewEvent(typ, models.TypingPayload{
		ConversationID: conversationID,
		TargetUserID:   targetUserID,
	})
	if err != nil {
		t.log.Error().Err(err).Msg("encode typing event")
		return false
	}
	return t.sender.Send(ev)
}

func (t *TypingTracker) handle(ev models.Event) {
	if ev.Type != models.EventTypingStart && ev.Type != models.EventTypingStop {
		return
	}
	p, err := ev.TypingPayload()
	if err != nil {
		t.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("ignoring typing event")
		return
	}
	if p.UserID != "" && p.UserID == t.identity {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.inbound[p.ConversationID]; ok && prev.timer != nil {
		prev.timer.Stop()
	}
	if ev.Type == models.EventTypingStop {
		delete(t.inbound, p.ConversationID)
		return
	}

	entry := &inboundTyping{userID: p.UserID}
	if t.inboundTTL > 0 {
		conversationID := p.ConversationID
		entry.timer = time.AfterFunc(t.inboundTTL, func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.inbound[conversationID] == entry {
				delete(t.inbound, conversationID)
			}
		})
	}
	t.inbound[p.ConversationID] = entry
}

// IsTyping reports whether the other participant is typing.
func (t *TypingTracker) IsTyping(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.inbound[conversationID]
	return ok
}

// Close unsubscribes, stops timers and sends any outstanding typing_stop.
func (t *TypingTracker) Close() {
	type pending struct{ conversationID, targetUserID string }

	t.mu.Lock()
	unsub := t.unsub
	t.unsub = nil
	stops := make([]pending, 0, len(t.outbound))
	for id, entry := range t.outbound {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		stops = append(stops, pending{id, entry.targetUserID})
		delete(t.outbound, id)
	}
	for id, entry := range t.inbound {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		delete(t.inbound, id)
	}
	t.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	for _, p := range stops {
		t.send(models.EventTypingStop, p.conversationID, p.targetUserID)
	}
}
