package services

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrimony-chat/models"
)

type recordingSender struct {
	mu      sync.Mutex
	events  []models.Event
	offline bool
}

func (s *recordingSender) Send(ev models.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.offline {
		return false
	}
	s.events = append(s.events, ev)
	return true
}

func (s *recordingSender) setOffline(v bool) {
	s.mu.Lock()
	s.offline = v
	s.mu.Unlock()
}

func (s *recordingSender) types() []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func TestTypingDebounce(t *testing.T) {
	sender := &recordingSender{}
	tr := NewTypingTracker(sender, "u1", 60*time.Millisecond, 0, zerolog.Nop())

	for i := 0; i < 4; i++ {
		tr.Keystroke("c1", "u2")
		time.Sleep(15 * time.Millisecond)
	}
	assert.Equal(t, []models.EventType{models.EventTypingStart}, sender.types())
	assert.True(t, tr.IsLocalTyping("c1"))

	require.Eventually(t, func() bool { return len(sender.types()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []models.EventType{models.EventTypingStart, models.EventTypingStop}, sender.types())
	assert.False(t, tr.IsLocalTyping("c1"))

	sender.mu.Lock()
	p, err := sender.events[1].TypingPayload()
	sender.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, "c1", p.ConversationID)
	assert.Equal(t, "u2", p.TargetUserID)
}

func TestTypingFlush(t *testing.T) {
	sender := &recordingSender{}
	tr := NewTypingTracker(sender, "u1", time.Hour, 0, zerolog.Nop())

	tr.Flush("c1")
	assert.Empty(t, sender.types())

	tr.Keystroke("c1", "u2")
	tr.Flush("c1")
	tr.Flush("c1")
	assert.Equal(t, []models.EventType{models.EventTypingStart, models.EventTypingStop}, sender.types())

	tr.Keystroke("c1", "u2")
	assert.Len(t, sender.types(), 3, "a new burst starts again after a flush")
	tr.Close()
	assert.Len(t, sender.types(), 4)
}

func TestTypingOfflineStartIsRetried(t *testing.T) {
	sender := &recordingSender{offline: true}
	tr := NewTypingTracker(sender, "u1", time.Hour, 0, zerolog.Nop())
	t.Cleanup(tr.Close)

	tr.Keystroke("c1", "u2")
	assert.False(t, tr.IsLocalTyping("c1"))

	sender.setOffline(false)
	tr.Keystroke("c1", "u2")
	assert.Equal(t, []models.EventType{models.EventTypingStart}, sender.types())
}

func TestTypingInbound(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	tr := NewTypingTracker(&recordingSender{}, "u1", time.Hour, 50*time.Millisecond, zerolog.Nop())
	tr.Start(bus)
	t.Cleanup(tr.Close)

	start := rawEvent(t, models.EventTypingStart, map[string]string{"conversationId": "c1", "userId": "u2"})
	stop := rawEvent(t, models.EventTypingStop, map[string]string{"conversationId": "c1", "userId": "u2"})

	bus.Publish(start)
	assert.True(t, tr.IsTyping("c1"))
	assert.False(t, tr.IsTyping("c2"))

	bus.Publish(stop)
	assert.False(t, tr.IsTyping("c1"))

	// Without a stop the indicator expires on its own.
	bus.Publish(start)
	require.Eventually(t, func() bool { return !tr.IsTyping("c1") }, time.Second, 5*time.Millisecond)

	// Our own echoed signal is not shown.
	bus.Publish(rawEvent(t, models.EventTypingStart, map[string]string{"conversationId": "c1", "userId": "u1"}))
	assert.False(t, tr.IsTyping("c1"))
}

// blockingSender holds every Send until release is closed.
type blockingSender struct {
	recordingSender
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSender) Send(ev models.Event) bool {
	s.entered <- struct{}{}
	<-s.release
	return s.recordingSender.Send(ev)
}

func TestTypingSlowSendDoesNotBlockInbound(t *testing.T) {
	sender := &blockingSender{entered: make(chan struct{}, 4), release: make(chan struct{})}
	bus := NewBus(zerolog.Nop())
	tr := NewTypingTracker(sender, "u1", time.Hour, 0, zerolog.Nop())
	tr.Start(bus)

	done := make(chan struct{})
	go func() {
		tr.Keystroke("c1", "u2")
		close(done)
	}()
	<-sender.entered

	published := make(chan struct{})
	go func() {
		bus.Publish(rawEvent(t, models.EventTypingStart, map[string]string{"conversationId": "c1", "userId": "u2"}))
		close(published)
	}()
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("inbound typing waited on an outbound send")
	}
	assert.True(t, tr.IsTyping("c1"))
	assert.True(t, tr.IsLocalTyping("c1"))

	// Further keystrokes during the slow start do not resend it.
	tr.Keystroke("c1", "u2")

	close(sender.release)
	<-done
	tr.Close()
	assert.Equal(t, []models.EventType{models.EventTypingStart, models.EventTypingStop}, sender.types())
}

func TestTypingRearmRetiresFiredTimer(t *testing.T) {
	sender := &recordingSender{}
	tr := NewTypingTracker(sender, "u1", time.Hour, 0, zerolog.Nop())
	t.Cleanup(tr.Close)

	tr.Keystroke("c1", "u2")
	tr.mu.Lock()
	fired := tr.outbound["c1"].gen
	tr.mu.Unlock()

	// The old timer fires while the next keystroke re-arms.
	tr.Keystroke("c1", "u2")
	tr.expire("c1", fired)

	assert.True(t, tr.IsLocalTyping("c1"))
	assert.Equal(t, []models.EventType{models.EventTypingStart}, sender.types())
}
