package services

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrimony-chat/models"
)

func TestUnreadBootstrapAndEvents(t *testing.T) {
	api := newFakeAPI()
	var total atomic.Int32
	total.Store(4)
	api.unreadTotal = func() (int, error) { return int(total.Load()), nil }

	bus := NewBus(zerolog.Nop())
	u := NewUnreadAggregator(api, "u1", time.Hour, zerolog.Nop())
	u.Start(bus)
	t.Cleanup(u.Stop)

	require.Eventually(t, func() bool { return u.Count() == 4 }, time.Second, 5*time.Millisecond)

	bus.Publish(messageEvent(t, models.EventNewMessage, textMessage("m1", "c1", "u2", "u1", 1)))
	assert.Equal(t, 5, u.Count())

	bus.Publish(messageEvent(t, models.EventNewMessage, textMessage("m2", "c1", "u1", "u2", 2)))
	assert.Equal(t, 5, u.Count(), "own messages do not count")

	total.Store(1)
	bus.Publish(rawEvent(t, models.EventUnreadCountUpdated, map[string]int{"count": 1}))
	require.Eventually(t, func() bool { return u.Count() == 1 }, time.Second, 5*time.Millisecond)

	total.Store(0)
	bus.Publish(rawEvent(t, models.EventMessagesRead, map[string]string{"conversationId": "c1"}))
	require.Eventually(t, func() bool { return u.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestUnreadNeverNegative(t *testing.T) {
	u := NewUnreadAggregator(newFakeAPI(), "u1", 0, zerolog.Nop())
	u.Adjust(2)
	u.Adjust(-5)
	assert.Equal(t, 0, u.Count())

	api := newFakeAPI()
	api.unreadTotal = func() (int, error) { return -3, nil }
	u = NewUnreadAggregator(api, "u1", 0, zerolog.Nop())
	require.NoError(t, u.Resync(context.Background()))
	assert.Equal(t, 0, u.Count())
}

func TestUnreadAppliesNewestResync(t *testing.T) {
	api := newFakeAPI()
	release := make(chan struct{})
	var calls atomic.Int32
	api.unreadTotal = func() (int, error) {
		if calls.Add(1) == 1 {
			<-release
			return 9, nil
		}
		return 2, nil
	}
	u := NewUnreadAggregator(api, "u1", 0, zerolog.Nop())

	done := make(chan error, 1)
	go func() { done <- u.Resync(context.Background()) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, u.Resync(context.Background()))
	assert.Equal(t, 2, u.Count())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, u.Count(), "older response must not overwrite a newer one")
}

func TestUnreadResyncFailureKeepsCount(t *testing.T) {
	api := newFakeAPI()
	api.unreadTotal = func() (int, error) { return 0, errUnavailable }
	u := NewUnreadAggregator(api, "u1", 0, zerolog.Nop())
	u.Adjust(3)

	require.ErrorIs(t, u.Resync(context.Background()), errUnavailable)
	assert.Equal(t, 3, u.Count())
}

func TestUnreadPeriodicResync(t *testing.T) {
	api := newFakeAPI()
	u := NewUnreadAggregator(api, "u1", 10*time.Millisecond, zerolog.Nop())
	u.Start(NewBus(zerolog.Nop()))

	require.Eventually(t, func() bool { return api.count("unread_total") >= 3 }, time.Second, 5*time.Millisecond)
	u.Stop()
	n := api.count("unread_total")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, api.count("unread_total"))
}
