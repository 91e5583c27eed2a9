package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"matrimony-chat/metrics"
	"matrimony-chat/models"
)

// UnreadAggregator keeps the identity's total unread message count. The
// server count is authoritative; live events adjust it in between resyncs.
type UnreadAggregator struct {
	api      UnreadAPI
	identity string
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	count   int
	issued  uint64
	stopped bool

	ctx       context.Context
	cancel    context.CancelFunc
	unsub     Unsubscribe
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewUnreadAggregator(api UnreadAPI, identity string, interval time.Duration, log zerolog.Logger) *UnreadAggregator {
	ctx, cancel := context.WithCancel(context.Background())
	return &UnreadAggregator{
		api:      api,
		identity: identity,
		interval: interval,
		log:      log.With().Str("component", "unread").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the bus, runs the bootstrap fetch and begins periodic
// resyncs. Only the first call has any effect.
func (u *UnreadAggregator) Start(bus Subscriber) {
	u.startOnce.Do(func() {
		u.unsub = bus.Subscribe(u.handle)
		u.resyncAsync()
		if u.interval > 0 {
			u.wg.Add(1)
			go u.run()
		}
	})
}

// Stop ends the resync loop and drops results still in flight.
func (u *UnreadAggregator) Stop() {
	u.stopOnce.Do(func() {
		if u.unsub != nil {
			u.unsub()
		}
		u.mu.Lock()
		u.stopped = true
		u.mu.Unlock()
		u.cancel()
		u.wg.Wait()
	})
}

func (u *UnreadAggregator) run() {
	defer u.wg.Done()

	ticker := time.NewTicker(u.interval)
	defer ticker.Stop()

	for {
		select {
		case <-u.ctx.Done():
			return
		case <-ticker.C:
			_ = u.Resync(u.ctx)
		}
	}
}

func (u *UnreadAggregator) handle(ev models.Event) {
	switch ev.Type {
	case models.EventNewMessage:
		p, err := ev.MessagePayload()
		if err != nil || !p.Message.Receiver.Is(u.identity) {
			return
		}
		u.Adjust(1)
	case models.EventUnreadCountUpdated, models.EventMessagesRead:
		u.resyncAsync()
	}
}

func (u *UnreadAggregator) resyncAsync() {
	u.mu.Lock()
	if u.stopped {
		u.mu.Unlock()
		return
	}
	u.wg.Add(1)
	u.mu.Unlock()
	go func() {
		defer u.wg.Done()
		_ = u.Resync(u.ctx)
	}()
}

// Resync replaces the count with the server's. When several resyncs overlap,
// only the most recently issued one is applied.
func (u *UnreadAggregator) Resync(ctx context.Context) error {
	u.mu.Lock()
	u.issued++
	gen := u.issued
	u.mu.Unlock()

	n, err := u.api.UnreadTotal(ctx, u.identity)
	if err != nil {
		if ctx.Err() == nil {
			u.log.Warn().Err(err).Msg("unread resync failed")
		}
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.issued || u.stopped {
		return nil
	}
	u.setLocked(n)
	return nil
}

// Adjust moves the count by delta, never below zero.
func (u *UnreadAggregator) Adjust(delta int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.setLocked(u.count + delta)
}

func (u *UnreadAggregator) setLocked(n int) {
	if n < 0 {
		n = 0
	}
	u.count = n
	metrics.UnreadMessages.Set(float64(n))
}

func (u *UnreadAggregator) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}
