package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"matrimony-chat/models"
)

const recentNotifications = 20

// NotificationFeed tracks the unread notification count and the
// notifications pushed during this session.
type NotificationFeed struct {
	api      NotificationAPI
	identity string
	log      zerolog.Logger

	mu      sync.Mutex
	unread  int
	issued  uint64
	recent  []models.Notification
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	unsub  Unsubscribe
	wg     sync.WaitGroup
}

func NewNotificationFeed(api NotificationAPI, identity string, log zerolog.Logger) *NotificationFeed {
	ctx, cancel := context.WithCancel(context.Background())
	return &NotificationFeed{
		api:      api,
		identity: identity,
		log:      log.With().Str("component", "notifications").Logger(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (f *NotificationFeed) Start(bus Subscriber) {
	unsub := bus.Subscribe(f.handle)
	f.mu.Lock()
	f.unsub = unsub
	f.mu.Unlock()
	f.refreshAsync()
}

func (f *NotificationFeed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	unsub := f.unsub
	f.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	f.cancel()
	f.wg.Wait()
}

func (f *NotificationFeed) handle(ev models.Event) {
	if ev.Type != models.EventNotification {
		return
	}
	n, err := ev.NotificationPayload()
	if err == nil && n.ID != "" {
		f.mu.Lock()
		f.recent = append([]models.Notification{*n}, f.recent...)
		if len(f.recent) > recentNotifications {
			f.recent = f.recent[:recentNotifications]
		}
		f.mu.Unlock()
	}
	f.refreshAsync()
}

func (f *NotificationFeed) refreshAsync() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.wg.Add(1)
	f.mu.Unlock()

	go func() {
		defer f.wg.Done()
		_ = f.Refresh(f.ctx)
	}()
}

// Refresh reloads the unread count from the stats endpoint.
func (f *NotificationFeed) Refresh(ctx context.Context) error {
	f.mu.Lock()
	f.issued++
	gen := f.issued
	f.mu.Unlock()

	n, err := f.api.NotificationStats(ctx, f.identity)
	if err != nil {
		if ctx.Err() == nil {
			f.log.Warn().Err(err).Msg("notification stats failed")
		}
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if gen == f.issued && !f.stopped {
		f.unread = max(n, 0)
	}
	return nil
}

func (f *NotificationFeed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// Recent returns notifications pushed live, newest first.
func (f *NotificationFeed) Recent() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Notification(nil), f.recent...)
}

func (f *NotificationFeed) List(ctx context.Context, q NotificationQuery) ([]models.Notification, *models.Pagination, error) {
	items, pagination, err := f.api.ListNotifications(ctx, f.identity, q)
	if err != nil {
		return nil, nil, fmt.Errorf("list notifications: %w", err)
	}
	return items, pagination, nil
}

func (f *NotificationFeed) MarkRead(ctx context.Context, notificationID string) error {
	if err := f.api.MarkNotificationRead(ctx, notificationID); err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	f.forget(notificationID, false)
	f.refreshAsync()
	return nil
}

func (f *NotificationFeed) MarkAllRead(ctx context.Context) error {
	if err := f.api.MarkAllNotificationsRead(ctx, f.identity); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	f.mu.Lock()
	for i := range f.recent {
		f.recent[i].Status = models.NotificationRead
	}
	f.mu.Unlock()
	f.refreshAsync()
	return nil
}

func (f *NotificationFeed) Delete(ctx context.Context, notificationID string) error {
	if err := f.api.DeleteNotification(ctx, notificationID); err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	f.forget(notificationID, true)
	f.refreshAsync()
	return nil
}

func (f *NotificationFeed) forget(notificationID string, remove bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recent {
		if f.recent[i].ID != notificationID {
			continue
		}
		if remove {
			f.recent = append(f.recent[:i], f.recent[i+1:]...)
		} else {
			f.recent[i].Status = models.NotificationRead
		}
		return
	}
}
