package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"matrimony-chat/models"
)

var (
	ErrNoIdentity      = errors.New("no identity is logged in")
	ErrNotConnected    = errors.New("live connection is not open")
	ErrViewNotOpen     = errors.New("conversation view is not open")
	ErrClientClosed    = errors.New("client is closed")
	ErrIdentityChanged = errors.New("identity changed during login")
)

// ClientConfig holds the per-identity tunables.
type ClientConfig struct {
	Session              SessionConfig
	PageSize             int
	TypingIdle           time.Duration
	TypingInboundTTL     time.Duration
	UnreadResyncInterval time.Duration
}

// Client is everything that exists for one logged-in identity: the live
// session, the bus it feeds and the consumers subscribed to it.
type Client struct {
	identity string
	cfg      ClientConfig
	api      ChatAPI
	store    SnapshotStore
	log      zerolog.Logger

	bus           *Bus
	session       *Session
	directory     *Directory
	unread        *UnreadAggregator
	notifications *NotificationFeed
	typing        *TypingTracker

	pairs singleflight.Group

	mu     sync.Mutex
	views  map[string]*ChatView
	closed bool
}

// NewClient assembles the components for identity. store may be nil.
func NewClient(identity string, cfg ClientConfig, api ChatAPI, store SnapshotStore, log zerolog.Logger) *Client {
	log = log.With().Str("user_id", identity).Logger()
	bus := NewBus(log)
	session := NewSession(cfg.Session, identity, bus, log)

	return &Client{
		identity:      identity,
		cfg:           cfg,
		api:           api,
		store:         store,
		log:           log.With().Str("component", "client").Logger(),
		bus:           bus,
		session:       session,
		directory:     NewDirectory(identity, api, store, cfg.PageSize, log),
		unread:        NewUnreadAggregator(api, identity, cfg.UnreadResyncInterval, log),
		notifications: NewNotificationFeed(api, identity, log),
		typing:        NewTypingTracker(session, identity, cfg.TypingIdle, cfg.TypingInboundTTL, log),
		views:         make(map[string]*ChatView),
	}
}

// Start subscribes every consumer, opens the live connection and loads the
// conversation list. Consumers subscribe before the connection opens so no
// early event is missed. A closed Client never connects.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.directory.Start(c.bus)
	c.typing.Start(c.bus)
	c.unread.Start(c.bus)
	c.notifications.Start(c.bus)
	c.session.Connect()
	c.mu.Unlock()

	c.log.Info().Msg("client started")
	return c.directory.Load(ctx)
}

func (c *Client) Identity() string { return c.identity }
func (c *Client) Bus() *Bus { return c.bus }
func (c *Client) Session() *Session { return c.session }
func (c *Client) Directory() *Directory { return c.directory }
func (c *Client) Unread() *UnreadAggregator { return c.unread }
func (c *Client) Notifications() *NotificationFeed { return c.notifications }
func (c *Client) Typing() *TypingTracker { return c.typing }

// StartConversation returns the conversation with otherUserID, creating it on
// the server if needed. Concurrent calls for the same pair share one request.
func (c *Client) StartConversation(ctx context.Context, otherUserID string) (models.Conversation, error) {
	if conv, ok := c.directory.FindByParticipant(otherUserID); ok {
		return conv, nil
	}

	key := models.PairKey(c.identity, otherUserID)
	v, err, shared := c.pairs.Do(key, func() (any, error) {
		conv, err := c.api.GetOrCreateConversation(ctx, c.identity, otherUserID)
		if err != nil {
			return nil, err
		}
		if conv.OtherParticipant.IsZero() {
			conv.OtherParticipant = models.Ref{ID: otherUserID}
		}
		c.directory.Upsert(*conv)
		return *conv, nil
	})
	if err != nil {
		return models.Conversation{}, fmt.Errorf("start conversation: %w", err)
	}
	if shared {
		c.log.Debug().Str("pair", key).Msg("joined in-flight get-or-create")
	}
	return v.(models.Conversation), nil
}

// OpenConversation opens a view on a listed conversation, or returns the one
// already open. A failed history load still leaves the view open.
func (c *Client) OpenConversation(ctx context.Context, conversationID string) (*ChatView, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrNoIdentity
	}
	if v, ok := c.views[conversationID]; ok {
		c.mu.Unlock()
		return v, nil
	}
	conv, err := c.directory.Get(conversationID)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	v := NewChatView(ChatViewConfig{
		Identity:     c.identity,
		Conversation: conv,
		API:          c.api,
		Directory:    c.directory,
		Typing:       c.typing,
		Unread:       c.unread,
		Store:        c.store,
		PageSize:     c.cfg.PageSize,
		Log:          c.log,
	})
	c.views[conversationID] = v
	c.mu.Unlock()

	return v, v.Open(ctx, c.bus)
}

// View returns an open view.
func (c *Client) View(conversationID string) (*ChatView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[conversationID]
	if !ok {
		return nil, ErrViewNotOpen
	}
	return v, nil
}

func (c *Client) CloseConversation(conversationID string) error {
	c.mu.Lock()
	v, ok := c.views[conversationID]
	delete(c.views, conversationID)
	c.mu.Unlock()
	if !ok {
		return ErrViewNotOpen
	}
	v.Close()
	return nil
}

// Close tears everything down. Typing is closed before the session so any
// outstanding typing_stop still goes out.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	views := c.views
	c.views = make(map[string]*ChatView)
	c.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
	c.typing.Close()
	c.session.Disconnect()
	c.unread.Stop()
	c.notifications.Stop()
	c.directory.Close()
	c.log.Info().Msg("client closed")
}

// ClientFactory builds the Client for an identity.
type ClientFactory func(identity string) *Client

// Manager owns the Client of the current identity and swaps it on login,
// logout and identity change.
type Manager struct {
	factory ClientFactory
	log     zerolog.Logger

	mu        sync.Mutex
	current   *Client
	observers []func(*Client)
}

func NewManager(factory ClientFactory, log zerolog.Logger) *Manager {
	return &Manager{
		factory: factory,
		log:     log.With().Str("component", "identity").Logger(),
	}
}

// OnChange registers fn to run after every identity change with the new
// Client, or nil after logout.
func (m *Manager) OnChange(fn func(*Client)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// SetIdentity makes identity current. The previous Client is fully closed
// before the new one connects. An empty identity logs out.
func (m *Manager) SetIdentity(ctx context.Context, identity string) (*Client, error) {
	m.mu.Lock()
	if m.current != nil && m.current.Identity() == identity {
		c := m.current
		m.mu.Unlock()
		return c, nil
	}
	if m.current != nil {
		m.log.Info().Str("user_id", m.current.Identity()).Msg("closing previous identity")
		m.current.Close()
		m.current = nil
	}
	var next *Client
	if identity != "" {
		next = m.factory(identity)
		m.current = next
	}
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(next)
	}
	if next == nil {
		m.log.Info().Msg("logged out")
		return nil, nil
	}

	m.mu.Lock()
	superseded := m.current != next
	m.mu.Unlock()
	if superseded {
		return nil, fmt.Errorf("login %s: %w", identity, ErrIdentityChanged)
	}

	m.log.Info().Str("user_id", identity).Msg("identity set")
	if err := next.Start(ctx); err != nil {
		if errors.Is(err, ErrClientClosed) {
			return nil, fmt.Errorf("login %s: %w", identity, ErrIdentityChanged)
		}
		return next, err
	}
	return next, nil
}

// Current returns the Client of the logged-in identity.
func (m *Manager) Current() (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return nil, ErrNoIdentity
	}
	return m.current, nil
}

// Close logs out.
func (m *Manager) Close() {
	_, _ = m.SetIdentity(context.Background(), "")
}
