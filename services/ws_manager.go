package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"matrimony-chat/metrics"
	"matrimony-chat/models"
)

const (
	handshakeTimeout = 10 * time.Second
	maxLoggedFrame   = 256
)

var (
	heartbeatPing = []byte("ping")
	heartbeatPong = []byte("pong")
)

// Publisher receives every decoded inbound event.
type Publisher interface {
	Publish(ev models.Event)
}

// SessionConfig tunes the live connection.
type SessionConfig struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	PingInterval         time.Duration
	WriteTimeout         time.Duration
}

// Session owns the single live connection for one identity. Consumers never
// touch the socket; they read events from the Bus and send through Send.
type Session struct {
	cfg      SessionConfig
	identity string
	dialer   *websocket.Dialer
	bus      Publisher
	log      zerolog.Logger

	mu         sync.Mutex
	state      models.ConnectionState
	lastErr    error
	conn       *websocket.Conn
	connecting bool
	attempts   int
	epoch      uint64
	timer      *time.Timer
	pingDone   chan struct{}
	observers  map[int]func(models.ConnectionStatus)
	nextObs    int

	writeMu sync.Mutex
}

func NewSession(cfg SessionConfig, identity string, bus Publisher, log zerolog.Logger) *Session {
	return &Session{
		cfg:      cfg,
		identity: identity,
		bus:      bus,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		log:       log.With().Str("component", "session").Str("user_id", identity).Logger(),
		state:     models.StateDisconnected,
		observers: make(map[int]func(models.ConnectionStatus)),
	}
}

// Identity returns the user the session belongs to.
func (s *Session) Identity() string {
	return s.identity
}

// Connect starts a connection attempt in the background. It does nothing
// without an identity, while an attempt is in flight, or when already open.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.identity == "" || s.connecting || s.conn != nil {
		s.mu.Unlock()
		return
	}
	s.connecting = true
	s.timer = nil
	epoch := s.epoch
	notify := s.setStateLocked(models.StateConnecting)
	s.mu.Unlock()

	notify()
	go s.dial(epoch)
}

func (s *Session) dial(epoch uint64) {
	target, err := s.url()
	var conn *websocket.Conn
	if err == nil {
		conn, _, err = s.dialer.Dial(target, nil)
	}

	s.mu.Lock()
	if epoch != s.epoch {
		// Disconnect ran while dialing.
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	s.connecting = false

	if err != nil {
		s.lastErr = err
		notifyErr := s.setStateLocked(models.StateError)
		notifyClose := s.closedLocked(epoch)
		s.mu.Unlock()

		s.log.Warn().Err(err).Msg("connection attempt failed")
		notifyErr()
		notifyClose()
		return
	}

	s.conn = conn
	s.attempts = 0
	s.lastErr = nil
	done := make(chan struct{})
	s.pingDone = done
	notify := s.setStateLocked(models.StateConnected)
	s.mu.Unlock()

	s.log.Info().Msg("connected")
	notify()

	go s.readLoop(conn, epoch)
	if s.cfg.PingInterval > 0 {
		go s.pingLoop(conn, done)
	}
}

func (s *Session) url() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("userId", s.identity)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Session) readLoop(conn *websocket.Conn, epoch uint64) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			s.connectionLost(conn, epoch, err)
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		s.handleFrame(conn, data)
	}
}

func (s *Session) handleFrame(conn *websocket.Conn, data []byte) {
	if bytes.Equal(bytes.TrimSpace(data), heartbeatPing) {
		if err := s.write(conn, websocket.TextMessage, heartbeatPong); err != nil {
			s.log.Debug().Err(err).Msg("heartbeat reply failed")
		}
		return
	}

	ev, err := models.DecodeEvent(data)
	if err != nil {
		metrics.FramesDropped.Inc()
		raw := data
		if len(raw) > maxLoggedFrame {
			raw = raw[:maxLoggedFrame]
		}
		s.log.Warn().Err(err).Bytes("frame", raw).Msg("dropping malformed frame")
		return
	}
	s.bus.Publish(ev)
}

func (s *Session) connectionLost(conn *websocket.Conn, epoch uint64, err error) {
	s.mu.Lock()
	if s.conn != conn {
		// Disconnect already tore this connection down.
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.stopPingLocked()

	notifyErr := func() {}
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		s.lastErr = err
		notifyErr = s.setStateLocked(models.StateError)
	}
	notifyClose := s.closedLocked(epoch)
	s.mu.Unlock()

	_ = conn.Close()
	s.log.Info().Err(err).Msg("connection closed")
	notifyErr()
	notifyClose()
}

// closedLocked moves to disconnected and schedules a bounded reconnect.
func (s *Session) closedLocked(epoch uint64) func() {
	notify := s.setStateLocked(models.StateDisconnected)

	if s.identity == "" || s.attempts >= s.cfg.MaxReconnectAttempts {
		s.log.Warn().Int("attempts", s.attempts).Msg("not reconnecting; call Connect to retry")
		return notify
	}

	s.attempts++
	attempt := s.attempts
	s.timer = time.AfterFunc(s.cfg.ReconnectDelay, func() {
		s.mu.Lock()
		current := s.epoch
		s.mu.Unlock()
		if current != epoch {
			return
		}
		s.log.Info().Int("attempt", attempt).Int("max", s.cfg.MaxReconnectAttempts).Msg("reconnecting")
		s.Connect()
	})
	metrics.ReconnectsScheduled.Inc()
	return notify
}

func (s *Session) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				s.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (s *Session) stopPingLocked() {
	if s.pingDone != nil {
		close(s.pingDone)
		s.pingDone = nil
	}
}

func (s *Session) write(conn *websocket.Conn, messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.WriteMessage(messageType, data)
}

// Send transmits ev if the connection is open. A false return means the event
// was not delivered; it is not retried.
func (s *Session) Send(ev models.Event) bool {
	s.mu.Lock()
	conn := s.conn
	open := s.state == models.StateConnected
	s.mu.Unlock()

	if conn == nil || !open {
		s.log.Warn().Str("event", string(ev.Type)).Msg("not connected; event not sent")
		return false
	}

	data, err := json.Marshal(ev)
	if err != nil {
		s.log.Error().Err(err).Str("event", string(ev.Type)).Msg("encode outbound event")
		return false
	}
	if err := s.write(conn, websocket.TextMessage, data); err != nil {
		s.log.Warn().Err(err).Str("event", string(ev.Type)).Msg("send failed")
		return false
	}
	return true
}

// Disconnect closes the connection and suppresses automatic reconnects until
// Connect is called again.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.epoch++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.attempts = s.cfg.MaxReconnectAttempts
	s.connecting = false
	conn := s.conn
	s.conn = nil
	s.stopPingLocked()
	notify := s.setStateLocked(models.StateDisconnected)
	s.mu.Unlock()

	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := s.write(conn, websocket.CloseMessage, msg); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.log.Debug().Err(err).Msg("close frame not sent")
		}
		_ = conn.Close()
		s.log.Info().Msg("disconnected")
	}
	notify()
}

// Connected reports whether the connection is open.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == models.StateConnected
}

// Status returns a snapshot of the session state.
func (s *Session) Status() models.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() models.ConnectionStatus {
	st := models.ConnectionStatus{
		UserID:            s.identity,
		State:             s.state,
		ReconnectAttempts: s.attempts,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// OnStateChange registers a lifecycle observer. Observers run outside the
// session lock and must not block.
func (s *Session) OnStateChange(fn func(models.ConnectionStatus)) Unsubscribe {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// setStateLocked records the new state and returns a func that notifies
// observers; call it after releasing the lock.
func (s *Session) setStateLocked(state models.ConnectionState) func() {
	s.state = state
	metrics.RecordConnectionState(string(state))

	status := s.statusLocked()
	observers := make([]func(models.ConnectionStatus), 0, len(s.observers))
	for _, fn := range s.observers {
		observers = append(observers, fn)
	}
	return func() {
		for _, fn := range observers {
			fn(status)
		}
	}
}
