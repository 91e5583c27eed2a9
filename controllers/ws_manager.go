package controllers

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"matrimony-chat/metrics"
	"matrimony-chat/models"
	"matrimony-chat/services"
)

// EventConnectionStatus is relayed to UI sockets whenever the live session
// changes state. It never appears on the platform channel.
const EventConnectionStatus models.EventType = "connection_status"

const (
	relaySendBuffer = 64
	relayReadLimit  = 4096
)

// RelayClient is one UI socket attached to the relay.
type RelayClient struct {
	Conn         *websocket.Conn
	Send         chan []byte
	ConnectionID string
	ConnectedAt  time.Time
}

// Relay forwards every event of the current identity's bus to all attached
// UI sockets.
type Relay struct {
	connections  map[string]*RelayClient
	broadcast    chan []byte
	register     chan *RelayClient
	unregister   chan *RelayClient
	pingInterval time.Duration
	writeWait    time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	detach   []func()
	done     chan struct{}
	stopOnce sync.Once
}

func NewRelay(pingInterval, writeWait time.Duration, log zerolog.Logger) *Relay {
	return &Relay{
		connections:  make(map[string]*RelayClient),
		broadcast:    make(chan []byte, relaySendBuffer),
		register:     make(chan *RelayClient),
		unregister:   make(chan *RelayClient),
		pingInterval: pingInterval,
		writeWait:    writeWait,
		log:          log.With().Str("component", "relay").Logger(),
		done:         make(chan struct{}),
	}
}

// Start runs the registration and fan-out loop until Stop.
func (r *Relay) Start() {
	for {
		select {
		case <-r.done:
			for id, client := range r.connections {
				close(client.Send)
				delete(r.connections, id)
			}
			metrics.RelayClients.Set(0)
			return

		case client := <-r.register:
			r.connections[client.ConnectionID] = client
			metrics.RelayClients.Set(float64(len(r.connections)))
			r.log.Info().Str("connection_id", client.ConnectionID).Msg("ui socket attached")

		case client := <-r.unregister:
			if _, ok := r.connections[client.ConnectionID]; ok {
				delete(r.connections, client.ConnectionID)
				close(client.Send)
				metrics.RelayClients.Set(float64(len(r.connections)))
				r.log.Info().Str("connection_id", client.ConnectionID).Msg("ui socket detached")
			}

		case message := <-r.broadcast:
			for id, client := range r.connections {
				select {
				case client.Send <- message:
				default:
					close(client.Send)
					delete(r.connections, id)
					metrics.RelayClients.Set(float64(len(r.connections)))
					r.log.Warn().Str("connection_id", id).Msg("ui socket too slow; dropped")
				}
			}
		}
	}
}

// Stop ends the loop and closes every UI socket.
func (r *Relay) Stop() {
	r.stopOnce.Do(func() {
		r.Attach(nil)
		close(r.done)
	})
}

// Attach switches the relay to client's bus and session. nil detaches.
func (r *Relay) Attach(client *services.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, fn := range r.detach {
		fn()
	}
	r.detach = nil
	if client == nil {
		return
	}

	r.detach = append(r.detach,
		client.Bus().Subscribe(r.publish),
		client.Session().OnStateChange(r.publishStatus),
	)
	r.publishStatus(client.Session().Status())
}

func (r *Relay) publish(ev models.Event) {
	frame, err := json.Marshal(ev)
	if err != nil {
		r.log.Error().Err(err).Str("event", string(ev.Type)).Msg("encode relay frame")
		return
	}
	select {
	case r.broadcast <- frame:
	case <-r.done:
	}
}

func (r *Relay) publishStatus(status models.ConnectionStatus) {
	ev, err := models.NewEvent(EventConnectionStatus, status)
	if err != nil {
		return
	}
	r.publish(ev)
}

// Serve attaches conn and blocks until it closes.
func (r *Relay) Serve(conn *websocket.Conn) {
	client := &RelayClient{
		Conn:         conn,
		Send:         make(chan []byte, relaySendBuffer),
		ConnectionID: uuid.NewString(),
		ConnectedAt:  time.Now(),
	}
	select {
	case r.register <- client:
	case <-r.done:
		_ = conn.Close()
		return
	}

	go r.writePump(client)
	r.readPump(client)
}

// readPump only watches for the socket closing; the relay is one-way.
func (r *Relay) readPump(client *RelayClient) {
	defer func() {
		select {
		case r.unregister <- client:
		case <-r.done:
		}
	}()

	client.Conn.SetReadLimit(relayReadLimit)
	for {
		if _, _, err := client.Conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Relay) writePump(client *RelayClient) {
	var tick <-chan time.Time
	if r.pingInterval > 0 {
		ticker := time.NewTicker(r.pingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer client.Conn.Close()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(r.writeWait))
			if !ok {
				_ = client.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				r.log.Debug().Err(err).Str("connection_id", client.ConnectionID).Msg("relay write failed")
				return
			}
		case <-tick:
			_ = client.Conn.SetWriteDeadline(time.Now().Add(r.writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
