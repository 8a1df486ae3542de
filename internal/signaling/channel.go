// Package signaling implements the websocket client side of the
// always-on signaling channel: one read pump dispatching JSON envelopes
// in delivery order, one write pump draining a buffered send queue.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("channel not connected")
)

// Handler receives the full envelope of one inbound event.
type Handler func(data json.RawMessage)

// handlerCell is a mutable indirection: the subscription is registered
// once, the function behind it can be swapped at any time.
type handlerCell struct {
	mu sync.RWMutex
	fn Handler
}

func (c *handlerCell) set(fn Handler) {
	c.mu.Lock()
	c.fn = fn
	c.mu.Unlock()
}

func (c *handlerCell) get() Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fn
}

const (
	sendQueueSize = 32
	writeDeadline = 5 * time.Second
	dialTimeout   = 10 * time.Second
)

// Channel is a client connection to the signaling service.
type Channel struct {
	url string

	mu        sync.RWMutex
	conn      *websocket.Conn
	send      chan []byte
	connected bool
	socketID  string

	handlers     map[string]*handlerCell
	handlerMu    sync.Mutex
	onDisconnect *handlerCell

	identified chan struct{}
}

func NewChannel(url string) *Channel {
	return &Channel{
		url:          url,
		handlers:     make(map[string]*handlerCell),
		onDisconnect: &handlerCell{},
	}
}

// Dial connects (or reconnects) to the signaling service and starts the
// read and write pumps. The previous connection, if any, is dropped.
func (c *Channel) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.send != nil {
		// Release the previous write pump; it drains on channel close.
		close(c.send)
	}
	c.conn = conn
	c.send = make(chan []byte, sendQueueSize)
	c.connected = true
	c.socketID = ""
	c.identified = make(chan struct{})
	send := c.send
	c.mu.Unlock()

	go c.writePump(conn, send)
	go c.readPump(conn)
	log.Info().Str("module", "signaling").Str("url", c.url).Msg("channel connected")
	return nil
}

// On registers the handler for an event. Calling On again for the same
// event replaces the function without touching the subscription.
func (c *Channel) On(event string, fn Handler) {
	c.handlerMu.Lock()
	cell, ok := c.handlers[event]
	if !ok {
		cell = &handlerCell{}
		c.handlers[event] = cell
	}
	c.handlerMu.Unlock()
	cell.set(fn)
}

// OnDisconnect registers the hook invoked when the read pump dies.
func (c *Channel) OnDisconnect(fn func()) {
	c.onDisconnect.set(func(json.RawMessage) { fn() })
}

// Emit sends one event over the channel. The payload is flattened into
// the envelope next to the type field, matching the server's framing.
func (c *Channel) Emit(event string, payload any) error {
	m := map[string]any{}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
	}
	m["type"] = event
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.trySend(b)
}

// Identify announces the user identity and waits for the server ack
// carrying our socket id.
func (c *Channel) Identify(ctx context.Context, userID string) error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.identified == nil {
		// Re-identification after a desync: arm a fresh ack.
		c.identified = make(chan struct{})
	}
	identified := c.identified
	c.mu.Unlock()

	if err := c.Emit(EventIdentify, IdentifyPayload{UserID: userID}); err != nil {
		return err
	}
	select {
	case <-identified:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SocketID returns the transport identity assigned by the server, empty
// until Identify completes.
func (c *Channel) SocketID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.socketID
}

func (c *Channel) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.send != nil {
		close(c.send)
		c.send = nil
	}
	c.connected = false
}

func (c *Channel) trySend(b []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected || c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Channel) writePump(conn *websocket.Conn, send chan []byte) {
	for data := range send {
		if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
			log.Error().Err(err).Str("module", "signaling").Msg("writePump set deadline")
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Error().Err(err).Str("module", "signaling").Msg("writePump write error")
			return
		}
	}
}

func (c *Channel) readPump(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		stale := c.conn != conn
		if !stale {
			c.connected = false
		}
		c.mu.Unlock()
		_ = conn.Close()
		if !stale {
			if fn := c.onDisconnect.get(); fn != nil {
				fn(nil)
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "signaling").Msg("readPump read error")
			return
		}
		c.dispatch(data)
	}
}

func (c *Channel) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signaling").Msg("bad json")
		return
	}

	if env.Type == EventIdentified {
		c.handleIdentified(data)
		return
	}

	c.handlerMu.Lock()
	cell, ok := c.handlers[env.Type]
	c.handlerMu.Unlock()
	if !ok {
		log.Warn().Str("module", "signaling").Str("type", env.Type).Msg("unknown signal")
		return
	}
	if fn := cell.get(); fn != nil {
		fn(data)
	}
}

func (c *Channel) handleIdentified(data []byte) {
	var p IdentifiedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signaling").Msg("bad identified payload")
		return
	}
	c.mu.Lock()
	c.socketID = p.SocketID
	identified := c.identified
	c.identified = nil
	c.mu.Unlock()
	if identified != nil {
		close(identified)
	}
	log.Info().Str("module", "signaling").Str("socket_id", p.SocketID).Msg("identified")
}
