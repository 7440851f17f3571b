package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/soyeahso/netplug/internal/logging"
)

const (
	// writeTimeout bounds a single frame write.
	writeTimeout = 5 * time.Second

	// sendBuffer is how many frames may wait for a client's writer.
	sendBuffer = 256
)

// ErrSlowClient is returned when a client's send buffer is full. The frame
// is dropped.
var ErrSlowClient = errors.New("client send buffer full")

// Client is an authenticated monitor connection. Frames are queued and
// written by a per-client goroutine, so Send never blocks the caller on
// the network. Broadcasts run on the plugin control thread.
type Client struct {
	ConnID      string
	Info        ClientInfo
	Socket      *websocket.Conn
	AuthResult  AuthResult
	ConnectedAt time.Time

	traced  atomic.Bool
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
	out    chan Frame
	done   chan struct{}
	log    *logging.Logger
}

// NewClient wraps an authenticated connection and starts its writer.
func NewClient(conn *websocket.Conn, info ClientInfo, authResult AuthResult, log *logging.Logger) *Client {
	c := &Client{
		ConnID:      uuid.New().String(),
		Info:        info,
		Socket:      conn,
		AuthResult:  authResult,
		ConnectedAt: time.Now(),
		out:         make(chan Frame, sendBuffer),
		done:        make(chan struct{}),
		log:         log,
	}
	go c.writeLoop()
	return c
}

// SetTraced subscribes or unsubscribes the client from hook.trace events.
func (c *Client) SetTraced(on bool) { c.traced.Store(on) }

// Traced reports whether the client receives hook.trace events.
func (c *Client) Traced() bool { return c.traced.Load() }

// Dropped returns how many frames were discarded because the client fell
// behind.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Send queues a frame for the client.
func (c *Client) Send(frame Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.out <- frame:
		return nil
	default:
		if c.dropped.Add(1) == 1 {
			c.log.Warn().Str("connId", c.ConnID).Msg("client is not keeping up, dropping frames")
		}
		return ErrSlowClient
	}
}

func (c *Client) writeLoop() {
	defer close(c.done)
	defer c.Socket.Close()
	for f := range c.out {
		c.Socket.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.Socket.WriteJSON(f); err != nil {
			c.log.Debug().Err(err).Str("connId", c.ConnID).Msg("write failed")
			c.Socket.Close()
			// Drain until Close so Send never sees a full buffer for a dead peer.
			for range c.out {
			}
			return
		}
	}
}

// Respond sends a success response for the given request ID.
func (c *Client) Respond(reqID string, payload any) error {
	f, err := NewResponse(reqID, payload)
	if err != nil {
		return err
	}
	return c.Send(f)
}

// RespondError sends an error response for the given request ID.
func (c *Client) RespondError(reqID string, errShape ErrorShape) error {
	return c.Send(NewErrorResponse(reqID, errShape))
}

// ReadFrame reads the next frame from the WebSocket.
func (c *Client) ReadFrame() (Frame, error) {
	_, msg, err := c.Socket.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

// Close stops accepting frames, flushes the queued ones and closes the
// connection. It waits for the writer to finish.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	close(c.out)
	c.mu.Unlock()

	<-c.done
	return nil
}

// ClientRegistry tracks connected clients.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*Client // connID → Client
	log     *logging.Logger
}

// NewClientRegistry creates an empty client registry.
func NewClientRegistry(log *logging.Logger) *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*Client),
		log:     log,
	}
}

// Add registers a connected client.
func (r *ClientRegistry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ConnID] = c
	r.log.Info().Str("connId", c.ConnID).Str("client", c.Info.ID).Msg("client connected")
}

// Remove unregisters a client by connection ID.
func (r *ClientRegistry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[connID]
	if !ok {
		return
	}
	delete(r.clients, connID)
	r.log.Info().Str("connId", connID).Int64("dropped", c.Dropped()).Msg("client disconnected")
}

// Count returns the number of connected clients.
func (r *ClientRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Traced returns the number of clients subscribed to hook.trace.
func (r *ClientRegistry) Traced() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.clients {
		if c.Traced() {
			n++
		}
	}
	return n
}

// Broadcast queues an event frame for every client accepted by want. A
// nil want reaches everyone. The payload is encoded once.
func (r *ClientRegistry) Broadcast(event string, payload any, seq int64, want func(*Client) bool) {
	f, err := NewEvent(event, payload, seq)
	if err != nil {
		r.log.Warn().Err(err).Str("event", event).Msg("cannot encode event")
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clients {
		if want != nil && !want(c) {
			continue
		}
		if err := c.Send(f); err != nil && !errors.Is(err, ErrSlowClient) {
			r.log.Debug().Err(err).Str("connId", c.ConnID).Msg("broadcast send failed")
		}
	}
}

// CloseAll closes and forgets every client.
func (r *ClientRegistry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for id, c := range r.clients {
		clients = append(clients, c)
		delete(r.clients, id)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
}
