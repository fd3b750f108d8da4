// Package connector implements the client side of the live chat protocol: one
// reconnecting logical connection per Connector instance, with join/send/leave
// operations and a stream of inbound events.
package connector

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/streamcart/livechat/globals"
	"github.com/streamcart/livechat/types"
)

var (
	ErrClosed       = errors.New("connector is closed")
	ErrNotConnected = errors.New("not connected")
)

const (
	defaultMaxRetries      = 5
	defaultRetryDelay      = 2 * time.Second
	defaultEventBufferSize = 256
	writeWait              = 10 * time.Second
)

// Event is one inbound server event. Data is the raw payload of the wire envelope,
// callers decode the payloads they care about.
type Event struct {
	Name string
	Data json.RawMessage
}

// Options tune the reconnect behavior. Reconnection is bounded, a permanently
// unreachable server exhausts the retry budget instead of retrying forever.
type Options struct {
	MaxRetries      int
	RetryDelay      time.Duration
	EventBufferSize int
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = defaultEventBufferSize
	}
	return opts
}

// Connector manages one logical connection. It is an explicitly constructed handle,
// tests and callers can hold several independent instances.
type Connector struct {
	url    string
	opts   Options
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closed    bool

	// last joined room, replayed after a reconnect
	streamId string
	identity types.Identity

	events      chan Event
	closeEvents sync.Once
}

func New(url string, opts Options) *Connector {
	opts = opts.withDefaults()
	return &Connector{
		url:    url,
		opts:   opts,
		dialer: websocket.DefaultDialer,
		events: make(chan Event, opts.EventBufferSize),
	}
}

// Connect establishes the connection. Calling Connect while already connected returns
// nil without opening a duplicate connection.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.connected {
		return nil
	}
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.conn = conn
	c.connected = true
	go c.readLoop(conn)
	return nil
}

// dial attempts the websocket handshake up to MaxRetries+1 times with a fixed delay.
func (c *Connector) dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		globals.AppLogger.Debug("dial failed", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// Events is the subscription point for inbound events: history snapshots, new messages,
// presence and error events. The channel is closed when the connector gives up or is
// closed.
func (c *Connector) Events() <-chan Event {
	return c.events
}

// Join enters a room. The room and identity are remembered and replayed after a
// reconnect.
func (c *Connector) Join(streamId string, identity types.Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeEventLocked(types.EventJoinRoom, types.JoinRoomData{
		StreamId:    streamId,
		UserId:      identity.UserId,
		DisplayName: identity.DisplayName,
	}); err != nil {
		return err
	}
	c.streamId = streamId
	c.identity = identity
	return nil
}

func (c *Connector) Send(body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeEventLocked(types.EventSendMessage, types.SendMessageData{Body: body})
}

func (c *Connector) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeEventLocked(types.EventLeaveRoom, struct{}{}); err != nil {
		return err
	}
	c.streamId = ""
	return nil
}

func (c *Connector) writeEventLocked(event string, data interface{}) error {
	if c.closed {
		return ErrClosed
	}
	if !c.connected || c.conn == nil {
		return ErrNotConnected
	}
	raw, err := types.MarshalWire(event, data)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Connector) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			globals.AppLogger.Debug("dropping malformed server event", "error", err)
			continue
		}
		select {
		case c.events <- Event{Name: message.Event, Data: message.Data}:
		default:
			globals.AppLogger.Warn("event buffer full, dropping event", "event", message.Event)
		}
	}
	c.handleDisconnect(conn)
}

// handleDisconnect redials after an unexpected connection loss and re-joins the last
// room. If the retry budget is exhausted, the connector shuts down.
func (c *Connector) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.connected = false
	c.conn = nil
	c.mu.Unlock()

	newConn, err := c.dial(context.Background())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if newConn != nil {
			newConn.Close()
		}
		return
	}
	if err != nil {
		c.closed = true
		c.mu.Unlock()
		globals.AppLogger.Error("reconnect failed, giving up", "error", err)
		c.closeEvents.Do(func() { close(c.events) })
		return
	}
	c.conn = newConn
	c.connected = true
	streamId, identity := c.streamId, c.identity
	c.mu.Unlock()

	go c.readLoop(newConn)
	if streamId != "" {
		if err := c.Join(streamId, identity); err != nil {
			globals.AppLogger.Error("could not re-join room after reconnect", "error", err)
		}
	}
}

// Close tears the connection down. It is idempotent, closing an already closed
// connector is a no-op.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}
	c.closeEvents.Do(func() { close(c.events) })
	return nil
}
