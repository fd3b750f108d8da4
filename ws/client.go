package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mitchellh/mapstructure"
	"github.com/streamcart/livechat/globals"
	"github.com/streamcart/livechat/types"
)

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound messages, closed by the hub on detach.
	send chan []byte

	// identity verified at upgrade time, nil for unauthenticated connections
	auth *types.Identity

	// current room, owned by the hub loop
	streamId string
}

func NewClient(hub *Hub, conn *websocket.Conn, auth *types.Identity) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendChannelSize),
		auth: auth,
	}
}

// ReadLoop pumps events from the websocket connection to the hub.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop() {
	defer func() {
		c.conn.Close()
		c.hub.Detach(c)
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				globals.AppLogger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}
		message := types.WebsocketMessage{}
		if err := json.Unmarshal(raw, &message); err != nil {
			c.emitError("malformed event")
			continue
		}
		c.dispatch(message)
	}
}

// dispatch is the single decode-then-switch entry point for the inbound protocol.
func (c *Client) dispatch(message types.WebsocketMessage) {
	payload := make(map[string]interface{})
	if len(message.Data) > 0 {
		if err := json.Unmarshal(message.Data, &payload); err != nil {
			c.emitError("malformed event payload")
			return
		}
	}
	switch message.Event {
	case types.EventJoinRoom:
		data := types.JoinRoomData{}
		if err := mapstructure.WeakDecode(payload, &data); err != nil {
			c.emitError("malformed join-room payload")
			return
		}
		c.hub.Join(c, data.StreamId, types.Identity{UserId: data.UserId, DisplayName: data.DisplayName})

	case types.EventSendMessage:
		data := types.SendMessageData{}
		if err := mapstructure.WeakDecode(payload, &data); err != nil {
			c.emitError("malformed send-message payload")
			return
		}
		c.hub.Send(c, data.Body)

	case types.EventLeaveRoom:
		c.hub.Leave(c)

	default:
		globals.AppLogger.Debug("ignoring unknown event", "event", message.Event)
	}
}

// emitError reports a protocol error to this connection only. Non-blocking, like every
// other delivery.
func (c *Client) emitError(message string) {
	raw, err := types.MarshalWire(types.EventError, types.ErrorData{Message: message})
	if err != nil {
		return
	}
	select {
	case c.send <- raw:
	default:
	}
}

// WriteLoop pumps events from the hub to the websocket connection and keeps the
// connection alive with periodic pings.
//
// A goroutine running WriteLoop is started for each connection. The application
// ensures that there is at most one writer to a connection by executing all
// writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// the hub closed the channel
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
