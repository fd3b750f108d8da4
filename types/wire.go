package types

import (
	"encoding/json"
	"time"
)

// Wire event names. Client-to-server events are decoded through a single
// decode-then-switch entry point in the ws package.
const (
	EventJoinRoom    = "join-room"
	EventSendMessage = "send-message"
	EventLeaveRoom   = "leave-room"

	EventHistory    = "history"
	EventNewMessage = "new-message"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventInfo       = "info"
	EventError      = "error"
)

// JSON-serialized WebsocketMessage is what is actually sent via the websocket connection.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// MarshalWire wraps data in the wire envelope.
func MarshalWire(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Data: raw})
}

// JoinRoomData is the payload of a join-room event, incoming.
type JoinRoomData struct {
	StreamId    string `json:"stream_id" mapstructure:"stream_id"`
	UserId      string `json:"user_id" mapstructure:"user_id"`
	DisplayName string `json:"display_name" mapstructure:"display_name"`
}

// SendMessageData is the payload of a send-message event, incoming.
type SendMessageData struct {
	Body string `json:"body" mapstructure:"body"`
}

// HistoryData carries the history replay sent to a joining connection only.
type HistoryData struct {
	Messages []ChatMessage `json:"messages"`
}

// NewMessageData carries one accepted message fanned out to the whole room.
type NewMessageData struct {
	Message ChatMessage `json:"message"`
}

// PresenceData is the payload of best-effort user-joined / user-left notices.
type PresenceData struct {
	UserId      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Timestamp   time.Time `json:"timestamp"`
}

// InfoData carries room statistics, broadcast whenever the member set changes.
type InfoData struct {
	StreamId    string `json:"stream_id"`
	Connections int    `json:"connections"`
}

// ErrorData is only ever sent to the connection that caused the error.
type ErrorData struct {
	Message string `json:"message"`
}
