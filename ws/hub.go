package ws

import (
	"context"
	"strings"
	"time"

	"github.com/streamcart/livechat/config"
	"github.com/streamcart/livechat/globals"
	"github.com/streamcart/livechat/metrics"
	"github.com/streamcart/livechat/persistence"
	"github.com/streamcart/livechat/types"
)

const (
	maxMessageSize     = 4096
	writeWait          = 10 * time.Second
	sendChannelSize    = 256
	commandChannelSize = 1024
	persistChannelSize = 1024
)

// BanChecker is consulted before a send-message is accepted. Implementations must be
// cheap, the check runs on the broadcast path.
type BanChecker interface {
	IsBanned(streamId, userId string) bool
}

// The inbound protocol is a small closed set of events, modelled as a tagged union
// dispatched through the hub's single command channel.
type command interface {
	isCommand()
}

type attachCmd struct{ client *Client }

type detachCmd struct{ client *Client }

type joinCmd struct {
	client   *Client
	streamId string
	identity types.Identity
}

type sendCmd struct {
	client *Client
	body   string
}

type leaveCmd struct{ client *Client }

func (attachCmd) isCommand() {}
func (detachCmd) isCommand() {}
func (joinCmd) isCommand()   {}
func (sendCmd) isCommand()   {}
func (leaveCmd) isCommand()  {}

// Hub is the broadcaster. It owns the session registry, the room registry and the
// history buffer; every mutation of the three happens on the single goroutine running
// Run, so the hot path needs no locking.
type Hub struct {
	cfg   *config.Config
	store persistence.Store
	bans  BanChecker

	commands chan command
	persist  chan types.ChatMessage

	clients  map[*Client]struct{}
	sessions *sessionRegistry
	rooms    *roomRegistry
	history  *historyBuffer

	// per-room sequence counter and last assigned timestamp; timestamps are clamped so
	// they never decrease within a room
	seq       map[string]uint64
	lastStamp map[string]time.Time

	requireAuth bool
	pingPeriod  time.Duration
	pongWait    time.Duration

	now func() time.Time
}

func NewHub(cfg *config.Config, store persistence.Store, bans BanChecker) *Hub {
	return &Hub{
		cfg:         cfg,
		store:       store,
		bans:        bans,
		commands:    make(chan command, commandChannelSize),
		persist:     make(chan types.ChatMessage, persistChannelSize),
		clients:     make(map[*Client]struct{}),
		sessions:    newSessionRegistry(),
		rooms:       newRoomRegistry(),
		history:     newHistoryBuffer(cfg.HistorySize()),
		seq:         make(map[string]uint64),
		lastStamp:   make(map[string]time.Time),
		requireAuth: len(cfg.OIDCConfigs) > 0,
		pingPeriod:  cfg.PingInterval(),
		pongWait:    cfg.PongTimeout(),
		now:         time.Now,
	}
}

// Run is the hub event loop. It must be running before any client is attached and is the
// only goroutine allowed to touch the registries.
func (h *Hub) Run(ctx context.Context) {
	go h.persistLoop(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-h.commands:
			h.dispatch(cmd)
		}
	}
}

func (h *Hub) dispatch(cmd command) {
	switch c := cmd.(type) {
	case attachCmd:
		h.handleAttach(c.client)
	case detachCmd:
		h.handleDetach(c.client)
	case joinCmd:
		h.handleJoin(c.client, c.streamId, c.identity)
	case sendCmd:
		h.handleSend(c.client, c.body)
	case leaveCmd:
		h.handleLeave(c.client)
	}
}

// Attach hands a freshly upgraded connection to the hub.
func (h *Hub) Attach(c *Client) { h.commands <- attachCmd{client: c} }

// Detach removes a connection from every room it is in and destroys its session.
func (h *Hub) Detach(c *Client) { h.commands <- detachCmd{client: c} }

func (h *Hub) Join(c *Client, streamId string, identity types.Identity) {
	h.commands <- joinCmd{client: c, streamId: streamId, identity: identity}
}

func (h *Hub) Send(c *Client, body string) {
	h.commands <- sendCmd{client: c, body: body}
}

func (h *Hub) Leave(c *Client) { h.commands <- leaveCmd{client: c} }

func (h *Hub) handleAttach(c *Client) {
	h.clients[c] = struct{}{}
	metrics.Connections.Inc()
}

func (h *Hub) handleDetach(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	identity, known := h.sessions.lookup(c)
	for _, streamId := range h.rooms.roomsOf(c) {
		h.rooms.leave(streamId, c)
		if known {
			h.fanout(streamId, c, types.EventUserLeft, types.PresenceData{
				UserId:      identity.UserId,
				DisplayName: identity.DisplayName,
				Timestamp:   h.now(),
			})
		}
		h.broadcastInfo(streamId)
	}
	h.sessions.remove(c)
	delete(h.clients, c)
	// the hub loop is the only writer to send channels, closing here is safe
	close(c.send)
	metrics.Connections.Dec()
}

func (h *Hub) handleJoin(c *Client, streamId string, identity types.Identity) {
	streamId = strings.TrimSpace(streamId)
	if c.auth != nil {
		// the identity verified at upgrade time wins over whatever the client declared,
		// a verified client need not declare one at all
		identity = *c.auth
	} else if h.requireAuth {
		h.sendError(c, "authentication required")
		return
	}
	if streamId == "" || !identity.Valid() {
		h.sendError(c, "stream id and identity are required")
		return
	}
	if c.streamId != "" && c.streamId != streamId {
		// the protocol allows one room per connection, switching rooms leaves the old one
		h.handleLeave(c)
	}
	h.sessions.register(c, identity)
	h.rooms.join(streamId, c)
	alreadyMember := c.streamId == streamId
	c.streamId = streamId

	h.emit(c, types.EventHistory, types.HistoryData{Messages: h.history.snapshot(streamId)})
	if !alreadyMember {
		h.fanout(streamId, c, types.EventUserJoined, types.PresenceData{
			UserId:      identity.UserId,
			DisplayName: identity.DisplayName,
			Timestamp:   h.now(),
		})
		h.broadcastInfo(streamId)
	}
}

func (h *Hub) handleSend(c *Client, body string) {
	if c.streamId == "" {
		h.sendError(c, "join a room before sending messages")
		return
	}
	identity, ok := h.sessions.lookup(c)
	if !ok {
		// no registered identity, drop the event
		h.sendError(c, "no identity registered for this connection")
		return
	}
	body = strings.TrimSpace(body)
	if body == "" {
		metrics.MessagesRejected.Inc()
		h.sendError(c, "message body must not be empty")
		return
	}
	if h.bans != nil && h.bans.IsBanned(c.streamId, identity.UserId) {
		metrics.MessagesRejected.Inc()
		h.sendError(c, "you are banned from this stream")
		return
	}

	ts := h.now()
	if last, ok := h.lastStamp[c.streamId]; ok && ts.Before(last) {
		ts = last
	}
	h.lastStamp[c.streamId] = ts
	h.seq[c.streamId]++

	msg := types.ChatMessage{
		Id:          types.NewMessageId(ts),
		StreamId:    c.streamId,
		UserId:      identity.UserId,
		DisplayName: identity.DisplayName,
		Body:        body,
		Seq:         h.seq[c.streamId],
		Timestamp:   ts,
	}
	h.history.append(c.streamId, msg)
	// fan out to the whole room including the sender, the echo is the server-confirmed copy
	h.fanout(c.streamId, nil, types.EventNewMessage, types.NewMessageData{Message: msg})
	metrics.MessagesBroadcast.Inc()

	select {
	case h.persist <- msg:
	default:
		globals.AppLogger.Warn("persist queue full, dropping message", "id", msg.Id)
	}
}

func (h *Hub) handleLeave(c *Client) {
	if c.streamId == "" {
		return
	}
	streamId := c.streamId
	c.streamId = ""
	h.rooms.leave(streamId, c)
	// a leave is not a disconnect, the session identity is retained
	if identity, ok := h.sessions.lookup(c); ok {
		h.fanout(streamId, c, types.EventUserLeft, types.PresenceData{
			UserId:      identity.UserId,
			DisplayName: identity.DisplayName,
			Timestamp:   h.now(),
		})
	}
	h.broadcastInfo(streamId)
}

func (h *Hub) broadcastInfo(streamId string) {
	h.fanout(streamId, nil, types.EventInfo, types.InfoData{
		StreamId:    streamId,
		Connections: h.rooms.memberCount(streamId),
	})
}

// fanout delivers one event to every member of the room except the excluded connection.
func (h *Hub) fanout(streamId string, except *Client, event string, data interface{}) {
	raw, err := types.MarshalWire(event, data)
	if err != nil {
		globals.AppLogger.Error("could not marshal wire event", "event", event, "error", err)
		return
	}
	for _, member := range h.rooms.members(streamId) {
		if member == except {
			continue
		}
		h.deliver(member, raw)
	}
}

func (h *Hub) emit(c *Client, event string, data interface{}) {
	raw, err := types.MarshalWire(event, data)
	if err != nil {
		globals.AppLogger.Error("could not marshal wire event", "event", event, "error", err)
		return
	}
	h.deliver(c, raw)
}

// deliver is non-blocking, a slow consumer loses events rather than stalling the room.
func (h *Hub) deliver(c *Client, raw []byte) {
	select {
	case c.send <- raw:
	default:
		metrics.DroppedSends.Inc()
		globals.AppLogger.Warn("send buffer full, dropping event")
	}
}

func (h *Hub) sendError(c *Client, message string) {
	h.emit(c, types.EventError, types.ErrorData{Message: message})
}

// persistLoop writes accepted messages to the durable store off the broadcast path.
// Store failures are logged and swallowed, the live channel has priority over
// durability of a single message.
func (h *Hub) persistLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.persist:
			if h.store == nil {
				continue
			}
			if err := h.store.StoreMessage(msg); err != nil {
				globals.AppLogger.Error("could not persist chat message", "id", msg.Id, "error", err)
			}
		}
	}
}
