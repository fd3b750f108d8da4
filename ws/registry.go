package ws

import (
	"container/ring"

	"github.com/streamcart/livechat/types"
)

// The three registries below are owned exclusively by the hub and are only ever touched
// from inside the hub's run loop, so none of them carries a lock.

// sessionRegistry tracks which identity each live connection represents.
type sessionRegistry struct {
	sessions map[*Client]types.Identity
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[*Client]types.Identity)}
}

// register overwrites any prior identity for the connection, which supports
// re-authentication on the same connection.
func (r *sessionRegistry) register(c *Client, identity types.Identity) {
	r.sessions[c] = identity
}

func (r *sessionRegistry) lookup(c *Client) (types.Identity, bool) {
	identity, ok := r.sessions[c]
	return identity, ok
}

func (r *sessionRegistry) remove(c *Client) {
	delete(r.sessions, c)
}

// roomRegistry maps a stream id to the set of live connections currently viewing it.
// It is a plain multi-map, single-room membership is the hub's business.
type roomRegistry struct {
	rooms map[string]map[*Client]struct{}
}

func newRoomRegistry() *roomRegistry {
	return &roomRegistry{rooms: make(map[string]map[*Client]struct{})}
}

func (r *roomRegistry) join(streamId string, c *Client) {
	members, ok := r.rooms[streamId]
	if !ok {
		members = make(map[*Client]struct{})
		r.rooms[streamId] = members
	}
	members[c] = struct{}{}
}

// leave removes the connection from the room. The room record itself is kept, an empty
// room is inert and makes re-joins cheap.
func (r *roomRegistry) leave(streamId string, c *Client) {
	if members, ok := r.rooms[streamId]; ok {
		delete(members, c)
	}
}

func (r *roomRegistry) members(streamId string) []*Client {
	members := r.rooms[streamId]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (r *roomRegistry) memberCount(streamId string) int {
	return len(r.rooms[streamId])
}

// roomsOf scans every room for the connection. The disconnect path uses this as a
// defensive full scan, nothing else guarantees single-room membership.
func (r *roomRegistry) roomsOf(c *Client) []string {
	streamIds := make([]string, 0, 1)
	for streamId, members := range r.rooms {
		if _, ok := members[c]; ok {
			streamIds = append(streamIds, streamId)
		}
	}
	return streamIds
}

// historyBuffer keeps the most recent messages of each room in a ring buffer to replay
// context to newly joined connections. The durable store is the system of record, this
// buffer lives only as long as the process.
type historyBuffer struct {
	size  int
	rooms map[string]*roomHistory
}

type roomHistory struct {
	start, end *ring.Ring
}

func newHistoryBuffer(size int) *historyBuffer {
	return &historyBuffer{size: size, rooms: make(map[string]*roomHistory)}
}

func (h *historyBuffer) append(streamId string, msg types.ChatMessage) {
	rh, ok := h.rooms[streamId]
	if !ok {
		r := ring.New(h.size + 1)
		rh = &roomHistory{start: r, end: r}
		h.rooms[streamId] = rh
	}
	rh.end.Value = msg
	rh.end = rh.end.Next()
	if rh.end == rh.start {
		rh.start = rh.start.Next()
	}
}

// snapshot returns a point-in-time copy, oldest first. Mutating the returned slice does
// not affect the buffer.
func (h *historyBuffer) snapshot(streamId string) []types.ChatMessage {
	messages := make([]types.ChatMessage, 0)
	rh, ok := h.rooms[streamId]
	if !ok {
		return messages
	}
	for current := rh.start; current != rh.end; current = current.Next() {
		messages = append(messages, current.Value.(types.ChatMessage))
	}
	return messages
}
