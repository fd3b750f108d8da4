package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/streamcart/livechat/config"
	"github.com/streamcart/livechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The handlers are exercised directly: in production they only ever run on the single
// goroutine inside Run, calling them from the test goroutine preserves the same
// serialization.

func newTestHub() *Hub {
	return NewHub(&config.Config{}, nil, nil)
}

func newTestClient(h *Hub) *Client {
	c := &Client{hub: h, send: make(chan []byte, sendChannelSize)}
	h.handleAttach(c)
	return c
}

func join(h *Hub, c *Client, streamId, userId, displayName string) {
	h.handleJoin(c, streamId, types.Identity{UserId: userId, DisplayName: displayName})
}

// drainEvents empties the client's send buffer and returns the decoded envelopes.
func drainEvents(t *testing.T, c *Client) []types.WebsocketMessage {
	t.Helper()
	events := make([]types.WebsocketMessage, 0)
	for {
		select {
		case raw := <-c.send:
			msg := types.WebsocketMessage{}
			require.NoError(t, json.Unmarshal(raw, &msg))
			events = append(events, msg)
		default:
			return events
		}
	}
}

func eventNames(events []types.WebsocketMessage) []string {
	names := make([]string, 0, len(events))
	for _, ev := range events {
		names = append(names, ev.Event)
	}
	return names
}

func findEvent(events []types.WebsocketMessage, name string) *types.WebsocketMessage {
	for i := range events {
		if events[i].Event == name {
			return &events[i]
		}
	}
	return nil
}

func decodeHistory(t *testing.T, ev *types.WebsocketMessage) types.HistoryData {
	t.Helper()
	require.NotNil(t, ev)
	data := types.HistoryData{}
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	return data
}

func decodeMessage(t *testing.T, ev *types.WebsocketMessage) types.ChatMessage {
	t.Helper()
	require.NotNil(t, ev)
	data := types.NewMessageData{}
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	return data.Message
}

func messagesOf(t *testing.T, events []types.WebsocketMessage) []types.ChatMessage {
	t.Helper()
	messages := make([]types.ChatMessage, 0)
	for i := range events {
		if events[i].Event == types.EventNewMessage {
			messages = append(messages, decodeMessage(t, &events[i]))
		}
	}
	return messages
}

func TestJoinReplaysEmptyHistory(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)

	join(h, a, "s1", "u1", "Alice")
	events := drainEvents(t, a)
	history := decodeHistory(t, findEvent(events, types.EventHistory))
	assert.Empty(t, history.Messages)
	assert.Nil(t, findEvent(events, types.EventError))
}

func TestJoinValidation(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)

	h.handleJoin(a, "  ", types.Identity{UserId: "u1", DisplayName: "Alice"})
	events := drainEvents(t, a)
	require.NotNil(t, findEvent(events, types.EventError))
	assert.Nil(t, findEvent(events, types.EventHistory))

	h.handleJoin(a, "s1", types.Identity{})
	events = drainEvents(t, a)
	require.NotNil(t, findEvent(events, types.EventError))
	assert.Empty(t, h.rooms.members("s1"))
}

func TestSendRequiresRoomAndIdentity(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)

	h.handleSend(a, "hello")
	events := drainEvents(t, a)
	require.NotNil(t, findEvent(events, types.EventError))
	assert.Empty(t, messagesOf(t, events))
}

func TestSendEchoAndFanoutOrder(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	b := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")
	join(h, b, "s1", "u2", "Bob")
	drainEvents(t, a)
	drainEvents(t, b)

	h.handleSend(a, "one")
	h.handleSend(b, "two")
	h.handleSend(a, "three")

	for _, c := range []*Client{a, b} {
		messages := messagesOf(t, drainEvents(t, c))
		require.Len(t, messages, 3, "every member including the sender receives every message")
		assert.Equal(t, []string{"one", "two", "three"}, []string{messages[0].Body, messages[1].Body, messages[2].Body})
		assert.Equal(t, uint64(1), messages[0].Seq)
		assert.Equal(t, uint64(3), messages[2].Seq)
		assert.Equal(t, "u1", messages[0].UserId)
		assert.Equal(t, "u2", messages[1].UserId)
	}
}

func TestEmptyBodyRejectedSenderOnly(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	b := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")
	join(h, b, "s1", "u2", "Bob")
	drainEvents(t, a)
	drainEvents(t, b)

	h.handleSend(b, "   \t\n")

	bEvents := drainEvents(t, b)
	require.NotNil(t, findEvent(bEvents, types.EventError))
	assert.Empty(t, messagesOf(t, bEvents))
	assert.Empty(t, drainEvents(t, a), "the rest of the room must see nothing")
	assert.Empty(t, h.history.snapshot("s1"))
}

func TestLateJoinerGetsHistorySnapshot(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")
	drainEvents(t, a)
	h.handleSend(a, "hi")

	b := newTestClient(h)
	join(h, b, "s1", "u2", "Bob")
	history := decodeHistory(t, findEvent(drainEvents(t, b), types.EventHistory))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hi", history.Messages[0].Body)
	assert.Equal(t, "u1", history.Messages[0].UserId)
}

func TestJoinBroadcastsPresence(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")
	drainEvents(t, a)

	b := newTestClient(h)
	join(h, b, "s1", "u2", "Bob")

	aEvents := drainEvents(t, a)
	joined := findEvent(aEvents, types.EventUserJoined)
	require.NotNil(t, joined)
	presence := types.PresenceData{}
	require.NoError(t, json.Unmarshal(joined.Data, &presence))
	assert.Equal(t, "u2", presence.UserId)

	// the joiner itself only gets history + info, not its own presence notice
	bEvents := drainEvents(t, b)
	assert.Nil(t, findEvent(bEvents, types.EventUserJoined))
}

func TestSwitchingRoomsLeavesTheFirst(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	watcher := newTestClient(h)
	join(h, watcher, "s1", "u9", "Watcher")
	join(h, a, "s1", "u1", "Alice")
	drainEvents(t, a)
	drainEvents(t, watcher)

	join(h, a, "s2", "u1", "Alice")

	assert.Equal(t, []string{"s2"}, h.rooms.roomsOf(a))
	left := findEvent(drainEvents(t, watcher), types.EventUserLeft)
	require.NotNil(t, left)
}

func TestLeaveKeepsSession(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")
	drainEvents(t, a)

	h.handleLeave(a)
	assert.Empty(t, h.rooms.members("s1"))
	_, ok := h.sessions.lookup(a)
	assert.True(t, ok, "a leave is not a disconnect, the identity is retained")

	h.handleLeave(a) // not in a room, no-op
	assert.Empty(t, drainEvents(t, a))
}

func TestDetachCleansUpEverything(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	b := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")
	join(h, b, "s1", "u2", "Bob")
	drainEvents(t, a)
	drainEvents(t, b)

	h.handleDetach(a)

	_, ok := h.sessions.lookup(a)
	assert.False(t, ok)
	assert.Equal(t, []*Client{b}, h.rooms.members("s1"))

	left := findEvent(drainEvents(t, b), types.EventUserLeft)
	require.NotNil(t, left)

	// the send channel is closed so the write pump terminates
	_, open := <-a.send
	assert.False(t, open)

	h.handleDetach(a) // detaching twice is a no-op
}

func TestBannedSenderIsRejected(t *testing.T) {
	h := NewHub(&config.Config{}, nil, bannedChecker{user: "u1"})
	a := newTestClient(h)
	b := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")
	join(h, b, "s1", "u2", "Bob")
	drainEvents(t, a)
	drainEvents(t, b)

	h.handleSend(a, "spam")
	require.NotNil(t, findEvent(drainEvents(t, a), types.EventError))
	assert.Empty(t, messagesOf(t, drainEvents(t, b)))

	h.handleSend(b, "fine")
	assert.Len(t, messagesOf(t, drainEvents(t, b)), 1)
}

type bannedChecker struct{ user string }

func (c bannedChecker) IsBanned(streamId, userId string) bool { return userId == c.user }

func TestAuthRequiredWhenProvidersConfigured(t *testing.T) {
	cfg := &config.Config{OIDCConfigs: []config.OIDCConfig{{Name: "test"}}}
	h := NewHub(cfg, nil, nil)

	anon := newTestClient(h)
	join(h, anon, "s1", "u1", "Alice")
	require.NotNil(t, findEvent(drainEvents(t, anon), types.EventError))
	assert.Empty(t, h.rooms.members("s1"))

	verified := &Client{hub: h, send: make(chan []byte, sendChannelSize), auth: &types.Identity{UserId: "real", DisplayName: "Real Name"}}
	h.handleAttach(verified)
	// the declared identity is overridden by the verified one
	join(h, verified, "s1", "fake", "Fake")
	drainEvents(t, verified)
	identity, ok := h.sessions.lookup(verified)
	require.True(t, ok)
	assert.Equal(t, "real", identity.UserId)
}

func TestVerifiedClientMayOmitDeclaredIdentity(t *testing.T) {
	h := newTestHub()
	verified := &Client{hub: h, send: make(chan []byte, sendChannelSize), auth: &types.Identity{UserId: "real", DisplayName: "Real Name"}}
	h.handleAttach(verified)

	h.handleJoin(verified, "s1", types.Identity{})

	events := drainEvents(t, verified)
	assert.Nil(t, findEvent(events, types.EventError))
	require.NotNil(t, findEvent(events, types.EventHistory))
	identity, ok := h.sessions.lookup(verified)
	require.True(t, ok)
	assert.Equal(t, "real", identity.UserId)
}

func TestTimestampsMonotonicPerRoom(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")
	drainEvents(t, a)

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	stamps := []time.Time{t0, t0.Add(-time.Second), t0.Add(time.Second)}
	i := 0
	h.now = func() time.Time { ts := stamps[i]; i++; return ts }

	h.handleSend(a, "first")
	h.handleSend(a, "second") // wall clock went backwards
	h.handleSend(a, "third")

	messages := messagesOf(t, drainEvents(t, a))
	require.Len(t, messages, 3)
	assert.Equal(t, t0, messages[0].Timestamp.UTC())
	assert.Equal(t, t0, messages[1].Timestamp.UTC(), "timestamps never decrease within a room")
	assert.Equal(t, t0.Add(time.Second), messages[2].Timestamp.UTC())
	assert.True(t, messages[0].Id < messages[1].Id || messages[0].Seq < messages[1].Seq)
}

func TestInfoBroadcastOnMembershipChange(t *testing.T) {
	h := newTestHub()
	a := newTestClient(h)
	join(h, a, "s1", "u1", "Alice")

	info := findEvent(drainEvents(t, a), types.EventInfo)
	require.NotNil(t, info)
	data := types.InfoData{}
	require.NoError(t, json.Unmarshal(info.Data, &data))
	assert.Equal(t, 1, data.Connections)
	assert.Equal(t, "s1", data.StreamId)
}

func TestRunLoopProcessesCommands(t *testing.T) {
	h := newTestHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a := &Client{hub: h, send: make(chan []byte, sendChannelSize)}
	h.Attach(a)
	h.Join(a, "s1", types.Identity{UserId: "u1", DisplayName: "Alice"})
	h.Send(a, "hello")

	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-a.send:
			msg := types.WebsocketMessage{}
			require.NoError(t, json.Unmarshal(raw, &msg))
			if msg.Event == types.EventNewMessage {
				assert.Equal(t, "hello", decodeMessage(t, &msg).Body)
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the broadcast")
		}
	}
}
