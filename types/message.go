package types

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChatMessage is one chat message in a stream. It is created by the broadcaster (or the
// moderation REST surface) and is immutable afterwards except for the soft-delete fields,
// which are only ever set by the moderation gateway. Soft-deleted messages stay in the
// durable store for audit.
type ChatMessage struct {
	Id              string     `json:"id" gorm:"primaryKey"`
	StreamId        string     `json:"stream_id" gorm:"index:idx_messages_stream"`
	UserId          string     `json:"user_id"`
	DisplayName     string     `json:"display_name"`
	Body            string     `json:"body"`
	Seq             uint64     `json:"seq"`
	Timestamp       time.Time  `json:"timestamp"`
	Deleted         bool       `json:"-"`
	DeletedByUserId string     `json:"-"`
	DeletedAt       *time.Time `json:"-"`
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewMessageId returns a ULID for the given timestamp. ULIDs sort lexicographically in
// time order, which keeps store queries on the primary key consistent with broadcast order.
func NewMessageId(ts time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), entropy).String()
}
