package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/streamcart/livechat/config"
	"github.com/streamcart/livechat/types"
)

// ErrNotFound is returned for lookups of unknown messages, bans or streams,
// regardless of the backend.
var ErrNotFound = errors.New("record not found")

// Store is the durable store shared by the moderation gateway and the (asynchronous,
// best-effort) message persistence of the broadcaster. It is never called on the
// broadcaster's hot path.
type Store interface {
	StoreMessage(types.ChatMessage) error
	GetMessage(id string) (*types.ChatMessage, error)
	// GetMessageHistory returns the most recent limit messages of a stream, oldest
	// first, excluding soft-deleted ones.
	GetMessageHistory(streamId string, limit int) ([]types.ChatMessage, error)
	SoftDeleteMessage(id, deletedByUserId string, when time.Time) error

	UpsertBan(types.BanRecord) error
	DeactivateBan(streamId, userId string) error
	GetBan(streamId, userId string) (*types.BanRecord, error)
	// GetActiveBans returns the active bans of a stream, most recently updated first.
	GetActiveBans(streamId string) ([]types.BanRecord, error)
	// DeactivateExpiredBans flips IsActive on every ban whose expiry has passed and
	// returns the number of records changed.
	DeactivateExpiredBans(now time.Time) (int64, error)

	StoreStream(types.Stream) error
	GetStream(id string) (*types.Stream, error)

	Close() error
}

// NewStore creates the store configured in cfg. It returns nil (and no error) if no
// persistence is configured at all, callers must handle a nil store.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.PersistenceConfig.Type {
	case "postgres", "sqlite":
		return NewGormStore(cfg)
	case "buntdb":
		return NewBuntStore(cfg)
	case "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}
