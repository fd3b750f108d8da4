package moderation

import (
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/streamcart/livechat/globals"
	"github.com/streamcart/livechat/persistence"
)

const (
	banCacheSize = 4096
	// DefaultBanCacheTTL bounds how long the live broadcast can lag behind a fresh ban.
	DefaultBanCacheTTL = 30 * time.Second
)

// BanChecker answers whether a user is currently banned from a stream. Lookups are
// cached in an expirable LRU so the broadcaster's send path stays off the database in
// the common case.
type BanChecker struct {
	store persistence.Store
	cache *expirable.LRU[string, bool]
	now   func() time.Time
}

func NewBanChecker(store persistence.Store, ttl time.Duration) *BanChecker {
	if ttl <= 0 {
		ttl = DefaultBanCacheTTL
	}
	return &BanChecker{
		store: store,
		cache: expirable.NewLRU[string, bool](banCacheSize, nil, ttl),
		now:   time.Now,
	}
}

func (b *BanChecker) IsBanned(streamId, userId string) bool {
	key := streamId + "\x00" + userId
	if banned, ok := b.cache.Get(key); ok {
		return banned
	}
	banned := false
	ban, err := b.store.GetBan(streamId, userId)
	switch {
	case err == nil:
		banned = ban.Effective(b.now())
	case errors.Is(err, persistence.ErrNotFound):
		// no record, not banned
	default:
		// fail open: a store outage must not silence the whole room
		globals.AppLogger.Error("ban lookup failed", "stream", streamId, "user", userId, "error", err)
		return false
	}
	b.cache.Add(key, banned)
	return banned
}
