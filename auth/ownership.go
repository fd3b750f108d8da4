package auth

import (
	"context"
	"errors"

	"github.com/streamcart/livechat/persistence"
)

// OwnershipResolver answers whether a user owns/operates a stream. Ownership records are
// maintained by the commerce side of the application, the chat subsystem only reads them.
type OwnershipResolver interface {
	Owns(ctx context.Context, userId, streamId string) (bool, error)
}

// StoreOwnership resolves ownership from the stream records in the durable store.
type StoreOwnership struct {
	store persistence.Store
}

func NewStoreOwnership(store persistence.Store) *StoreOwnership {
	return &StoreOwnership{store: store}
}

func (o *StoreOwnership) Owns(ctx context.Context, userId, streamId string) (bool, error) {
	stream, err := o.store.GetStream(streamId)
	if errors.Is(err, persistence.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stream.OwnerUserId == userId, nil
}
