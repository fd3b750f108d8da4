package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/streamcart/livechat/config"
	"github.com/streamcart/livechat/types"
	"github.com/tidwall/buntdb"
)

// BuntStore is an embedded single-file store backend. It exists for small deployments
// without a database server; the gorm backends are the default.
type BuntStore struct {
	db   *buntdb.DB
	lock *flock.Flock
}

func NewBuntStore(cfg *config.Config) (Store, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil // no or wrong configuration, ignore the store
	}
	fileName := cfg.PersistenceConfig.DSN
	var lock *flock.Flock
	if fileName != ":memory:" {
		lock = flock.New(fileName + ".lock")
		locked, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("store file %s is locked by another process", fileName)
		}
	}
	db, err := buntdb.Open(fileName)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}
	err = db.CreateIndex("messages_id", "message:*", buntdb.IndexJSON("id"))
	if err != nil && err != buntdb.ErrIndexExists {
		db.Close()
		if lock != nil {
			lock.Unlock()
		}
		return nil, err
	}
	return &BuntStore{db: db, lock: lock}, nil
}

func messageKey(id string) string           { return "message:" + id }
func banKey(streamId, userId string) string { return "ban:" + streamId + "/" + userId }
func streamKey(id string) string            { return "stream:" + id }

// messageRecord is the stored form of a ChatMessage. The wire-facing struct hides the
// soft-delete fields from JSON, so the store carries them in its own serialization.
type messageRecord struct {
	types.ChatMessage
	Deleted         bool       `json:"deleted"`
	DeletedByUserId string     `json:"deleted_by_user_id,omitempty"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

func toMessageRecord(msg types.ChatMessage) messageRecord {
	return messageRecord{
		ChatMessage:     msg,
		Deleted:         msg.Deleted,
		DeletedByUserId: msg.DeletedByUserId,
		DeletedAt:       msg.DeletedAt,
	}
}

func (r messageRecord) message() types.ChatMessage {
	msg := r.ChatMessage
	msg.Deleted = r.Deleted
	msg.DeletedByUserId = r.DeletedByUserId
	msg.DeletedAt = r.DeletedAt
	return msg
}

func banPrefixMatches(key, streamId string) bool {
	return strings.HasPrefix(key, "ban:"+streamId+"/")
}

func (s *BuntStore) StoreMessage(msg types.ChatMessage) error {
	raw, err := json.Marshal(toMessageRecord(msg))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(messageKey(msg.Id), string(raw), nil)
		return err
	})
}

func (s *BuntStore) GetMessage(id string) (*types.ChatMessage, error) {
	record := messageRecord{}
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(messageKey(id))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), &record)
	})
	if err == buntdb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	msg := record.message()
	return &msg, nil
}

func (s *BuntStore) GetMessageHistory(streamId string, limit int) ([]types.ChatMessage, error) {
	messages := make([]types.ChatMessage, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		// descend the ULID index, newest first, stop once limit is reached
		return tx.Descend("messages_id", func(key, value string) bool {
			record := messageRecord{}
			if err := json.Unmarshal([]byte(value), &record); err != nil {
				return true
			}
			if record.StreamId != streamId || record.Deleted {
				return true
			}
			messages = append(messages, record.message())
			return len(messages) < limit
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].Id < messages[j].Id })
	return messages, nil
}

func (s *BuntStore) SoftDeleteMessage(id, deletedByUserId string, when time.Time) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(messageKey(id))
		if err != nil {
			return err
		}
		record := messageRecord{}
		if err := json.Unmarshal([]byte(raw), &record); err != nil {
			return err
		}
		record.Deleted = true
		record.DeletedByUserId = deletedByUserId
		record.DeletedAt = &when
		updated, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(messageKey(id), string(updated), nil)
		return err
	})
	if err == buntdb.ErrNotFound {
		return ErrNotFound
	}
	return err
}

func (s *BuntStore) UpsertBan(ban types.BanRecord) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		key := banKey(ban.StreamId, ban.UserId)
		now := time.Now()
		if raw, err := tx.Get(key); err == nil {
			prev := types.BanRecord{}
			if err := json.Unmarshal([]byte(raw), &prev); err == nil {
				ban.CreatedAt = prev.CreatedAt
			}
		} else {
			ban.CreatedAt = now
		}
		ban.UpdatedAt = now
		updated, err := json.Marshal(ban)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, string(updated), nil)
		return err
	})
}

func (s *BuntStore) DeactivateBan(streamId, userId string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		key := banKey(streamId, userId)
		raw, err := tx.Get(key)
		if err != nil {
			return err
		}
		ban := types.BanRecord{}
		if err := json.Unmarshal([]byte(raw), &ban); err != nil {
			return err
		}
		ban.IsActive = false
		ban.UpdatedAt = time.Now()
		updated, err := json.Marshal(ban)
		if err != nil {
			return err
		}
		_, _, err = tx.Set(key, string(updated), nil)
		return err
	})
	if err == buntdb.ErrNotFound {
		return nil // unbanning an unbanned pair is a no-op
	}
	return err
}

func (s *BuntStore) GetBan(streamId, userId string) (*types.BanRecord, error) {
	ban := types.BanRecord{}
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(banKey(streamId, userId))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), &ban)
	})
	if err == buntdb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ban, nil
}

func (s *BuntStore) GetActiveBans(streamId string) ([]types.BanRecord, error) {
	bans := make([]types.BanRecord, 0)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("ban:*", func(key, value string) bool {
			if !banPrefixMatches(key, streamId) {
				return true
			}
			ban := types.BanRecord{}
			if err := json.Unmarshal([]byte(value), &ban); err != nil {
				return true
			}
			if ban.IsActive {
				bans = append(bans, ban)
			}
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(bans, func(i, j int) bool { return bans[i].UpdatedAt.After(bans[j].UpdatedAt) })
	return bans, nil
}

func (s *BuntStore) DeactivateExpiredBans(now time.Time) (int64, error) {
	var count int64
	err := s.db.Update(func(tx *buntdb.Tx) error {
		expired := make(map[string]types.BanRecord)
		err := tx.AscendKeys("ban:*", func(key, value string) bool {
			ban := types.BanRecord{}
			if err := json.Unmarshal([]byte(value), &ban); err != nil {
				return true
			}
			if ban.IsActive && ban.Expired(now) {
				expired[key] = ban
			}
			return true
		})
		if err != nil {
			return err
		}
		for key, ban := range expired {
			ban.IsActive = false
			ban.UpdatedAt = now
			updated, err := json.Marshal(ban)
			if err != nil {
				return err
			}
			if _, _, err := tx.Set(key, string(updated), nil); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func (s *BuntStore) StoreStream(stream types.Stream) error {
	raw, err := json.Marshal(stream)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(streamKey(stream.Id), string(raw), nil)
		return err
	})
}

func (s *BuntStore) GetStream(id string) (*types.Stream, error) {
	stream := types.Stream{}
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(streamKey(id))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), &stream)
	})
	if err == buntdb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stream, nil
}

func (s *BuntStore) Close() error {
	err := s.db.Close()
	if s.lock != nil {
		if lerr := s.lock.Unlock(); err == nil {
			err = lerr
		}
	}
	return err
}
