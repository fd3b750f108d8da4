package persistence

import (
	"errors"
	"fmt"
	"time"

	"github.com/streamcart/livechat/config"
	"github.com/streamcart/livechat/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(cfg *config.Config) (Store, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return nil, nil // no or wrong configuration, ignore the store
	}
	return &GormStore{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, nil
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&types.ChatMessage{}, &types.BanRecord{}, &types.Stream{}); err != nil {
		return nil, err
	}
	return db, nil
}

func (s *GormStore) StoreMessage(msg types.ChatMessage) error {
	return s.db.Create(&msg).Error
}

func (s *GormStore) GetMessage(id string) (*types.ChatMessage, error) {
	msg := types.ChatMessage{Id: id}
	err := s.db.First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *GormStore) GetMessageHistory(streamId string, limit int) ([]types.ChatMessage, error) {
	messages := make([]types.ChatMessage, 0)
	// the id is a ULID, ordering by it is ordering by creation time
	err := s.db.Where("stream_id = ? AND deleted = ?", streamId, false).
		Order("id DESC").Limit(limit).Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *GormStore) SoftDeleteMessage(id, deletedByUserId string, when time.Time) error {
	res := s.db.Model(&types.ChatMessage{Id: id}).Updates(map[string]interface{}{
		"deleted":            true,
		"deleted_by_user_id": deletedByUserId,
		"deleted_at":         when,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) UpsertBan(ban types.BanRecord) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stream_id"}, {Name: "user_id"}},
		UpdateAll: true,
	}).Create(&ban).Error
}

func (s *GormStore) DeactivateBan(streamId, userId string) error {
	return s.db.Model(&types.BanRecord{}).
		Where("stream_id = ? AND user_id = ?", streamId, userId).
		Update("is_active", false).Error
}

func (s *GormStore) GetBan(streamId, userId string) (*types.BanRecord, error) {
	ban := types.BanRecord{}
	err := s.db.Where("stream_id = ? AND user_id = ?", streamId, userId).First(&ban).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ban, nil
}

func (s *GormStore) GetActiveBans(streamId string) ([]types.BanRecord, error) {
	bans := make([]types.BanRecord, 0)
	err := s.db.Where("stream_id = ? AND is_active = ?", streamId, true).
		Order("updated_at DESC").Find(&bans).Error
	return bans, err
}

func (s *GormStore) DeactivateExpiredBans(now time.Time) (int64, error) {
	res := s.db.Model(&types.BanRecord{}).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		Update("is_active", false)
	return res.RowsAffected, res.Error
}

func (s *GormStore) StoreStream(stream types.Stream) error {
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&stream).Error
}

func (s *GormStore) GetStream(id string) (*types.Stream, error) {
	stream := types.Stream{Id: id}
	err := s.db.First(&stream).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &stream, nil
}

func (s *GormStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
