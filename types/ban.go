package types

import "time"

// BanRecord stores a stream-scoped ban. Records are deactivated rather than deleted so the
// moderation history of a stream stays auditable.
type BanRecord struct {
	StreamId       string     `json:"stream_id" gorm:"primaryKey;autoIncrement:false"`
	UserId         string     `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	BannedByUserId string     `json:"banned_by_user_id"`
	Reason         string     `json:"reason"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (BanRecord) TableName() string {
	return "chat_bans"
}

// Expired reports whether the ban has an expiry in the past. An expired ban is treated as
// inactive even before the sweeper has flipped IsActive.
func (b *BanRecord) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// Effective reports whether the ban should currently keep the user out.
func (b *BanRecord) Effective(now time.Time) bool {
	return b.IsActive && !b.Expired(now)
}
