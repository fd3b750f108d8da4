package types

import "time"

// Stream is the ownership record of one live stream. The chat subsystem only reads it to
// decide who may moderate; the commerce side of the application maintains the rest.
type Stream struct {
	Id          string    `json:"id" gorm:"primaryKey"`
	OwnerUserId string    `json:"owner_user_id" gorm:"index"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
