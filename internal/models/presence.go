package models

import "time"

type PresenceRecord struct {
	UserID    string    `json:"user_id"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	UpdatedAt time.Time `json:"updated_at"`
	Stale     bool      `json:"stale"`
}
