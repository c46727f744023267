package models

import "time"

const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"

	TableUsers            = "users"
	TableKYCVerifications = "kyc_verifications"
)

// ChangeEvent is published on the change feed after every KYC write.
type ChangeEvent struct {
	Event  string    `json:"event"`
	Table  string    `json:"table"`
	UserID string    `json:"user_id"`
	Status string    `json:"status,omitempty"`
	At     time.Time `json:"at"`
}

// AuditEvent is one row of the kyc_events analytics table.
type AuditEvent struct {
	EventTime time.Time `json:"event_time"`
	UserID    string    `json:"user_id"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
}
