package service

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"kyc-service/internal/models"
)

const (
	createAuditTable = `CREATE TABLE IF NOT EXISTS kyc_events (
	event_time DateTime64(3, 'UTC'),
	user_id    String,
	event      LowCardinality(String),
	detail     String
) ENGINE = MergeTree
ORDER BY (user_id, event_time)`

	insertAuditEvents = "INSERT INTO kyc_events (event_time, user_id, event, detail)"
)

type AnalyticsStore interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
	QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error)
}

// AuditLog appends workflow events to ClickHouse.
type AuditLog struct {
	ch AnalyticsStore
}

func NewAuditLog(ch AnalyticsStore) *AuditLog {
	return &AuditLog{ch: ch}
}

func (a *AuditLog) EnsureTable(ctx context.Context) error {
	if err := a.ch.Exec(ctx, createAuditTable); err != nil {
		return fmt.Errorf("create kyc_events: %w", err)
	}
	return nil
}

func (a *AuditLog) Record(ctx context.Context, events ...models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{e.EventTime, e.UserID, e.Event, e.Detail})
	}
	return a.ch.BatchInsert(ctx, insertAuditEvents, rows)
}

// History returns a user's events, newest first.
func (a *AuditLog) History(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error) {
	rows, err := a.ch.QueryRows(ctx,
		"SELECT event_time, user_id, event, detail FROM kyc_events WHERE user_id = ? ORDER BY event_time DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.AuditEvent{}
	for rows.Next() {
		var e models.AuditEvent
		if err := rows.Scan(&e.EventTime, &e.UserID, &e.Event, &e.Detail); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
