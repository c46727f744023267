package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"kyc-service/internal/client"
	"kyc-service/internal/models"
)

const presencePrefix = "presence:"

var ErrPresenceNotFound = errors.New("presence record not found")

// PresenceCache keeps one hash per user. Records are overwritten on every
// heartbeat and never deleted.
type PresenceCache struct {
	client *client.RedisClient
	now    func() time.Time
}

func NewPresenceCache(client *client.RedisClient) *PresenceCache {
	return &PresenceCache{client: client, now: time.Now}
}

func (c *PresenceCache) SetPresence(ctx context.Context, userID string, online bool) (*models.PresenceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := c.now().UTC()
	stamp := now.Format(time.RFC3339Nano)
	err := c.client.HSet(ctx, presencePrefix+userID,
		"is_online", strconv.FormatBool(online),
		"last_seen", stamp,
		"updated_at", stamp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to write presence: %w", err)
	}
	return &models.PresenceRecord{UserID: userID, IsOnline: online, LastSeen: now, UpdatedAt: now}, nil
}

// GetPresence marks the record stale when last_seen is older than staleAfter.
func (c *PresenceCache) GetPresence(ctx context.Context, userID string, staleAfter time.Duration) (*models.PresenceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields, err := c.client.HGetAll(ctx, presencePrefix+userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrPresenceNotFound
	}

	rec := &models.PresenceRecord{UserID: userID}
	rec.IsOnline, _ = strconv.ParseBool(fields["is_online"])
	rec.LastSeen, _ = time.Parse(time.RFC3339Nano, fields["last_seen"])
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	rec.Stale = c.now().Sub(rec.LastSeen) > staleAfter
	return rec, nil
}
