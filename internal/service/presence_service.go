package service

import (
	"context"
	"errors"
	"time"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	redisrepo "kyc-service/internal/repository/redis"
	"kyc-service/internal/util"
)

type PresenceStore interface {
	SetPresence(ctx context.Context, userID string, online bool) (*models.PresenceRecord, error)
	GetPresence(ctx context.Context, userID string, staleAfter time.Duration) (*models.PresenceRecord, error)
}

// PresenceService stores the last-write-wins online flag of each user.
type PresenceService struct {
	store      PresenceStore
	staleAfter time.Duration
}

func NewPresenceService(store PresenceStore, staleAfter time.Duration) *PresenceService {
	return &PresenceService{store: store, staleAfter: staleAfter}
}

func (s *PresenceService) Update(ctx context.Context, userID string, online bool) (*models.PresenceRecord, error) {
	if !util.IsSafeIdentifier(userID) {
		return nil, kyc.InvalidField("user_id", "must be a non-empty identifier")
	}
	rec, err := s.store.SetPresence(ctx, userID, online)
	if err != nil {
		return nil, &kyc.PersistenceError{Op: "set presence", Err: err}
	}
	return rec, nil
}

// SetPresence lets an in-process presence.Tracker write through the service.
func (s *PresenceService) SetPresence(ctx context.Context, userID string, online bool) error {
	_, err := s.Update(ctx, userID, online)
	return err
}

func (s *PresenceService) Get(ctx context.Context, userID string) (*models.PresenceRecord, error) {
	rec, err := s.store.GetPresence(ctx, userID, s.staleAfter)
	if err != nil {
		if errors.Is(err, redisrepo.ErrPresenceNotFound) {
			return nil, &kyc.NotFoundError{Resource: "presence", ID: userID}
		}
		return nil, &kyc.PersistenceError{Op: "get presence", Err: err}
	}
	return rec, nil
}
