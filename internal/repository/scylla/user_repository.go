package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/bucketing"
	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

type UserRepository struct {
	client    *ScyllaClient
	bucketing *bucketing.BucketingManager
}

func NewUserRepository(client *ScyllaClient, bm *bucketing.BucketingManager) *UserRepository {
	return &UserRepository{client: client, bucketing: bm}
}

// UpsertUser creates the user with status not_started, or refreshes the
// profile fields of an existing user without touching status or credential.
func (r *UserRepository) UpsertUser(ctx context.Context, user *models.User) (bool, error) {
	now := time.Now().UTC()
	user.UserBucket = r.bucketing.GetUserBucket(user.UserID)
	if user.KYCStatus == "" {
		user.KYCStatus = "not_started"
	}

	applied, _, err := r.client.ExecuteCAS(ctx, r.client.Statements.InsertUserIfNotExists,
		user.UserBucket, user.UserID, user.Email, user.FirstName, user.LastName, user.Age,
		user.KYCStatus, user.BankOrigin, now, now)
	if err != nil {
		util.Error("Failed to create user", zap.String("user_id", user.UserID), zap.Error(err))
		return false, fmt.Errorf("failed to create user: %w", err)
	}
	if applied {
		user.CreatedAt, user.UpdatedAt = now, now
		util.Info("User created", zap.String("user_id", user.UserID), zap.Int("user_bucket", user.UserBucket))
		return true, nil
	}

	err = r.client.ExecuteWithRetry(ctx, r.client.Statements.UpdateUserProfile,
		user.Email, user.FirstName, user.LastName, user.Age, user.BankOrigin, now,
		user.UserBucket, user.UserID)
	if err != nil {
		util.Error("Failed to update user profile", zap.String("user_id", user.UserID), zap.Error(err))
		return false, fmt.Errorf("failed to update user: %w", err)
	}
	user.UpdatedAt = now
	return false, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	err := r.client.ScanWithRetry(ctx, r.client.Statements.GetUserByID,
		[]interface{}{r.bucketing.GetUserBucket(userID), userID},
		&user.UserBucket, &user.UserID, &user.Email, &user.FirstName, &user.LastName, &user.Age,
		&user.KYCStatus, &user.CredentialHash, &user.CredentialSalt, &user.PepperVersion,
		&user.BankOrigin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		util.Error("Failed to get user by ID", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *UserRepository) GetKYCStatus(ctx context.Context, userID string) (string, error) {
	var status string
	err := r.client.ScanWithRetry(ctx, r.client.Statements.GetKYCStatus,
		[]interface{}{r.bucketing.GetUserBucket(userID), userID}, &status)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to read kyc status: %w", err)
	}
	return status, nil
}

// UpdateKYCStatus never creates a user row.
func (r *UserRepository) UpdateKYCStatus(ctx context.Context, userID, status string) error {
	applied, _, err := r.client.ExecuteCAS(ctx, r.client.Statements.UpdateKYCStatus,
		status, time.Now().UTC(), r.bucketing.GetUserBucket(userID), userID)
	if err != nil {
		return fmt.Errorf("failed to update kyc status: %w", err)
	}
	if !applied {
		return ErrNotFound
	}
	util.Info("KYC status updated", zap.String("user_id", userID), zap.String("status", status))
	return nil
}

func (r *UserRepository) SetCredential(ctx context.Context, userID string, cred models.Credential) error {
	applied, _, err := r.client.ExecuteCAS(ctx, r.client.Statements.SetCredential,
		cred.Hash, cred.Salt, cred.PepperVersion, time.Now().UTC(),
		r.bucketing.GetUserBucket(userID), userID)
	if err != nil {
		return fmt.Errorf("failed to set credential: %w", err)
	}
	if !applied {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) SetCredentialIfEmpty(ctx context.Context, userID string, cred models.Credential) (bool, error) {
	applied, previous, err := r.client.ExecuteCAS(ctx, r.client.Statements.SetCredentialIfEmpty,
		cred.Hash, cred.Salt, cred.PepperVersion, time.Now().UTC(),
		r.bucketing.GetUserBucket(userID), userID)
	if err != nil {
		return false, fmt.Errorf("failed to set credential: %w", err)
	}
	if applied {
		return true, nil
	}
	// a failed condition on a missing row returns no previous values
	if _, exists := previous["credential_hash"]; !exists {
		return false, ErrNotFound
	}
	return false, nil
}
