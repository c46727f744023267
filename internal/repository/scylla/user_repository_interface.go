package scylla

import (
	"context"

	"kyc-service/internal/models"
)

// UserStore is the users-table access the services depend on.
type UserStore interface {
	UpsertUser(ctx context.Context, user *models.User) (created bool, err error)
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetKYCStatus(ctx context.Context, userID string) (string, error)
	UpdateKYCStatus(ctx context.Context, userID, status string) error
	SetCredential(ctx context.Context, userID string, cred models.Credential) error
	// SetCredentialIfEmpty reports false when a credential already exists.
	SetCredentialIfEmpty(ctx context.Context, userID string, cred models.Credential) (bool, error)
}

// VerificationStore is the kyc_verifications access the services depend on.
// Records come back newest first.
type VerificationStore interface {
	InsertVerification(ctx context.Context, v *models.KYCVerification) error
	LatestVerification(ctx context.Context, userID string) (*models.KYCVerification, error)
	ListVerifications(ctx context.Context, userID string, limit int) ([]*models.KYCVerification, error)
}

var (
	_ UserStore         = (*UserRepository)(nil)
	_ VerificationStore = (*VerificationRepository)(nil)
)
