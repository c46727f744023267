package scylla

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

type VerificationRepository struct {
	client *ScyllaClient
}

func NewVerificationRepository(client *ScyllaClient) *VerificationRepository {
	return &VerificationRepository{client: client}
}

// InsertVerification writes one submission. The verification id is part of
// the key, so a retried insert rewrites the same row.
func (r *VerificationRepository) InsertVerification(ctx context.Context, v *models.KYCVerification) error {
	err := r.client.ExecuteWithRetry(ctx, r.client.Statements.InsertVerification,
		v.UserID, v.SubmittedAt, v.VerificationID, v.DocumentType, v.DocumentNumberEnc,
		v.DocumentNumberDEK, v.DocumentKeyID, v.FullName, v.DateOfBirth, v.Address, v.City,
		v.Country, v.PostalCode, v.IDDocumentPath, v.DriverLicensePath, v.UtilityBillPath,
		v.SelfiePath, v.Status)
	if err != nil {
		util.Error("Failed to insert verification",
			zap.String("user_id", v.UserID),
			zap.String("verification_id", v.VerificationID),
			zap.Error(err))
		return fmt.Errorf("failed to insert verification: %w", err)
	}
	return nil
}

func (r *VerificationRepository) LatestVerification(ctx context.Context, userID string) (*models.KYCVerification, error) {
	v := &models.KYCVerification{}
	err := r.client.ScanWithRetry(ctx, r.client.Statements.LatestVerification, []interface{}{userID}, scanTargets(v)...)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read latest verification: %w", err)
	}
	return v, nil
}

func (r *VerificationRepository) ListVerifications(ctx context.Context, userID string, limit int) ([]*models.KYCVerification, error) {
	if limit <= 0 {
		limit = 20
	}
	iter := r.client.Query(ctx, r.client.Statements.ListVerifications, userID, limit).Iter()

	var out []*models.KYCVerification
	for {
		v := &models.KYCVerification{}
		if !iter.Scan(scanTargets(v)...) {
			break
		}
		out = append(out, v)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	return out, nil
}

func scanTargets(v *models.KYCVerification) []interface{} {
	return []interface{}{
		&v.UserID, &v.SubmittedAt, &v.VerificationID, &v.DocumentType, &v.DocumentNumberEnc,
		&v.DocumentNumberDEK, &v.DocumentKeyID, &v.FullName, &v.DateOfBirth, &v.Address, &v.City,
		&v.Country, &v.PostalCode, &v.IDDocumentPath, &v.DriverLicensePath, &v.UtilityBillPath,
		&v.SelfiePath, &v.Status,
	}
}
