package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"kyc-service/internal/hashing"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/repository/scylla"
	"kyc-service/internal/util"
)

// UserService backs the service-role user routes.
type UserService struct {
	users  scylla.UserStore
	hasher *hashing.Hasher
	logger *zap.Logger
}

// CreateUserRequest is the body of POST /api/create-user.
type CreateUserRequest struct {
	UserID     string `json:"id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Age        int    `json:"age"`
	BankOrigin string `json:"bank_origin"`
}

// PasswordRequest is the body of both password routes.
type PasswordRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func NewUserService(users scylla.UserStore, hasher *hashing.Hasher, logger *zap.Logger) *UserService {
	return &UserService{users: users, hasher: hasher, logger: logger}
}

// CreateUser upserts a user row by id. An existing row keeps its KYC status
// and credential; only the profile fields change.
func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*models.User, bool, error) {
	if err := validateCreateRequest(req); err != nil {
		return nil, false, err
	}

	now := time.Now().UTC()
	user := &models.User{
		UserID:     req.UserID,
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName:  strings.TrimSpace(req.FirstName),
		LastName:   strings.TrimSpace(req.LastName),
		Age:        req.Age,
		KYCStatus:  string(kyc.StatusNotStarted),
		BankOrigin: strings.TrimSpace(req.BankOrigin),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	created, err := s.users.UpsertUser(ctx, user)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	s.logger.Info("User upserted",
		util.String("user_id", user.UserID),
		util.Bool("created", created),
		util.Int("user_bucket", user.UserBucket))
	return user, created, nil
}

// UpdatePassword replaces the stored credential.
func (s *UserService) UpdatePassword(ctx context.Context, req *PasswordRequest) error {
	_, err := s.setPassword(ctx, req, false)
	return err
}

// UpdatePasswordIfEmpty stores the credential only when none exists yet and
// reports whether it did.
func (s *UserService) UpdatePasswordIfEmpty(ctx context.Context, req *PasswordRequest) (bool, error) {
	return s.setPassword(ctx, req, true)
}

func (s *UserService) setPassword(ctx context.Context, req *PasswordRequest, onlyIfEmpty bool) (bool, error) {
	if !util.IsSafeIdentifier(req.UserID) {
		return false, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	if len(req.Password) < 8 {
		return false, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}

	hashed, err := s.hasher.HashPassword(req.Password)
	if err != nil {
		return false, fmt.Errorf("failed to hash password: %w", err)
	}
	cred := models.Credential{Hash: hashed.Hash, Salt: hashed.Salt, PepperVersion: hashed.PepperVersion}

	updated := true
	if onlyIfEmpty {
		updated, err = s.users.SetCredentialIfEmpty(ctx, req.UserID, cred)
	} else {
		err = s.users.SetCredential(ctx, req.UserID, cred)
	}
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserID)
		}
		return false, fmt.Errorf("failed to store credential: %w", err)
	}

	s.logger.Info("Credential stored",
		util.String("user_id", req.UserID),
		util.Bool("if_empty", onlyIfEmpty),
		util.Bool("updated", updated),
		util.Int("pepper_version", cred.PepperVersion))
	return updated, nil
}

func validateCreateRequest(req *CreateUserRequest) error {
	if !util.IsSafeIdentifier(req.UserID) {
		return fmt.Errorf("%w: id must be a non-empty identifier", ErrInvalidInput)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if req.Age < 0 || req.Age > 150 {
		return fmt.Errorf("%w: age out of range", ErrInvalidInput)
	}
	for _, v := range []string{req.FirstName, req.LastName, req.BankOrigin} {
		if util.ContainsSuspicious(v) {
			return fmt.Errorf("%w: names contain disallowed characters", ErrInvalidInput)
		}
	}
	return nil
}
