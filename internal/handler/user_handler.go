package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"kyc-service/internal/models"
	"kyc-service/internal/service"
)

type UserService interface {
	CreateUser(ctx context.Context, req *service.CreateUserRequest) (*models.User, bool, error)
	UpdatePassword(ctx context.Context, req *service.PasswordRequest) error
	UpdatePasswordIfEmpty(ctx context.Context, req *service.PasswordRequest) (bool, error)
}

// UserHandler serves the service-role user routes.
type UserHandler struct {
	users  UserService
	logger *zap.Logger
}

type userResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"user_id,omitempty"`
	Created *bool  `json:"created,omitempty"`
	Updated *bool  `json:"updated,omitempty"`
}

func NewUserHandler(users UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, logger: logger}
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req service.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	user, created, err := h.users.CreateUser(r.Context(), &req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to create user")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondWithJSON(w, h.logger, status, userResult{Success: true, UserID: user.UserID, Created: &created})
}

func (h *UserHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req service.PasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if err := h.users.UpdatePassword(r.Context(), &req); err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to update password")
		return
	}
	updated := true
	respondWithJSON(w, h.logger, http.StatusOK, userResult{Success: true, Updated: &updated})
}

func (h *UserHandler) UpdatePasswordIfEmpty(w http.ResponseWriter, r *http.Request) {
	var req service.PasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	updated, err := h.users.UpdatePasswordIfEmpty(r.Context(), &req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to update password")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, userResult{Success: true, Updated: &updated})
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", service.ErrInvalidInput, err)
	}
	return nil
}
