package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kyc-service/internal/models"
	"kyc-service/internal/service"
)

type PresenceService interface {
	Update(ctx context.Context, userID string, online bool) (*models.PresenceRecord, error)
	Get(ctx context.Context, userID string) (*models.PresenceRecord, error)
}

type PresenceHandler struct {
	presence PresenceService
	logger   *zap.Logger
}

type presenceUpdate struct {
	Online *bool `json:"online"`
}

func NewPresenceHandler(presence PresenceService, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{presence: presence, logger: logger}
}

func (h *PresenceHandler) Put(w http.ResponseWriter, r *http.Request) {
	var body presenceUpdate
	err := decodeJSON(r, &body)
	if err == nil && body.Online == nil {
		err = fmt.Errorf("%w: online is required", service.ErrInvalidInput)
	}
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	rec, err := h.presence.Update(r.Context(), chi.URLParam(r, "userID"), *body.Online)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to update presence")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(rec, ""))
}

func (h *PresenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.presence.Get(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get presence")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(rec, ""))
}
