package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/service"
	"kyc-service/internal/util"
)

// KYCService is the part of service.KYCService the HTTP layer needs.
type KYCService interface {
	Submit(ctx context.Context, req service.SubmissionRequest) (*models.KYCVerification, error)
	GetStatus(ctx context.Context, userID string) (kyc.Status, error)
	LatestVerification(ctx context.Context, userID string) (*models.KYCVerification, error)
	ListVerifications(ctx context.Context, userID string, limit int) ([]*models.KYCVerification, error)
	SearchVerifications(ctx context.Context, status kyc.Status, limit int) ([]*models.KYCVerification, error)
	Reconcile(ctx context.Context, userID string) (kyc.Status, bool, error)
}

// AuditReader reads the workflow audit trail.
type AuditReader interface {
	History(ctx context.Context, userID string, limit int) ([]models.AuditEvent, error)
}

type ChangeSubscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan models.ChangeEvent, error)
}

// StatusView is the body of the status route.
type StatusView struct {
	UserID string     `json:"user_id"`
	Status kyc.Status `json:"status"`
}

type ReconcileResult struct {
	UserID  string     `json:"user_id"`
	Status  kyc.Status `json:"status"`
	Changed bool       `json:"changed"`
}

type KYCHandler struct {
	kyc       KYCService
	changes   ChangeSubscriber
	audit     AuditReader
	maxBody   int64
	keepAlive time.Duration
	logger    *zap.Logger
}

func NewKYCHandler(kycService KYCService, changes ChangeSubscriber, maxBody int64, logger *zap.Logger) *KYCHandler {
	if maxBody <= 0 {
		maxBody = int64(len(kyc.Categories)+1) * kyc.MaxDocumentSize
	}
	return &KYCHandler{kyc: kycService, changes: changes, maxBody: maxBody, keepAlive: 15 * time.Second, logger: logger}
}

// SubmitVerification accepts a multipart form: one text field per personal
// detail and one file part per document category.
func (h *KYCHandler) SubmitVerification(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	userID := chi.URLParam(r, "userID")

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondWithError(w, h.logger, http.StatusRequestEntityTooLarge, err, "Submission too large")
			return
		}
		respondWithError(w, h.logger, http.StatusBadRequest, err, "Invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := service.SubmissionRequest{
		UserID: userID,
		Details: models.PersonalDetails{
			DocumentType:   r.FormValue("document_type"),
			DocumentNumber: r.FormValue("document_number"),
			FullName:       r.FormValue("full_name"),
			DateOfBirth:    r.FormValue("date_of_birth"),
			Address:        r.FormValue("address"),
			City:           r.FormValue("city"),
			Country:        r.FormValue("country"),
			PostalCode:     r.FormValue("postal_code"),
		},
		Documents: make(map[kyc.Category]kyc.Document),
	}

	for _, category := range kyc.Categories {
		headers := r.MultipartForm.File[string(category)]
		if len(headers) == 0 {
			continue
		}
		doc, err := readDocument(headers[0])
		if err != nil {
			respondWithError(w, h.logger, http.StatusBadRequest, err, "Could not read "+string(category))
			return
		}
		req.Documents[category] = doc
	}

	record, err := h.kyc.Submit(r.Context(), req)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Submission failed")
		return
	}

	respondWithJSON(w, h.logger, http.StatusCreated, successResponse(record, "Submission received"))
	h.logger.Info("KYC submission via HTTP",
		util.String("user_id", userID),
		util.String("verification_id", record.VerificationID),
		util.Duration("duration", time.Since(startTime)))
}

// readDocument reads at most one byte past the size limit so oversize files
// are still reported with their real size class.
func readDocument(fh *multipart.FileHeader) (kyc.Document, error) {
	doc := kyc.Document{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
	}
	if doc.Size > kyc.MaxDocumentSize {
		return doc, nil
	}
	f, err := fh.Open()
	if err != nil {
		return doc, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, kyc.MaxDocumentSize+1))
	if err != nil {
		return doc, err
	}
	doc.Data = data
	doc.Size = int64(len(data))
	return doc, nil
}

// WithAudit enables the history route.
func (h *KYCHandler) WithAudit(audit AuditReader) *KYCHandler {
	h.audit = audit
	return h
}

func (h *KYCHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		respondWithError(w, h.logger, http.StatusNotImplemented, errors.New("audit log not configured"), "History unavailable")
		return
	}
	limit := queryInt(r, "limit", 50)
	if limit > 500 {
		limit = 500
	}
	events, err := h.audit.History(r.Context(), chi.URLParam(r, "userID"), limit)
	if err != nil {
		respondWithError(w, h.logger, http.StatusBadGateway, err, "Failed to read history")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(events, ""))
}

func (h *KYCHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	status, err := h.kyc.GetStatus(r.Context(), userID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get status")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(StatusView{UserID: userID, Status: status}, ""))
}

func (h *KYCHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	record, err := h.kyc.LatestVerification(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to get verification")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(record, ""))
}

func (h *KYCHandler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	records, err := h.kyc.ListVerifications(r.Context(), chi.URLParam(r, "userID"), queryInt(r, "limit", 20))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Failed to list verifications")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(records, ""))
}

func (h *KYCHandler) Search(w http.ResponseWriter, r *http.Request) {
	var status kyc.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		status = kyc.Status(raw)
		if kyc.ParseStatus(raw) != status {
			respondWithError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: unknown status %q", service.ErrInvalidInput, raw), "Invalid status")
			return
		}
	}

	records, err := h.kyc.SearchVerifications(r.Context(), status, queryInt(r, "limit", 20))
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Search failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(records, ""))
}

func (h *KYCHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	status, changed, err := h.kyc.Reconcile(r.Context(), userID)
	if err != nil {
		respondWithError(w, h.logger, getStatusCode(err), err, "Reconcile failed")
		return
	}
	respondWithJSON(w, h.logger, http.StatusOK, successResponse(ReconcileResult{UserID: userID, Status: status, Changed: changed}, ""))
}

// StreamEvents serves the user's change notifications as server-sent events
// until the client goes away.
func (h *KYCHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if h.changes == nil {
		respondWithError(w, h.logger, http.StatusNotImplemented, errors.New("change notifications are not configured"), "Unavailable")
		return
	}
	if !util.IsSafeIdentifier(userID) {
		respondWithError(w, h.logger, http.StatusBadRequest, fmt.Errorf("%w: bad user id", service.ErrInvalidInput), "Invalid user")
		return
	}

	ctx := r.Context()
	events, err := h.changes.Subscribe(ctx, userID)
	if err != nil {
		respondWithError(w, h.logger, http.StatusServiceUnavailable, err, "Subscribe failed")
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	_ = rc.Flush()

	keepAlive := time.NewTicker(h.keepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("Failed to encode change event", util.ErrorField(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", payload); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}
