package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kyc-service/internal/config"
	"kyc-service/internal/encryption"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	redisrepo "kyc-service/internal/repository/redis"
	"kyc-service/internal/repository/scylla"
	"kyc-service/internal/storage"
	"kyc-service/internal/util"
)

const dateLayout = "2006-01-02"

// FieldEncryptor seals PII before it is stored.
type FieldEncryptor interface {
	EncryptField(ctx context.Context, plaintext string) (*encryption.EncryptedData, error)
}

type SubmissionLimiter interface {
	AllowSubmission(ctx context.Context, userID string, limit int, window time.Duration) (redisrepo.Decision, error)
}

// ChangePublisher fans a change event out to subscribers.
type ChangePublisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

type RecordIndexer interface {
	IndexVerification(ctx context.Context, v *models.KYCVerification) error
	SearchVerifications(ctx context.Context, status kyc.Status, limit int) ([]*models.KYCVerification, error)
}

type AuditRecorder interface {
	Record(ctx context.Context, events ...models.AuditEvent) error
}

// StoredPaths maps each uploaded category to its object key.
type StoredPaths map[kyc.Category]string

// SubmissionRequest is one KYC submission: declared details and the staged
// documents keyed by category.
type SubmissionRequest struct {
	UserID    string
	Details   models.PersonalDetails
	Documents map[kyc.Category]kyc.Document
}

type KYCService struct {
	users         scylla.UserStore
	verifications scylla.VerificationStore
	store         storage.ObjectStore
	encryptor     FieldEncryptor
	limiter       SubmissionLimiter
	changes       ChangePublisher
	indexer       RecordIndexer
	audit         AuditRecorder
	cfg           config.KYCConfig
	submitLimit   int
	logger        *zap.Logger

	now    func() time.Time
	random func() string
}

// KYCDeps are the collaborators of KYCService. Limiter, Changes, Indexer and
// Audit may be nil; the matching side channel is then skipped.
type KYCDeps struct {
	Users         scylla.UserStore
	Verifications scylla.VerificationStore
	Store         storage.ObjectStore
	Encryptor     FieldEncryptor
	Limiter       SubmissionLimiter
	Changes       ChangePublisher
	Indexer       RecordIndexer
	Audit         AuditRecorder
}

func NewKYCService(deps KYCDeps, cfg *config.Config, logger *zap.Logger) *KYCService {
	return &KYCService{
		users:         deps.Users,
		verifications: deps.Verifications,
		store:         deps.Store,
		encryptor:     deps.Encryptor,
		limiter:       deps.Limiter,
		changes:       deps.Changes,
		indexer:       deps.Indexer,
		audit:         deps.Audit,
		cfg:           cfg.KYC,
		submitLimit:   cfg.RateLimit.SubmissionsPerHour,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		random:        func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:8] },
	}
}

// UploadDocument validates doc and stores it under a fresh object path.
// Transient failures are retried with exponential backoff. The path is unique
// to this call, so an existing object on a retry means an earlier attempt
// landed without its reply; on the first attempt it is a conflict.
func (s *KYCService) UploadDocument(ctx context.Context, userID string, category kyc.Category, doc kyc.Document) (string, error) {
	if err := kyc.ValidateDocument(category, doc); err != nil {
		return "", err
	}

	key := kyc.ObjectPath(userID, category, doc.Name, doc.ContentType, s.now(), s.random())

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.UploadInitialBackoff

	attempts := 0
	stored, err := backoff.Retry(ctx, func() (string, error) {
		attempts++
		out, err := s.store.Upload(ctx, key, doc.Data, doc.ContentType)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, kyc.ErrAlreadyExists) {
			if attempts > 1 {
				if ok, existsErr := s.store.Exists(ctx, key); existsErr == nil && ok {
					s.logger.Info("Earlier upload attempt had already stored the document",
						util.String("user_id", userID),
						util.String("category", string(category)),
						util.Int("attempt", attempts))
					return key, nil
				}
			}
			return "", backoff.Permanent(err)
		}
		if errors.Is(err, context.Canceled) {
			return "", backoff.Permanent(err)
		}
		s.logger.Debug("Document upload attempt failed",
			util.String("user_id", userID),
			util.String("category", string(category)),
			util.Int("attempt", attempts),
			util.ErrorField(err))
		return "", err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.UploadMaxTries),
		backoff.WithMaxElapsedTime(s.cfg.UploadMaxElapsed),
	)
	if err != nil {
		return "", &kyc.UploadError{Category: category, Message: fmt.Sprintf("failed after %d attempt(s)", attempts), Err: err}
	}

	s.logger.Info("Document uploaded",
		util.String("user_id", userID),
		util.String("category", string(category)),
		util.String("path", stored),
		util.Int64("size", doc.Size))
	return stored, nil
}

// uploadDocuments stores required documents in one fail-fast group and
// optional ones in a best-effort group. A required failure cancels both
// groups. It returns once both have settled.
func (s *KYCService) uploadDocuments(ctx context.Context, userID string, docs map[kyc.Category]kyc.Document) (StoredPaths, error) {
	var mu sync.Mutex
	paths := make(StoredPaths, len(docs))

	required, reqCtx := errgroup.WithContext(ctx)
	var optional errgroup.Group

	for category, doc := range docs {
		category, doc := category, doc
		if category.Required() {
			required.Go(func() error {
				p, err := s.UploadDocument(reqCtx, userID, category, doc)
				if err != nil {
					return err
				}
				mu.Lock()
				paths[category] = p
				mu.Unlock()
				return nil
			})
			continue
		}
		optional.Go(func() error {
			p, err := s.UploadDocument(reqCtx, userID, category, doc)
			if err != nil {
				s.logger.Warn("Optional document upload failed, continuing without it",
					util.String("user_id", userID),
					util.String("category", string(category)),
					util.ErrorField(err))
				return nil
			}
			mu.Lock()
			paths[category] = p
			mu.Unlock()
			return nil
		})
	}

	// required.Wait cancels reqCtx, so the optional group settles first
	_ = optional.Wait()
	reqErr := required.Wait()
	if reqErr != nil {
		if len(paths) > 0 {
			orphans := make([]string, 0, len(paths))
			for _, p := range paths {
				orphans = append(orphans, p)
			}
			sort.Strings(orphans)
			s.logger.Warn("Submission aborted, stored documents are orphaned",
				util.String("user_id", userID),
				util.Strings("paths", orphans))
		}
		return nil, reqErr
	}
	return paths, nil
}

// Submit runs a whole submission: validation, throttling, uploads and the
// record write.
func (s *KYCService) Submit(ctx context.Context, req SubmissionRequest) (*models.KYCVerification, error) {
	start := time.Now()

	if !util.IsSafeIdentifier(req.UserID) {
		return nil, kyc.InvalidField("user_id", "must be a non-empty identifier")
	}
	if err := kyc.RequireDocuments(func(c kyc.Category) bool {
		_, ok := req.Documents[c]
		return ok
	}); err != nil {
		return nil, err
	}
	for category, doc := range req.Documents {
		if err := kyc.ValidateDocument(category, doc); err != nil {
			return nil, err
		}
	}
	if err := ValidateDetails(req.Details); err != nil {
		return nil, err
	}

	if s.limiter != nil && s.submitLimit > 0 {
		decision, err := s.limiter.AllowSubmission(ctx, req.UserID, s.submitLimit, time.Hour)
		if err != nil {
			// the throttle is advisory; a Redis outage must not block onboarding
			s.logger.Warn("Submission throttle unavailable", util.String("user_id", req.UserID), util.ErrorField(err))
		} else if !decision.Allowed {
			return nil, fmt.Errorf("%w: retry in %s", ErrRateLimited, decision.RetryAfter.Round(time.Second))
		}
	}

	paths, err := s.uploadDocuments(ctx, req.UserID, req.Documents)
	if err != nil {
		return nil, err
	}

	record, err := s.SubmitVerification(ctx, req.UserID, req.Details, paths)
	if err != nil {
		return nil, err
	}

	s.logger.Info("KYC submission completed",
		util.String("user_id", req.UserID),
		util.String("verification_id", record.VerificationID),
		util.Int("documents", len(paths)),
		util.Duration("duration", time.Since(start)))
	return record, nil
}

// SubmitVerification writes the verification record for already stored
// documents, then flags the user as pending. Only the record write can fail
// the call.
func (s *KYCService) SubmitVerification(ctx context.Context, userID string, details models.PersonalDetails, paths StoredPaths) (*models.KYCVerification, error) {
	if err := kyc.RequireDocuments(func(c kyc.Category) bool { return paths[c] != "" }); err != nil {
		return nil, err
	}
	if err := ValidateDetails(details); err != nil {
		return nil, err
	}

	sealed, err := s.encryptor.EncryptField(ctx, details.DocumentNumber)
	if err != nil {
		return nil, &kyc.PersistenceError{Op: "encrypt document number", Err: err}
	}

	record := &models.KYCVerification{
		UserID:            userID,
		VerificationID:    uuid.NewString(),
		SubmittedAt:       s.now(),
		DocumentType:      details.DocumentType,
		DocumentNumberEnc: sealed.EncryptedValue,
		DocumentNumberDEK: sealed.EncryptedDEK,
		DocumentKeyID:     sealed.KeyID,
		FullName:          details.FullName,
		DateOfBirth:       details.DateOfBirth,
		Address:           details.Address,
		City:              details.City,
		Country:           details.Country,
		PostalCode:        details.PostalCode,
		IDDocumentPath:    paths.ref(kyc.CategoryIDDocument),
		DriverLicensePath: paths.ref(kyc.CategoryDriverLicense),
		UtilityBillPath:   paths.ref(kyc.CategoryUtilityBill),
		SelfiePath:        paths.ref(kyc.CategorySelfie),
		Status:            string(kyc.StatusPending),
	}

	if err := s.verifications.InsertVerification(ctx, record); err != nil {
		return nil, &kyc.PersistenceError{Op: "insert verification", Err: err}
	}

	if err := s.users.UpdateKYCStatus(ctx, userID, string(kyc.StatusPending)); err != nil {
		s.logger.Error("Failed to flag user as pending, reconciliation will repair it",
			util.String("user_id", userID),
			util.String("verification_id", record.VerificationID),
			util.ErrorField(err))
	}

	s.afterWrite(ctx, models.ChangeEvent{
		Event:  models.ChangeInsert,
		Table:  models.TableKYCVerifications,
		UserID: userID,
		Status: record.Status,
		At:     record.SubmittedAt,
	}, record)

	return record, nil
}

// afterWrite feeds the change feed, search index and audit trail. Failures
// are logged only.
func (s *KYCService) afterWrite(ctx context.Context, event models.ChangeEvent, record *models.KYCVerification) {
	ctx = context.WithoutCancel(ctx)

	if s.changes != nil {
		if err := s.changes.Publish(ctx, event); err != nil {
			s.logger.Warn("Failed to publish change event", util.String("user_id", event.UserID), util.ErrorField(err))
		}
	}
	if s.indexer != nil && record != nil {
		if err := s.indexer.IndexVerification(ctx, record); err != nil {
			s.logger.Warn("Failed to index verification", util.String("verification_id", record.VerificationID), util.ErrorField(err))
		}
	}
	if s.audit != nil {
		detail := event.Status
		if record != nil {
			detail = record.VerificationID
		}
		err := s.audit.Record(ctx, models.AuditEvent{
			EventTime: event.At,
			UserID:    event.UserID,
			Event:     strings.ToLower(event.Table + "." + event.Event),
			Detail:    detail,
		})
		if err != nil {
			s.logger.Warn("Failed to record audit event", util.String("user_id", event.UserID), util.ErrorField(err))
		}
	}
}

// GetStatus returns the user's authoritative KYC status.
func (s *KYCService) GetStatus(ctx context.Context, userID string) (kyc.Status, error) {
	raw, err := s.users.GetKYCStatus(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return "", &kyc.NotFoundError{Resource: "user", ID: userID}
		}
		return "", &kyc.PersistenceError{Op: "get kyc status", Err: err}
	}
	return kyc.ParseStatus(raw), nil
}

// FetchStatus lets the service back a kyc.Viewer in-process.
func (s *KYCService) FetchStatus(ctx context.Context, userID string) (kyc.Status, error) {
	return s.GetStatus(ctx, userID)
}

func (s *KYCService) LatestVerification(ctx context.Context, userID string) (*models.KYCVerification, error) {
	v, err := s.verifications.LatestVerification(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return nil, &kyc.NotFoundError{Resource: "verification", ID: userID}
		}
		return nil, &kyc.PersistenceError{Op: "latest verification", Err: err}
	}
	return v, nil
}

func (s *KYCService) ListVerifications(ctx context.Context, userID string, limit int) ([]*models.KYCVerification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	out, err := s.verifications.ListVerifications(ctx, userID, limit)
	if err != nil {
		return nil, &kyc.PersistenceError{Op: "list verifications", Err: err}
	}
	return out, nil
}

// SearchVerifications queries the review queue by status.
func (s *KYCService) SearchVerifications(ctx context.Context, status kyc.Status, limit int) ([]*models.KYCVerification, error) {
	if s.indexer == nil {
		return nil, ErrSearchDisabled
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	out, err := s.indexer.SearchVerifications(ctx, status, limit)
	if err != nil {
		return nil, &kyc.NetworkError{Op: "search verifications", Err: err}
	}
	return out, nil
}

// Reconcile copies the latest verification status onto the user row when the
// two disagree. Users without a record are left alone. Calling it again
// after a change reports changed=false.
func (s *KYCService) Reconcile(ctx context.Context, userID string) (kyc.Status, bool, error) {
	current, err := s.GetStatus(ctx, userID)
	if err != nil {
		return "", false, err
	}

	latest, err := s.verifications.LatestVerification(ctx, userID)
	if err != nil {
		if errors.Is(err, scylla.ErrNotFound) {
			return current, false, nil
		}
		return "", false, &kyc.PersistenceError{Op: "latest verification", Err: err}
	}

	want := kyc.ParseStatus(latest.Status)
	if want == current {
		return current, false, nil
	}

	if err := s.users.UpdateKYCStatus(ctx, userID, string(want)); err != nil {
		return current, false, &kyc.PersistenceError{Op: "update kyc status", Err: err}
	}

	s.logger.Info("Reconciled KYC status",
		util.String("user_id", userID),
		util.String("from", string(current)),
		util.String("to", string(want)))

	s.afterWrite(ctx, models.ChangeEvent{
		Event:  models.ChangeUpdate,
		Table:  models.TableUsers,
		UserID: userID,
		Status: string(want),
		At:     s.now(),
	}, nil)

	// the review queue follows the decision
	if s.indexer != nil {
		reviewed := *latest
		reviewed.Status = string(want)
		if err := s.indexer.IndexVerification(context.WithoutCancel(ctx), &reviewed); err != nil {
			s.logger.Warn("Failed to reindex verification",
				util.String("verification_id", reviewed.VerificationID),
				util.ErrorField(err))
		}
	}

	return want, true, nil
}

func (p StoredPaths) ref(c kyc.Category) *string {
	v, ok := p[c]
	if !ok || v == "" {
		return nil
	}
	return &v
}

// ValidateDetails checks the declared personal details of a submission.
func ValidateDetails(d models.PersonalDetails) error {
	if !kyc.DocumentType(d.DocumentType).Valid() {
		return kyc.InvalidField("document_type", "must be passport or id_card")
	}
	required := []struct{ name, value string }{
		{"document_number", d.DocumentNumber},
		{"full_name", d.FullName},
		{"date_of_birth", d.DateOfBirth},
		{"address", d.Address},
		{"city", d.City},
		{"country", d.Country},
		{"postal_code", d.PostalCode},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return kyc.InvalidField(f.name, "is required")
		}
		if util.ContainsSuspicious(f.value) {
			return kyc.InvalidField(f.name, "contains disallowed characters")
		}
	}
	dob, err := time.Parse(dateLayout, d.DateOfBirth)
	if err != nil {
		return kyc.InvalidField("date_of_birth", "must be YYYY-MM-DD")
	}
	if dob.After(time.Now()) {
		return kyc.InvalidField("date_of_birth", "is in the future")
	}
	return nil
}
