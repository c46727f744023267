package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/util"
)

type MessageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

type reconcileFunc func(ctx context.Context, userID string) (kyc.Status, bool, error)

// Reconciler follows the change feed and reconciles every user that gained a
// verification record, closing the window where the record exists but the
// user status update was lost.
type Reconciler struct {
	source    MessageFetcher
	reconcile reconcileFunc
	logger    *zap.Logger
	retryWait time.Duration
}

func NewReconciler(source MessageFetcher, svc *KYCService, logger *zap.Logger) *Reconciler {
	return &Reconciler{source: source, reconcile: svc.Reconcile, logger: logger, retryWait: time.Second}
}

// Run consumes until ctx ends. Messages are committed after handling, so a
// crash replays them; Reconcile is idempotent.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info("KYC reconciler started")
	defer r.logger.Info("KYC reconciler stopped")

	for {
		msg, err := r.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("Change feed read failed", util.ErrorField(err))
			if !sleepCtx(ctx, r.retryWait) {
				return nil
			}
			continue
		}

		r.handle(ctx, msg)

		if err := r.source.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			r.logger.Warn("Change feed commit failed", util.Int64("offset", msg.Offset), util.ErrorField(err))
		}
	}
}

func (r *Reconciler) handle(ctx context.Context, msg kafka.Message) {
	var event models.ChangeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		r.logger.Warn("Skipping malformed change event", util.Int64("offset", msg.Offset), util.ErrorField(err))
		return
	}
	if event.Table != models.TableKYCVerifications || event.UserID == "" {
		return
	}

	status, changed, err := r.reconcile(ctx, event.UserID)
	switch {
	case errors.Is(err, kyc.ErrNotFound):
		r.logger.Warn("Verification for unknown user", util.String("user_id", event.UserID))
	case err != nil:
		r.logger.Error("Reconcile failed", util.String("user_id", event.UserID), util.ErrorField(err))
	case changed:
		r.logger.Info("Reconciler repaired status", util.String("user_id", event.UserID), util.String("status", string(status)))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
