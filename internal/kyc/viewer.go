package kyc

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// StatusSource returns the authoritative KYC status for a user.
type StatusSource interface {
	FetchStatus(ctx context.Context, userID string) (Status, error)
}

type View int

const (
	ViewSpinner View = iota
	ViewForm
	ViewPending
	ViewApproved
	ViewRejected
)

func (v View) String() string {
	switch v {
	case ViewSpinner:
		return "spinner"
	case ViewForm:
		return "form"
	case ViewPending:
		return "pending"
	case ViewApproved:
		return "approved"
	case ViewRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

var ErrResubmitNotAllowed = errors.New("resubmission is only possible after a rejection")

// Viewer is a read-only projection of a user's stored KYC status. It never
// writes status; composing a new submission after a rejection is tracked
// separately from the projected status.
type Viewer struct {
	source     StatusSource
	userID     string
	onComplete func()
	logger     *zap.Logger

	mu        sync.Mutex
	checking  bool
	status    Status
	composing bool
	completed bool
}

// NewViewer starts in the checking state. onComplete runs once, the first
// time the user is seen as approved.
func NewViewer(source StatusSource, userID string, onComplete func(), logger *zap.Logger) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Viewer{
		source:     source,
		userID:     userID,
		onComplete: onComplete,
		logger:     logger,
		checking:   true,
		status:     StatusNotStarted,
	}
}

// Check fetches the stored status and updates the projection. Fetch errors
// fail open to not started so the user is never locked out.
func (v *Viewer) Check(ctx context.Context) Status {
	v.mu.Lock()
	v.checking = true
	v.mu.Unlock()

	status, err := v.source.FetchStatus(ctx, v.userID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			v.logger.Warn("status check failed, treating as not started",
				zap.String("user_id", v.userID), zap.Error(err))
		}
		status = StatusNotStarted
	}
	status = ParseStatus(string(status))

	v.mu.Lock()
	v.checking = false
	v.status = status
	if status != StatusRejected {
		v.composing = false
	}
	fire := status == StatusApproved && !v.completed
	if fire {
		v.completed = true
	}
	v.mu.Unlock()

	if fire && v.onComplete != nil {
		v.onComplete()
	}
	return status
}

// Resubmit switches a rejected viewer to the submission form. The projected
// status stays rejected.
func (v *Viewer) Resubmit() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.checking || v.status != StatusRejected {
		return ErrResubmitNotAllowed
	}
	v.composing = true
	return nil
}

func (v *Viewer) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

func (v *Viewer) Composing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.composing
}

func (v *Viewer) View() View {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.checking {
		return ViewSpinner
	}
	switch v.status {
	case StatusApproved:
		return ViewApproved
	case StatusPending:
		return ViewPending
	case StatusRejected:
		if v.composing {
			return ViewForm
		}
		return ViewRejected
	default:
		return ViewForm
	}
}

// Watch checks once, then again for every change notification, until ctx
// ends or notifications closes.
func (v *Viewer) Watch(ctx context.Context, notifications <-chan struct{}) error {
	v.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-notifications:
			if !ok {
				return nil
			}
			v.Check(ctx)
		}
	}
}
