package kyc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewer_StartsChecking(t *testing.T) {
	v := NewViewer(&fakeStatusSource{}, "u1", nil, nil)
	assert.Equal(t, ViewSpinner, v.View())
}

func TestViewer_ApprovedFiresCallbackOnce(t *testing.T) {
	source := &fakeStatusSource{status: StatusApproved}
	calls := 0
	v := NewViewer(source, "u1", func() { calls++ }, nil)

	v.Check(context.Background())
	v.Check(context.Background())

	assert.Equal(t, 1, calls)
	assert.Equal(t, ViewApproved, v.View())
	assert.NotEqual(t, ViewForm, v.View())
}

func TestViewer_ErrorFailsOpen(t *testing.T) {
	source := &fakeStatusSource{err: errors.New("connection reset")}
	v := NewViewer(source, "u1", nil, nil)

	assert.Equal(t, StatusNotStarted, v.Check(context.Background()))
	assert.Equal(t, ViewForm, v.View())
}

func TestViewer_NotFoundAndUnknownAreNotStarted(t *testing.T) {
	source := &fakeStatusSource{err: &NotFoundError{Resource: "user", ID: "u1"}}
	v := NewViewer(source, "u1", nil, nil)
	assert.Equal(t, StatusNotStarted, v.Check(context.Background()))

	source.set(Status("escalated"), nil)
	assert.Equal(t, StatusNotStarted, v.Check(context.Background()))
	assert.Equal(t, ViewForm, v.View())
}

func TestViewer_PendingPanel(t *testing.T) {
	v := NewViewer(&fakeStatusSource{status: StatusPending}, "u1", nil, nil)
	v.Check(context.Background())
	assert.Equal(t, ViewPending, v.View())
	assert.ErrorIs(t, v.Resubmit(), ErrResubmitNotAllowed)
}

func TestViewer_ResubmitKeepsProjectedStatus(t *testing.T) {
	source := &fakeStatusSource{status: StatusRejected}
	v := NewViewer(source, "u1", nil, nil)
	v.Check(context.Background())
	assert.Equal(t, ViewRejected, v.View())

	require.NoError(t, v.Resubmit())
	assert.Equal(t, ViewForm, v.View())
	assert.Equal(t, StatusRejected, v.Status())
	assert.True(t, v.Composing())

	// still rejected upstream: keep composing
	v.Check(context.Background())
	assert.Equal(t, ViewForm, v.View())

	source.set(StatusPending, nil)
	v.Check(context.Background())
	assert.False(t, v.Composing())
	assert.Equal(t, ViewPending, v.View())
}

func TestViewer_WatchRechecksOnNotification(t *testing.T) {
	source := &fakeStatusSource{status: StatusPending}
	approved := make(chan struct{}, 1)
	v := NewViewer(source, "u1", func() { approved <- struct{}{} }, nil)

	notifications := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- v.Watch(ctx, notifications) }()

	notifications <- struct{}{}
	source.set(StatusApproved, nil)
	notifications <- struct{}{}

	select {
	case <-approved:
	case <-time.After(2 * time.Second):
		t.Fatal("completion callback not invoked")
	}

	close(notifications)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not return")
	}
	assert.Equal(t, ViewApproved, v.View())
}

func TestViewer_WatchStopsOnCancel(t *testing.T) {
	v := NewViewer(&fakeStatusSource{}, "u1", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, v.Watch(ctx, make(chan struct{})), context.Canceled)
}
