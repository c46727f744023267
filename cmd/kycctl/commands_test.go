package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
)

type fakeAPI struct {
	mu        sync.Mutex
	status    kyc.Status
	statusErr error
	submitted []kyc.StagedDocument
	presence  []bool
	ticks     chan struct{}
	watchErr  error
}

func (f *fakeAPI) FetchStatus(context.Context, string) (kyc.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeAPI) setStatus(s kyc.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeAPI) SetPresence(_ context.Context, _ string, online bool) error {
	f.mu.Lock()
	f.presence = append(f.presence, online)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) writes() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.presence...)
}

func (f *fakeAPI) Submit(_ context.Context, userID string, details models.PersonalDetails, docs []kyc.StagedDocument) (*models.KYCVerification, error) {
	f.submitted = docs
	return &models.KYCVerification{UserID: userID, VerificationID: "v1", Status: "pending", DocumentType: details.DocumentType}, nil
}

func (f *fakeAPI) Watch(context.Context, string) (<-chan struct{}, error) {
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.ticks, nil
}

func newTestApp(api *fakeAPI) (*app, *bytes.Buffer, chan os.Signal) {
	out := &bytes.Buffer{}
	signals := make(chan os.Signal, 1)
	return &app{client: api, out: out, signals: signals, logger: zap.NewNop()}, out, signals
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestSubmit_StagesAndCleansPreviews(t *testing.T) {
	dir := t.TempDir()
	previews := t.TempDir()
	api := &fakeAPI{}
	a, out, _ := newTestApp(api)

	err := a.submit(context.Background(), []string{
		"-user", "u1",
		"-full-name", "Ada Lovelace",
		"-id-document", writeFile(t, dir, "id.pdf", []byte("%PDF-1.4")),
		"-utility-bill", writeFile(t, dir, "bill.pdf", []byte("%PDF-1.4")),
		"-selfie", writeFile(t, dir, "me.png", pngHeader),
		"-preview-dir", previews,
	})
	require.NoError(t, err)

	require.Len(t, api.submitted, 3)
	assert.Equal(t, kyc.CategoryIDDocument, api.submitted[0].Category)
	assert.Equal(t, "application/pdf", api.submitted[0].Document.ContentType)
	assert.Equal(t, kyc.CategorySelfie, api.submitted[2].Category)
	assert.True(t, api.submitted[2].Ephemeral)
	assert.Contains(t, out.String(), "Submission received")

	left, err := os.ReadDir(previews)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestSubmit_MissingRequiredDocument(t *testing.T) {
	dir := t.TempDir()
	api := &fakeAPI{}
	a, out, _ := newTestApp(api)

	err := a.submit(context.Background(), []string{
		"-user", "u1",
		"-id-document", writeFile(t, dir, "id.pdf", []byte("%PDF-1.4")),
		"-preview-dir", t.TempDir(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, kyc.ErrMissingDocument))
	assert.Nil(t, api.submitted)
	assert.Contains(t, out.String(), "missing")
}

func TestSubmit_RejectsUnsupportedType(t *testing.T) {
	dir := t.TempDir()
	a, _, _ := newTestApp(&fakeAPI{})

	err := a.submit(context.Background(), []string{
		"-user", "u1",
		"-id-document", writeFile(t, dir, "id.txt", []byte("hello")),
	})
	assert.True(t, errors.Is(err, kyc.ErrUnsupportedType))
}

func TestLoadDocument_OversizeKeepsSizeOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jpg")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(kyc.MaxDocumentSize+1))
	require.NoError(t, f.Close())

	doc, err := loadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, kyc.MaxDocumentSize+1, doc.Size)
	assert.Nil(t, doc.Data)
	assert.Equal(t, "image/jpeg", doc.ContentType)
	assert.True(t, errors.Is(kyc.ValidateDocument(kyc.CategorySelfie, doc), kyc.ErrFileTooLarge))
}

func TestStatus_FailsOpen(t *testing.T) {
	a, out, _ := newTestApp(&fakeAPI{statusErr: errors.New("connection refused")})

	require.NoError(t, a.status(context.Background(), []string{"-user", "u1"}))
	assert.Contains(t, out.String(), "ACTION REQUIRED")
	assert.Contains(t, out.String(), string(kyc.StatusNotStarted))
}

func TestWatch_ExitsOnApproval(t *testing.T) {
	api := &fakeAPI{status: kyc.StatusPending, ticks: make(chan struct{}, 1)}
	a, out, _ := newTestApp(api)

	done := make(chan error, 1)
	go func() { done <- a.watch(context.Background(), []string{"-user", "u1", "-heartbeat", "1h"}) }()

	assert.Eventually(t, func() bool { return len(api.writes()) >= 1 }, time.Second, 5*time.Millisecond)
	api.setStatus(kyc.StatusApproved)
	api.ticks <- struct{}{}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not exit after approval")
	}

	writes := api.writes()
	assert.True(t, writes[0])
	assert.False(t, writes[len(writes)-1])
	assert.Contains(t, out.String(), "APPROVED")
}

func TestWatch_SignalMarksOffline(t *testing.T) {
	api := &fakeAPI{status: kyc.StatusPending, watchErr: errors.New("stream unavailable")}
	a, _, signals := newTestApp(api)

	done := make(chan error, 1)
	go func() { done <- a.watch(context.Background(), []string{"-user", "u1", "-heartbeat", "1h"}) }()

	assert.Eventually(t, func() bool { return len(api.writes()) >= 1 }, time.Second, 5*time.Millisecond)
	signals <- syscall.SIGTERM

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not exit on signal")
	}
	writes := api.writes()
	assert.True(t, writes[0])
	assert.False(t, writes[len(writes)-1])
}

func TestUserRequired(t *testing.T) {
	a, _, _ := newTestApp(&fakeAPI{})
	assert.Error(t, a.status(context.Background(), nil))
	assert.Error(t, a.watch(context.Background(), nil))
	assert.Error(t, a.submit(context.Background(), nil))
}
