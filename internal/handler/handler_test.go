package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	"kyc-service/internal/service"
)

const (
	testKey    = "service-secret"
	testSecret = "token-signing-secret"
)

type fakeKYC struct {
	lastSubmit service.SubmissionRequest
	submitErr  error
	statuses   map[string]kyc.Status
	reconciled bool
}

func (f *fakeKYC) Submit(_ context.Context, req service.SubmissionRequest) (*models.KYCVerification, error) {
	f.lastSubmit = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &models.KYCVerification{UserID: req.UserID, VerificationID: "v1", Status: "pending"}, nil
}

func (f *fakeKYC) GetStatus(_ context.Context, userID string) (kyc.Status, error) {
	s, ok := f.statuses[userID]
	if !ok {
		return "", &kyc.NotFoundError{Resource: "user", ID: userID}
	}
	return s, nil
}

func (f *fakeKYC) LatestVerification(_ context.Context, userID string) (*models.KYCVerification, error) {
	return nil, &kyc.NotFoundError{Resource: "verification", ID: userID}
}

func (f *fakeKYC) ListVerifications(context.Context, string, int) ([]*models.KYCVerification, error) {
	return []*models.KYCVerification{}, nil
}

func (f *fakeKYC) SearchVerifications(_ context.Context, status kyc.Status, limit int) ([]*models.KYCVerification, error) {
	return []*models.KYCVerification{{VerificationID: "v1", Status: string(status)}}, nil
}

func (f *fakeKYC) Reconcile(_ context.Context, userID string) (kyc.Status, bool, error) {
	changed := !f.reconciled
	f.reconciled = true
	return kyc.StatusPending, changed, nil
}

type fakeUsers struct {
	filled map[string]bool
}

func (f *fakeUsers) CreateUser(_ context.Context, req *service.CreateUserRequest) (*models.User, bool, error) {
	if req.UserID == "" {
		return nil, false, fmt.Errorf("%w: id", service.ErrInvalidInput)
	}
	return &models.User{UserID: req.UserID}, true, nil
}

func (f *fakeUsers) UpdatePassword(_ context.Context, req *service.PasswordRequest) error {
	if req.UserID == "ghost" {
		return service.ErrUserNotFound
	}
	f.filled[req.UserID] = true
	return nil
}

func (f *fakeUsers) UpdatePasswordIfEmpty(_ context.Context, req *service.PasswordRequest) (bool, error) {
	if f.filled[req.UserID] {
		return false, nil
	}
	f.filled[req.UserID] = true
	return true, nil
}

type fakePresence struct {
	recs map[string]*models.PresenceRecord
}

func (f *fakePresence) Update(_ context.Context, userID string, online bool) (*models.PresenceRecord, error) {
	rec := &models.PresenceRecord{UserID: userID, IsOnline: online}
	f.recs[userID] = rec
	return rec, nil
}

func (f *fakePresence) Get(_ context.Context, userID string) (*models.PresenceRecord, error) {
	rec, ok := f.recs[userID]
	if !ok {
		return nil, &kyc.NotFoundError{Resource: "presence", ID: userID}
	}
	return rec, nil
}

type fakeChanges struct {
	ch chan models.ChangeEvent
}

func (f *fakeChanges) Subscribe(context.Context, string) (<-chan models.ChangeEvent, error) {
	return f.ch, nil
}

type testServer struct {
	*httptest.Server
	tokens   *UserTokens
	kyc      *fakeKYC
	users    *fakeUsers
	presence *fakePresence
	changes  *fakeChanges
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := zap.NewNop()
	ts := &testServer{
		tokens:   NewUserTokens(testSecret, time.Hour),
		kyc:      &fakeKYC{statuses: map[string]kyc.Status{"u1": kyc.StatusApproved}},
		users:    &fakeUsers{filled: map[string]bool{}},
		presence: &fakePresence{recs: map[string]*models.PresenceRecord{}},
		changes:  &fakeChanges{ch: make(chan models.ChangeEvent, 1)},
	}
	router := NewRouter(RouterConfig{ServiceKey: testKey, Tokens: ts.tokens, Health: map[string]HealthCheck{
		"scylla": func(context.Context) error { return nil },
	}},
		NewKYCHandler(ts.kyc, ts.changes, 0, logger),
		NewUserHandler(ts.users, logger),
		NewPresenceHandler(ts.presence, logger),
		logger)
	ts.Server = httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return ts
}

// asUser returns headers carrying a bearer token for userID.
func (ts *testServer) asUser(t *testing.T, userID string) map[string]string {
	t.Helper()
	token, _, err := ts.tokens.Issue(userID)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func (ts *testServer) postMultipart(t *testing.T, path string, body *bytes.Buffer, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)
	for k, v := range ts.asUser(t, "u1") {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	return res
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) (*http.Response, Response) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var out Response
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res, out
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	res, body := ts.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, body.Success)

	res, _ = ts.do(t, http.MethodGet, "/api/v1/kyc/health", "", nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestGetStatus(t *testing.T) {
	ts := newTestServer(t)

	res, body := ts.do(t, http.MethodGet, "/api/v1/kyc/u1/status", "", ts.asUser(t, "u1"))
	require.Equal(t, http.StatusOK, res.StatusCode)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, "approved", data["status"])

	res, body = ts.do(t, http.MethodGet, "/api/v1/kyc/ghost/status", "", ts.asUser(t, "ghost"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.False(t, body.Success)
	assert.NotEmpty(t, body.Error)
}

func multipartSubmission(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"document_type": "passport", "document_number": "X1", "full_name": "Ada",
		"date_of_birth": "1990-01-01", "address": "1 Road", "city": "London",
		"country": "GB", "postal_code": "N1",
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for category, contentType := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, category, category+".bin"))
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, _ = part.Write([]byte("data"))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestSubmitVerification_ParsesMultipart(t *testing.T) {
	ts := newTestServer(t)
	buf, contentType := multipartSubmission(t, map[string]string{
		"id_document": "image/jpeg", "utility_bill": "application/pdf", "selfie": "image/png",
	})

	res := ts.postMultipart(t, "/api/v1/kyc/u1/submissions", buf, contentType)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	req := ts.kyc.lastSubmit
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "passport", req.Details.DocumentType)
	require.Len(t, req.Documents, 3)
	assert.Equal(t, "application/pdf", req.Documents[kyc.CategoryUtilityBill].ContentType)
	assert.Equal(t, []byte("data"), req.Documents[kyc.CategorySelfie].Data)
}

func TestSubmitVerification_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{kyc.InvalidField("full_name", "is required"), http.StatusBadRequest},
		{&kyc.ValidationError{Kind: kyc.KindMissingDocument, Category: kyc.CategorySelfie}, http.StatusBadRequest},
		{&kyc.ValidationError{Kind: kyc.KindFileTooLarge, Category: kyc.CategorySelfie}, http.StatusRequestEntityTooLarge},
		{&kyc.ValidationError{Kind: kyc.KindUnsupportedType, Category: kyc.CategorySelfie}, http.StatusUnsupportedMediaType},
		{fmt.Errorf("%w: later", service.ErrRateLimited), http.StatusTooManyRequests},
		{&kyc.UploadError{Category: kyc.CategorySelfie, Err: errors.New("s3 down")}, http.StatusBadGateway},
		{&kyc.PersistenceError{Op: "insert", Err: errors.New("timeout")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			ts := newTestServer(t)
			ts.kyc.submitErr = tt.err
			buf, contentType := multipartSubmission(t, nil)

			res := ts.postMultipart(t, "/api/v1/kyc/u1/submissions", buf, contentType)
			assert.Equal(t, tt.status, res.StatusCode)
		})
	}
}

func TestServiceKeyRequired(t *testing.T) {
	ts := newTestServer(t)

	res, _ := ts.do(t, http.MethodPost, "/api/create-user", `{"id":"u2","email":"a@b.c"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = ts.do(t, http.MethodPost, "/api/create-user", `{"id":"u2","email":"a@b.c"}`, map[string]string{ServiceKeyHeader: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = ts.do(t, http.MethodPost, "/api/v1/kyc/u1/reconcile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestUserRoutesRequireCredentials(t *testing.T) {
	ts := newTestServer(t)
	routes := []struct{ method, path, body string }{
		{http.MethodGet, "/api/v1/kyc/victim/status", ""},
		{http.MethodGet, "/api/v1/kyc/victim/latest", ""},
		{http.MethodGet, "/api/v1/kyc/victim/verifications", ""},
		{http.MethodGet, "/api/v1/kyc/victim/events", ""},
		{http.MethodPost, "/api/v1/kyc/victim/submissions", ""},
		{http.MethodPut, "/api/v1/presence/victim", `{"online":true}`},
		{http.MethodGet, "/api/v1/presence/victim", ""},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			res, _ := ts.do(t, rt.method, rt.path, rt.body, nil)
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

			res, _ = ts.do(t, rt.method, rt.path, rt.body, map[string]string{"Authorization": "Bearer not-a-token"})
			assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

			res, _ = ts.do(t, rt.method, rt.path, rt.body, ts.asUser(t, "u1"))
			assert.Equal(t, http.StatusForbidden, res.StatusCode)
		})
	}
	assert.Empty(t, ts.presence.recs)
}

func TestUserRoutes_ServiceKeyAndExpiry(t *testing.T) {
	ts := newTestServer(t)

	res, _ := ts.do(t, http.MethodGet, "/api/v1/kyc/u1/status", "", map[string]string{ServiceKeyHeader: testKey})
	assert.Equal(t, http.StatusOK, res.StatusCode)

	past := NewUserTokens(testSecret, time.Hour)
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, _, err := past.Issue("u1")
	require.NoError(t, err)
	res, _ = ts.do(t, http.MethodGet, "/api/v1/kyc/u1/status", "", map[string]string{"Authorization": "Bearer " + stale})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	other := NewUserTokens("another-secret", time.Hour)
	token, _, err := other.Issue("u1")
	require.NoError(t, err)
	res, _ = ts.do(t, http.MethodGet, "/api/v1/kyc/u1/status", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestIssueToken(t *testing.T) {
	ts := newTestServer(t)

	res, _ := ts.do(t, http.MethodPost, "/api/v1/tokens", `{"user_id":"u1"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, _ = ts.do(t, http.MethodPost, "/api/v1/tokens", `{"user_id":"../x"}`, map[string]string{ServiceKeyHeader: testKey})
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := ts.do(t, http.MethodPost, "/api/v1/tokens", `{"user_id":"u1"}`, map[string]string{ServiceKeyHeader: testKey})
	require.Equal(t, http.StatusOK, res.StatusCode)
	token := body.Data.(map[string]interface{})["token"].(string)

	subject, err := ts.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", subject)

	res, _ = ts.do(t, http.MethodGet, "/api/v1/kyc/u1/status", "", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestNewUserTokens_EmptySecret(t *testing.T) {
	assert.Nil(t, NewUserTokens("", time.Hour))

	router := NewRouter(RouterConfig{ServiceKey: testKey}, NewKYCHandler(&fakeKYC{}, nil, 0, zap.NewNop()), nil, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/kyc/u1/status", nil)
	req.Header.Set("Authorization", "Bearer anything")
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateUser(t *testing.T) {
	ts := newTestServer(t)
	auth := map[string]string{ServiceKeyHeader: testKey}

	res, body := ts.do(t, http.MethodPost, "/api/create-user", `{"id":"u2","email":"a@b.c"}`, auth)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.True(t, body.Success)

	res, body = ts.do(t, http.MethodPost, "/api/create-user", `{"id":"","email":"a@b.c"}`, auth)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.NotEmpty(t, body.Error)

	res, _ = ts.do(t, http.MethodPost, "/api/create-user", `{not json`, auth)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestUpdatePasswordRoutes(t *testing.T) {
	ts := newTestServer(t)
	auth := map[string]string{ServiceKeyHeader: testKey}

	decode := func(path, body string) (int, map[string]interface{}) {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
		req.Header.Set(ServiceKeyHeader, auth[ServiceKeyHeader])
		res, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		out := map[string]interface{}{}
		_ = json.NewDecoder(res.Body).Decode(&out)
		return res.StatusCode, out
	}

	status, out := decode("/api/update-password-if-empty", `{"user_id":"u1","password":"long-password"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["updated"])

	status, out = decode("/api/update-password-if-empty", `{"user_id":"u1","password":"other-password"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, false, out["updated"])

	status, out = decode("/api/update-password", `{"user_id":"ghost","password":"long-password"}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotEmpty(t, out["error"])
}

func TestReconcileAndSearch(t *testing.T) {
	ts := newTestServer(t)
	auth := map[string]string{ServiceKeyHeader: testKey}

	res, body := ts.do(t, http.MethodPost, "/api/v1/kyc/u1/reconcile", "", auth)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body.Data.(map[string]interface{})["changed"])

	_, body = ts.do(t, http.MethodPost, "/api/v1/kyc/u1/reconcile", "", auth)
	assert.Equal(t, false, body.Data.(map[string]interface{})["changed"])

	res, _ = ts.do(t, http.MethodGet, "/api/v1/kyc/search?status=pending", "", auth)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, _ = ts.do(t, http.MethodGet, "/api/v1/kyc/search?status=bogus", "", auth)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

type fakeAudit struct {
	limit int
}

func (f *fakeAudit) History(_ context.Context, userID string, limit int) ([]models.AuditEvent, error) {
	f.limit = limit
	return []models.AuditEvent{{UserID: userID, Event: "kyc_verifications.insert"}}, nil
}

func TestHistory(t *testing.T) {
	auth := map[string]string{ServiceKeyHeader: testKey}

	ts := newTestServer(t)
	res, _ := ts.do(t, http.MethodGet, "/api/v1/kyc/u1/history", "", auth)
	assert.Equal(t, http.StatusNotImplemented, res.StatusCode)

	audit := &fakeAudit{}
	logger := zap.NewNop()
	router := NewRouter(RouterConfig{ServiceKey: testKey},
		NewKYCHandler(&fakeKYC{}, nil, 0, logger).WithAudit(audit), nil, nil, logger)
	srv := httptest.NewServer(router)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/v1/kyc/u1/history?limit=9999", nil)
	require.NoError(t, err)
	req.Header.Set(ServiceKeyHeader, testKey)
	res, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var body struct {
		Data []models.AuditEvent `json:"data"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, res.StatusCode)
	require.Len(t, body.Data, 1)
	assert.Equal(t, "kyc_verifications.insert", body.Data[0].Event)
	assert.Equal(t, 500, audit.limit)
}

func TestPresenceRoutes(t *testing.T) {
	ts := newTestServer(t)

	auth := ts.asUser(t, "u1")

	res, _ := ts.do(t, http.MethodGet, "/api/v1/presence/u1", "", auth)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = ts.do(t, http.MethodPut, "/api/v1/presence/u1", `{}`, auth)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, body := ts.do(t, http.MethodPut, "/api/v1/presence/u1", `{"online":true}`, auth)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, true, body.Data.(map[string]interface{})["is_online"])
}

func TestStreamEvents(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/kyc/u1/events", nil)
	req.Header.Set("Authorization", ts.asUser(t, "u1")["Authorization"])
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	ts.changes.ch <- models.ChangeEvent{Event: models.ChangeUpdate, Table: models.TableUsers, UserID: "u1", Status: "approved"}

	scanner := bufio.NewScanner(res.Body)
	var data string
	for scanner.Scan() {
		if line := scanner.Text(); strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
			break
		}
	}
	var ev models.ChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.Equal(t, "approved", ev.Status)
}

func TestIPRateLimiter(t *testing.T) {
	rl := NewIPRateLimiter(1, 2, zap.NewNop())
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireHTTPS(t *testing.T) {
	router := NewRouter(RouterConfig{RequireTLS: true}, nil, nil, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}
