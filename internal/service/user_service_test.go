package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kyc-service/internal/hashing"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
)

func newUserService(t *testing.T, users *fakeUsers) *UserService {
	t.Helper()
	h, err := hashing.NewHasher(testConfig())
	require.NoError(t, err)
	return NewUserService(users, h, zap.NewNop())
}

func TestCreateUser_UpsertKeepsStatus(t *testing.T) {
	users := newFakeUsers()
	svc := newUserService(t, users)
	req := &CreateUserRequest{UserID: "u1", Email: "Ada@Example.com", FirstName: "Ada", LastName: "Lovelace", Age: 36}

	u, created, err := svc.CreateUser(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ada@example.com", u.Email)
	assert.Equal(t, string(kyc.StatusNotStarted), u.KYCStatus)

	require.NoError(t, users.UpdateKYCStatus(context.Background(), "u1", "approved"))
	req.LastName = "King"
	_, created, err = svc.CreateUser(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "approved", users.status("u1"))
}

func TestCreateUser_StoresNamesVerbatim(t *testing.T) {
	users := newFakeUsers()
	svc := newUserService(t, users)

	u, _, err := svc.CreateUser(context.Background(), &CreateUserRequest{
		UserID: "u1", Email: "a@b.c", FirstName: " Siobhán ", LastName: "O'Brien", BankOrigin: "Scripture & Co",
	})
	require.NoError(t, err)
	assert.Equal(t, "Siobhán", u.FirstName)
	assert.Equal(t, "O'Brien", u.LastName)
	assert.Equal(t, "Scripture & Co", u.BankOrigin)
}

func TestCreateUser_Validation(t *testing.T) {
	svc := newUserService(t, newFakeUsers())
	bad := []*CreateUserRequest{
		{UserID: "", Email: "a@b.c"},
		{UserID: "u/1", Email: "a@b.c"},
		{UserID: "u1", Email: "not-an-email"},
		{UserID: "u1", Email: "a@b.c", Age: -1},
		{UserID: "u1", Email: "a@b.c", FirstName: "<script>"},
	}
	for _, req := range bad {
		_, _, err := svc.CreateUser(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", req)
	}
}

func TestUpdatePassword_StoresHashOnly(t *testing.T) {
	users := newFakeUsers("u1")
	svc := newUserService(t, users)

	require.NoError(t, svc.UpdatePassword(context.Background(), &PasswordRequest{UserID: "u1", Password: "hunter2hunter2"}))

	u, err := users.GetUserByID(context.Background(), "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, u.CredentialHash)
	assert.NotContains(t, u.CredentialHash, "hunter2")
	assert.Equal(t, 1, u.PepperVersion)
}

func TestUpdatePasswordIfEmpty_NeverOverwrites(t *testing.T) {
	users := newFakeUsers("u1")
	svc := newUserService(t, users)
	ctx := context.Background()

	updated, err := svc.UpdatePasswordIfEmpty(ctx, &PasswordRequest{UserID: "u1", Password: "first-password"})
	require.NoError(t, err)
	assert.True(t, updated)
	first, _ := users.GetUserByID(ctx, "u1")

	updated, err = svc.UpdatePasswordIfEmpty(ctx, &PasswordRequest{UserID: "u1", Password: "second-password"})
	require.NoError(t, err)
	assert.False(t, updated)
	second, _ := users.GetUserByID(ctx, "u1")
	assert.Equal(t, first.CredentialHash, second.CredentialHash)

	require.NoError(t, svc.UpdatePassword(ctx, &PasswordRequest{UserID: "u1", Password: "third-password"}))
	third, _ := users.GetUserByID(ctx, "u1")
	assert.NotEqual(t, first.CredentialHash, third.CredentialHash)
}

func TestUpdatePassword_Errors(t *testing.T) {
	svc := newUserService(t, newFakeUsers("u1"))

	err := svc.UpdatePassword(context.Background(), &PasswordRequest{UserID: "u1", Password: "short"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	err = svc.UpdatePassword(context.Background(), &PasswordRequest{UserID: "ghost", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.UpdatePasswordIfEmpty(context.Background(), &PasswordRequest{UserID: "ghost", Password: "long-enough"})
	assert.ErrorIs(t, err, ErrUserNotFound)
}

type memPresence struct {
	recs map[string]*models.PresenceRecord
	now  time.Time
}

func (m *memPresence) SetPresence(_ context.Context, userID string, online bool) (*models.PresenceRecord, error) {
	rec := &models.PresenceRecord{UserID: userID, IsOnline: online, LastSeen: m.now, UpdatedAt: m.now}
	m.recs[userID] = rec
	return rec, nil
}

func (m *memPresence) GetPresence(_ context.Context, userID string, staleAfter time.Duration) (*models.PresenceRecord, error) {
	rec, ok := m.recs[userID]
	if !ok {
		return nil, errPresenceMissing
	}
	cp := *rec
	cp.Stale = m.now.Sub(rec.LastSeen) > staleAfter
	return &cp, nil
}

func TestPresenceService(t *testing.T) {
	store := &memPresence{recs: map[string]*models.PresenceRecord{}, now: time.Unix(1000, 0)}
	svc := NewPresenceService(store, 90*time.Second)
	ctx := context.Background()

	_, err := svc.Get(ctx, "u1")
	assert.ErrorIs(t, err, kyc.ErrNotFound)

	require.NoError(t, svc.SetPresence(ctx, "u1", true))
	rec, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.IsOnline)
	assert.False(t, rec.Stale)

	store.now = store.now.Add(2 * time.Minute)
	rec, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rec.Stale)

	_, err = svc.Update(ctx, "", true)
	assert.ErrorIs(t, err, kyc.ErrInvalidField)
}
