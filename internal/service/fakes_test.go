package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"kyc-service/internal/config"
	"kyc-service/internal/encryption"
	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
	redisrepo "kyc-service/internal/repository/redis"
	"kyc-service/internal/repository/scylla"
)

var errBoom = errors.New("boom")

type fakeUsers struct {
	mu          sync.Mutex
	users       map[string]*models.User
	statusErr   error
	statusCalls int
}

func newFakeUsers(ids ...string) *fakeUsers {
	f := &fakeUsers{users: map[string]*models.User{}}
	for _, id := range ids {
		f.users[id] = &models.User{UserID: id, KYCStatus: string(kyc.StatusNotStarted)}
	}
	return f
}

func (f *fakeUsers) UpsertUser(_ context.Context, u *models.User) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.users[u.UserID]; ok {
		existing.Email, existing.FirstName, existing.LastName = u.Email, u.FirstName, u.LastName
		return false, nil
	}
	cp := *u
	f.users[u.UserID] = &cp
	return true, nil
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, scylla.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) GetKYCStatus(_ context.Context, id string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return "", scylla.ErrNotFound
	}
	return u.KYCStatus, nil
}

func (f *fakeUsers) UpdateKYCStatus(_ context.Context, id, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return f.statusErr
	}
	u, ok := f.users[id]
	if !ok {
		return scylla.ErrNotFound
	}
	u.KYCStatus = status
	return nil
}

func (f *fakeUsers) SetCredential(_ context.Context, id string, cred models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return scylla.ErrNotFound
	}
	u.CredentialHash, u.CredentialSalt, u.PepperVersion = cred.Hash, cred.Salt, cred.PepperVersion
	return nil
}

func (f *fakeUsers) SetCredentialIfEmpty(_ context.Context, id string, cred models.Credential) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return false, scylla.ErrNotFound
	}
	if u.CredentialHash != "" {
		return false, nil
	}
	u.CredentialHash, u.CredentialSalt, u.PepperVersion = cred.Hash, cred.Salt, cred.PepperVersion
	return true, nil
}

func (f *fakeUsers) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[id].KYCStatus
}

type fakeVerifications struct {
	mu        sync.Mutex
	records   []*models.KYCVerification
	insertErr error
	inserts   int
}

func (f *fakeVerifications) InsertVerification(_ context.Context, v *models.KYCVerification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertErr != nil {
		return f.insertErr
	}
	f.records = append([]*models.KYCVerification{v}, f.records...)
	return nil
}

func (f *fakeVerifications) LatestVerification(_ context.Context, userID string) (*models.KYCVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.records {
		if r.UserID == userID {
			return r, nil
		}
	}
	return nil, scylla.ErrNotFound
}

func (f *fakeVerifications) ListVerifications(_ context.Context, userID string, limit int) ([]*models.KYCVerification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.KYCVerification
	for _, r := range f.records {
		if r.UserID == userID && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

// fakeStore records uploads. failures[category folder] is the number of
// times an upload into that folder fails before succeeding (-1: always).
// lostReplies[folder] uploads store the object but still report a timeout.
// slow[folder] delays uploads into that folder until ctx ends.
type fakeStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	failures    map[string]int
	lostReplies map[string]int
	slow        map[string]time.Duration
	calls       int
	inFlight    int32
	peak        int32
	hold        time.Duration
}

var errTimeout = errors.New("i/o timeout")

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:     map[string][]byte{},
		failures:    map[string]int{},
		lostReplies: map[string]int{},
		slow:        map[string]time.Duration{},
	}
}

func (s *fakeStore) Upload(ctx context.Context, key string, data []byte, _ string) (string, error) {
	n := atomic.AddInt32(&s.inFlight, 1)
	defer atomic.AddInt32(&s.inFlight, -1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	hold := s.hold
	s.mu.Lock()
	for folder, d := range s.slow {
		if containsSegment(key, folder) {
			hold = d
		}
	}
	s.mu.Unlock()
	if hold > 0 {
		select {
		case <-time.After(hold):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for folder, left := range s.failures {
		if containsSegment(key, folder) && left != 0 {
			s.failures[folder] = left - 1
			return "", errBoom
		}
	}
	if _, ok := s.objects[key]; ok {
		return "", kyc.ErrAlreadyExists
	}
	s.objects[key] = data
	for folder, left := range s.lostReplies {
		if containsSegment(key, folder) && left > 0 {
			s.lostReplies[folder] = left - 1
			return "", errTimeout
		}
	}
	return key, nil
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[key]
	if !ok {
		return nil, kyc.ErrNotFound
	}
	return b, nil
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) HealthCheck(context.Context) error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func containsSegment(key, folder string) bool {
	for i := 0; i+len(folder)+2 <= len(key); i++ {
		if key[i] == '/' && key[i+1:i+1+len(folder)] == folder && key[i+1+len(folder)] == '/' {
			return true
		}
	}
	return false
}

type fakeEncryptor struct{}

func (fakeEncryptor) EncryptField(_ context.Context, plaintext string) (*encryption.EncryptedData, error) {
	return &encryption.EncryptedData{EncryptedValue: "enc(" + plaintext + ")", EncryptedDEK: "dek", KeyID: "local"}, nil
}

type fakeLimiter struct {
	allow bool
	err   error
	calls int
}

func (l *fakeLimiter) AllowSubmission(context.Context, string, int, time.Duration) (redisrepo.Decision, error) {
	l.calls++
	if l.err != nil {
		return redisrepo.Decision{}, l.err
	}
	return redisrepo.Decision{Allowed: l.allow, RetryAfter: 30 * time.Minute}, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.ChangeEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, e models.ChangeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

type fakeAudit struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (a *fakeAudit) Record(_ context.Context, events ...models.AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, events...)
	return nil
}

// fakeIndexer keys documents by verification id, like the real index.
type fakeIndexer struct {
	indexed []*models.KYCVerification
}

func (ix *fakeIndexer) IndexVerification(_ context.Context, v *models.KYCVerification) error {
	for i, existing := range ix.indexed {
		if existing.VerificationID == v.VerificationID {
			ix.indexed[i] = v
			return nil
		}
	}
	ix.indexed = append(ix.indexed, v)
	return nil
}

func (ix *fakeIndexer) SearchVerifications(_ context.Context, status kyc.Status, limit int) ([]*models.KYCVerification, error) {
	var out []*models.KYCVerification
	for _, v := range ix.indexed {
		if (status == "" || v.Status == string(status)) && len(out) < limit {
			out = append(out, v)
		}
	}
	return out, nil
}

type fakeFetcher struct {
	msgs      chan kafka.Message
	committed []int64
	mu        sync.Mutex
}

func (f *fakeFetcher) FetchMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (f *fakeFetcher) Commit(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Environment: "development",
		KYC: config.KYCConfig{
			UploadMaxTries:       3,
			UploadMaxElapsed:     2 * time.Second,
			UploadInitialBackoff: time.Millisecond,
		},
		RateLimit: config.RateLimitConfig{SubmissionsPerHour: 5},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           "1:test-pepper",
		},
		Presence: config.PresenceConfig{StaleAfter: 90 * time.Second},
	}
}

var errPresenceMissing = redisrepo.ErrPresenceNotFound
