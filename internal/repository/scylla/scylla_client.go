package scylla

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"kyc-service/internal/config"
	"kyc-service/internal/util"
)

var ErrNotFound = errors.New("row not found")

// Statements holds the CQL used by the repositories. gocql prepares and
// caches each statement on first use.
type Statements struct {
	InsertUserIfNotExists string
	UpdateUserProfile     string
	GetUserByID           string
	GetKYCStatus          string
	UpdateKYCStatus       string
	SetCredential         string
	SetCredentialIfEmpty  string

	InsertVerification string
	LatestVerification string
	ListVerifications  string
}

type ScyllaClient struct {
	Session    *gocql.Session
	config     *config.ScyllaConfig
	Statements *Statements
	maxTries   uint
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
		NumRetries: 3,
	}

	if cfg.IsProduction() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 "/etc/kyc/certs/ca.pem",
			CertPath:               "/etc/kyc/certs/client.pem",
			KeyPath:                "/etc/kyc/certs/client.key",
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session:    session,
		config:     &scyllaConfig,
		Statements: newStatements(),
		maxTries:   3,
	}

	util.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func newStatements() *Statements {
	return &Statements{
		InsertUserIfNotExists: `
        INSERT INTO users (
            user_bucket, user_id, email, first_name, last_name, age, kyc_status,
            credential_hash, credential_salt, pepper_version, bank_origin, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, '', '', 0, ?, ?, ?) IF NOT EXISTS`,

		UpdateUserProfile: `
        UPDATE users SET email = ?, first_name = ?, last_name = ?, age = ?, bank_origin = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ?`,

		GetUserByID: `
        SELECT user_bucket, user_id, email, first_name, last_name, age, kyc_status,
            credential_hash, credential_salt, pepper_version, bank_origin, created_at, updated_at
        FROM users WHERE user_bucket = ? AND user_id = ?`,

		GetKYCStatus: `
        SELECT kyc_status FROM users WHERE user_bucket = ? AND user_id = ?`,

		UpdateKYCStatus: `
        UPDATE users SET kyc_status = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

		SetCredential: `
        UPDATE users SET credential_hash = ?, credential_salt = ?, pepper_version = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF EXISTS`,

		SetCredentialIfEmpty: `
        UPDATE users SET credential_hash = ?, credential_salt = ?, pepper_version = ?, updated_at = ?
        WHERE user_bucket = ? AND user_id = ? IF credential_hash = ''`,

		InsertVerification: `
        INSERT INTO kyc_verifications (
            user_id, submitted_at, verification_id, document_type, document_number_enc,
            document_number_dek, document_key_id, full_name, date_of_birth, address, city,
            country, postal_code, id_document_path, driver_license_path, utility_bill_path,
            selfie_path, status
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		LatestVerification: verificationColumns + ` WHERE user_id = ? LIMIT 1`,

		ListVerifications: verificationColumns + ` WHERE user_id = ? LIMIT ?`,
	}
}

const verificationColumns = `
        SELECT user_id, submitted_at, verification_id, document_type, document_number_enc,
            document_number_dek, document_key_id, full_name, date_of_birth, address, city,
            country, postal_code, id_document_path, driver_license_path, utility_bill_path,
            selfie_path, status
        FROM kyc_verifications`

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry runs an idempotent statement, retrying timeouts and
// unavailable errors with exponential backoff.
func (s *ScyllaClient) ExecuteWithRetry(ctx context.Context, stmt string, values ...interface{}) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.Query(ctx, stmt, values...).Exec()
		return struct{}{}, classify(err)
	}, s.retryOptions()...)
	return err
}

// ScanWithRetry reads a single row into dest. A missing row is ErrNotFound
// and is not retried.
func (s *ScyllaClient) ScanWithRetry(ctx context.Context, stmt string, args []interface{}, dest ...interface{}) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.Query(ctx, stmt, args...).Scan(dest...)
		if errors.Is(err, gocql.ErrNotFound) {
			return struct{}{}, backoff.Permanent(ErrNotFound)
		}
		return struct{}{}, classify(err)
	}, s.retryOptions()...)
	return err
}

// ExecuteCAS runs a lightweight transaction once. The outcome of a timed out
// LWT is unknown, so it is never retried here. previous holds the current row
// values when the condition did not apply.
func (s *ScyllaClient) ExecuteCAS(ctx context.Context, stmt string, values ...interface{}) (bool, map[string]interface{}, error) {
	previous := make(map[string]interface{})
	applied, err := s.Query(ctx, stmt, values...).MapScanCAS(previous)
	return applied, previous, err
}

func (s *ScyllaClient) retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithMaxElapsedTime(5 * time.Second),
	}
}

// classify marks errors that a retry cannot fix as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

func isRetryable(err error) bool {
	if errors.Is(err, gocql.ErrTimeoutNoResponse) ||
		errors.Is(err, gocql.ErrNoConnections) ||
		errors.Is(err, gocql.ErrConnectionClosed) {
		return true
	}
	var (
		unavailable  *gocql.RequestErrUnavailable
		writeTimeout *gocql.RequestErrWriteTimeout
		readTimeout  *gocql.RequestErrReadTimeout
	)
	return errors.As(err, &unavailable) || errors.As(err, &writeTimeout) || errors.As(err, &readTimeout)
}
