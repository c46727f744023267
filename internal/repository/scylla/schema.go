package scylla

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"kyc-service/internal/util"
)

// SchemaStatements creates the tables the service needs in the session's
// keyspace. They are safe to run repeatedly.
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
        user_bucket int,
        user_id text,
        email text,
        first_name text,
        last_name text,
        age int,
        kyc_status text,
        credential_hash text,
        credential_salt text,
        pepper_version int,
        bank_origin text,
        created_at timestamp,
        updated_at timestamp,
        PRIMARY KEY ((user_bucket), user_id)
    )`,
	`CREATE TABLE IF NOT EXISTS kyc_verifications (
        user_id text,
        submitted_at timestamp,
        verification_id text,
        document_type text,
        document_number_enc text,
        document_number_dek text,
        document_key_id text,
        full_name text,
        date_of_birth text,
        address text,
        city text,
        country text,
        postal_code text,
        id_document_path text,
        driver_license_path text,
        utility_bill_path text,
        selfie_path text,
        status text,
        PRIMARY KEY ((user_id), submitted_at, verification_id)
    ) WITH CLUSTERING ORDER BY (submitted_at DESC, verification_id ASC)`,
}

// EnsureSchema applies SchemaStatements. Used in development; production
// schemas are managed by migrations.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range SchemaStatements {
		if err := s.Query(ctx, stmt).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	util.Info("ScyllaDB schema ensured", zap.Int("tables", len(SchemaStatements)))
	return nil
}
