package models

import "time"

type User struct {
	UserBucket     int       `db:"user_bucket" json:"-"`
	UserID         string    `db:"user_id" json:"user_id"`
	Email          string    `db:"email" json:"email"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	Age            int       `db:"age" json:"age"`
	KYCStatus      string    `db:"kyc_status" json:"kyc_status"`
	CredentialHash string    `db:"credential_hash" json:"-"`
	CredentialSalt string    `db:"credential_salt" json:"-"`
	PepperVersion  int       `db:"pepper_version" json:"-"`
	BankOrigin     string    `db:"bank_origin" json:"bank_origin,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Credential is the stored password hash of a user.
type Credential struct {
	Hash          string
	Salt          string
	PepperVersion int
}

func (c Credential) Empty() bool { return c.Hash == "" }
