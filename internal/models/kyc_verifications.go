package models

import "time"

// KYCVerification is one submission attempt. Document paths are nil when the
// document was not provided.
type KYCVerification struct {
	UserID            string    `db:"user_id" json:"user_id"`
	VerificationID    string    `db:"verification_id" json:"verification_id"`
	SubmittedAt       time.Time `db:"submitted_at" json:"submitted_at"`
	DocumentType      string    `db:"document_type" json:"document_type"`
	DocumentNumberEnc string    `db:"document_number_enc" json:"-"`
	DocumentNumberDEK string    `db:"document_number_dek" json:"-"`
	DocumentKeyID     string    `db:"document_key_id" json:"-"`
	FullName          string    `db:"full_name" json:"full_name"`
	DateOfBirth       string    `db:"date_of_birth" json:"date_of_birth"`
	Address           string    `db:"address" json:"address"`
	City              string    `db:"city" json:"city"`
	Country           string    `db:"country" json:"country"`
	PostalCode        string    `db:"postal_code" json:"postal_code"`
	IDDocumentPath    *string   `db:"id_document_path" json:"id_document_path"`
	DriverLicensePath *string   `db:"driver_license_path" json:"driver_license_path"`
	UtilityBillPath   *string   `db:"utility_bill_path" json:"utility_bill_path"`
	SelfiePath        *string   `db:"selfie_path" json:"selfie_path"`
	Status            string    `db:"status" json:"status"`
}

// PersonalDetails are the declared fields of a submission.
type PersonalDetails struct {
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	FullName       string `json:"full_name"`
	DateOfBirth    string `json:"date_of_birth"`
	Address        string `json:"address"`
	City           string `json:"city"`
	Country        string `json:"country"`
	PostalCode     string `json:"postal_code"`
}
