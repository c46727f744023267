package ui

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"kyc-service/internal/kyc"
	"kyc-service/internal/models"
)

func TestStatus(t *testing.T) {
	out := Status("u1", kyc.ViewPending, kyc.StatusPending)
	assert.Contains(t, out, "u1")
	assert.Contains(t, out, "UNDER REVIEW")

	out = Status("u1", kyc.ViewForm, kyc.StatusRejected)
	assert.Contains(t, out, "ACTION REQUIRED")
}

func TestStaged(t *testing.T) {
	docs := []kyc.StagedDocument{{
		Category: kyc.CategoryIDDocument,
		Document: kyc.NewDocument("id.pdf", "application/pdf", make([]byte, 2048)),
		Preview:  kyc.PDFPreviewPlaceholder,
	}}
	out := Staged(docs, []kyc.Category{kyc.CategorySelfie})
	assert.Contains(t, out, "id.pdf")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "PDF document")
	assert.Contains(t, out, "missing")

	assert.Contains(t, Staged(nil, nil), "No documents selected.")
}

func TestSubmitted(t *testing.T) {
	path := "u1/selfies/1_abcd1234.png"
	out := Submitted(&models.KYCVerification{VerificationID: "v1", Status: "pending", SelfiePath: &path})
	assert.Contains(t, out, "v1")
	assert.Contains(t, out, path)
	assert.Contains(t, out, "not provided")
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "10.0 MiB", humanSize(10<<20))
	assert.Contains(t, Error(errors.New("boom")), "boom")
}
