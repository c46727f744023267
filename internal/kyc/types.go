// Package kyc holds the document categories, status values, validation rules
// and error taxonomy of the KYC workflow, plus the client-side staging area
// and status viewer built on top of them.
package kyc

import "strings"

// MaxDocumentSize is the largest accepted upload, inclusive.
const MaxDocumentSize int64 = 10 << 20

type Category string

const (
	CategoryIDDocument    Category = "id_document"
	CategoryUtilityBill   Category = "utility_bill"
	CategoryDriverLicense Category = "driver_license"
	CategorySelfie        Category = "selfie"
)

// Categories lists every category in submission order.
var Categories = []Category{
	CategoryIDDocument,
	CategoryUtilityBill,
	CategoryDriverLicense,
	CategorySelfie,
}

// RequiredCategories must all be present before a submission is accepted.
var RequiredCategories = []Category{
	CategoryIDDocument,
	CategoryUtilityBill,
	CategorySelfie,
}

var categoryFolders = map[Category]string{
	CategoryIDDocument:    "id-documents",
	CategoryUtilityBill:   "utility-bills",
	CategoryDriverLicense: "driver-licenses",
	CategorySelfie:        "selfies",
}

func (c Category) Valid() bool {
	_, ok := categoryFolders[c]
	return ok
}

func (c Category) Required() bool {
	return c.Valid() && c != CategoryDriverLicense
}

// Folder is the object-store folder documents of this category live under.
func (c Category) Folder() string {
	return categoryFolders[c]
}

type DocumentType string

const (
	DocumentTypePassport DocumentType = "passport"
	DocumentTypeIDCard   DocumentType = "id_card"
)

func (t DocumentType) Valid() bool {
	return t == DocumentTypePassport || t == DocumentTypeIDCard
}

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
)

// ParseStatus maps a stored status string to a Status. Empty or unrecognised
// values read as not started.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusPending:
		return StatusPending
	case StatusApproved:
		return StatusApproved
	case StatusRejected:
		return StatusRejected
	default:
		return StatusNotStarted
	}
}

// Document is a selected file: its name, declared MIME type, size and bytes.
// Size is authoritative for validation so callers can reject a file before
// reading it.
type Document struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// NewDocument builds a Document whose Size matches its data.
func NewDocument(name, contentType string, data []byte) Document {
	return Document{Name: name, ContentType: contentType, Size: int64(len(data)), Data: data}
}

func (d Document) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(d.ContentType), "image/")
}

func (d Document) IsPDF() bool {
	return strings.EqualFold(d.ContentType, "application/pdf")
}
