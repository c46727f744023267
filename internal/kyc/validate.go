package kyc

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var allowedContentTypes = map[string]string{
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/png":       "png",
	"application/pdf": "pdf",
}

// AllowedContentType reports whether uploads of this MIME type are accepted.
func AllowedContentType(contentType string) bool {
	_, ok := allowedContentTypes[strings.ToLower(strings.TrimSpace(contentType))]
	return ok
}

// ValidateDocument applies the size and type rules shared by client staging
// and server intake. A nil error means the document may be staged or stored.
func ValidateDocument(category Category, doc Document) error {
	if !category.Valid() {
		return &ValidationError{Kind: KindInvalidField, Field: "category", Message: fmt.Sprintf("unknown category %q", category)}
	}
	if doc.Size > MaxDocumentSize {
		return &ValidationError{
			Kind:     KindFileTooLarge,
			Category: category,
			Message:  fmt.Sprintf("file is %d bytes, limit is %d", doc.Size, MaxDocumentSize),
		}
	}
	if !AllowedContentType(doc.ContentType) {
		return &ValidationError{
			Kind:     KindUnsupportedType,
			Category: category,
			Message:  fmt.Sprintf("type %q is not one of jpeg, png or pdf", doc.ContentType),
		}
	}
	return nil
}

// RequireDocuments fails with the first missing required category.
func RequireDocuments(present func(Category) bool) error {
	for _, c := range RequiredCategories {
		if !present(c) {
			return missingDocument(c)
		}
	}
	return nil
}

// ObjectPath builds {userID}/{folder}/{unixMillis}-{random}.{ext}. The
// extension comes from the file name, or from the MIME type when the name has
// none. The result depends only on its inputs.
func ObjectPath(userID string, category Category, filename, contentType string, now time.Time, random string) string {
	return fmt.Sprintf("%s/%s/%d-%s.%s", userID, category.Folder(), now.UnixMilli(), random, extension(filename, contentType))
}

func extension(filename, contentType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."); ext != "" && !strings.ContainsAny(ext, `/\`) {
		return ext
	}
	if ext, ok := allowedContentTypes[strings.ToLower(contentType)]; ok {
		return ext
	}
	return "bin"
}
