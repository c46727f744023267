package kyc

import (
	"fmt"
	"sort"
	"sync"
)

// PDFPreviewPlaceholder is shown instead of rendering a PDF. It is static and
// never released.
const PDFPreviewPlaceholder = "placeholder:pdf"

// PreviewAllocator hands out ephemeral preview references for image
// documents. Every reference it returns is released exactly once.
type PreviewAllocator interface {
	Allocate(doc Document) (string, error)
	Release(ref string)
}

// StagedDocument is a selected file waiting for submission. It lives only in
// memory.
type StagedDocument struct {
	Category  Category
	Document  Document
	Preview   string
	Ephemeral bool
	Uploaded  bool
}

// Stager holds at most one pending document per category.
type Stager struct {
	mu       sync.Mutex
	previews PreviewAllocator
	slots    map[Category]*StagedDocument
}

func NewStager(previews PreviewAllocator) *Stager {
	return &Stager{
		previews: previews,
		slots:    make(map[Category]*StagedDocument),
	}
}

// Select validates doc and stages it under category, replacing and releasing
// whatever was staged there before. On error nothing changes.
func (s *Stager) Select(category Category, doc Document) (*StagedDocument, error) {
	if err := ValidateDocument(category, doc); err != nil {
		return nil, err
	}

	staged := &StagedDocument{Category: category, Document: doc, Preview: PDFPreviewPlaceholder}
	if doc.IsImage() {
		ref, err := s.previews.Allocate(doc)
		if err != nil {
			return nil, fmt.Errorf("allocate preview for %s: %w", category, err)
		}
		staged.Preview = ref
		staged.Ephemeral = true
	}

	s.mu.Lock()
	prior := s.slots[category]
	s.slots[category] = staged
	s.mu.Unlock()

	s.release(prior)
	out := *staged
	return &out, nil
}

// Remove clears the category's slot and releases its preview. Removing an
// empty slot is a no-op.
func (s *Stager) Remove(category Category) {
	s.mu.Lock()
	prior := s.slots[category]
	delete(s.slots, category)
	s.mu.Unlock()

	s.release(prior)
}

// MarkUploaded flags every staged document as uploaded after a successful
// submission.
func (s *Stager) MarkUploaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, staged := range s.slots {
		staged.Uploaded = true
	}
}

// Close releases every preview and empties the stager.
func (s *Stager) Close() {
	s.mu.Lock()
	slots := s.slots
	s.slots = make(map[Category]*StagedDocument)
	s.mu.Unlock()

	for _, staged := range slots {
		s.release(staged)
	}
}

// Get returns a copy of the document staged under category.
func (s *Stager) Get(category Category) (StagedDocument, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged, ok := s.slots[category]
	if !ok {
		return StagedDocument{}, false
	}
	return *staged, true
}

// Documents returns copies of the staged documents in category order.
func (s *Stager) Documents() []StagedDocument {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]StagedDocument, 0, len(s.slots))
	for _, staged := range s.slots {
		out = append(out, *staged)
	}
	sort.Slice(out, func(i, j int) bool {
		return categoryIndex(out[i].Category) < categoryIndex(out[j].Category)
	})
	return out
}

// Missing lists required categories with nothing staged.
func (s *Stager) Missing() []Category {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []Category
	for _, c := range RequiredCategories {
		if _, ok := s.slots[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

func (s *Stager) release(staged *StagedDocument) {
	if staged == nil || !staged.Ephemeral {
		return
	}
	s.previews.Release(staged.Preview)
}

func categoryIndex(c Category) int {
	for i, known := range Categories {
		if known == c {
			return i
		}
	}
	return len(Categories)
}
