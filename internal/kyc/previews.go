package kyc

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// TempFilePreviews writes image previews to temporary files so a terminal
// can hand them to an external viewer. Release deletes the file.
type TempFilePreviews struct {
	Dir string

	mu   sync.Mutex
	live map[string]struct{}
}

func (p *TempFilePreviews) Allocate(doc Document) (string, error) {
	f, err := os.CreateTemp(p.Dir, "kyc-preview-*"+filepath.Ext(doc.Name))
	if err != nil {
		return "", fmt.Errorf("create preview: %w", err)
	}
	if _, err := f.Write(doc.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write preview: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("close preview: %w", err)
	}

	p.mu.Lock()
	if p.live == nil {
		p.live = make(map[string]struct{})
	}
	p.live[f.Name()] = struct{}{}
	p.mu.Unlock()
	return f.Name(), nil
}

func (p *TempFilePreviews) Release(ref string) {
	p.mu.Lock()
	_, ok := p.live[ref]
	delete(p.live, ref)
	p.mu.Unlock()

	if ok {
		_ = os.Remove(ref)
	}
}

// Live reports how many previews are still allocated.
func (p *TempFilePreviews) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
