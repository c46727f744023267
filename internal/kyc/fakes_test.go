package kyc

import (
	"context"
	"fmt"
	"sync"
)

type fakePreviews struct {
	mu       sync.Mutex
	next     int
	live     map[string]bool
	released map[string]int
	failWith error
}

func newFakePreviews() *fakePreviews {
	return &fakePreviews{live: map[string]bool{}, released: map[string]int{}}
}

func (f *fakePreviews) Allocate(doc Document) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.next++
	ref := fmt.Sprintf("blob:%d", f.next)
	f.live[ref] = true
	return ref, nil
}

func (f *fakePreviews) Release(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released[ref]++
	delete(f.live, ref)
}

func (f *fakePreviews) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

func (f *fakePreviews) releaseCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released[ref]
}

type fakeStatusSource struct {
	mu     sync.Mutex
	status Status
	err    error
	calls  int
}

func (f *fakeStatusSource) FetchStatus(ctx context.Context, userID string) (Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.status, f.err
}

func (f *fakeStatusSource) set(status Status, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.err = status, err
}

func jpeg(size int64) Document {
	return Document{Name: "photo.jpg", ContentType: "image/jpeg", Size: size}
}

func pdf(size int64) Document {
	return Document{Name: "bill.pdf", ContentType: "application/pdf", Size: size}
}
