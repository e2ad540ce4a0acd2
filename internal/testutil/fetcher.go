package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"pindash/internal/reader"
)

// StubFetcher serves canned documents per url. A url can be gated so a test
// can observe a fetch while it is in flight.
type StubFetcher struct {
	mu    sync.Mutex
	docs  map[string]*reader.Document
	errs  map[string]error
	gates map[string]chan struct{}
	calls map[string]int
}

func NewStubFetcher() *StubFetcher {
	return &StubFetcher{
		docs:  make(map[string]*reader.Document),
		errs:  make(map[string]error),
		gates: make(map[string]chan struct{}),
		calls: make(map[string]int),
	}
}

// Serve makes Fetch(url) return doc.
func (f *StubFetcher) Serve(url string, doc *reader.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[url] = doc
	delete(f.errs, url)
}

// Fail makes Fetch(url) return err.
func (f *StubFetcher) Fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

// Hold blocks fetches of url until the returned release func is called.
func (f *StubFetcher) Hold(url string) (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gates[url] = gate
	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// Calls returns how many times url was fetched.
func (f *StubFetcher) Calls(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *StubFetcher) Fetch(ctx context.Context, url string) (*reader.Document, error) {
	f.mu.Lock()
	f.calls[url]++
	gate := f.gates[url]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	doc, ok := f.docs[url]
	if !ok {
		return nil, fmt.Errorf("fetching %s: %w", url, ErrNotServed)
	}
	return doc, nil
}

// ErrNotServed is returned for urls with no canned response.
var ErrNotServed = errors.New("no document served")

var _ reader.Fetcher = (*StubFetcher)(nil)
