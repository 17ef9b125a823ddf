package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgallion1/irdigest/internal/deck"
	"github.com/dgallion1/irdigest/internal/raster"
)

var quietLog = slog.New(slog.NewTextHandler(io.Discard, nil))

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Base: time.Millisecond, Max: 2 * time.Millisecond}
}

func makePages(n int) []deck.Page {
	pages := make([]deck.Page, n)
	for i := range pages {
		pages[i] = deck.Page{Index: i + 1, Image: []byte(fmt.Sprintf("img-%d", i+1))}
	}
	return pages
}

// fakeAnalyzer answers "P<n>" after delay(n). fail(n, attempt) may inject
// errors.
type fakeAnalyzer struct {
	delay func(index int) time.Duration
	fail  func(index, attempt int) error

	mu       sync.Mutex
	attempts map[int]int
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, index int, image []byte) (string, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if cur <= p || f.peak.CompareAndSwap(p, cur) {
			break
		}
	}

	f.mu.Lock()
	if f.attempts == nil {
		f.attempts = map[int]int{}
	}
	f.attempts[index]++
	attempt := f.attempts[index]
	f.mu.Unlock()

	if f.delay != nil {
		select {
		case <-time.After(f.delay(index)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.fail != nil {
		if err := f.fail(index, attempt); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("P%d", index), nil
}

type fakeSynth struct {
	mu     sync.Mutex
	inputs []string
	err    error
}

func (f *fakeSynth) Synthesize(ctx context.Context, pageText string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, pageText)
	if f.err != nil {
		return "", f.err
	}
	return "SUMMARY", nil
}

type fakeRasterizer struct {
	pages map[string]int // content -> page count
	fail  map[string]error
	calls atomic.Int64
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, pdf []byte) ([]deck.Page, error) {
	f.calls.Add(1)
	if err := f.fail[string(pdf)]; err != nil {
		return nil, err
	}
	n, ok := f.pages[string(pdf)]
	if !ok {
		return nil, raster.ErrInvalidDocument
	}
	return makePages(n), nil
}

type memStore struct {
	mu      sync.Mutex
	records []deck.Record
	err     error
}

func (m *memStore) Insert(ctx context.Context, rec deck.Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	rec.ID = int64(len(m.records) + 1)
	m.records = append(m.records, rec)
	return rec.ID, nil
}

func (m *memStore) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	rec, _ := m.GetByFilename(ctx, filename)
	return rec != nil, nil
}

func (m *memStore) GetByFilename(ctx context.Context, filename string) (*deck.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.records) - 1; i >= 0; i-- {
		if m.records[i].Filename == filename {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, fmt.Errorf("not found")
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type memClaims struct {
	mu       sync.Mutex
	holders  map[string]string
	released map[string]string
}

func newMemClaims() *memClaims {
	return &memClaims{holders: map[string]string{}, released: map[string]string{}}
}

func (c *memClaims) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.holders[key]; ok && h != owner {
		return false, nil
	}
	c.holders[key] = owner
	return true, nil
}

func (c *memClaims) Release(ctx context.Context, key, owner, status string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.holders[key] == owner {
		delete(c.holders, key)
	}
	c.released[key] = status
	return nil
}

type fakeDelivery struct {
	mu        sync.Mutex
	err       error
	delivered []int64
}

func (f *fakeDelivery) Deliver(ctx context.Context, rec deck.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, rec.ID)
	return nil
}
