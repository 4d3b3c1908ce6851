package browse

import (
	"context"
	"sync"

	"books_nepal/internal/models"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []models.SearchQuery
	books map[string][]models.Book
	err   error
	gates map[string]chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		books: make(map[string][]models.Book),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) FetchCatalog(ctx context.Context, query string, category string) ([]models.Book, error) {
	f.mu.Lock()
	f.calls = append(f.calls, models.SearchQuery{Text: query, Category: category})
	gate := f.gates[query]
	books := f.books[query]
	err := f.err
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return books, err
}

func (f *fakeFetcher) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeFetcher) Calls() []models.SearchQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SearchQuery(nil), f.calls...)
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *snapshotRecorder) record(s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *snapshotRecorder) last() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, false
	}
	return r.snaps[len(r.snaps)-1], true
}

type memStorage struct {
	mu      sync.Mutex
	initial []string
	saves   [][]string
	loadErr error
	saveErr error
	loads   int
}

func (m *memStorage) Load(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.initial, nil
}

func (m *memStorage) Save(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves = append(m.saves, append([]string{}, ids...))
	return nil
}

func (m *memStorage) lastSave() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saves) == 0 {
		return nil
	}
	return m.saves[len(m.saves)-1]
}
