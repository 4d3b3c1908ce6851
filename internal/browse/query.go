package browse

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"books_nepal/internal/metrics"
	"books_nepal/internal/models"
)

const DefaultDebounce = 300 * time.Millisecond

var ErrUnknownCategory = errors.New("unknown category")

// Fetcher runs one catalog search.
type Fetcher interface {
	FetchCatalog(ctx context.Context, query string, category string) ([]models.Book, error)
}

// ListView is what a renderer should draw for the result area.
type ListView int

const (
	ViewIdle ListView = iota
	ViewLoading
	ViewEmpty
	ViewResults
)

// Snapshot is a copy of the coordinator state.
type Snapshot struct {
	Query   models.SearchQuery
	Books   []models.Book
	Loading bool
	// Result of the last fetch that completed and was not superseded.
	Result Result

	version uint64
}

func (s Snapshot) View() ListView {
	switch {
	case s.Loading:
		return ViewLoading
	case len(s.Books) > 0:
		return ViewResults
	case !s.Query.HasText():
		return ViewIdle
	default:
		return ViewEmpty
	}
}

type QueryConfig struct {
	Fetcher  Fetcher
	Clock    clockwork.Clock
	Debounce time.Duration
	Initial  models.SearchQuery
	// OnChange receives every state change in order. It must not call back into
	// the coordinator synchronously.
	OnChange func(Snapshot)
	Log      *logrus.Entry
}

// QueryCoordinator owns the search text, the category filter and the book list
// derived from them.
//
// Text changes are debounced (trailing edge); category changes apply at once.
// Every effective change issues one fetch tagged with a sequence number, and a
// response is applied only if no newer fetch has been issued since.
type QueryCoordinator struct {
	fetcher  Fetcher
	clock    clockwork.Clock
	debounce time.Duration
	onChange func(Snapshot)
	log      *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	query      models.SearchQuery
	pending    clockwork.Timer
	pendingGen uint64
	seq        uint64
	version    uint64
	books      []models.Book
	loading    bool
	result     Result
	closed     bool

	notifyMu  sync.Mutex
	delivered uint64
}

func NewQueryCoordinator(ctx context.Context, cfg QueryConfig) *QueryCoordinator {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}

	ctx, cancel := context.WithCancel(ctx)
	return &QueryCoordinator{
		fetcher:  cfg.Fetcher,
		clock:    cfg.Clock,
		debounce: cfg.Debounce,
		onChange: cfg.OnChange,
		log:      cfg.Log.WithField("component", "query"),
		ctx:      ctx,
		cancel:   cancel,
		query:    cfg.Initial,
		result:   ok(),
	}
}

// Start fetches the initial query.
func (c *QueryCoordinator) Start() {
	c.Refresh()
}

// Refresh re-issues the fetch for the current effective query.
func (c *QueryCoordinator) Refresh() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	snap := c.startFetchLocked()
	c.mu.Unlock()

	c.notify(snap)
}

// SetSearchText schedules text to become the effective query once the input has
// been quiet for the debounce window. A later call inside the window replaces it,
// and text equal to the current query fetches nothing.
func (c *QueryCoordinator) SetSearchText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	c.stopPendingLocked()
	gen := c.pendingGen
	c.pending = c.clock.AfterFunc(c.debounce, func() {
		c.applyText(gen, text)
	})
}

// SetCategory applies the category immediately and fetches. Picking the
// category already in effect changes nothing.
func (c *QueryCoordinator) SetCategory(category string) error {
	if !models.IsCategory(category) {
		return ErrUnknownCategory
	}

	c.mu.Lock()
	if c.closed || c.query.Category == category {
		c.mu.Unlock()
		return nil
	}
	c.query.Category = category
	snap := c.startFetchLocked()
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

func (c *QueryCoordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Close drops any pending text, cancels in-flight fetches and waits for them.
func (c *QueryCoordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.stopPendingLocked()
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *QueryCoordinator) applyText(gen uint64, text string) {
	c.mu.Lock()
	// A newer SetSearchText (or Close) raced with this timer firing.
	if gen != c.pendingGen || c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	if c.query.Text == text {
		c.mu.Unlock()
		return
	}
	c.query.Text = text
	snap := c.startFetchLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *QueryCoordinator) stopPendingLocked() {
	c.pendingGen++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func (c *QueryCoordinator) startFetchLocked() Snapshot {
	c.seq++
	c.version++
	q := c.query

	if !q.HasText() {
		c.loading = false
		c.books = nil
		c.result = ok()
		return c.snapshotLocked()
	}

	c.loading = true
	c.wg.Add(1)
	go c.fetch(c.seq, q)
	return c.snapshotLocked()
}

func (c *QueryCoordinator) fetch(seq uint64, q models.SearchQuery) {
	defer c.wg.Done()

	books, err := c.fetcher.FetchCatalog(c.ctx, q.Text, q.Category)

	c.mu.Lock()
	if seq != c.seq || c.closed {
		c.mu.Unlock()
		metrics.StaleResponsesTotal.Inc()
		c.log.WithFields(logrus.Fields{"query": q.Text, "category": q.Category}).Debug("discarding superseded catalog response")
		return
	}

	c.version++
	c.loading = false
	if err != nil {
		// The previous list stays on screen.
		c.result = networkError(err)
		c.log.WithError(err).WithFields(logrus.Fields{"query": q.Text, "category": q.Category}).Warn("catalog fetch failed")
	} else {
		c.books = books
		c.result = ok()
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *QueryCoordinator) snapshotLocked() Snapshot {
	var books []models.Book
	if c.books != nil {
		books = append(make([]models.Book, 0, len(c.books)), c.books...)
	}
	return Snapshot{
		Query:   c.query,
		Books:   books,
		Loading: c.loading,
		Result:  c.result,
		version: c.version,
	}
}

// notify delivers snapshots in version order, skipping any that arrive after a newer one.
func (c *QueryCoordinator) notify(snap Snapshot) {
	if c.onChange == nil {
		return
	}

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if snap.version <= c.delivered {
		return
	}
	c.delivered = snap.version
	c.onChange(snap)
}
