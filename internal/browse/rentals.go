package browse

import (
	"context"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"

	"books_nepal/internal/metrics"
)

// RentalStorage persists the full list of rented ids. Load returns nil when
// nothing has been saved yet.
type RentalStorage interface {
	Load(ctx context.Context) ([]string, error)
	Save(ctx context.Context, ids []string) error
}

// RentalStore is the in-memory set of rented book ids, backed by a snapshot in
// RentalStorage. The in-memory set is the source of truth for the session: a
// failed write is logged and reported but does not undo the mutation.
//
// Ids are kept in rental order without duplicates.
type RentalStore struct {
	storage RentalStorage
	log     *logrus.Entry

	mu  sync.Mutex
	ids []string
}

func NewRentalStore(storage RentalStorage, log *logrus.Entry) *RentalStore {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RentalStore{
		storage: storage,
		log:     log.WithField("component", "rentals"),
	}
}

// Load replaces the in-memory set with the persisted one. A missing or
// unreadable snapshot leaves the set empty.
func (s *RentalStore) Load(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.storage.Load(ctx)
	if err != nil {
		s.ids = nil
		s.log.WithError(err).Warn("could not read rented books, starting empty")
		return storageError(err)
	}

	s.ids = nil
	for _, id := range ids {
		if !slices.Contains(s.ids, id) {
			s.ids = append(s.ids, id)
		}
	}
	return ok()
}

// Rent marks id as rented. Renting an already rented id changes nothing.
func (s *RentalStore) Rent(ctx context.Context, id string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !slices.Contains(s.ids, id) {
		s.ids = append(s.ids, id)
	}
	return s.persistLocked(ctx, "rent")
}

// Return removes id. Returning an id that is not rented is a no-op.
func (s *RentalStore) Return(ctx context.Context, id string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ids = slices.DeleteFunc(s.ids, func(v string) bool { return v == id })
	return s.persistLocked(ctx, "return")
}

// Toggle rents id if it is not rented and returns it otherwise. It reports
// whether id is rented afterwards.
func (s *RentalStore) Toggle(ctx context.Context, id string) (bool, Result) {
	if s.IsRented(id) {
		return false, s.Return(ctx, id)
	}
	return true, s.Rent(ctx, id)
}

func (s *RentalStore) IsRented(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Contains(s.ids, id)
}

// IDs returns the rented ids in rental order.
func (s *RentalStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ids)
}

// persistLocked writes the whole set. It runs under mu so snapshots reach
// storage in mutation order.
func (s *RentalStore) persistLocked(ctx context.Context, action string) Result {
	snapshot := slices.Clone(s.ids)
	if snapshot == nil {
		snapshot = []string{}
	}

	if err := s.storage.Save(ctx, snapshot); err != nil {
		metrics.RentalMutationsTotal.WithLabelValues(action, OutcomeStorageError.String()).Inc()
		s.log.WithError(err).WithField("action", action).Warn("could not persist rented books")
		return storageError(err)
	}
	metrics.RentalMutationsTotal.WithLabelValues(action, OutcomeOK.String()).Inc()
	return ok()
}

// RentalDirectory hands out one RentalStore per owner, loading it on first use,
// so every surface serving the same user shares one in-memory set.
type RentalDirectory struct {
	open func(ownerID int64) RentalStorage
	log  *logrus.Entry

	mu     sync.Mutex
	stores map[int64]*RentalStore
}

func NewRentalDirectory(open func(ownerID int64) RentalStorage, log *logrus.Entry) *RentalDirectory {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &RentalDirectory{
		open:   open,
		log:    log,
		stores: make(map[int64]*RentalStore),
	}
}

func (d *RentalDirectory) For(ctx context.Context, ownerID int64) *RentalStore {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.stores[ownerID]; ok {
		return s
	}

	s := NewRentalStore(d.open(ownerID), d.log.WithField("owner_id", ownerID))
	s.Load(ctx)
	d.stores[ownerID] = s
	return s
}
