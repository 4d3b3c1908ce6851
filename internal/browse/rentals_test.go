package browse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoadedStore(t *testing.T, storage *memStorage) *RentalStore {
	t.Helper()
	s := NewRentalStore(storage, nil)
	require.True(t, s.Load(context.Background()).OK())
	return s
}

func TestRentThenReturn(t *testing.T) {
	ctx := context.Background()
	for _, id := range []string{"abc123", "", "zyTCAlFPjgYC", "id with spaces"} {
		s := newLoadedStore(t, &memStorage{})

		require.True(t, s.Rent(ctx, id).OK())
		assert.True(t, s.IsRented(id), id)

		require.True(t, s.Return(ctx, id).OK())
		assert.False(t, s.IsRented(id), id)
	}
}

func TestReturnNeverRentedIsNoop(t *testing.T) {
	ctx := context.Background()
	storage := &memStorage{initial: []string{"abc123"}}
	s := newLoadedStore(t, storage)

	res := s.Return(ctx, "missing")

	assert.True(t, res.OK())
	assert.Equal(t, []string{"abc123"}, s.IDs())
	assert.Equal(t, []string{"abc123"}, storage.lastSave())
}

func TestPersistedSnapshotsFollowMutations(t *testing.T) {
	ctx := context.Background()
	storage := &memStorage{}
	s := newLoadedStore(t, storage)

	s.Rent(ctx, "abc123")
	assert.Equal(t, []string{"abc123"}, storage.lastSave())

	s.Rent(ctx, "def456")
	assert.Equal(t, []string{"abc123", "def456"}, storage.lastSave())

	s.Return(ctx, "abc123")
	assert.Equal(t, []string{"def456"}, storage.lastSave())

	s.Return(ctx, "def456")
	assert.Equal(t, []string{}, storage.lastSave())
}

func TestRentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	storage := &memStorage{}
	s := newLoadedStore(t, storage)

	s.Rent(ctx, "abc123")
	s.Rent(ctx, "abc123")

	assert.Equal(t, []string{"abc123"}, s.IDs())
	assert.Equal(t, []string{"abc123"}, storage.lastSave())
}

func TestColdStartWithoutSnapshot(t *testing.T) {
	storage := &memStorage{initial: nil}
	s := NewRentalStore(storage, nil)

	res := s.Load(context.Background())

	assert.True(t, res.OK())
	assert.Empty(t, s.IDs())
	assert.False(t, s.IsRented("abc123"))
}

func TestLoadDropsDuplicates(t *testing.T) {
	s := newLoadedStore(t, &memStorage{initial: []string{"a", "b", "a"}})
	assert.Equal(t, []string{"a", "b"}, s.IDs())
}

func TestLoadFailureStartsEmpty(t *testing.T) {
	boom := errors.New("disk gone")
	s := NewRentalStore(&memStorage{initial: []string{"a"}, loadErr: boom}, nil)

	res := s.Load(context.Background())

	assert.Equal(t, OutcomeStorageError, res.Outcome)
	assert.ErrorIs(t, res.Err, boom)
	assert.Empty(t, s.IDs())
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	storage := &memStorage{}
	s := newLoadedStore(t, storage)
	storage.saveErr = errors.New("read-only")

	res := s.Rent(ctx, "abc123")

	assert.Equal(t, OutcomeStorageError, res.Outcome)
	assert.True(t, s.IsRented("abc123"))
	assert.Nil(t, storage.lastSave())

	storage.saveErr = nil
	require.True(t, s.Rent(ctx, "abc123").OK())
	assert.Equal(t, []string{"abc123"}, storage.lastSave())
}

func TestToggle(t *testing.T) {
	ctx := context.Background()
	s := newLoadedStore(t, &memStorage{})

	rented, res := s.Toggle(ctx, "abc123")
	assert.True(t, rented)
	assert.True(t, res.OK())

	rented, res = s.Toggle(ctx, "abc123")
	assert.False(t, rented)
	assert.True(t, res.OK())
	assert.False(t, s.IsRented("abc123"))
}

func TestIDsReturnsCopy(t *testing.T) {
	s := newLoadedStore(t, &memStorage{initial: []string{"a"}})
	ids := s.IDs()
	ids[0] = "mutated"
	assert.True(t, s.IsRented("a"))
}

func TestRentalDirectorySharesStorePerOwner(t *testing.T) {
	ctx := context.Background()
	storages := map[int64]*memStorage{
		1: {initial: []string{"abc123"}},
		2: {},
	}
	dir := NewRentalDirectory(func(owner int64) RentalStorage { return storages[owner] }, nil)

	a := dir.For(ctx, 1)
	b := dir.For(ctx, 1)
	other := dir.For(ctx, 2)

	assert.Same(t, a, b)
	assert.NotSame(t, a, other)
	assert.True(t, a.IsRented("abc123"))
	assert.False(t, other.IsRented("abc123"))
	assert.Equal(t, 1, storages[1].loads)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "ok", OutcomeOK.String())
	assert.Equal(t, "network_error", OutcomeNetworkError.String())
	assert.Equal(t, "storage_error", OutcomeStorageError.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
