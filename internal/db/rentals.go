package db

import (
	"context"
	"errors"
	"fmt"
)

// RentedBooksKey is the key the rental snapshot is stored under.
const RentedBooksKey = "rentedBooks"

// RentalSnapshot persists one owner's rented ids as a JSON array under RentedBooksKey.
type RentalSnapshot struct {
	store   *Store
	ownerID int64
}

func (s *Store) Rentals(ownerID int64) *RentalSnapshot {
	return &RentalSnapshot{store: s, ownerID: ownerID}
}

// Load returns nil (and no error) when nothing was saved yet.
func (r *RentalSnapshot) Load(ctx context.Context) ([]string, error) {
	raw, err := r.store.GetValue(ctx, r.ownerID, RentedBooksKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("decode %s: %w", RentedBooksKey, err)
	}
	return ids, nil
}

// Save rewrites the whole snapshot.
func (r *RentalSnapshot) Save(ctx context.Context, ids []string) error {
	if ids == nil {
		ids = []string{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode %s: %w", RentedBooksKey, err)
	}
	return r.store.SetValue(ctx, r.ownerID, RentedBooksKey, string(raw))
}
