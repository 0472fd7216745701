package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/adradar/internal/model"
)

// MaxConflictRetries bounds how often Upsert re-reads after losing an insert race.
const MaxConflictRetries = 3

// MergeFunc folds an incoming observation into an existing record.
type MergeFunc func(existing, incoming *model.Creative)

// Upsert inserts incoming, or merges it into the record sharing its dedup key.
// A conflicting concurrent insert is resolved by re-reading and merging.
// It returns the persisted record and whether it was newly created.
func Upsert(ctx context.Context, s Store, incoming *model.Creative, merge MergeFunc) (*model.Creative, bool, error) {
	key := incoming.Key()
	for attempt := 0; attempt <= MaxConflictRetries; attempt++ {
		if !key.Empty() {
			existing, err := s.FindByDedupKey(ctx, key)
			if err != nil {
				return nil, false, eris.Wrap(err, "store: upsert lookup")
			}
			if existing != nil {
				merge(existing, incoming)
				if err := s.Update(ctx, existing); err != nil {
					return nil, false, eris.Wrap(err, "store: upsert update")
				}
				return existing, false, nil
			}
		}

		c := *incoming
		err := s.Insert(ctx, &c)
		if err == nil {
			return &c, true, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, false, eris.Wrap(err, "store: upsert insert")
		}
	}
	return nil, false, eris.Wrapf(ErrConflict, "store: upsert gave up after %d retries", MaxConflictRetries)
}
