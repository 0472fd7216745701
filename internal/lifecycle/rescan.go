package lifecycle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/metrics"
	"github.com/sells-group/adradar/internal/model"
)

// ErrNoSightings aborts a pass whose scrape produced nothing. Counting a
// miss for every creative after a failed scrape would deactivate the whole
// repository in MissThreshold passes.
var ErrNoSightings = eris.New("lifecycle: no ads scraped, aborting pass")

// DefaultBatchSize is the number of creatives read and written per batch.
const DefaultBatchSize = 20000

// Repository is the slice of the store a rescan needs.
type Repository interface {
	Scan(ctx context.Context, batchSize int, fn func([]model.Creative) error) error
	UpdateLifecycle(ctx context.Context, updates []model.LifecycleUpdate) error
	TouchLastSeen(ctx context.Context, ids []int64, at time.Time) error
}

// Sightings maps creative hash to what the current pass saw for it.
type Sightings map[string]Sighting

// Add records a sighting for hash. When a hash is seen more than once in a
// pass an explicit platform status beats an absent one, and INACTIVE beats
// ACTIVE.
func (s Sightings) Add(hash string, sighting Sighting) {
	if hash == "" {
		return
	}
	prev, ok := s[hash]
	if !ok || rank(sighting.Status) > rank(prev.Status) {
		s[hash] = sighting
	}
}

func rank(st model.DeliveryStatus) int {
	switch st {
	case model.DeliveryInactive:
		return 2
	case model.DeliveryActive:
		return 1
	default:
		return 0
	}
}

// Summary reports the outcome of one rescan pass.
type Summary struct {
	Scanned          int `json:"scanned"`
	Observed         int `json:"observed"`
	Missed           int `json:"missed"`
	Deactivated      int `json:"deactivated"`
	Reactivated      int `json:"reactivated"`
	PlatformInactive int `json:"platform_inactive"`
	Skipped          int `json:"skipped"`
	Errors           int `json:"errors"`
}

// Rescan applies one lifecycle pass to every stored creative. Creatives
// without a content hash cannot be matched to a sighting and are skipped.
// A failed batch write is counted and the pass continues.
func (t *Tracker) Rescan(ctx context.Context, repo Repository, seen Sightings, batchSize int, now time.Time) (*Summary, error) {
	log := zap.L().With(zap.String("phase", "lifecycle"))
	if len(seen) == 0 {
		return nil, ErrNoSightings
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	start := time.Now()
	defer metrics.ObservePass("lifecycle", start)

	summary := &Summary{}
	err := repo.Scan(ctx, batchSize, func(batch []model.Creative) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates := make([]model.LifecycleUpdate, 0, len(batch))
		for i := range batch {
			c := batch[i]
			summary.Scanned++
			if c.CreativeHash == "" {
				summary.Skipped++
				continue
			}

			var tr Transition
			if s, ok := seen[c.CreativeHash]; ok {
				tr = t.Apply(&c, &s, now)
				summary.Observed++
				if s.Status == model.DeliveryInactive {
					summary.PlatformInactive++
				}
			} else {
				tr = t.Apply(&c, nil, now)
				summary.Missed++
			}

			if tr.Deactivated {
				summary.Deactivated++
				metrics.LifecycleTransitions.WithLabelValues("inactive", string(c.DetectionMethod)).Inc()
			}
			if tr.Reactivated {
				summary.Reactivated++
				metrics.LifecycleTransitions.WithLabelValues("active", string(c.DetectionMethod)).Inc()
			}
			updates = append(updates, model.LifecycleUpdateOf(&c))
		}

		if len(updates) == 0 {
			return nil
		}
		if err := repo.UpdateLifecycle(ctx, updates); err != nil {
			summary.Errors += len(updates)
			log.Warn("lifecycle batch write failed", zap.Int("size", len(updates)), zap.Error(err))
		}
		return nil
	})
	if err != nil {
		return summary, eris.Wrap(err, "lifecycle: rescan")
	}

	log.Info("lifecycle pass complete",
		zap.Int("scanned", summary.Scanned),
		zap.Int("observed", summary.Observed),
		zap.Int("missed", summary.Missed),
		zap.Int("deactivated", summary.Deactivated),
		zap.Int("reactivated", summary.Reactivated),
		zap.Int("errors", summary.Errors),
	)
	return summary, nil
}

// Touch is the delta scan: it refreshes last_seen for active creatives that
// were observed and changes nothing else.
func (t *Tracker) Touch(ctx context.Context, repo Repository, seen Sightings, batchSize int, now time.Time) (int, error) {
	if len(seen) == 0 {
		return 0, ErrNoSightings
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	touched := 0
	err := repo.Scan(ctx, batchSize, func(batch []model.Creative) error {
		var ids []int64
		for i := range batch {
			c := &batch[i]
			if !c.IsActive || c.CreativeHash == "" {
				continue
			}
			if _, ok := seen[c.CreativeHash]; !ok {
				continue
			}
			ids = append(ids, c.ID)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := repo.TouchLastSeen(ctx, ids, now); err != nil {
			return eris.Wrap(err, "lifecycle: touch batch")
		}
		touched += len(ids)
		return nil
	})
	if err != nil {
		return touched, eris.Wrap(err, "lifecycle: touch")
	}
	return touched, nil
}
