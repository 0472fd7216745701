package scoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/model"
)

// Repository is the slice of the store the rescoring sweep needs.
type Repository interface {
	Scan(ctx context.Context, batchSize int, fn func([]model.Creative) error) error
	UpdateScores(ctx context.Context, updates []model.ScoreUpdate) error
}

// SweepSummary reports what a rescoring sweep changed.
type SweepSummary struct {
	Scanned         int `json:"scanned"`
	VariantsChanged int `json:"variants_changed"`
	ScoresChanged   int `json:"scores_changed"`
	Written         int `json:"written"`
}

// WithDefaults fills zero fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.V95 <= 0 {
		p.V95 = d.V95
	}
	if p.AgePlateauDays <= 0 {
		p.AgePlateauDays = d.AgePlateauDays
	}
	if p.AgeHorizonDays <= p.AgePlateauDays {
		p.AgeHorizonDays = d.AgeHorizonDays
	}
	if p.DupHalf <= 0 {
		p.DupHalf = d.DupHalf
	}
	if p.DupWeight == 0 && p.AgeWeight == 0 && p.VisitsWeight == 0 {
		p.DupWeight, p.AgeWeight, p.VisitsWeight = d.DupWeight, d.AgeWeight, d.VisitsWeight
	}
	return p
}

// Sweep recomputes variant counts and scores for every stored creative and
// writes back only the rows that changed. Scores are a projection of the
// current variant count, age and traffic, so the sweep can run any time.
func Sweep(ctx context.Context, repo Repository, p Params, batchSize int, now time.Time) (*SweepSummary, error) {
	log := zap.L().With(zap.String("phase", "rescore"))
	if batchSize <= 0 {
		batchSize = 1000
	}

	// First pass: variant counts per creative hash.
	counts := make(map[string]int)
	err := repo.Scan(ctx, batchSize, func(batch []model.Creative) error {
		for i := range batch {
			if h := batch[i].CreativeHash; h != "" {
				counts[h]++
			}
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "rescore: count variants")
	}

	// Second pass: rescore and persist changes.
	summary := &SweepSummary{}
	err = repo.Scan(ctx, batchSize, func(batch []model.Creative) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var changed []model.ScoreUpdate
		for i := range batch {
			c := batch[i]
			summary.Scanned++

			variants := 1
			if c.CreativeHash != "" {
				variants = counts[c.CreativeHash]
			}
			dirty := false
			if c.VariantCount != variants {
				c.VariantCount = variants
				summary.VariantsChanged++
				dirty = true
			}
			if p.Apply(&c, now) {
				summary.ScoresChanged++
				dirty = true
			}
			if dirty {
				changed = append(changed, model.ScoreUpdateOf(&c))
			}
		}
		if len(changed) == 0 {
			return nil
		}
		if err := repo.UpdateScores(ctx, changed); err != nil {
			return eris.Wrap(err, "rescore: write batch")
		}
		summary.Written += len(changed)
		return nil
	})
	if err != nil {
		return summary, eris.Wrap(err, "rescore: sweep")
	}

	log.Info("rescore complete",
		zap.Int("scanned", summary.Scanned),
		zap.Int("variants_changed", summary.VariantsChanged),
		zap.Int("scores_changed", summary.ScoresChanged),
	)
	return summary, nil
}
