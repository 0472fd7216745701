// Package rescan sequences the periodic passes over the repository.
package rescan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/enrich"
	"github.com/sells-group/adradar/internal/ingest"
	"github.com/sells-group/adradar/internal/lifecycle"
	"github.com/sells-group/adradar/internal/metrics"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/rollup"
	"github.com/sells-group/adradar/internal/scoring"
	"github.com/sells-group/adradar/internal/store"
)

// ErrBusy is returned when a pass is already running on this Runner.
var ErrBusy = eris.New("rescan: a pass is already running")

// Report collects the summaries of every pass that ran.
type Report struct {
	RunID     string                `json:"run_id"`
	StartedAt time.Time             `json:"started_at"`
	Elapsed   string                `json:"elapsed"`
	Lifecycle *lifecycle.Summary    `json:"lifecycle,omitempty"`
	Ingest    *ingest.Summary       `json:"ingest,omitempty"`
	Enrich    *enrich.Summary       `json:"enrich,omitempty"`
	Rescore   *scoring.SweepSummary `json:"rescore,omitempty"`
	Rollup    *rollup.Summary       `json:"rollup,omitempty"`
	Creatives int64                 `json:"creatives"`

	clock time.Time
}

// Options configures a Runner.
type Options struct {
	BatchSize int
	Scoring   scoring.Params
	Enrich    enrich.Options
	Rollup    rollup.Options
}

// Runner executes passes one at a time.
type Runner struct {
	store    store.Store
	tracker  *lifecycle.Tracker
	pipeline *ingest.Pipeline
	opts     Options
	mu       sync.Mutex
	now      func() time.Time
}

// New returns a Runner. pipeline may be nil when only maintenance passes run.
func New(s store.Store, tracker *lifecycle.Tracker, pipeline *ingest.Pipeline, opts Options) *Runner {
	opts.Scoring = opts.Scoring.WithDefaults()
	opts.Enrich.Scoring = opts.Scoring
	if opts.Enrich.BatchSize <= 0 {
		opts.Enrich.BatchSize = opts.BatchSize
	}
	if opts.Rollup.BatchSize <= 0 {
		opts.Rollup.BatchSize = opts.BatchSize
	}
	return &Runner{store: s, tracker: tracker, pipeline: pipeline, opts: opts, now: time.Now}
}

// Full runs one lifecycle pass over the observations, ingests them, then
// runs the maintenance passes. An empty scrape is refused with
// lifecycle.ErrNoSightings rather than counted as a miss for every creative.
func (r *Runner) Full(ctx context.Context, observations []model.Observation) (*Report, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	if r.pipeline == nil {
		return nil, eris.New("rescan: no ingest pipeline configured")
	}
	if len(observations) == 0 {
		return nil, eris.Wrap(lifecycle.ErrNoSightings, "rescan")
	}
	report, log := r.begin("full")

	sum, err := r.tracker.Rescan(ctx, r.store, ingest.Sightings(observations), r.opts.BatchSize, report.StartedAt)
	report.Lifecycle = sum
	if err != nil {
		return report, eris.Wrap(err, "rescan: lifecycle")
	}

	report.Ingest, err = r.pipeline.Ingest(ctx, observations)
	if err != nil {
		return report, eris.Wrap(err, "rescan: ingest")
	}

	if err := r.maintain(ctx, report); err != nil {
		return report, err
	}
	return r.finish(ctx, report, log), nil
}

// Maintain runs enrichment, the rescoring sweep and the rollup without new
// observations. It never changes activity state.
func (r *Runner) Maintain(ctx context.Context) (*Report, error) {
	if !r.mu.TryLock() {
		return nil, ErrBusy
	}
	defer r.mu.Unlock()

	report, log := r.begin("maintain")
	if err := r.maintain(ctx, report); err != nil {
		return report, err
	}
	return r.finish(ctx, report, log), nil
}

func (r *Runner) begin(kind string) (*Report, *zap.Logger) {
	report := &Report{RunID: uuid.New().String(), StartedAt: r.now().UTC(), clock: time.Now()}
	log := zap.L().With(zap.String("phase", "rescan"), zap.String("kind", kind), zap.String("run_id", report.RunID))
	log.Info("rescan started")
	return report, log
}

func (r *Runner) maintain(ctx context.Context, report *Report) error {
	now := report.StartedAt
	var err error

	report.Enrich, err = enrich.NewPass(r.store, r.opts.Enrich).Run(ctx, now)
	if err != nil {
		return eris.Wrap(err, "rescan: enrich")
	}
	report.Rescore, err = scoring.Sweep(ctx, r.store, r.opts.Scoring, r.opts.BatchSize, now)
	if err != nil {
		return eris.Wrap(err, "rescan: rescore")
	}
	report.Rollup, err = rollup.Run(ctx, r.store, r.opts.Rollup, now)
	if err != nil {
		return eris.Wrap(err, "rescan: rollup")
	}
	return nil
}

func (r *Runner) finish(ctx context.Context, report *Report, log *zap.Logger) *Report {
	if n, err := r.store.Count(ctx); err == nil {
		report.Creatives = n
		metrics.Creatives.Set(float64(n))
	} else {
		log.Warn("count creatives failed", zap.Error(err))
	}
	report.Elapsed = time.Since(report.clock).Round(time.Millisecond).String()
	log.Info("rescan complete", zap.Int64("creatives", report.Creatives), zap.String("elapsed", report.Elapsed))
	return report
}
