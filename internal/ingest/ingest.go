// Package ingest turns scrape observations into persisted creatives:
// validity gate, fingerprint, dedup upsert, lifecycle observation and scoring.
package ingest

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/adradar/internal/extract"
	"github.com/sells-group/adradar/internal/fingerprint"
	"github.com/sells-group/adradar/internal/gate"
	"github.com/sells-group/adradar/internal/lifecycle"
	"github.com/sells-group/adradar/internal/metrics"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/scoring"
	"github.com/sells-group/adradar/internal/store"
	"github.com/sells-group/adradar/internal/traffic"
)

// DefaultWorkers is the number of discovery queries processed concurrently.
const DefaultWorkers = 4

// PlatformDetector identifies the store technology behind a landing URL.
type PlatformDetector interface {
	Detect(ctx context.Context, landingURL string) (string, error)
}

// DomainResolver maps a landing URL to the domain it finally serves from.
type DomainResolver interface {
	Domain(ctx context.Context, landingURL string) string
}

// Options configures a Pipeline.
type Options struct {
	Workers     int
	StreakLimit int
	// MaxAds stops the run once this many observations were persisted.
	// Zero means no cap.
	MaxAds int
}

// Pipeline ingests observations into the store.
type Pipeline struct {
	store    store.Store
	gate     *gate.Gate
	tracker  *lifecycle.Tracker
	scoring  scoring.Params
	opts     Options
	traffic  traffic.Estimator
	resolver DomainResolver
	detector PlatformDetector
	now      func() time.Time
}

// Option sets an optional collaborator.
type Option func(*Pipeline)

// WithTraffic estimates monthly visits for observations that carry none.
// A nil resolver uses the literal landing domain.
func WithTraffic(est traffic.Estimator, resolver DomainResolver) Option {
	return func(p *Pipeline) {
		p.traffic = est
		p.resolver = resolver
	}
}

// WithPlatformDetector detects the store platform for observations that
// carry none.
func WithPlatformDetector(d PlatformDetector) Option {
	return func(p *Pipeline) { p.detector = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a Pipeline.
func New(s store.Store, g *gate.Gate, tracker *lifecycle.Tracker, params scoring.Params, opts Options, options ...Option) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	p := &Pipeline{
		store:   s,
		gate:    g,
		tracker: tracker,
		scoring: params.WithDefaults(),
		opts:    opts,
		now:     time.Now,
	}
	for _, o := range options {
		o(p)
	}
	return p
}

// Run ingests every observation from src. Observations are grouped by the
// discovery query that produced them and each query runs on its own worker.
func (p *Pipeline) Run(ctx context.Context, src Source) (*Summary, error) {
	observations, err := src.Observations(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read source")
	}
	return p.Ingest(ctx, observations)
}

// Ingest processes a batch of observations.
func (p *Pipeline) Ingest(ctx context.Context, observations []model.Observation) (*Summary, error) {
	runID := uuid.New().String()
	log := zap.L().With(zap.String("phase", "ingest"), zap.String("run_id", runID))
	start := time.Now()
	defer metrics.ObservePass("ingest", start)

	queries, order := groupByQuery(observations)
	summary := newSummary(runID)
	summary.Queries = len(order)

	r := &run{p: p, summary: summary, log: log}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, q := range order {
		batch := queries[q]
		g.Go(func() error {
			return r.query(gctx, q, batch)
		})
	}
	if err := g.Wait(); err != nil {
		return summary, eris.Wrap(err, "ingest: run")
	}
	if err := ctx.Err(); err != nil {
		return summary, eris.Wrap(err, "ingest: run")
	}

	log.Info("ingest complete",
		zap.Int("observations", summary.Observations),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("rejected", summary.RejectedTotal()),
		zap.Int("abandoned_queries", len(summary.AbandonedQueries)),
		zap.Bool("capped", summary.Capped),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

func groupByQuery(observations []model.Observation) (map[string][]model.Observation, []string) {
	groups := make(map[string][]model.Observation)
	var order []string
	for _, obs := range observations {
		q := strings.TrimSpace(obs.SearchQuery)
		if _, ok := groups[q]; !ok {
			order = append(order, q)
		}
		groups[q] = append(groups[q], obs)
	}
	return groups, order
}

// run holds the state shared by the workers of one Ingest call.
type run struct {
	p         *Pipeline
	log       *zap.Logger
	mu        sync.Mutex
	summary   *Summary
	persisted atomic.Int64
}

func (r *run) capped() bool {
	return r.p.opts.MaxAds > 0 && r.persisted.Load() >= int64(r.p.opts.MaxAds)
}

// query processes one discovery query's observations in order, stopping
// early on cancellation, a rejection streak or the global cap.
func (r *run) query(ctx context.Context, query string, batch []model.Observation) error {
	streak := gate.NewStreak(r.p.opts.StreakLimit)
	for i := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.capped() {
			r.mu.Lock()
			r.summary.Capped = true
			r.mu.Unlock()
			return nil
		}

		obs := batch[i]
		normalize(&obs, r.p.now())
		accepted := r.observe(ctx, &obs)
		if streak.Record(accepted) {
			r.log.Info("abandoning query after rejection streak",
				zap.String("query", query), zap.Int("streak", streak.Run()))
			r.mu.Lock()
			r.summary.AbandonedQueries = append(r.summary.AbandonedQueries, query)
			r.mu.Unlock()
			return nil
		}
	}
	return nil
}

// observe runs one observation through the pipeline and reports whether the
// gate accepted it.
func (r *run) observe(ctx context.Context, obs *model.Observation) bool {
	r.count(func(s *Summary) { s.Observations++ })

	verdict := r.p.gate.Check(obs)
	if !verdict.Accepted {
		r.count(func(s *Summary) { s.Rejected[verdict.Reason]++ })
		metrics.GateRejections.WithLabelValues(string(verdict.Reason)).Inc()
		metrics.Observations.WithLabelValues("rejected").Inc()
		r.log.Debug("observation rejected",
			zap.String("reason", string(verdict.Reason)),
			zap.String("detail", verdict.Detail),
			zap.String("advertiser", obs.AdvertiserName),
		)
		return false
	}

	c, failures := r.p.build(ctx, obs, verdict)
	for _, f := range failures {
		r.count(func(s *Summary) { s.Failures[f]++ })
	}

	sighting := sightingOf(obs)
	saved, created, err := store.Upsert(ctx, r.p.store, c, func(existing, incoming *model.Creative) {
		mergeInto(existing, incoming)
		r.p.tracker.Apply(existing, &sighting, incoming.LastSeen)
	})
	if err != nil {
		r.count(func(s *Summary) { s.Failures[FailureWrite]++ })
		metrics.Observations.WithLabelValues("failed").Inc()
		r.log.Warn("persist observation failed", zap.String("landing_url", obs.LandingURL), zap.Error(err))
		return true
	}
	r.persisted.Add(1)
	if created {
		r.count(func(s *Summary) { s.Inserted++ })
		metrics.Observations.WithLabelValues("inserted").Inc()
	} else {
		r.count(func(s *Summary) { s.Updated++ })
		metrics.Observations.WithLabelValues("updated").Inc()
	}

	if err := r.p.refreshVariants(ctx, saved); err != nil {
		r.count(func(s *Summary) { s.Failures[FailureRescore]++ })
		r.log.Warn("variant rescore failed", zap.String("hash", saved.CreativeHash), zap.Error(err))
	}
	return true
}

func (r *run) count(fn func(*Summary)) {
	r.mu.Lock()
	fn(r.summary)
	r.mu.Unlock()
}

// normalize trims free text and repairs values the gate would otherwise
// reject as malformed.
func normalize(obs *model.Observation, now time.Time) {
	obs.AdvertiserName = strings.TrimSpace(obs.AdvertiserName)
	obs.Caption = strings.TrimSpace(obs.Caption)
	obs.LandingURL = withScheme(obs.LandingURL)
	obs.AdvertiserURL = withScheme(obs.AdvertiserURL)
	obs.VideoURL = strings.TrimSpace(obs.VideoURL)
	obs.ImageURL = strings.TrimSpace(obs.ImageURL)
	obs.PosterURL = strings.TrimSpace(obs.PosterURL)
	obs.Country = strings.ToUpper(strings.TrimSpace(obs.Country))
	obs.DeliveryStatus = model.DeliveryStatus(strings.ToUpper(strings.TrimSpace(string(obs.DeliveryStatus))))
	obs.ProductName = strings.TrimSpace(obs.ProductName)
	obs.ProductPrice = strings.TrimSpace(obs.ProductPrice)
	obs.PlatformType = strings.ToLower(strings.TrimSpace(obs.PlatformType))
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = now
	}
	obs.ObservedAt = obs.ObservedAt.UTC()
}

func withScheme(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + strings.TrimPrefix(raw, "//")
}

// build converts an accepted observation into a new creative, collecting the
// extraction steps that came up empty.
func (p *Pipeline) build(ctx context.Context, obs *model.Observation, verdict gate.Verdict) (*model.Creative, []FailureReason) {
	var failures []FailureReason
	now := obs.ObservedAt
	key := fingerprint.DedupKeyFor(obs)
	hash, _ := fingerprint.ForObservation(obs)

	c := &model.Creative{
		CreativeHash:   hash,
		Platform:       key.Platform,
		AdvertiserName: obs.AdvertiserName,
		PageID:         strings.TrimSpace(obs.PageID),
		Caption:        obs.Caption,
		LandingURL:     key.LandingURL,
		Domain:         fingerprint.Domain(obs.LandingURL),
		VideoURL:       obs.VideoURL,
		VideoKey:       key.VideoKey,
		ImageURL:       firstNonEmpty(obs.ImageURL, obs.PosterURL),
		Country:        obs.Country,
		SearchQuery:    strings.TrimSpace(obs.SearchQuery),
		ProductName:    obs.ProductName,
		ProductPrice:   obs.ProductPrice,
		PlatformType:   obs.PlatformType,
		MonthlyVisits:  obs.MonthlyVisits,
		IsSparkAd:      verdict.Spark,
		ProductHash:    fingerprint.ProductHash(hash, obs.LandingURL),
		FirstSeen:      now,
		LastSeen:       now,
		VariantCount:   1,
	}

	if verdict.Spark {
		c.PlatformType = "instagram"
		if handle, ok := extract.InstagramHandle(obs.LandingURL); ok && c.ProductName == "" {
			c.ProductName = handle
		}
	}
	if c.ProductName == "" && c.LandingURL != "" {
		if name, _, ok := extract.ProductNameFromURL(c.LandingURL); ok {
			c.ProductName = name
		} else {
			failures = append(failures, FailureProductName)
		}
	}
	if c.ProductPrice != "" {
		if price, ok := extract.ParsePrice(c.ProductPrice); ok {
			c.ProductPrice = price.String()
		} else {
			failures = append(failures, FailurePrice)
		}
	}

	started, ok := extract.ParseDatePtr(obs.StartedRunning)
	if !ok {
		failures = append(failures, FailureStartDate)
	}
	c.StartedRunningOn = started
	if _, ok := extract.ParseDatePtr(obs.DeliveryStopTime); !ok {
		failures = append(failures, FailureStopDate)
	}

	if c.PlatformType == "" && p.detector != nil && c.LandingURL != "" {
		platform, err := p.detector.Detect(ctx, c.LandingURL)
		if err != nil {
			failures = append(failures, FailurePlatform)
			zap.L().Debug("platform detection failed", zap.String("landing_url", c.LandingURL), zap.Error(err))
		} else {
			c.PlatformType = platform
		}
	}

	if c.MonthlyVisits == nil && p.traffic != nil && c.Domain != "" && !c.IsSparkAd {
		domain := c.Domain
		if p.resolver != nil {
			if d := p.resolver.Domain(ctx, c.LandingURL); d != "" {
				domain = d
			}
		}
		res, err := p.traffic.Estimate(ctx, domain)
		if err != nil || !res.OK() {
			failures = append(failures, FailureTraffic)
		} else {
			c.MonthlyVisits = res.Visits
		}
	}

	sighting := sightingOf(obs)
	p.tracker.Start(c, &sighting, now)
	p.scoring.Apply(c, now)
	return c, failures
}

// mergeInto folds a re-observation into the stored record. Specific stored
// values are kept; missing ones are filled from the new observation.
func mergeInto(existing, incoming *model.Creative) {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&existing.CreativeHash, incoming.CreativeHash)
	fill(&existing.AdvertiserName, incoming.AdvertiserName)
	fill(&existing.PageID, incoming.PageID)
	fill(&existing.Caption, incoming.Caption)
	fill(&existing.Domain, incoming.Domain)
	fill(&existing.VideoURL, incoming.VideoURL)
	fill(&existing.ImageURL, incoming.ImageURL)
	fill(&existing.Country, incoming.Country)
	fill(&existing.SearchQuery, incoming.SearchQuery)
	fill(&existing.ProductName, incoming.ProductName)
	fill(&existing.ProductPrice, incoming.ProductPrice)
	fill(&existing.ProductHash, incoming.ProductHash)
	if existing.PlatformType == "" || (isGeneric(existing.PlatformType) && !isGeneric(incoming.PlatformType)) {
		existing.PlatformType = incoming.PlatformType
	}
	if existing.MonthlyVisits == nil && incoming.MonthlyVisits != nil {
		v := *incoming.MonthlyVisits
		existing.MonthlyVisits = &v
	}
	if existing.StartedRunningOn == nil && incoming.StartedRunningOn != nil {
		t := *incoming.StartedRunningOn
		existing.StartedRunningOn = &t
	}
	existing.IsSparkAd = existing.IsSparkAd || incoming.IsSparkAd
	if existing.FirstSeen.IsZero() || incoming.FirstSeen.Before(existing.FirstSeen) {
		existing.FirstSeen = incoming.FirstSeen
	}
}

func isGeneric(platform string) bool {
	switch platform {
	case "", extract.PlatformCustom, extract.PlatformUnknown:
		return true
	}
	return false
}

// refreshVariants recounts the creatives sharing c's hash and rescores any
// whose variant count or score moved. Only the derived columns are written,
// so a sibling merged concurrently by another worker keeps its changes.
// Hashless creatives are rescored alone.
func (p *Pipeline) refreshVariants(ctx context.Context, c *model.Creative) error {
	now := p.now()
	if c.CreativeHash == "" {
		c.VariantCount = 1
		if p.scoring.Apply(c, now) {
			return p.store.UpdateScores(ctx, []model.ScoreUpdate{model.ScoreUpdateOf(c)})
		}
		return nil
	}

	siblings, err := p.store.ListByHash(ctx, c.CreativeHash)
	if err != nil {
		return eris.Wrap(err, "ingest: list variants")
	}
	n := len(siblings)
	var changed []model.ScoreUpdate
	for i := range siblings {
		s := siblings[i]
		dirty := s.VariantCount != n
		s.VariantCount = n
		if p.scoring.Apply(&s, now) {
			dirty = true
		}
		if dirty {
			changed = append(changed, model.ScoreUpdateOf(&s))
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return p.store.UpdateScores(ctx, changed)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
