package rescan

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adradar/internal/gate"
	"github.com/sells-group/adradar/internal/ingest"
	"github.com/sells-group/adradar/internal/lifecycle"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/scoring"
	"github.com/sells-group/adradar/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (store.Store, *Runner) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "rescan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))

	tracker := lifecycle.NewTracker(0)
	g := gate.New(gate.Options{Lexicon: gate.DefaultLexicon(), AdmitSparkAds: true})
	clock := ingest.WithClock(func() time.Time { return testNow })
	p := ingest.New(s, g, tracker, scoring.DefaultParams(), ingest.Options{Workers: 1}, clock)

	r := New(s, tracker, p, Options{BatchSize: 10})
	r.now = func() time.Time { return testNow }
	return s, r
}

func observation(landing, video, caption string) model.Observation {
	return model.Observation{
		AdvertiserName: "Acme Home",
		Caption:        caption,
		LandingURL:     landing,
		VideoURL:       video,
		SearchQuery:    "home",
		Country:        "US",
	}
}

func TestFull_IngestsAndMaintains(t *testing.T) {
	s, r := setup(t)
	visits := int64(40_000)
	first := observation("https://shop.example/products/desk-lamp", "https://cdn.example/a.mp4", "Desk lamp glow")
	first.MonthlyVisits = &visits
	first.PlatformType = "shopify"
	second := observation("https://shop.example/products/lamp-shade", "https://cdn.example/b.mp4", "Lamp shade")

	report, err := r.Full(context.Background(), []model.Observation{first, second})
	require.NoError(t, err)
	require.NotNil(t, report.Lifecycle)
	require.NotNil(t, report.Ingest)
	assert.Equal(t, 2, report.Ingest.Inserted)
	assert.Equal(t, int64(2), report.Creatives)
	require.NotNil(t, report.Enrich)
	assert.Equal(t, 1, report.Enrich.TrafficShared)
	assert.Equal(t, 1, report.Enrich.PlatformByDomain)
	require.NotNil(t, report.Rollup)
	assert.Equal(t, 2, report.Rollup.Products)

	cards, err := s.ListOpportunityCards(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestFull_MissedCreativesDeactivate(t *testing.T) {
	s, r := setup(t)
	kept := observation("https://shop.example/products/desk-lamp", "https://cdn.example/a.mp4", "Desk lamp")
	gone := observation("https://shop.example/products/lamp-shade", "https://cdn.example/b.mp4", "Lamp shade")

	_, err := r.Full(context.Background(), []model.Observation{kept, gone})
	require.NoError(t, err)
	for range lifecycle.DefaultMissThreshold {
		_, err = r.Full(context.Background(), []model.Observation{kept})
		require.NoError(t, err)
	}

	active := map[string]bool{}
	require.NoError(t, s.Scan(context.Background(), 10, func(batch []model.Creative) error {
		for _, c := range batch {
			active[c.Caption] = c.IsActive
		}
		return nil
	}))
	assert.Equal(t, map[string]bool{"Desk lamp": true, "Lamp shade": false}, active)
}

func TestMaintain_LeavesActivityAlone(t *testing.T) {
	s, r := setup(t)
	_, err := r.Full(context.Background(), []model.Observation{
		observation("https://shop.example/products/desk-lamp", "https://cdn.example/a.mp4", "Desk lamp"),
	})
	require.NoError(t, err)

	for range 5 {
		report, err := r.Maintain(context.Background())
		require.NoError(t, err)
		assert.Nil(t, report.Lifecycle)
		assert.Zero(t, report.Enrich.Written, "enrichment is idempotent")
	}

	page, err := s.Query(context.Background(), store.AdFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].IsActive)
	assert.Zero(t, page.Items[0].MissingCount)
}

func TestRunner_Busy(t *testing.T) {
	_, r := setup(t)
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.Maintain(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = r.Full(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestFull_RequiresPipeline(t *testing.T) {
	s, _ := setup(t)
	r := New(s, lifecycle.NewTracker(0), nil, Options{})
	_, err := r.Full(context.Background(), nil)
	require.Error(t, err)
}

func TestFull_EmptyScrapeKeepsCreativesActive(t *testing.T) {
	s, r := setup(t)
	_, err := r.Full(context.Background(), []model.Observation{
		observation("https://shop.example/products/desk-lamp", "https://cdn.example/a.mp4", "Desk lamp"),
		observation("https://shop.example/products/lamp-shade", "https://cdn.example/b.mp4", "Lamp shade"),
	})
	require.NoError(t, err)

	for _, empty := range [][]model.Observation{nil, {}, nil} {
		report, err := r.Full(context.Background(), empty)
		require.ErrorIs(t, err, lifecycle.ErrNoSightings)
		assert.Nil(t, report)
	}

	page, err := s.Query(context.Background(), store.AdFilter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	for _, row := range page.Items {
		assert.True(t, row.IsActive, row.Caption)
		assert.Zero(t, row.MissingCount, row.Caption)
	}
}
