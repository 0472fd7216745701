package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adradar/internal/gate"
	"github.com/sells-group/adradar/internal/lifecycle"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/scoring"
	"github.com/sells-group/adradar/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestPipeline(s store.Store, opts Options, options ...Option) *Pipeline {
	g := gate.New(gate.Options{Lexicon: gate.DefaultLexicon(), AdmitSparkAds: true})
	options = append(options, WithClock(func() time.Time { return testNow }))
	return New(s, g, lifecycle.NewTracker(0), scoring.DefaultParams(), opts, options...)
}

func obs(query, landing, video, caption string) model.Observation {
	return model.Observation{
		AdvertiserName: "Acme Home",
		Caption:        caption,
		LandingURL:     landing,
		VideoURL:       video,
		SearchQuery:    query,
		Country:        "us",
	}
}

func allCreatives(t *testing.T, s store.Store) []model.Creative {
	t.Helper()
	var out []model.Creative
	require.NoError(t, s.Scan(context.Background(), 100, func(batch []model.Creative) error {
		out = append(out, batch...)
		return nil
	}))
	return out
}

func TestIngest_DuplicateObservationMerges(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{Workers: 1})

	first := obs("socks", "https://shop.example/products/wool-socks", "https://cdn.example/v1.mp4?oe=1", "Cozy wool socks")
	second := first
	second.VideoURL = "https://cdn.example/v1.mp4?oe=2"
	second.DeliveryStatus = "inactive"
	second.DeliveryStopTime = "Feb 20, 2026"
	second.ProductPrice = "$19.99"

	sum, err := p.Ingest(context.Background(), []model.Observation{first, second})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.Updated)
	assert.NotEmpty(t, sum.RunID)

	rows := allCreatives(t, s)
	require.Len(t, rows, 1)
	c := rows[0]
	assert.False(t, c.IsActive)
	assert.Equal(t, model.DeliveryInactive, c.DeliveryStatus)
	assert.Equal(t, model.DetectionPlatformStatus, c.DetectionMethod)
	require.NotNil(t, c.DeliveryStopTime)
	assert.Equal(t, time.February, c.DeliveryStopTime.Month())
	assert.Equal(t, "19.99 USD", c.ProductPrice, "missing price filled on merge")
	assert.Equal(t, "Wool Socks", c.ProductName)
	assert.Equal(t, "US", c.Country)
	assert.Equal(t, 1, c.VariantCount)
}

func TestIngest_VariantsShareScore(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{Workers: 1})

	a := obs("socks", "https://shop.example/products/wool-socks", "https://cdn.example/v1.mp4?oe=1", "Buy now")
	b := obs("socks", "https://shop.example/products/wool-socks?utm=2", "https://cdn.example/v1.mp4?oe=2", "Buy now")
	sum, err := p.Ingest(context.Background(), []model.Observation{a, b})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Inserted)

	rows := allCreatives(t, s)
	require.Len(t, rows, 2)
	assert.Equal(t, rows[0].CreativeHash, rows[1].CreativeHash)
	for _, c := range rows {
		assert.Equal(t, 2, c.VariantCount)
		want := scoring.DefaultParams().Score(scoring.InputFor(&c, testNow))
		assert.Equal(t, want.Total, c.TotalScore)
		assert.Positive(t, c.TotalScore)
	}
}

func TestIngest_SiblingRescoreKeepsConcurrentMerge(t *testing.T) {
	base := newTestStore(t)
	video, caption := "https://cdn.example/v1.mp4", "Cozy wool socks"
	y1 := obs("qy", "https://shop.example/products/wool-socks", video, caption)

	_, err := newTestPipeline(base, Options{Workers: 1}).Ingest(context.Background(), []model.Observation{y1})
	require.NoError(t, err)
	seeded := allCreatives(t, base)
	require.Len(t, seeded, 1)

	gated := newStaleSiblingStore(base, seeded[0].CreativeHash)
	gated.armed.Store(true)

	// z is a new variant on another landing page; y2 re-observes y with a price.
	z := obs("qz", "https://other.example/products/wool-socks", video, caption)
	y2 := y1
	y2.ProductPrice = "$19.99"

	sum, err := newTestPipeline(gated, Options{Workers: 2}).Ingest(context.Background(), []model.Observation{z, y2})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.Updated)

	rows := allCreatives(t, base)
	require.Len(t, rows, 2)
	y := rows[0]
	assert.Equal(t, seeded[0].ID, y.ID)
	assert.Equal(t, "19.99 USD", y.ProductPrice)
	for _, c := range rows {
		assert.Equal(t, 2, c.VariantCount)
	}
}

func TestIngest_NewCreativeStartsActive(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{Workers: 1})

	o := obs("socks", "https://shop.example/products/wool-socks", "https://cdn.example/v1.mp4", "Cozy wool socks")
	o.DeliveryStatus = "INACTIVE"
	o.DeliveryStopTime = "Feb 20, 2026"
	_, err := p.Ingest(context.Background(), []model.Observation{o})
	require.NoError(t, err)

	rows := allCreatives(t, s)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsActive)
	assert.Zero(t, rows[0].MissingCount)
	assert.Equal(t, model.DeliveryInactive, rows[0].DeliveryStatus)
	assert.NotNil(t, rows[0].DeliveryStopTime)
}

func TestIngest_Rejections(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{})

	spam := obs("q", "https://books.example/read", "https://cdn.example/a.mp4", "The werewolf king returns")
	social := obs("q", "https://www.facebook.com/acme", "https://cdn.example/b.mp4", "Follow us")
	empty := model.Observation{AdvertiserName: "Nobody", SearchQuery: "q"}
	market := obs("q", "https://apps.apple.com/us/app/id1500000", "https://cdn.example/c.mp4", "Get the app")

	sum, err := p.Ingest(context.Background(), []model.Observation{spam, social, empty, market})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.RejectedTotal())
	assert.Equal(t, 1, sum.Rejected[gate.ReasonSpam])
	assert.Equal(t, 1, sum.Rejected[gate.ReasonSocial])
	assert.Equal(t, 1, sum.Rejected[gate.ReasonEmpty])
	assert.Equal(t, 1, sum.Rejected[gate.ReasonMarketplace])
	assert.Empty(t, allCreatives(t, s))
}

func TestIngest_StreakAbandonsQuery(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{Workers: 2, StreakLimit: 2})

	batch := []model.Observation{
		obs("novels", "https://a.example", "https://cdn.example/1.mp4", "werewolf saga"),
		obs("novels", "https://b.example", "https://cdn.example/2.mp4", "vampire saga"),
		obs("novels", "https://c.example/products/lamp-shade", "https://cdn.example/3.mp4", "Lamp shade"),
		obs("lamps", "https://d.example/products/desk-lamp", "https://cdn.example/4.mp4", "Desk lamp"),
	}
	sum, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Queries)
	assert.Equal(t, []string{"novels"}, sum.AbandonedQueries)
	assert.Equal(t, 3, sum.Observations)
	assert.Equal(t, 1, sum.Inserted)
}

func TestIngest_MaxAdsCap(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{Workers: 1, MaxAds: 2})

	var batch []model.Observation
	for _, name := range []string{"lamp", "desk", "chair", "sofa"} {
		batch = append(batch, obs("home", "https://home.example/products/"+name+"-classic", "https://cdn.example/"+name+".mp4", name))
	}
	sum, err := p.Ingest(context.Background(), batch)
	require.NoError(t, err)
	assert.True(t, sum.Capped)
	assert.Equal(t, 2, sum.Inserted)
	assert.Len(t, allCreatives(t, s), 2)
}

func TestIngest_SchemeLessLandingAccepted(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{})

	o := obs("socks", "shop.example/products/wool-socks", "https://cdn.example/v.mp4", "Warm socks")
	sum, err := p.Ingest(context.Background(), []model.Observation{o})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)

	rows := allCreatives(t, s)
	require.Len(t, rows, 1)
	assert.Equal(t, "https://shop.example/products/wool-socks", rows[0].LandingURL)
	assert.Equal(t, "shop.example", rows[0].Domain)
	assert.True(t, strings.HasSuffix(rows[0].ProductHash, "-shop.example"))
}

func TestIngest_SparkAd(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{})

	o := obs("serum", "https://www.instagram.com/glowlabs_/", "https://cdn.example/g.mp4", "Glow every day")
	_, err := p.Ingest(context.Background(), []model.Observation{o})
	require.NoError(t, err)

	rows := allCreatives(t, s)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsSparkAd)
	assert.Equal(t, "instagram", rows[0].PlatformType)
	assert.Equal(t, "glowlabs", rows[0].ProductName)
}

func TestIngest_FailureReasons(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{})

	o := obs("socks", "https://shop.example/products/wool-socks", "https://cdn.example/v.mp4", "Warm socks")
	o.StartedRunning = "a while ago"
	o.ProductPrice = "call for price"
	sum, err := p.Ingest(context.Background(), []model.Observation{o})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Inserted)
	assert.Equal(t, 1, sum.Failures[FailureStartDate])
	assert.Equal(t, 1, sum.Failures[FailurePrice])
}

func TestIngest_StartDateDrivesAge(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{})

	o := obs("socks", "https://shop.example/products/wool-socks", "https://cdn.example/v.mp4", "Warm socks")
	o.StartedRunning = "Started running on Nov 1, 2025"
	_, err := p.Ingest(context.Background(), []model.Observation{o})
	require.NoError(t, err)

	rows := allCreatives(t, s)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].StartedRunningOn)
	assert.Equal(t, 120, rows[0].DaysRunning(testNow))
	assert.Positive(t, rows[0].TotalScore)
}

func TestIngest_TrafficEstimation(t *testing.T) {
	s := newTestStore(t)
	est := &fakeEstimator{visits: 250_000}
	resolver := fakeResolver{"https://go.example/products/lamp-shade": "lamps.example"}
	p := newTestPipeline(s, Options{}, WithTraffic(est, resolver))

	known := obs("lamps", "https://known.example/products/desk-lamp", "https://cdn.example/k.mp4", "Desk lamp")
	known.MonthlyVisits = func() *int64 { v := int64(10); return &v }()
	o := obs("lamps", "https://go.example/products/lamp-shade", "https://cdn.example/l.mp4", "Lamp shade")
	_, err := p.Ingest(context.Background(), []model.Observation{known, o})
	require.NoError(t, err)

	assert.Equal(t, []string{"lamps.example"}, est.domains, "estimator skipped when visits are known")
	rows := allCreatives(t, s)
	require.Len(t, rows, 2)
	for _, c := range rows {
		require.NotNil(t, c.MonthlyVisits)
	}
}

func TestIngest_TrafficFailureLeavesNull(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{}, WithTraffic(&fakeEstimator{fail: true}, nil))

	o := obs("lamps", "https://go.example/products/lamp-shade", "https://cdn.example/l.mp4", "Lamp shade")
	sum, err := p.Ingest(context.Background(), []model.Observation{o})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failures[FailureTraffic])

	rows := allCreatives(t, s)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].MonthlyVisits)
}

func TestIngest_PlatformDetector(t *testing.T) {
	s := newTestStore(t)
	det := &fakeDetector{platform: "shopify"}
	p := newTestPipeline(s, Options{}, WithPlatformDetector(det))

	withPlatform := obs("lamps", "https://a.example/products/desk-lamp", "https://cdn.example/a.mp4", "Desk lamp")
	withPlatform.PlatformType = "Wix"
	detect := obs("lamps", "https://b.example/products/lamp-shade", "https://cdn.example/b.mp4", "Lamp shade")
	_, err := p.Ingest(context.Background(), []model.Observation{withPlatform, detect})
	require.NoError(t, err)
	assert.Equal(t, 1, det.calls)

	platforms := map[string]string{}
	for _, c := range allCreatives(t, s) {
		platforms[c.Domain] = c.PlatformType
	}
	assert.Equal(t, map[string]string{"a.example": "wix", "b.example": "shopify"}, platforms)
}

func TestIngest_WriteFailureCounted(t *testing.T) {
	p := newTestPipeline(failingStore{Store: newTestStore(t)}, Options{})

	o := obs("socks", "https://shop.example/products/wool-socks", "https://cdn.example/v.mp4", "Warm socks")
	sum, err := p.Ingest(context.Background(), []model.Observation{o})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failures[FailureWrite])
	assert.Zero(t, sum.Inserted)
}

func TestIngest_Cancelled(t *testing.T) {
	s := newTestStore(t)
	p := newTestPipeline(s, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := obs("socks", "https://shop.example/products/wool-socks", "https://cdn.example/v.mp4", "Warm socks")
	_, err := p.Ingest(ctx, []model.Observation{o})
	require.Error(t, err)
	assert.Empty(t, allCreatives(t, s))
}

func TestMergeInto(t *testing.T) {
	visits := int64(500)
	existing := &model.Creative{ProductName: "Kept", PlatformType: "custom", FirstSeen: testNow}
	incoming := &model.Creative{
		ProductName:   "Ignored",
		ProductPrice:  "9.99 USD",
		PlatformType:  "shopify",
		MonthlyVisits: &visits,
		FirstSeen:     testNow.Add(-time.Hour),
	}
	mergeInto(existing, incoming)
	assert.Equal(t, "Kept", existing.ProductName)
	assert.Equal(t, "9.99 USD", existing.ProductPrice)
	assert.Equal(t, "shopify", existing.PlatformType, "specific platform replaces a generic one")
	require.NotNil(t, existing.MonthlyVisits)
	assert.Equal(t, int64(500), *existing.MonthlyVisits)
	assert.True(t, existing.FirstSeen.Equal(testNow.Add(-time.Hour)))

	existing.PlatformType = "wix"
	mergeInto(existing, &model.Creative{PlatformType: "shopify"})
	assert.Equal(t, "wix", existing.PlatformType)
}

func TestNormalize(t *testing.T) {
	o := model.Observation{
		LandingURL:     " //shop.example/p ",
		Country:        " us ",
		DeliveryStatus: "active",
		PlatformType:   " Shopify ",
	}
	normalize(&o, testNow)
	assert.Equal(t, "https://shop.example/p", o.LandingURL)
	assert.Equal(t, "US", o.Country)
	assert.Equal(t, model.DeliveryActive, o.DeliveryStatus)
	assert.Equal(t, "shopify", o.PlatformType)
	assert.True(t, o.ObservedAt.Equal(testNow))
}
