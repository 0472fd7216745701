package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/config"
	"github.com/sells-group/adradar/internal/enrich"
	"github.com/sells-group/adradar/internal/extract"
	"github.com/sells-group/adradar/internal/fetcher"
	"github.com/sells-group/adradar/internal/gate"
	"github.com/sells-group/adradar/internal/ingest"
	"github.com/sells-group/adradar/internal/lifecycle"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/rescan"
	"github.com/sells-group/adradar/internal/resilience"
	"github.com/sells-group/adradar/internal/rollup"
	"github.com/sells-group/adradar/internal/scoring"
	"github.com/sells-group/adradar/internal/store"
	"github.com/sells-group/adradar/internal/traffic"
)

// appEnv holds the store and the collaborators built from config that the
// ingest, rescan and serve commands share.
type appEnv struct {
	Store    store.Store
	Gate     *gate.Gate
	Tracker  *lifecycle.Tracker
	Pipeline *ingest.Pipeline
	Runner   *rescan.Runner
	redis    *redis.Client
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "adradar.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{MaxConns: cfg.PoolSize()})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initGate() (*gate.Gate, error) {
	lex, err := gate.LoadLexicon(cfg.Gate.LexiconFile)
	if err != nil {
		return nil, err
	}
	return gate.New(gate.Options{
		Lexicon:       lex,
		Mode:          gate.MatchMode(cfg.Gate.MatchMode),
		AdmitSparkAds: cfg.Gate.AdmitSparkAds,
	}), nil
}

func scoringParams() scoring.Params {
	return scoring.Params{
		V95:            cfg.Scoring.V95,
		AgePlateauDays: cfg.Scoring.AgePlateauDays,
		AgeHorizonDays: cfg.Scoring.AgeHorizonDays,
		DupHalf:        cfg.Scoring.DupHalf,
		DupWeight:      cfg.Scoring.DupWeight,
		AgeWeight:      cfg.Scoring.AgeWeight,
		VisitsWeight:   cfg.Scoring.VisitsWeight,
	}.WithDefaults()
}

func runnerOptions() rescan.Options {
	return rescan.Options{
		BatchSize: cfg.Lifecycle.BatchSize,
		Scoring:   scoringParams(),
		Enrich: enrich.Options{
			Consensus: cfg.Enrich.Consensus,
			BatchSize: cfg.Enrich.BatchSize,
		},
		Rollup: rollup.Options{MaxGeos: cfg.Rollup.MaxGeos},
	}
}

// initEstimator builds the cached SpyFu estimator. It returns nil when no
// API key is configured, leaving traffic to the enrichment pass.
func initEstimator(ctx context.Context) (traffic.Estimator, *redis.Client, error) {
	if cfg.Traffic.SpyFuKey == "" {
		zap.L().Debug("ADRADAR_TRAFFIC_SPYFU_KEY not set, traffic estimation disabled")
		return nil, nil, nil
	}

	retry := resilience.DefaultRetryPolicy()
	if cfg.Traffic.Retries > 0 {
		retry.Attempts = cfg.Traffic.Retries
	}
	spyfu := traffic.NewSpyFu(cfg.Traffic.SpyFuKey,
		traffic.WithBaseURL(cfg.Traffic.BaseURL),
		traffic.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Traffic.TimeoutSecs) * time.Second}),
		traffic.WithRateLimit(cfg.Traffic.Rate),
		traffic.WithRetry(retry),
		traffic.WithBreaker(resilience.NewBreaker("spyfu", cfg.Traffic.BreakerFailures,
			config.Duration(cfg.Traffic.BreakerCooldown, time.Minute))),
	)

	ttl := config.Duration(cfg.Cache.TTL, 0)
	switch cfg.Cache.Backend {
	case "redis":
		client, err := traffic.ConnectRedis(ctx, cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("traffic cache using redis", zap.Duration("ttl", ttl))
		return traffic.NewCached(spyfu, traffic.NewRedisCache(client, ttl)), client, nil
	default:
		return traffic.NewCached(spyfu, traffic.NewMemoryCache(ttl)), nil, nil
	}
}

// initEnv opens the store and builds the ingest pipeline and rescan runner.
// Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Tracker: lifecycle.NewTracker(cfg.Lifecycle.MissThreshold)}

	env.Gate, err = initGate()
	if err != nil {
		env.Close()
		return nil, err
	}

	est, rc, err := initEstimator(ctx)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.redis = rc

	fetchTimeout := time.Duration(cfg.Ingest.FetchTimeoutSecs) * time.Second
	var opts []ingest.Option
	if est != nil {
		var resolver ingest.DomainResolver
		if cfg.Ingest.ResolveDomains {
			resolver = traffic.NewResolver(fetchTimeout)
		}
		opts = append(opts, ingest.WithTraffic(est, resolver))
	}
	if cfg.Ingest.DetectPlatform {
		opts = append(opts, ingest.WithPlatformDetector(extract.NewDetector(fetchTimeout, cfg.Ingest.FetchRate)))
	}

	env.Pipeline = ingest.New(st, env.Gate, env.Tracker, scoringParams(), ingest.Options{
		Workers:     cfg.Ingest.Workers,
		StreakLimit: cfg.Ingest.StreakLimit,
		MaxAds:      cfg.Ingest.MaxAds,
	}, opts...)
	env.Runner = rescan.New(st, env.Tracker, env.Pipeline, runnerOptions())
	return env, nil
}

// readObservations loads newline-delimited JSON observations from a local
// path, an http(s) or ftp URL, or stdin when location is "-".
func readObservations(ctx context.Context, location string) ([]model.Observation, error) {
	if location == "" {
		return nil, eris.New("--input is required")
	}
	if location == "-" {
		return ingest.NewJSONLSource(os.Stdin, "stdin").Observations(ctx)
	}
	rc, err := fetcher.NewOpener(fetcher.Options{}).Open(ctx, location)
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck
	return ingest.NewJSONLSource(rc, location).Observations(ctx)
}
