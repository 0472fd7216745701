package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Gate      GateConfig      `yaml:"gate" mapstructure:"gate"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Lifecycle LifecycleConfig `yaml:"lifecycle" mapstructure:"lifecycle"`
	Enrich    EnrichConfig    `yaml:"enrich" mapstructure:"enrich"`
	Rollup    RollupConfig    `yaml:"rollup" mapstructure:"rollup"`
	Traffic   TrafficConfig   `yaml:"traffic" mapstructure:"traffic"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// MaxConns sizes the Postgres pool; zero means ingest.workers × 2.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// File, when set, also writes JSON logs to a rotated file.
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
}

// ServerConfig configures the query API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RescanTimeout  string   `yaml:"rescan_timeout" mapstructure:"rescan_timeout"`
	// MaintainInterval schedules background maintenance passes; empty or
	// zero disables them.
	MaintainInterval string `yaml:"maintain_interval" mapstructure:"maintain_interval"`
}

// IngestConfig configures the discovery pass.
type IngestConfig struct {
	Workers        int  `yaml:"workers" mapstructure:"workers"`
	StreakLimit    int  `yaml:"streak_limit" mapstructure:"streak_limit"`
	MaxAds         int  `yaml:"max_ads" mapstructure:"max_ads"`
	DetectPlatform bool `yaml:"detect_platform" mapstructure:"detect_platform"`
	ResolveDomains bool `yaml:"resolve_domains" mapstructure:"resolve_domains"`
	// FetchTimeoutSecs bounds landing-page fetches for platform and domain resolution.
	FetchTimeoutSecs int     `yaml:"fetch_timeout_secs" mapstructure:"fetch_timeout_secs"`
	FetchRate        float64 `yaml:"fetch_rate" mapstructure:"fetch_rate"`
}

// GateConfig configures the validity gate.
type GateConfig struct {
	LexiconFile   string `yaml:"lexicon_file" mapstructure:"lexicon_file"`
	MatchMode     string `yaml:"match_mode" mapstructure:"match_mode"`
	AdmitSparkAds bool   `yaml:"admit_spark_ads" mapstructure:"admit_spark_ads"`
}

// ScoringConfig holds the scoring constants.
type ScoringConfig struct {
	V95            float64 `yaml:"v95" mapstructure:"v95"`
	AgePlateauDays float64 `yaml:"age_plateau_days" mapstructure:"age_plateau_days"`
	AgeHorizonDays float64 `yaml:"age_horizon_days" mapstructure:"age_horizon_days"`
	DupHalf        float64 `yaml:"dup_half" mapstructure:"dup_half"`
	DupWeight      float64 `yaml:"dup_weight" mapstructure:"dup_weight"`
	AgeWeight      float64 `yaml:"age_weight" mapstructure:"age_weight"`
	VisitsWeight   float64 `yaml:"visits_weight" mapstructure:"visits_weight"`
}

// LifecycleConfig configures activity tracking.
type LifecycleConfig struct {
	MissThreshold int `yaml:"miss_threshold" mapstructure:"miss_threshold"`
	BatchSize     int `yaml:"batch_size" mapstructure:"batch_size"`
}

// EnrichConfig configures the enrichment post-pass.
type EnrichConfig struct {
	Consensus float64 `yaml:"consensus" mapstructure:"consensus"`
	BatchSize int     `yaml:"batch_size" mapstructure:"batch_size"`
}

// RollupConfig configures opportunity card generation.
type RollupConfig struct {
	MaxGeos int `yaml:"max_geos" mapstructure:"max_geos"`
}

// TrafficConfig configures the SpyFu traffic estimator.
type TrafficConfig struct {
	SpyFuKey        string  `yaml:"spyfu_key" mapstructure:"spyfu_key"`
	BaseURL         string  `yaml:"base_url" mapstructure:"base_url"`
	Rate            float64 `yaml:"rate" mapstructure:"rate"`
	Retries         int     `yaml:"retries" mapstructure:"retries"`
	TimeoutSecs     int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	BreakerFailures int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldown string  `yaml:"breaker_cooldown" mapstructure:"breaker_cooldown"`
}

// CacheConfig configures the traffic result cache.
type CacheConfig struct {
	Backend  string `yaml:"backend" mapstructure:"backend"`
	TTL      string `yaml:"ttl" mapstructure:"ttl"`
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ADRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "adradar.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rescan_timeout", "30m")
	v.SetDefault("server.maintain_interval", "6h")
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.streak_limit", 100)
	v.SetDefault("ingest.max_ads", 0)
	v.SetDefault("ingest.detect_platform", false)
	v.SetDefault("ingest.resolve_domains", false)
	v.SetDefault("ingest.fetch_timeout_secs", 10)
	v.SetDefault("ingest.fetch_rate", 5.0)
	v.SetDefault("gate.match_mode", "substring")
	v.SetDefault("gate.admit_spark_ads", true)
	v.SetDefault("scoring.v95", 10_000_000)
	v.SetDefault("scoring.age_plateau_days", 120)
	v.SetDefault("scoring.age_horizon_days", 365)
	v.SetDefault("scoring.dup_half", 5)
	v.SetDefault("scoring.dup_weight", 0.45)
	v.SetDefault("scoring.age_weight", 0.35)
	v.SetDefault("scoring.visits_weight", 0.20)
	v.SetDefault("lifecycle.miss_threshold", 3)
	v.SetDefault("lifecycle.batch_size", 20000)
	v.SetDefault("enrich.consensus", 0.8)
	v.SetDefault("enrich.batch_size", 1000)
	v.SetDefault("rollup.max_geos", 3)
	v.SetDefault("traffic.base_url", "https://api.spyfu.com/apis/domain_stats_api/v2/getAllDomainStats")
	v.SetDefault("traffic.rate", 2.0)
	v.SetDefault("traffic.retries", 3)
	v.SetDefault("traffic.timeout_secs", 15)
	v.SetDefault("traffic.breaker_failures", 5)
	v.SetDefault("traffic.breaker_cooldown", "1m")
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", "168h")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks that the fields required by a command mode are present.
// Modes: ingest, rescan, maintain, serve, admin.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "ingest", "rescan":
		errs = append(errs, c.validateStore()...)
		errs = append(errs, c.validateIngest()...)
		errs = append(errs, c.validateCache()...)
	case "maintain", "admin":
		errs = append(errs, c.validateStore()...)
	case "serve":
		errs = append(errs, c.validateStore()...)
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if _, err := time.ParseDuration(c.Server.RescanTimeout); c.Server.RescanTimeout != "" && err != nil {
			errs = append(errs, "server.rescan_timeout must be a duration")
		}
		if _, err := time.ParseDuration(c.Server.MaintainInterval); c.Server.MaintainInterval != "" && err != nil {
			errs = append(errs, "server.maintain_interval must be a duration")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Gate.MatchMode != "" && c.Gate.MatchMode != "substring" && c.Gate.MatchMode != "word" {
		errs = append(errs, "gate.match_mode must be substring or word")
	}
	if c.Lifecycle.MissThreshold < 1 {
		errs = append(errs, "lifecycle.miss_threshold must be >= 1")
	}
	if c.Enrich.Consensus <= 0 || c.Enrich.Consensus > 1 {
		errs = append(errs, "enrich.consensus must be in (0, 1]")
	}
	if c.Scoring.DupWeight < 0 || c.Scoring.AgeWeight < 0 || c.Scoring.VisitsWeight < 0 {
		errs = append(errs, "scoring weights must be >= 0")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var errs []string
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	return errs
}

func (c *Config) validateIngest() []string {
	var errs []string
	if c.Ingest.Workers < 1 || c.Ingest.Workers > 64 {
		errs = append(errs, "ingest.workers must be between 1 and 64")
	}
	if c.Ingest.StreakLimit < 1 {
		errs = append(errs, "ingest.streak_limit must be >= 1")
	}
	if c.Ingest.MaxAds < 0 {
		errs = append(errs, "ingest.max_ads must be >= 0")
	}
	return errs
}

func (c *Config) validateCache() []string {
	var errs []string
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, "cache.redis_url is required for the redis backend")
		}
	default:
		errs = append(errs, "cache.backend must be memory or redis")
	}
	if c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			errs = append(errs, "cache.ttl must be a duration")
		}
	}
	return errs
}

// PoolSize returns the Postgres pool size, defaulting to twice the worker count.
func (c *Config) PoolSize() int32 {
	if c.Store.MaxConns > 0 {
		return c.Store.MaxConns
	}
	return int32(max(c.Ingest.Workers, 1) * 2)
}

// Duration parses a configured duration, falling back to def when the value
// is empty or malformed.
func Duration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}

	if cfg.File != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			sink,
			zapCfg.Level,
		)
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return zapcore.NewTee(core, fileCore)
		}))
	}
	zap.ReplaceGlobals(logger)

	return nil
}
