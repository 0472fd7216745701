package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/adradar/internal/db"
	"github.com/sells-group/adradar/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	var opts db.PoolOptions
	if poolCfg != nil {
		opts = db.PoolOptions{MaxConns: poolCfg.MaxConns, MinConns: poolCfg.MinConns}
	}
	pool, err := db.Connect(ctx, connString, opts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS creatives (
	id                     BIGSERIAL PRIMARY KEY,
	creative_hash          TEXT NOT NULL DEFAULT '',
	platform               TEXT NOT NULL DEFAULT 'meta',
	advertiser_name        TEXT NOT NULL DEFAULT '',
	page_id                TEXT NOT NULL DEFAULT '',
	caption                TEXT NOT NULL DEFAULT '',
	landing_url            TEXT NOT NULL DEFAULT '',
	domain                 TEXT NOT NULL DEFAULT '',
	video_url              TEXT NOT NULL DEFAULT '',
	video_key              TEXT,
	image_url              TEXT NOT NULL DEFAULT '',
	country                TEXT NOT NULL DEFAULT '',
	search_query           TEXT NOT NULL DEFAULT '',
	product_name           TEXT NOT NULL DEFAULT '',
	product_price          TEXT NOT NULL DEFAULT '',
	platform_type          TEXT NOT NULL DEFAULT '',
	category               TEXT NOT NULL DEFAULT '',
	monthly_visits         BIGINT,
	is_spark_ad            BOOLEAN NOT NULL DEFAULT false,
	product_hash           TEXT NOT NULL DEFAULT '',
	first_seen             TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_seen              TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_running_on     TIMESTAMPTZ,
	is_active              BOOLEAN NOT NULL DEFAULT true,
	missing_count          INTEGER NOT NULL DEFAULT 0,
	delivery_status        TEXT NOT NULL DEFAULT '',
	delivery_stop_time     TIMESTAMPTZ,
	detection_method       TEXT NOT NULL DEFAULT '',
	creative_variant_count INTEGER NOT NULL DEFAULT 1,
	total_score            INTEGER NOT NULL DEFAULT 0,
	stars                  INTEGER NOT NULL DEFAULT 1
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_creatives_dedup
	ON creatives(platform, landing_url, video_key) WHERE video_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_creatives_hash ON creatives(creative_hash);
CREATE INDEX IF NOT EXISTS idx_creatives_domain ON creatives(domain);
CREATE INDEX IF NOT EXISTS idx_creatives_advertiser ON creatives(advertiser_name);
CREATE INDEX IF NOT EXISTS idx_creatives_score ON creatives(total_score DESC, id);
CREATE INDEX IF NOT EXISTS idx_creatives_active ON creatives(is_active);

CREATE TABLE IF NOT EXISTS opportunity_cards (
	product_hash     TEXT PRIMARY KEY,
	domain           TEXT NOT NULL DEFAULT '',
	product_name     TEXT NOT NULL DEFAULT '',
	category         TEXT NOT NULL DEFAULT '',
	score            INTEGER NOT NULL DEFAULT 0,
	stars            INTEGER NOT NULL DEFAULT 1,
	creative_count   INTEGER NOT NULL DEFAULT 0,
	active_count     INTEGER NOT NULL DEFAULT 0,
	price_band       TEXT NOT NULL DEFAULT '',
	recommended_geos TEXT[] NOT NULL DEFAULT '{}',
	reasons          TEXT[] NOT NULL DEFAULT '{}',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_opportunity_cards_score ON opportunity_cards(score DESC);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (*model.Creative, error) {
	c, err := scanCreative(s.pool.QueryRow(ctx,
		selectCreative+` WHERE creative_hash = $1 ORDER BY id LIMIT 1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find by hash %s", hash)
	}
	return c, nil
}

func (s *PostgresStore) FindByDedupKey(ctx context.Context, key model.DedupKey) (*model.Creative, error) {
	if key.Empty() {
		return nil, nil
	}
	c, err := scanCreative(s.pool.QueryRow(ctx,
		selectCreative+` WHERE platform = $1 AND landing_url = $2 AND video_key = $3 LIMIT 1`,
		key.Platform, key.LandingURL, key.VideoKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find by dedup key")
	}
	return c, nil
}

func (s *PostgresStore) ListByHash(ctx context.Context, hash string) ([]model.Creative, error) {
	rows, err := s.pool.Query(ctx, selectCreative+` WHERE creative_hash = $1 ORDER BY id`, hash)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list by hash %s", hash)
	}
	defer rows.Close()

	var out []model.Creative
	for rows.Next() {
		c, err := scanCreative(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan creative")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list by hash rows")
}

func (s *PostgresStore) Insert(ctx context.Context, c *model.Creative) error {
	err := s.pool.QueryRow(ctx, insertCreativeSQL(dollar)+" RETURNING id", creativeArgs(c)...).Scan(&c.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return eris.Wrap(err, "postgres: insert creative")
}

func (s *PostgresStore) Update(ctx context.Context, c *model.Creative) error {
	args := append(creativeArgs(c), c.ID)
	tag, err := s.pool.Exec(ctx, updateCreativeSQL(dollar), args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update creative %d", c.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("postgres: creative not found: %d", c.ID)
	}
	return nil
}

// UpdateScores writes variant counts and scores in one transaction.
func (s *PostgresStore) UpdateScores(ctx context.Context, updates []model.ScoreUpdate) error {
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = scoreArgs(u)
	}
	return s.execBatch(ctx, "update scores", updateScoresSQL(dollar), rows)
}

// UpdateLifecycle writes activity columns in one transaction.
func (s *PostgresStore) UpdateLifecycle(ctx context.Context, updates []model.LifecycleUpdate) error {
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = lifecycleArgs(u)
	}
	return s.execBatch(ctx, "update lifecycle", updateLifecycleSQL(dollar), rows)
}

// ApplyFills writes enrichment values into columns that are still empty.
func (s *PostgresStore) ApplyFills(ctx context.Context, fills []model.FillUpdate) error {
	rows := make([][]any, len(fills))
	for i, f := range fills {
		rows[i] = fillArgs(f)
	}
	return s.execBatch(ctx, "apply fills", applyFillsSQL(dollar), rows)
}

// TouchLastSeen sets last_seen on the given creatives.
func (s *PostgresStore) TouchLastSeen(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `UPDATE creatives SET last_seen = $1 WHERE id = ANY($2)`, at.UTC(), ids)
	return eris.Wrap(err, "postgres: touch")
}

func (s *PostgresStore) execBatch(ctx context.Context, op, sql string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(err, "postgres: %s: begin tx", op)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, args := range rows {
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return eris.Wrapf(err, "postgres: %s: creative %v", op, args[len(args)-1])
		}
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: %s: commit", op)
}

func (s *PostgresStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM creatives WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete creatives")
	}
	return tag.RowsAffected(), nil
}

// Scan walks the table in id order. Each batch is fully read before fn runs
// so fn may write through the same pool.
func (s *PostgresStore) Scan(ctx context.Context, batchSize int, fn func([]model.Creative) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	var lastID int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := s.scanBatch(ctx, lastID, batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		lastID = batch[len(batch)-1].ID
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
	}
}

func (s *PostgresStore) scanBatch(ctx context.Context, afterID int64, limit int) ([]model.Creative, error) {
	rows, err := s.pool.Query(ctx, selectCreative+` WHERE id > $1 ORDER BY id LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan creatives")
	}
	defer rows.Close()

	batch := make([]model.Creative, 0, limit)
	for rows.Next() {
		c, err := scanCreative(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan creative")
		}
		batch = append(batch, *c)
	}
	return batch, eris.Wrap(rows.Err(), "postgres: scan rows")
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM creatives`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count creatives")
}

func (s *PostgresStore) Query(ctx context.Context, f AdFilter) (*AdPage, error) {
	page := &AdPage{Limit: f.PageSize(), Offset: max(f.Offset, 0), Items: []AdRow{}}

	countSQL, countArgs := adCountSQL(f, dollar, "ILIKE")
	if err := s.pool.QueryRow(ctx, countSQL, countArgs...).Scan(&page.Total); err != nil {
		return nil, eris.Wrap(err, "postgres: count ads")
	}

	sql, args := adQuerySQL(f, dollar, "ILIKE")
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query ads")
	}
	defer rows.Close()

	for rows.Next() {
		var total int
		c, err := scanCreative(rows, &total)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ad")
		}
		page.Items = append(page.Items, AdRow{Creative: *c, AdvertiserTotalAds: total})
	}
	return page, eris.Wrap(rows.Err(), "postgres: query ads rows")
}

var cardSpec = db.UpsertSpec{
	Table: "opportunity_cards",
	Columns: []string{
		"product_hash", "domain", "product_name", "category", "score", "stars",
		"creative_count", "active_count", "price_band", "recommended_geos", "reasons", "updated_at",
	},
	ConflictKeys: []string{"product_hash"},
}

func (s *PostgresStore) UpsertOpportunityCards(ctx context.Context, cards []model.OpportunityCard) (int64, error) {
	rows := make([][]any, len(cards))
	for i, c := range cards {
		rows[i] = []any{
			c.ProductHash, c.Domain, c.ProductName, c.Category, c.Score, c.Stars,
			c.CreativeCount, c.ActiveCount, c.PriceBand, nonNil(c.RecommendedGeos), nonNil(c.Reasons), c.UpdatedAt.UTC(),
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, cardSpec, rows)
	return n, eris.Wrap(err, "postgres: upsert opportunity cards")
}

func (s *PostgresStore) ListOpportunityCards(ctx context.Context, limit, offset int) ([]model.OpportunityCard, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows, err := s.pool.Query(ctx, `SELECT product_hash, domain, product_name, category, score, stars,
		creative_count, active_count, price_band, recommended_geos, reasons, updated_at
		FROM opportunity_cards ORDER BY score DESC, product_hash LIMIT $1 OFFSET $2`, limit, max(offset, 0))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list opportunity cards")
	}
	defer rows.Close()

	cards := []model.OpportunityCard{}
	for rows.Next() {
		var c model.OpportunityCard
		if err := rows.Scan(&c.ProductHash, &c.Domain, &c.ProductName, &c.Category, &c.Score, &c.Stars,
			&c.CreativeCount, &c.ActiveCount, &c.PriceBand, &c.RecommendedGeos, &c.Reasons, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan opportunity card")
		}
		cards = append(cards, c)
	}
	return cards, eris.Wrap(rows.Err(), "postgres: list opportunity cards rows")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
