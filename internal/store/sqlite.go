package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/adradar/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps the per-connection PRAGMAs in force and
	// serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS creatives (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
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
	monthly_visits         INTEGER,
	is_spark_ad            BOOLEAN NOT NULL DEFAULT 0,
	product_hash           TEXT NOT NULL DEFAULT '',
	first_seen             DATETIME NOT NULL,
	last_seen              DATETIME NOT NULL,
	started_running_on     DATETIME,
	is_active              BOOLEAN NOT NULL DEFAULT 1,
	missing_count          INTEGER NOT NULL DEFAULT 0,
	delivery_status        TEXT NOT NULL DEFAULT '',
	delivery_stop_time     DATETIME,
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
	recommended_geos TEXT NOT NULL DEFAULT '[]',
	reasons          TEXT NOT NULL DEFAULT '[]',
	updated_at       DATETIME NOT NULL
);
`

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindByHash(ctx context.Context, hash string) (*model.Creative, error) {
	c, err := scanCreative(s.db.QueryRowContext(ctx,
		selectCreative+` WHERE creative_hash = ? ORDER BY id LIMIT 1`, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find by hash %s", hash)
	}
	return c, nil
}

func (s *SQLiteStore) FindByDedupKey(ctx context.Context, key model.DedupKey) (*model.Creative, error) {
	if key.Empty() {
		return nil, nil
	}
	c, err := scanCreative(s.db.QueryRowContext(ctx,
		selectCreative+` WHERE platform = ? AND landing_url = ? AND video_key = ? LIMIT 1`,
		key.Platform, key.LandingURL, key.VideoKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find by dedup key")
	}
	return c, nil
}

func (s *SQLiteStore) ListByHash(ctx context.Context, hash string) ([]model.Creative, error) {
	rows, err := s.db.QueryContext(ctx, selectCreative+` WHERE creative_hash = ? ORDER BY id`, hash)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list by hash %s", hash)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Creative
	for rows.Next() {
		c, err := scanCreative(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan creative")
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list by hash rows")
}

func (s *SQLiteStore) Insert(ctx context.Context, c *model.Creative) error {
	res, err := s.db.ExecContext(ctx, insertCreativeSQL(question), creativeArgs(c)...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrConflict
		}
		return eris.Wrap(err, "sqlite: insert creative")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: last insert id")
	}
	c.ID = id
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, c *model.Creative) error {
	args := append(creativeArgs(c), c.ID)
	res, err := s.db.ExecContext(ctx, updateCreativeSQL(question), args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update creative %d", c.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("sqlite: creative not found: %d", c.ID)
	}
	return nil
}

// UpdateScores writes variant counts and scores in one transaction.
func (s *SQLiteStore) UpdateScores(ctx context.Context, updates []model.ScoreUpdate) error {
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = scoreArgs(u)
	}
	return s.execBatch(ctx, "update scores", updateScoresSQL(question), rows)
}

// UpdateLifecycle writes activity columns in one transaction.
func (s *SQLiteStore) UpdateLifecycle(ctx context.Context, updates []model.LifecycleUpdate) error {
	rows := make([][]any, len(updates))
	for i, u := range updates {
		rows[i] = lifecycleArgs(u)
	}
	return s.execBatch(ctx, "update lifecycle", updateLifecycleSQL(question), rows)
}

// ApplyFills writes enrichment values into columns that are still empty.
func (s *SQLiteStore) ApplyFills(ctx context.Context, fills []model.FillUpdate) error {
	rows := make([][]any, len(fills))
	for i, f := range fills {
		rows[i] = fillArgs(f)
	}
	return s.execBatch(ctx, "apply fills", applyFillsSQL(question), rows)
}

// TouchLastSeen sets last_seen on the given creatives.
func (s *SQLiteStore) TouchLastSeen(ctx context.Context, ids []int64, at time.Time) error {
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{at.UTC(), id}
	}
	return s.execBatch(ctx, "touch", `UPDATE creatives SET last_seen = ? WHERE id = ?`, rows)
}

// execBatch runs stmt once per argument row inside one transaction.
func (s *SQLiteStore) execBatch(ctx context.Context, op, query string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: begin tx", op)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return eris.Wrapf(err, "sqlite: %s: prepare", op)
	}
	defer stmt.Close() //nolint:errcheck

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: %s: creative %v", op, args[len(args)-1])
		}
	}
	return eris.Wrapf(tx.Commit(), "sqlite: %s: commit", op)
}

func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	params := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM creatives WHERE id IN (`+params+`)`, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete creatives")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Scan walks the table in id order, one fully-read batch at a time.
func (s *SQLiteStore) Scan(ctx context.Context, batchSize int, fn func([]model.Creative) error) error {
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

func (s *SQLiteStore) scanBatch(ctx context.Context, afterID int64, limit int) ([]model.Creative, error) {
	rows, err := s.db.QueryContext(ctx, selectCreative+` WHERE id > ? ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan creatives")
	}
	defer rows.Close() //nolint:errcheck

	batch := make([]model.Creative, 0, limit)
	for rows.Next() {
		c, err := scanCreative(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan creative")
		}
		batch = append(batch, *c)
	}
	return batch, eris.Wrap(rows.Err(), "sqlite: scan rows")
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM creatives`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count creatives")
}

func (s *SQLiteStore) Query(ctx context.Context, f AdFilter) (*AdPage, error) {
	page := &AdPage{Limit: f.PageSize(), Offset: max(f.Offset, 0), Items: []AdRow{}}

	// SQLite LIKE is case-insensitive for ASCII.
	countSQL, countArgs := adCountSQL(f, question, "LIKE")
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&page.Total); err != nil {
		return nil, eris.Wrap(err, "sqlite: count ads")
	}

	q, args := adQuerySQL(f, question, "LIKE")
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query ads")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var total int
		c, err := scanCreative(rows, &total)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ad")
		}
		page.Items = append(page.Items, AdRow{Creative: *c, AdvertiserTotalAds: total})
	}
	return page, eris.Wrap(rows.Err(), "sqlite: query ads rows")
}

const sqliteUpsertCard = `INSERT INTO opportunity_cards (product_hash, domain, product_name, category, score, stars,
	creative_count, active_count, price_band, recommended_geos, reasons, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(product_hash) DO UPDATE SET
	domain = excluded.domain, product_name = excluded.product_name, category = excluded.category,
	score = excluded.score, stars = excluded.stars, creative_count = excluded.creative_count,
	active_count = excluded.active_count, price_band = excluded.price_band,
	recommended_geos = excluded.recommended_geos, reasons = excluded.reasons, updated_at = excluded.updated_at`

func (s *SQLiteStore) UpsertOpportunityCards(ctx context.Context, cards []model.OpportunityCard) (int64, error) {
	if len(cards) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert cards: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var n int64
	for _, c := range cards {
		geos, err := json.Marshal(nonNil(c.RecommendedGeos))
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal geos")
		}
		reasons, err := json.Marshal(nonNil(c.Reasons))
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal reasons")
		}
		res, err := tx.ExecContext(ctx, sqliteUpsertCard,
			c.ProductHash, c.Domain, c.ProductName, c.Category, c.Score, c.Stars,
			c.CreativeCount, c.ActiveCount, c.PriceBand, string(geos), string(reasons), c.UpdatedAt.UTC())
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert card %s", c.ProductHash)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: upsert cards: commit")
	}
	return n, nil
}

func (s *SQLiteStore) ListOpportunityCards(ctx context.Context, limit, offset int) ([]model.OpportunityCard, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, `SELECT product_hash, domain, product_name, category, score, stars,
		creative_count, active_count, price_band, recommended_geos, reasons, updated_at
		FROM opportunity_cards ORDER BY score DESC, product_hash LIMIT ? OFFSET ?`, limit, max(offset, 0))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list opportunity cards")
	}
	defer rows.Close() //nolint:errcheck

	cards := []model.OpportunityCard{}
	for rows.Next() {
		var c model.OpportunityCard
		var geos, reasons string
		if err := rows.Scan(&c.ProductHash, &c.Domain, &c.ProductName, &c.Category, &c.Score, &c.Stars,
			&c.CreativeCount, &c.ActiveCount, &c.PriceBand, &geos, &reasons, &c.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan opportunity card")
		}
		if err := json.Unmarshal([]byte(geos), &c.RecommendedGeos); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal geos")
		}
		if err := json.Unmarshal([]byte(reasons), &c.Reasons); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal reasons")
		}
		cards = append(cards, c)
	}
	return cards, eris.Wrap(rows.Err(), "sqlite: list opportunity cards rows")
}
