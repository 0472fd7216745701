// Package store persists creatives and opportunity cards in Postgres or SQLite.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/adradar/internal/model"
)

// ErrConflict is returned by Insert when another writer already created a
// record with the same dedup key.
var ErrConflict = eris.New("store: dedup key conflict")

// AdFilter selects creatives for the query API.
type AdFilter struct {
	Search   string `json:"q,omitempty"`
	Country  string `json:"country,omitempty"`
	MinScore *int   `json:"min_score,omitempty"`
	IsActive *bool  `json:"is_active,omitempty"` // nil means no filter on activity
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
)

// PageSize returns the effective limit.
func (f AdFilter) PageSize() int {
	switch {
	case f.Limit <= 0:
		return defaultPageSize
	case f.Limit > maxPageSize:
		return maxPageSize
	default:
		return f.Limit
	}
}

// AdRow is a creative plus the number of creatives its advertiser has.
type AdRow struct {
	model.Creative
	AdvertiserTotalAds int `json:"advertiser_total_ads"`
}

// AdPage is one page of query results, ordered by total_score descending
// then id ascending.
type AdPage struct {
	Items  []AdRow `json:"items"`
	Total  int64   `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Store defines the repository for creatives.
type Store interface {
	// Lookups
	FindByHash(ctx context.Context, hash string) (*model.Creative, error)
	FindByDedupKey(ctx context.Context, key model.DedupKey) (*model.Creative, error)
	ListByHash(ctx context.Context, hash string) ([]model.Creative, error)

	// Writes
	Insert(ctx context.Context, c *model.Creative) error
	Update(ctx context.Context, c *model.Creative) error
	UpdateScores(ctx context.Context, updates []model.ScoreUpdate) error
	UpdateLifecycle(ctx context.Context, updates []model.LifecycleUpdate) error
	ApplyFills(ctx context.Context, fills []model.FillUpdate) error
	TouchLastSeen(ctx context.Context, ids []int64, at time.Time) error
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)

	// Bulk
	Scan(ctx context.Context, batchSize int, fn func([]model.Creative) error) error
	Count(ctx context.Context) (int64, error)
	Query(ctx context.Context, filter AdFilter) (*AdPage, error)

	// Opportunity cards
	UpsertOpportunityCards(ctx context.Context, cards []model.OpportunityCard) (int64, error)
	ListOpportunityCards(ctx context.Context, limit, offset int) ([]model.OpportunityCard, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
