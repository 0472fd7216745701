// Package rollup aggregates creatives into per-product opportunity cards.
package rollup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/extract"
	"github.com/sells-group/adradar/internal/fingerprint"
	"github.com/sells-group/adradar/internal/metrics"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/scoring"
)

// DefaultMaxGeos is the number of recommended countries per card.
const DefaultMaxGeos = 3

// Repository is the slice of the store the rollup needs.
type Repository interface {
	Scan(ctx context.Context, batchSize int, fn func([]model.Creative) error) error
	UpsertOpportunityCards(ctx context.Context, cards []model.OpportunityCard) (int64, error)
}

// Options tune a rollup.
type Options struct {
	BatchSize int
	MaxGeos   int
}

// Summary reports one rollup run.
type Summary struct {
	Creatives int   `json:"creatives"`
	Products  int   `json:"products"`
	Written   int64 `json:"written"`
}

// Run rebuilds every opportunity card from the stored creatives.
func Run(ctx context.Context, repo Repository, opts Options, now time.Time) (*Summary, error) {
	log := zap.L().With(zap.String("phase", "rollup"))
	start := time.Now()
	defer metrics.ObservePass("rollup", start)
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}

	b := NewBuilder(opts.MaxGeos, now)
	summary := &Summary{}
	err := repo.Scan(ctx, opts.BatchSize, func(batch []model.Creative) error {
		for i := range batch {
			b.Add(&batch[i])
			summary.Creatives++
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, eris.Wrap(err, "rollup: scan")
	}

	cards := b.Cards()
	summary.Products = len(cards)
	if len(cards) > 0 {
		n, err := repo.UpsertOpportunityCards(ctx, cards)
		if err != nil {
			return summary, eris.Wrap(err, "rollup: write cards")
		}
		summary.Written = n
	}

	log.Info("rollup complete",
		zap.Int("creatives", summary.Creatives),
		zap.Int("products", summary.Products),
		zap.Int64("written", summary.Written),
	)
	return summary, nil
}

// group accumulates one product's creatives.
type group struct {
	key         string
	domain      string
	names       tally
	categories  tally
	geos        tally
	prices      []extract.Price
	creatives   int
	active      int
	bestScore   int
	bestActive  int
	maxVariants int
	maxDays     int
	maxVisits   int64
	spark       bool
}

// Builder groups creatives by product hash.
type Builder struct {
	maxGeos int
	groups  map[string]*group
	order   []string
	now     time.Time
}

// NewBuilder returns an empty Builder that ages creatives as of now. A
// non-positive maxGeos uses the default.
func NewBuilder(maxGeos int, now time.Time) *Builder {
	if maxGeos <= 0 {
		maxGeos = DefaultMaxGeos
	}
	return &Builder{maxGeos: maxGeos, groups: make(map[string]*group), now: now}
}

// ProductKey returns the card key for c, deriving it when the stored value is
// missing.
func ProductKey(c *model.Creative) string {
	if c.ProductHash != "" {
		return c.ProductHash
	}
	return fingerprint.ProductHash(c.CreativeHash, c.LandingURL)
}

// Add folds one creative into its product group.
func (b *Builder) Add(c *model.Creative) {
	key := ProductKey(c)
	g, ok := b.groups[key]
	if !ok {
		g = &group{key: key, names: tally{}, categories: tally{}, geos: tally{}}
		b.groups[key] = g
		b.order = append(b.order, key)
	}

	g.creatives++
	if g.domain == "" {
		g.domain = c.Domain
		if g.domain == "" {
			g.domain = fingerprint.Domain(c.LandingURL)
		}
	}
	g.names.add(c.ProductName)
	if c.Category != "" {
		g.categories.add(c.Category)
	}
	if c.IsActive {
		g.active++
		g.geos.add(strings.ToUpper(c.Country))
		g.bestActive = max(g.bestActive, c.TotalScore)
	}
	g.bestScore = max(g.bestScore, c.TotalScore)
	g.maxVariants = max(g.maxVariants, c.VariantCount)
	if c.MonthlyVisits != nil {
		g.maxVisits = max(g.maxVisits, *c.MonthlyVisits)
	}
	g.spark = g.spark || c.IsSparkAd
	g.maxDays = max(g.maxDays, c.DaysRunning(b.now))
	if p, ok := extract.ParsePrice(c.ProductPrice); ok {
		g.prices = append(g.prices, p)
	}
}

// Cards returns one card per product ordered by score descending then key.
func (b *Builder) Cards() []model.OpportunityCard {
	cards := make([]model.OpportunityCard, 0, len(b.order))
	for _, key := range b.order {
		g := b.groups[key]
		score := g.bestScore
		if g.active > 0 {
			score = g.bestActive
		}
		geos := g.geos.top(b.maxGeos)
		card := model.OpportunityCard{
			ProductHash:     key,
			Domain:          g.domain,
			ProductName:     g.names.first(),
			Category:        g.categories.first(),
			Score:           score,
			Stars:           scoring.Stars(score),
			CreativeCount:   g.creatives,
			ActiveCount:     g.active,
			PriceBand:       priceBand(g.prices),
			RecommendedGeos: geos,
			UpdatedAt:       b.now.UTC(),
		}
		card.Reasons = reasons(g, geos)
		cards = append(cards, card)
	}
	sort.SliceStable(cards, func(i, j int) bool {
		if cards[i].Score != cards[j].Score {
			return cards[i].Score > cards[j].Score
		}
		return cards[i].ProductHash < cards[j].ProductHash
	})
	return cards
}

// priceBand renders the spread of prices in the most common currency.
func priceBand(prices []extract.Price) string {
	if len(prices) == 0 {
		return ""
	}
	currencies := tally{}
	for _, p := range prices {
		currencies.add(p.Currency)
	}
	cur := currencies.first()

	var lo, hi decimal.Decimal
	seen := false
	for _, p := range prices {
		if p.Currency != cur {
			continue
		}
		if !seen || p.Amount.LessThan(lo) {
			lo = p.Amount
		}
		if !seen || p.Amount.GreaterThan(hi) {
			hi = p.Amount
		}
		seen = true
	}

	band := lo.StringFixed(2)
	if !lo.Equal(hi) {
		band += "-" + hi.StringFixed(2)
	}
	if cur != "" {
		band += " " + cur
	}
	return band
}

func reasons(g *group, geos []string) []string {
	out := []string{}
	if g.maxVariants > 1 {
		out = append(out, fmt.Sprintf("%d creative variants in rotation", g.maxVariants))
	}
	if g.maxDays >= 30 {
		out = append(out, fmt.Sprintf("running for %d days", g.maxDays))
	}
	if g.maxVisits > 0 {
		out = append(out, fmt.Sprintf("about %s monthly visits", humanize.Comma(g.maxVisits)))
	}
	if g.creatives > 1 {
		out = append(out, fmt.Sprintf("%d of %d creatives active", g.active, g.creatives))
	}
	if g.spark {
		out = append(out, "creator-led spark ad")
	}
	if len(geos) > 0 {
		out = append(out, "strongest in "+strings.Join(geos, ", "))
	}
	return out
}

// tally counts values and remembers first-seen order for ties.
type tally map[string]*tallyEntry

type tallyEntry struct {
	count int
	seq   int
}

func (t tally) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	if e, ok := t[v]; ok {
		e.count++
		return
	}
	t[v] = &tallyEntry{count: 1, seq: len(t)}
}

// sorted returns values by count descending, first-seen first on ties.
func (t tally) sorted() []string {
	vals := make([]string, 0, len(t))
	for v := range t {
		vals = append(vals, v)
	}
	sort.Slice(vals, func(i, j int) bool {
		a, b := t[vals[i]], t[vals[j]]
		if a.count != b.count {
			return a.count > b.count
		}
		return a.seq < b.seq
	})
	return vals
}

func (t tally) first() string {
	if s := t.sorted(); len(s) > 0 {
		return s[0]
	}
	return ""
}

func (t tally) top(n int) []string {
	s := t.sorted()
	if len(s) > n {
		s = s[:n]
	}
	return s
}
