// Package enrich propagates known attributes between creatives that share a
// domain, landing URL or advertiser.
package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/fingerprint"
	"github.com/sells-group/adradar/internal/metrics"
	"github.com/sells-group/adradar/internal/model"
	"github.com/sells-group/adradar/internal/scoring"
)

// DefaultConsensus is the share of specific values a platform needs within a
// group before it is propagated.
const DefaultConsensus = 0.8

// Repository is the slice of the store the post-pass needs.
type Repository interface {
	Scan(ctx context.Context, batchSize int, fn func([]model.Creative) error) error
	ApplyFills(ctx context.Context, fills []model.FillUpdate) error
	UpdateScores(ctx context.Context, updates []model.ScoreUpdate) error
}

// Summary counts the fields a pass filled.
type Summary struct {
	Scanned              int `json:"scanned"`
	Categorized          int `json:"categorized"`
	TrafficShared        int `json:"traffic_shared"`
	PriceShared          int `json:"price_shared"`
	PlatformByDomain     int `json:"platform_by_domain"`
	PlatformByAdvertiser int `json:"platform_by_advertiser"`
	Written              int `json:"written"`
}

// Options tune a Pass.
type Options struct {
	Consensus float64        // default DefaultConsensus
	BatchSize int            // default 1000
	Scoring   scoring.Params // used to rescore creatives whose traffic was filled
}

// Pass is the enrichment post-pass.
type Pass struct {
	repo Repository
	opts Options
}

// NewPass builds a pass over repo.
func NewPass(repo Repository, opts Options) *Pass {
	if opts.Consensus <= 0 || opts.Consensus > 1 {
		opts.Consensus = DefaultConsensus
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	opts.Scoring = opts.Scoring.WithDefaults()
	return &Pass{repo: repo, opts: opts}
}

// genericPlatforms carry no information about the storefront.
var genericPlatforms = map[string]bool{"": true, "custom": true, "unknown": true}

// socialPlatforms describe where the ad points, not what the store runs on.
var socialPlatforms = map[string]bool{
	"instagram": true, "facebook": true, "tiktok": true, "twitter": true, "snapchat": true,
}

func isGenericPlatform(p string) bool {
	return genericPlatforms[strings.ToLower(strings.TrimSpace(p))]
}

// votes tallies specific platform values for one group.
type votes map[string]map[string]int

func (v votes) add(group, platform string) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if group == "" || isGenericPlatform(platform) || socialPlatforms[platform] {
		return
	}
	if v[group] == nil {
		v[group] = make(map[string]int)
	}
	v[group][platform]++
}

// winners returns the platform per group that holds at least share of the votes.
func (v votes) winners(share float64) map[string]string {
	out := make(map[string]string, len(v))
	for group, counts := range v {
		total, best, bestN := 0, "", 0
		for p, n := range counts {
			total += n
			if n > bestN || (n == bestN && p < best) {
				best, bestN = p, n
			}
		}
		if total > 0 && float64(bestN)/float64(total) >= share {
			out[group] = best
		}
	}
	return out
}

// advertiserKey prefers the page id and falls back to the advertiser name.
func advertiserKey(c *model.Creative) string {
	if id := strings.TrimSpace(c.PageID); id != "" {
		return "page:" + id
	}
	if name := strings.ToLower(strings.TrimSpace(c.AdvertiserName)); name != "" {
		return "name:" + name
	}
	return ""
}

func hasTraffic(c *model.Creative) bool {
	return c.MonthlyVisits != nil && *c.MonthlyVisits > 0
}

// platformRow is the slice of a creative the platform layers work on.
type platformRow struct {
	id         int64
	domain     string
	advertiser string
	platform   string
}

type platformFill struct {
	platform string
	layer    string // "domain" or "advertiser"
}

// resolvePlatforms runs the domain layer then the advertiser layer until
// neither fills a row. Values filled by the advertiser layer can complete a
// domain consensus on the next round.
func resolvePlatforms(rows []platformRow, share float64) map[int64]platformFill {
	fills := make(map[int64]platformFill)
	for {
		domainVotes, advertiserVotes := votes{}, votes{}
		for _, r := range rows {
			domainVotes.add(r.domain, r.platform)
		}
		byDomain := domainVotes.winners(share)

		progressed := false
		for i := range rows {
			r := &rows[i]
			if isGenericPlatform(r.platform) {
				if v, ok := byDomain[r.domain]; ok {
					r.platform = v
					fills[r.id] = platformFill{platform: v, layer: "domain"}
					progressed = true
				}
			}
			advertiserVotes.add(r.advertiser, r.platform)
		}
		byAdvertiser := advertiserVotes.winners(share)

		for i := range rows {
			r := &rows[i]
			if isGenericPlatform(r.platform) {
				if v, ok := byAdvertiser[r.advertiser]; ok {
					r.platform = v
					fills[r.id] = platformFill{platform: v, layer: "advertiser"}
					progressed = true
				}
			}
		}
		if !progressed {
			return fills
		}
	}
}

// Run executes the pass: category classification, then traffic by domain,
// price by landing URL, and platform by domain then advertiser. Existing
// specific values are never overwritten, so a second run changes nothing.
func (p *Pass) Run(ctx context.Context, now time.Time) (*Summary, error) {
	log := zap.L().With(zap.String("phase", "enrich"))
	start := time.Now()
	defer metrics.ObservePass("enrich", start)

	// Collect representative traffic and price values and platform rows.
	traffic := make(map[string]int64)
	prices := make(map[string]string)
	var rows []platformRow
	err := p.repo.Scan(ctx, p.opts.BatchSize, func(batch []model.Creative) error {
		for i := range batch {
			c := &batch[i]
			domain := domainOf(c)
			if domain != "" && hasTraffic(c) {
				if _, ok := traffic[domain]; !ok {
					traffic[domain] = *c.MonthlyVisits
				}
			}
			if c.LandingURL != "" && strings.TrimSpace(c.ProductPrice) != "" {
				if _, ok := prices[c.LandingURL]; !ok {
					prices[c.LandingURL] = c.ProductPrice
				}
			}
			rows = append(rows, platformRow{
				id: c.ID, domain: domain, advertiser: advertiserKey(c), platform: c.PlatformType,
			})
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrap(err, "enrich: collect")
	}
	platforms := resolvePlatforms(rows, p.opts.Consensus)

	summary := &Summary{}
	err = p.repo.Scan(ctx, p.opts.BatchSize, func(batch []model.Creative) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var fills []model.FillUpdate
		var rescored []model.ScoreUpdate
		for i := range batch {
			c := batch[i]
			summary.Scanned++
			fill := model.FillUpdate{ID: c.ID}
			dirty := false

			if strings.TrimSpace(c.Category) == "" {
				c.Category = Classify(c.Caption, c.ProductName, c.AdvertiserName, c.LandingURL)
				fill.Category = c.Category
				summary.Categorized++
				metrics.EnrichmentFills.WithLabelValues("category").Inc()
				dirty = true
			}

			if !hasTraffic(&c) {
				if v, ok := traffic[domainOf(&c)]; ok {
					c.MonthlyVisits = &v
					fill.MonthlyVisits = &v
					summary.TrafficShared++
					metrics.EnrichmentFills.WithLabelValues("monthly_visits").Inc()
					if p.opts.Scoring.Apply(&c, now) {
						rescored = append(rescored, model.ScoreUpdateOf(&c))
					}
					dirty = true
				}
			}

			if strings.TrimSpace(c.ProductPrice) == "" {
				if v, ok := prices[c.LandingURL]; ok {
					c.ProductPrice = v
					fill.ProductPrice = v
					summary.PriceShared++
					metrics.EnrichmentFills.WithLabelValues("product_price").Inc()
					dirty = true
				}
			}

			if shared, ok := platforms[c.ID]; ok && isGenericPlatform(c.PlatformType) {
				c.PlatformType = shared.platform
				fill.PlatformType = shared.platform
				if shared.layer == "domain" {
					summary.PlatformByDomain++
				} else {
					summary.PlatformByAdvertiser++
				}
				metrics.EnrichmentFills.WithLabelValues("platform_type").Inc()
				dirty = true
			}

			if dirty {
				fills = append(fills, fill)
			}
		}
		if len(fills) == 0 {
			return nil
		}
		if err := p.repo.ApplyFills(ctx, fills); err != nil {
			return eris.Wrap(err, "enrich: write batch")
		}
		if err := p.repo.UpdateScores(ctx, rescored); err != nil {
			return eris.Wrap(err, "enrich: write scores")
		}
		summary.Written += len(fills)
		return nil
	})
	if err != nil {
		return summary, eris.Wrap(err, "enrich: apply")
	}

	log.Info("enrichment complete",
		zap.Int("scanned", summary.Scanned),
		zap.Int("categorized", summary.Categorized),
		zap.Int("traffic_shared", summary.TrafficShared),
		zap.Int("price_shared", summary.PriceShared),
		zap.Int("platform_by_domain", summary.PlatformByDomain),
		zap.Int("platform_by_advertiser", summary.PlatformByAdvertiser),
		zap.Duration("elapsed", time.Since(start)),
	)
	return summary, nil
}

func domainOf(c *model.Creative) string {
	if c.Domain != "" {
		return c.Domain
	}
	return fingerprint.Domain(c.LandingURL)
}
