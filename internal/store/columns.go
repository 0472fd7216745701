package store

import (
	"fmt"
	"strings"

	"github.com/sells-group/adradar/internal/model"
)

// creativeColumns lists every persisted creative column except id, in the
// order creativeArgs and scanCreative use.
var creativeColumns = []string{
	"creative_hash", "platform", "advertiser_name", "page_id", "caption",
	"landing_url", "domain", "video_url", "video_key", "image_url",
	"country", "search_query", "product_name", "product_price", "platform_type",
	"category", "monthly_visits", "is_spark_ad", "product_hash",
	"first_seen", "last_seen", "started_running_on",
	"is_active", "missing_count", "delivery_status", "delivery_stop_time", "detection_method",
	"creative_variant_count", "total_score", "stars",
}

var selectCreative = "SELECT id, " + strings.Join(creativeColumns, ", ") + " FROM creatives"

// nullIfEmpty stores "" as NULL so the partial unique index on video_key
// ignores creatives without media.
func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func creativeArgs(c *model.Creative) []any {
	return []any{
		c.CreativeHash, c.Platform, c.AdvertiserName, c.PageID, c.Caption,
		c.LandingURL, c.Domain, c.VideoURL, nullIfEmpty(c.VideoKey), c.ImageURL,
		c.Country, c.SearchQuery, c.ProductName, c.ProductPrice, c.PlatformType,
		c.Category, c.MonthlyVisits, c.IsSparkAd, c.ProductHash,
		c.FirstSeen.UTC(), c.LastSeen.UTC(), utcPtr(c.StartedRunningOn),
		c.IsActive, c.MissingCount, string(c.DeliveryStatus), utcPtr(c.DeliveryStopTime), string(c.DetectionMethod),
		c.VariantCount, c.TotalScore, c.Stars,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

// scanCreative reads a row produced by selectCreative. Extra destinations
// receive any trailing columns.
func scanCreative(row scannable, extra ...any) (*model.Creative, error) {
	var c model.Creative
	var videoKey *string
	var status, method string

	dest := []any{
		&c.ID,
		&c.CreativeHash, &c.Platform, &c.AdvertiserName, &c.PageID, &c.Caption,
		&c.LandingURL, &c.Domain, &c.VideoURL, &videoKey, &c.ImageURL,
		&c.Country, &c.SearchQuery, &c.ProductName, &c.ProductPrice, &c.PlatformType,
		&c.Category, &c.MonthlyVisits, &c.IsSparkAd, &c.ProductHash,
		&c.FirstSeen, &c.LastSeen, &c.StartedRunningOn,
		&c.IsActive, &c.MissingCount, &status, &c.DeliveryStopTime, &method,
		&c.VariantCount, &c.TotalScore, &c.Stars,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if videoKey != nil {
		c.VideoKey = *videoKey
	}
	c.DeliveryStatus = model.DeliveryStatus(status)
	c.DetectionMethod = model.DetectionMethod(method)
	return &c, nil
}

// placeholderFunc renders the n-th (1-based) bind parameter.
type placeholderFunc func(n int) string

func dollar(n int) string   { return fmt.Sprintf("$%d", n) }
func question(_ int) string { return "?" }

func insertCreativeSQL(ph placeholderFunc) string {
	params := make([]string, len(creativeColumns))
	for i := range creativeColumns {
		params[i] = ph(i + 1)
	}
	return "INSERT INTO creatives (" + strings.Join(creativeColumns, ", ") +
		") VALUES (" + strings.Join(params, ", ") + ")"
}

func updateCreativeSQL(ph placeholderFunc) string {
	sets := make([]string, len(creativeColumns))
	for i, col := range creativeColumns {
		sets[i] = col + " = " + ph(i+1)
	}
	return "UPDATE creatives SET " + strings.Join(sets, ", ") +
		" WHERE id = " + ph(len(creativeColumns)+1)
}

func updateScoresSQL(ph placeholderFunc) string {
	return "UPDATE creatives SET creative_variant_count = " + ph(1) + ", total_score = " + ph(2) +
		", stars = " + ph(3) + " WHERE id = " + ph(4)
}

func scoreArgs(u model.ScoreUpdate) []any {
	return []any{u.VariantCount, u.TotalScore, u.Stars, u.ID}
}

func updateLifecycleSQL(ph placeholderFunc) string {
	return "UPDATE creatives SET is_active = " + ph(1) + ", missing_count = " + ph(2) +
		", last_seen = " + ph(3) + ", delivery_status = " + ph(4) +
		", delivery_stop_time = " + ph(5) + ", detection_method = " + ph(6) +
		" WHERE id = " + ph(7)
}

func lifecycleArgs(u model.LifecycleUpdate) []any {
	return []any{u.IsActive, u.MissingCount, u.LastSeen.UTC(), string(u.DeliveryStatus),
		utcPtr(u.DeliveryStopTime), string(u.DetectionMethod), u.ID}
}

// applyFillsSQL only fills columns that are still empty when the statement
// runs, so a value merged by a concurrent writer is never replaced.
func applyFillsSQL(ph placeholderFunc) string {
	return "UPDATE creatives SET" +
		" category = CASE WHEN category = '' THEN " + ph(1) + " ELSE category END," +
		" product_price = CASE WHEN product_price = '' THEN " + ph(2) + " ELSE product_price END," +
		" platform_type = CASE WHEN platform_type IN ('', 'custom', 'unknown') THEN COALESCE(NULLIF(" + ph(3) + ", ''), platform_type) ELSE platform_type END," +
		" monthly_visits = CASE WHEN monthly_visits IS NULL OR monthly_visits <= 0 THEN COALESCE(" + ph(4) + ", monthly_visits) ELSE monthly_visits END" +
		" WHERE id = " + ph(5)
}

func fillArgs(u model.FillUpdate) []any {
	return []any{u.Category, u.ProductPrice, u.PlatformType, u.MonthlyVisits, u.ID}
}

// adWhere renders the AdFilter predicate. like is the case-insensitive
// match operator for the dialect.
func adWhere(f AdFilter, ph placeholderFunc, like string) (string, []any) {
	var conds []string
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}

	if q := strings.TrimSpace(f.Search); q != "" {
		pattern := "%" + q + "%"
		conds = append(conds, fmt.Sprintf("(search_query %[1]s %[2]s OR advertiser_name %[1]s %[3]s OR caption %[1]s %[4]s)",
			like, next(pattern), next(pattern), next(pattern)))
	}
	if f.Country != "" {
		conds = append(conds, "country = "+next(strings.ToUpper(f.Country)))
	}
	if f.MinScore != nil {
		conds = append(conds, "total_score >= "+next(*f.MinScore))
	}
	if f.IsActive != nil {
		conds = append(conds, "is_active = "+next(*f.IsActive))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

const advertiserTotalExpr = "(SELECT COUNT(*) FROM creatives a WHERE a.advertiser_name = creatives.advertiser_name)"

func adQuerySQL(f AdFilter, ph placeholderFunc, like string) (string, []any) {
	where, args := adWhere(f, ph, like)
	args = append(args, f.PageSize(), max(f.Offset, 0))
	sql := "SELECT id, " + strings.Join(creativeColumns, ", ") + ", " + advertiserTotalExpr +
		" FROM creatives" + where +
		" ORDER BY total_score DESC, id ASC LIMIT " + ph(len(args)-1) + " OFFSET " + ph(len(args))
	return sql, args
}

func adCountSQL(f AdFilter, ph placeholderFunc, like string) (string, []any) {
	where, args := adWhere(f, ph, like)
	return "SELECT COUNT(*) FROM creatives" + where, args
}
