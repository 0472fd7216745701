// Package traffic estimates monthly visits for landing domains.
package traffic

import (
	"context"
)

// Status reports whether an estimate is usable.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Result is one domain estimate. Visits is nil when the estimator has no data.
type Result struct {
	Domain string `json:"domain"`
	Status Status `json:"status"`
	Visits *int64 `json:"estimated_visits,omitempty"`
}

// OK reports whether r carries a visits figure.
func (r Result) OK() bool {
	return r.Status == StatusOK && r.Visits != nil
}

// Failed builds a failed result for domain.
func Failed(domain string) Result {
	return Result{Domain: domain, Status: StatusFailed}
}

// Estimator maps a domain to estimated monthly visits. Implementations
// return a failed Result, not an error, when the upstream has no data.
type Estimator interface {
	Estimate(ctx context.Context, domain string) (Result, error)
}

// Tier multipliers convert organic search clicks into total visits. Small
// sites get most traffic outside search, so the low tier multiplier is highest.
const (
	highTierClicks = 1_500_000
	midTierClicks  = 20_000

	highTierMultiplier = 66
	midTierMultiplier  = 47
	lowTierMultiplier  = 85
)

// Tier names the calibration bucket for a click count.
func Tier(clicks int64) string {
	switch {
	case clicks <= 0:
		return "unknown"
	case clicks >= highTierClicks:
		return "high"
	case clicks >= midTierClicks:
		return "mid"
	default:
		return "low"
	}
}

// VisitsFromClicks converts monthly organic clicks into estimated visits.
func VisitsFromClicks(clicks int64) int64 {
	switch Tier(clicks) {
	case "high":
		return clicks * highTierMultiplier
	case "mid":
		return clicks * midTierMultiplier
	case "low":
		return clicks * lowTierMultiplier
	}
	return 0
}
