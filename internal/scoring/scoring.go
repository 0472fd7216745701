// Package scoring turns a creative's variant count, age and traffic into a
// 0-100 opportunity score and a 1-5 star rating.
package scoring

import (
	"math"
	"time"

	"github.com/sells-group/adradar/internal/model"
)

// Params holds the reference constants and component weights.
type Params struct {
	// V95 is the monthly-visits value treated as full traffic credit.
	V95 float64
	// AgePlateauDays is the age at which an ad counts as proven.
	AgePlateauDays float64
	// AgeHorizonDays scales the log bonus for ads older than the plateau.
	AgeHorizonDays float64
	// DupHalf is the duplicate count that earns half credit.
	DupHalf float64

	DupWeight    float64
	AgeWeight    float64
	VisitsWeight float64
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		V95:            10_000_000,
		AgePlateauDays: 120,
		AgeHorizonDays: 365,
		DupHalf:        5,
		DupWeight:      0.45,
		AgeWeight:      0.35,
		VisitsWeight:   0.20,
	}
}

// Input is everything the score depends on.
type Input struct {
	VariantCount  int
	DaysRunning   int
	MonthlyVisits *int64
}

// Result is a scored input with its component sub-scores.
type Result struct {
	Dup    float64 `json:"dup_score"`
	Age    float64 `json:"age_score"`
	Visits float64 `json:"visits_score"`
	Total  int     `json:"total_score"`
	Stars  int     `json:"stars"`
}

// VisitsScore saturates log traffic against V95. Nil or non-positive is 0.
func (p Params) VisitsScore(visits *int64) float64 {
	if visits == nil || *visits <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(float64(*visits))/math.Log1p(p.V95))
}

// AgeScore ramps linearly to the plateau, then adds a small log bonus.
// The result never exceeds 1.
func (p Params) AgeScore(days int) float64 {
	if days <= 0 {
		return 0
	}
	d := float64(days)
	a := math.Min(d, p.AgePlateauDays) / p.AgePlateauDays

	var bonus float64
	if d > p.AgePlateauDays {
		bonus = math.Min(0.1, math.Log1p(d-p.AgePlateauDays)/math.Log(1+p.AgeHorizonDays-p.AgePlateauDays)) * 0.2
	}
	return math.Min(1, a+bonus)
}

// DupScore is 1 - e^(-k*n) with k chosen so DupHalf duplicates earn 0.5.
func (p Params) DupScore(dups int) float64 {
	if dups < 0 {
		return 0
	}
	k := math.Ln2 / p.DupHalf
	return 1 - math.Exp(-k*float64(dups))
}

// Score combines the sub-scores. Variant count is self-inclusive, so one
// variant means zero duplicates.
func (p Params) Score(in Input) Result {
	variants := in.VariantCount
	if variants < 1 {
		variants = 1
	}
	r := Result{
		Dup:    p.DupScore(variants - 1),
		Age:    p.AgeScore(in.DaysRunning),
		Visits: p.VisitsScore(in.MonthlyVisits),
	}
	r.Total = int(math.Round(100 * (p.DupWeight*r.Dup + p.AgeWeight*r.Age + p.VisitsWeight*r.Visits)))
	if r.Total < 0 {
		r.Total = 0
	}
	if r.Total > 100 {
		r.Total = 100
	}
	r.Stars = Stars(r.Total)
	return r
}

// Stars maps a total score onto 1-5 stars.
func Stars(total int) int {
	switch {
	case total >= 80:
		return 5
	case total >= 60:
		return 4
	case total >= 40:
		return 3
	case total >= 20:
		return 2
	default:
		return 1
	}
}

// InputFor extracts the scoring input from a stored creative.
func InputFor(c *model.Creative, now time.Time) Input {
	return Input{
		VariantCount:  c.VariantCount,
		DaysRunning:   c.DaysRunning(now),
		MonthlyVisits: c.MonthlyVisits,
	}
}

// Apply rescores c in place and reports whether its score changed.
func (p Params) Apply(c *model.Creative, now time.Time) bool {
	r := p.Score(InputFor(c, now))
	if r.Total == c.TotalScore && r.Stars == c.Stars {
		return false
	}
	c.TotalScore = r.Total
	c.Stars = r.Stars
	return true
}
