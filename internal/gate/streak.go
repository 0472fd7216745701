package gate

// DefaultStreakLimit is the number of consecutive rejections after which a
// discovery query is abandoned.
const DefaultStreakLimit = 100

// Streak counts consecutive rejections for one discovery query. It is a
// scraping-efficiency signal for the caller; the gate itself never consults
// it. A Streak is not safe for concurrent use.
type Streak struct {
	limit int
	run   int
}

// NewStreak returns a counter that trips after limit consecutive rejections.
// A non-positive limit uses DefaultStreakLimit.
func NewStreak(limit int) *Streak {
	if limit <= 0 {
		limit = DefaultStreakLimit
	}
	return &Streak{limit: limit}
}

// Record notes one verdict and reports whether the query should be abandoned.
func (s *Streak) Record(accepted bool) bool {
	if accepted {
		s.run = 0
		return false
	}
	s.run++
	return s.run >= s.limit
}

// Run returns the current consecutive-rejection count.
func (s *Streak) Run() int {
	return s.run
}
