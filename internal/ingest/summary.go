package ingest

import (
	"github.com/sells-group/adradar/internal/gate"
)

// FailureReason names a best-effort step that produced nothing for an
// accepted observation. The observation is still persisted.
type FailureReason string

const (
	FailureProductName FailureReason = "product_name_unavailable"
	FailurePrice       FailureReason = "price_unparsed"
	FailureStartDate   FailureReason = "start_date_unparsed"
	FailureStopDate    FailureReason = "stop_date_unparsed"
	FailurePlatform    FailureReason = "platform_detect_failed"
	FailureTraffic     FailureReason = "traffic_unavailable"
	FailureWrite       FailureReason = "write_failed"
	FailureRescore     FailureReason = "rescore_failed"
)

// Summary reports one ingest run.
type Summary struct {
	RunID            string                `json:"run_id"`
	Queries          int                   `json:"queries"`
	Observations     int                   `json:"observations"`
	Inserted         int                   `json:"inserted"`
	Updated          int                   `json:"updated"`
	Rejected         map[gate.Reason]int   `json:"rejected"`
	Failures         map[FailureReason]int `json:"failures"`
	AbandonedQueries []string              `json:"abandoned_queries,omitempty"`
	Capped           bool                  `json:"capped"`
}

func newSummary(runID string) *Summary {
	return &Summary{
		RunID:    runID,
		Rejected: make(map[gate.Reason]int),
		Failures: make(map[FailureReason]int),
	}
}

// RejectedTotal sums rejections over all reasons.
func (s *Summary) RejectedTotal() int {
	n := 0
	for _, v := range s.Rejected {
		n += v
	}
	return n
}
