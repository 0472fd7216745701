package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(GateRejections.WithLabelValues("spam_lexicon"))
	GateRejections.WithLabelValues("spam_lexicon").Inc()
	assert.InDelta(t, before+1, testutil.ToFloat64(GateRejections.WithLabelValues("spam_lexicon")), 1e-9)

	Creatives.Set(42)
	assert.InDelta(t, 42, testutil.ToFloat64(Creatives), 1e-9)
}

func TestObservePass(t *testing.T) {
	ObservePass("test", time.Now().Add(-2*time.Second))
	assert.GreaterOrEqual(t, testutil.CollectAndCount(PassDuration, "adradar_pass_duration_seconds"), 1)
}
