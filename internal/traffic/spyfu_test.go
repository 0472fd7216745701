package traffic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/adradar/internal/resilience"
)

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func newTestSpyFu(t *testing.T, h http.HandlerFunc) (*SpyFu, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	s := NewSpyFu("my-id:my-secret",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000),
		WithRetry(fastRetry()),
		WithBreaker(resilience.NewBreaker("spyfu-test", 100, time.Minute)),
	)
	return s, srv
}

func TestSpyFu_LatestMonth(t *testing.T) {
	s, _ := newTestSpyFu(t, func(w http.ResponseWriter, r *http.Request) {
		id, secret, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "my-id", id)
		assert.Equal(t, "my-secret", secret)
		assert.Equal(t, "gymshark.com", r.URL.Query().Get("domain"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[
			{"searchYear":2025,"searchMonth":11,"monthlyOrganicClicks":1000},
			{"searchYear":2026,"searchMonth":2,"monthlyOrganicClicks":25000.7},
			{"searchYear":2026,"searchMonth":1,"monthlyOrganicClicks":90000}
		]}`))
	})

	r, err := s.Estimate(context.Background(), " Gymshark.com ")
	require.NoError(t, err)
	assert.Equal(t, StatusOK, r.Status)
	require.NotNil(t, r.Visits)
	assert.Equal(t, int64(25000*47), *r.Visits)
	assert.Equal(t, "gymshark.com", r.Domain)
}

func TestSpyFu_NoResults(t *testing.T) {
	s, _ := newTestSpyFu(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results":[],"message":"not found"}`))
	})

	r, err := s.Estimate(context.Background(), "tiny.example")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Nil(t, r.Visits)
}

func TestSpyFu_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	s, _ := newTestSpyFu(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"results":[{"searchYear":2026,"searchMonth":1,"monthlyOrganicClicks":100}]}`))
	})

	r, err := s.Estimate(context.Background(), "shop.example")
	require.NoError(t, err)
	assert.True(t, r.OK())
	assert.Equal(t, int64(8500), *r.Visits)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSpyFu_DegradesAfterRetries(t *testing.T) {
	var calls atomic.Int32
	s, _ := newTestSpyFu(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	r, err := s.Estimate(context.Background(), "shop.example")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSpyFu_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	s, _ := newTestSpyFu(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})

	r, err := s.Estimate(context.Background(), "shop.example")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSpyFu_EmptyDomain(t *testing.T) {
	s := NewSpyFu("secret-only")
	r, err := s.Estimate(context.Background(), "  ")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, r.Status)
	assert.Empty(t, s.apiID)
	assert.Equal(t, "secret-only", s.secret)
}

func TestSpyFu_ContextCancelled(t *testing.T) {
	s, _ := newTestSpyFu(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := s.Estimate(ctx, "shop.example")
	require.Error(t, err)
	assert.Equal(t, StatusFailed, r.Status)
}

func TestLatestMonth(t *testing.T) {
	_, ok := latestMonth(nil)
	assert.False(t, ok)

	m, ok := latestMonth([]spyfuMonth{
		{SearchYear: 2026, SearchMonth: 3},
		{SearchYear: 2026, SearchMonth: 10},
		{SearchYear: 2025, SearchMonth: 12},
	})
	require.True(t, ok)
	assert.Equal(t, 10, m.SearchMonth)
}
