package traffic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/adradar/internal/resilience"
)

const defaultSpyFuURL = "https://api.spyfu.com/apis/domain_stats_api/v2/getAllDomainStats"

type spyfuResponse struct {
	Results []spyfuMonth `json:"results"`
	Message string       `json:"message"`
}

type spyfuMonth struct {
	SearchYear           int     `json:"searchYear"`
	SearchMonth          int     `json:"searchMonth"`
	MonthlyOrganicClicks float64 `json:"monthlyOrganicClicks"`
}

// SpyFuOption configures a SpyFu client.
type SpyFuOption func(*SpyFu)

// WithBaseURL overrides the domain stats endpoint.
func WithBaseURL(u string) SpyFuOption {
	return func(s *SpyFu) { s.baseURL = u }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) SpyFuOption {
	return func(s *SpyFu) { s.http = hc }
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) SpyFuOption {
	return func(s *SpyFu) {
		if rps > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithRetry sets the retry policy for transient failures.
func WithRetry(p resilience.RetryPolicy) SpyFuOption {
	return func(s *SpyFu) { s.retry = p }
}

// WithBreaker guards calls with a circuit breaker.
func WithBreaker(b *resilience.Breaker) SpyFuOption {
	return func(s *SpyFu) { s.breaker = b }
}

// SpyFu estimates visits from the SpyFu domain stats API.
type SpyFu struct {
	baseURL string
	apiID   string
	secret  string
	http    *http.Client
	limiter *rate.Limiter
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
}

// NewSpyFu builds a client. apiKey is "id:secret"; a key without a colon is
// sent as a bare secret and requests go out unauthenticated.
func NewSpyFu(apiKey string, opts ...SpyFuOption) *SpyFu {
	s := &SpyFu{
		baseURL: defaultSpyFuURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(1, 1),
		retry:   resilience.DefaultRetryPolicy(),
		breaker: resilience.NewBreaker("spyfu", 5, time.Minute),
	}
	if id, secret, ok := strings.Cut(apiKey, ":"); ok {
		s.apiID, s.secret = id, secret
	} else {
		s.secret = apiKey
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.LogRetry("spyfu", "domain_stats")
	}
	return s
}

// Estimate returns the visits estimate for domain. Upstream failures that
// survive the retries degrade to a failed Result.
func (s *SpyFu) Estimate(ctx context.Context, domain string) (Result, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return Failed(domain), nil
	}

	clicks, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (int64, error) {
		return resilience.Guard(ctx, s.breaker, func(ctx context.Context) (int64, error) {
			return s.organicClicks(ctx, domain)
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return Failed(domain), ctx.Err()
		}
		zap.L().Debug("spyfu: estimate failed", zap.String("domain", domain), zap.Error(err))
		return Failed(domain), nil
	}
	if clicks <= 0 {
		return Failed(domain), nil
	}

	visits := VisitsFromClicks(clicks)
	return Result{Domain: domain, Status: StatusOK, Visits: &visits}, nil
}

// organicClicks fetches the latest month's organic clicks.
func (s *SpyFu) organicClicks(ctx context.Context, domain string) (int64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, eris.Wrap(err, "spyfu: rate limit")
	}

	q := url.Values{"domain": {domain}, "format": {"json"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, eris.Wrap(err, "spyfu: build request")
	}
	req.Header.Set("Accept", "application/json")
	if s.apiID != "" && s.secret != "" {
		req.SetBasicAuth(s.apiID, s.secret)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "spyfu: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("spyfu: status %d for %s", resp.StatusCode, domain)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return 0, resilience.Transient(err, resp.StatusCode)
		}
		return 0, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, resilience.Transient(eris.Wrap(err, "spyfu: read body"), 0)
	}

	var out spyfuResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, eris.Wrap(err, "spyfu: parse response")
	}
	latest, ok := latestMonth(out.Results)
	if !ok {
		return 0, nil
	}
	return int64(latest.MonthlyOrganicClicks), nil
}

func latestMonth(months []spyfuMonth) (spyfuMonth, bool) {
	if len(months) == 0 {
		return spyfuMonth{}, false
	}
	best := months[0]
	for _, m := range months[1:] {
		if m.SearchYear > best.SearchYear || (m.SearchYear == best.SearchYear && m.SearchMonth > best.SearchMonth) {
			best = m
		}
	}
	return best, true
}
