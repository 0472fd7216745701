package traffic

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/adradar/internal/fingerprint"
)

// Resolver finds the domain a landing URL finally lands on after redirects.
type Resolver struct {
	client *http.Client
}

// NewResolver returns a Resolver that follows at most five redirects.
func NewResolver(timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{client: &http.Client{
		Timeout: timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 5 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}}
}

// Domain returns the final domain for landingURL, or the literal domain of
// landingURL when the request fails.
func (r *Resolver) Domain(ctx context.Context, landingURL string) string {
	fallback := fingerprint.Domain(landingURL)
	if fallback == "" {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, landingURL, nil)
	if err != nil {
		return fallback
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; adradar/1.0)")

	resp, err := r.client.Do(req)
	if err != nil {
		zap.L().Debug("traffic: resolve failed", zap.String("url", landingURL), zap.Error(err))
		return fallback
	}
	defer resp.Body.Close() //nolint:errcheck

	if final := fingerprint.Domain(resp.Request.URL.String()); final != "" {
		return final
	}
	return fallback
}
