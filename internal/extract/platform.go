package extract

import (
	"context"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Store platforms reported when nothing specific is recognised.
const (
	PlatformCustom  = "custom"
	PlatformUnknown = "unknown"
)

type platformSignature struct {
	name    string
	html    []*regexp.Regexp
	headers []string
}

func res(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// signatures are checked in order; the first hit wins.
var signatures = []platformSignature{
	{"shopify", res(`Shopify\.shop`, `cdn\.shopify\.com`, `shopify-section`, `shopifycdn\.com`, `monorail-edge\.shopifysvc\.com`, `<meta[^>]*shopify-digital-wallet`), []string{"X-Shopid", "X-Shopify-Stage"}},
	{"wix", res(`_wix`, `static\.wixstatic\.com`, `wix\.com`, `X-Wix-`), []string{"X-Wix-Request-Id", "X-Wix-Renderer-Server"}},
	{"woocommerce", res(`wp-content/plugins/woocommerce`, `woocommerce`, `<meta[^>]*generator[^>]*woocommerce`), nil},
	{"squarespace", res(`squarespace\.com`, `static1\.squarespace\.com`, `Squarespace\.SQUARESPACE_CONTEXT`), nil},
	{"bigcommerce", res(`bigcommerce\.com`, `cdn[0-9]*\.bigcommerce\.com`), []string{"X-Bc-Storefront-Origin"}},
	{"wordpress", res(`wp-content`, `wp-includes`, `wordpress`, `<meta[^>]*generator[^>]*wordpress`), nil},
	{"magento", res(`Mage\.Cookies`, `/static/frontend/`, `var/magento`), []string{"X-Magento-Cache-Id"}},
	{"prestashop", res(`prestashop`, `content_only=1`), nil},
	{"webflow", res(`webflow\.com`, `assets\.website-files\.com`), nil},
}

// DetectPlatform identifies the store technology from page HTML and response
// headers. It returns PlatformUnknown when there is nothing to inspect and
// PlatformCustom when nothing matched.
func DetectPlatform(html string, headers http.Header) string {
	if html == "" && len(headers) == 0 {
		return PlatformUnknown
	}
	for _, sig := range signatures {
		for _, re := range sig.html {
			if re.MatchString(html) {
				return sig.name
			}
		}
		for _, h := range sig.headers {
			if headers.Get(h) != "" {
				return sig.name
			}
		}
	}
	return PlatformCustom
}

const maxPageBytes = 512 << 10

// Detector fetches landing pages and runs DetectPlatform on them.
type Detector struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// NewDetector returns a Detector issuing at most rps requests per second.
func NewDetector(timeout time.Duration, rps float64) *Detector {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if rps <= 0 {
		rps = 5
	}
	return &Detector{
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), 1),
		userAgent: "Mozilla/5.0 (compatible; adradar/1.0)",
	}
}

// Detect fetches landingURL and reports its store platform.
func (d *Detector) Detect(ctx context.Context, landingURL string) (string, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return "", eris.Wrap(err, "extract: platform rate limit")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, landingURL, nil)
	if err != nil {
		return "", eris.Wrap(err, "extract: platform request")
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", eris.Wrapf(err, "extract: fetch %s", landingURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return "", eris.Errorf("extract: fetch %s: status %d", landingURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", eris.Wrap(err, "extract: read page")
	}
	return DetectPlatform(strings.ToValidUTF8(string(body), ""), resp.Header), nil
}
