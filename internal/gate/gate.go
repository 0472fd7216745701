// Package gate filters scrape observations that are not single-product
// e-commerce ads before they reach persistence.
package gate

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/adradar/internal/model"
)

// Reason names the rule that rejected an observation.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonMalformed   Reason = "malformed"
	ReasonSocial      Reason = "social_landing"
	ReasonSpam        Reason = "spam_lexicon"
	ReasonMarketplace Reason = "marketplace_landing"
	ReasonEmpty       Reason = "empty"
	ReasonBrokenPage  Reason = "broken_page"
)

// MatchMode controls how spam tokens are matched.
type MatchMode string

const (
	// MatchSubstring flags a token anywhere, including inside longer words.
	MatchSubstring MatchMode = "substring"
	// MatchWord flags a token only on word boundaries.
	MatchWord MatchMode = "word"
)

// Verdict is the result of checking one observation.
type Verdict struct {
	Accepted bool
	Reason   Reason
	// Detail is the token, host or field that triggered the rejection.
	Detail string
	// Spark is set when the landing page is an admitted creator profile.
	Spark bool
}

// Options configures a Gate.
type Options struct {
	Lexicon       Lexicon
	Mode          MatchMode
	AdmitSparkAds bool
}

// Gate applies the validity rules in a fixed order; the first match wins.
type Gate struct {
	lex      Lexicon
	mode     MatchMode
	spark    bool
	validate *validator.Validate
	words    []*regexp.Regexp
	broken   []*regexp.Regexp
}

// maxBrokenNameRunes bounds the product names checked for broken-page
// signatures. Error and login page titles are short.
const maxBrokenNameRunes = 60

// New builds a Gate. An empty mode means substring matching.
func New(opts Options) *Gate {
	g := &Gate{
		lex:      opts.Lexicon,
		mode:     opts.Mode,
		spark:    opts.AdmitSparkAds,
		validate: validator.New(),
	}
	if g.mode == "" {
		g.mode = MatchSubstring
	}
	if g.mode == MatchWord {
		g.words = wordPatterns(g.lex.SpamTokens)
	}
	g.broken = wordPatterns(g.lex.BrokenSignatures)
	return g
}

func wordPatterns(tokens []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(tokens))
	for i, tok := range tokens {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(tok) + `\b`)
	}
	return out
}

// Check runs the rule chain against obs.
func (g *Gate) Check(obs *model.Observation) Verdict {
	if err := g.validate.Struct(obs); err != nil {
		return reject(ReasonMalformed, firstInvalidField(err))
	}

	landing := strings.TrimSpace(obs.LandingURL)
	host := landingHost(landing)

	// 1. Self-referential or social-profile landing.
	spark := false
	if host != "" {
		if g.spark && matchHost(host, g.lex.SparkHosts) != "" {
			spark = true
		} else if h := matchHost(host, g.lex.SocialHosts); h != "" {
			return reject(ReasonSocial, h)
		} else if h := matchHost(host, g.lex.SparkHosts); h != "" {
			return reject(ReasonSocial, h)
		}
	}

	// 2. Spam lexicon.
	for _, field := range []string{obs.AdvertiserName, obs.Caption, obs.ProductName, landing} {
		if tok := g.spamToken(field); tok != "" {
			return reject(ReasonSpam, tok)
		}
	}

	// 3. App store or marketplace aggregator.
	if host != "" {
		if h := matchHost(host, g.lex.MarketplaceHosts); h != "" {
			return reject(ReasonMarketplace, h)
		}
		lower := strings.ToLower(landing)
		for _, p := range g.lex.MarketplacePatterns {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				return reject(ReasonMarketplace, p)
			}
		}
	}

	// 4. Nothing to show and nowhere to go.
	if !obs.HasCreative() && landing == "" {
		return reject(ReasonEmpty, "")
	}

	// 5. Product name scraped from a login wall or error page.
	if sig := g.brokenSignature(obs.ProductName); sig != "" {
		return reject(ReasonBrokenPage, sig)
	}

	return Verdict{Accepted: true, Spark: spark}
}

// CheckCreative re-runs the rule chain against a stored creative, so records
// admitted under an older lexicon can be found and removed.
func (g *Gate) CheckCreative(c *model.Creative) Verdict {
	obs := model.Observation{
		AdvertiserName: c.AdvertiserName,
		Caption:        c.Caption,
		LandingURL:     c.LandingURL,
		VideoURL:       c.VideoURL,
		ImageURL:       c.ImageURL,
		ProductName:    c.ProductName,
	}
	return g.Check(&obs)
}

// IsBrokenProductName reports whether name matches a broken-page signature.
func (g *Gate) IsBrokenProductName(name string) bool {
	return g.brokenSignature(name) != ""
}

func (g *Gate) spamToken(text string) string {
	if text == "" {
		return ""
	}
	if g.mode == MatchWord {
		for i, re := range g.words {
			if re.MatchString(text) {
				return g.lex.SpamTokens[i]
			}
		}
		return ""
	}
	lower := strings.ToLower(text)
	for _, tok := range g.lex.SpamTokens {
		if tok != "" && strings.Contains(lower, strings.ToLower(tok)) {
			return tok
		}
	}
	return ""
}

// brokenSignature matches whole words only, so "Terror Mask" is a product
// and "Server Error" is not.
func (g *Gate) brokenSignature(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxBrokenNameRunes {
		return ""
	}
	for i, re := range g.broken {
		if g.lex.BrokenSignatures[i] != "" && re.MatchString(name) {
			return g.lex.BrokenSignatures[i]
		}
	}
	return ""
}

func reject(reason Reason, detail string) Verdict {
	return Verdict{Reason: reason, Detail: detail}
}

func landingHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// matchHost returns the list entry host equals or is a subdomain of.
func matchHost(host string, list []string) string {
	for _, h := range list {
		h = strings.ToLower(h)
		if host == h || strings.HasSuffix(host, "."+h) {
			return h
		}
	}
	return ""
}

func firstInvalidField(err error) string {
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		return verrs[0].Field()
	}
	return err.Error()
}
