// Package extract parses best-effort attributes out of scraped ad fields:
// product names from landing URLs, run dates, prices and store platforms.
// Helpers return an ok flag instead of failing so callers can count misses.
package extract

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NameSource records where a product name came from.
type NameSource string

const (
	NameFromPath   NameSource = "path"
	NameFromSlug   NameSource = "last_segment"
	NameFromDomain NameSource = "domain"
)

var productPathPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/products?/([^/?#]+)`),
	regexp.MustCompile(`(?i)/p/([^/?#]+)`),
	regexp.MustCompile(`(?i)/items?/([^/?#]+)`),
	regexp.MustCompile(`(?i)/shop/([^/?#]+)`),
	regexp.MustCompile(`(?i)/buy/([^/?#]+)`),
	regexp.MustCompile(`(?i)/([^/?#]+)/dp/`),
	regexp.MustCompile(`(?i)/([^/?#]+)/gp/product`),
}

var (
	pageSuffix   = regexp.MustCompile(`(?i)\.(html?|php|aspx?)$`)
	spaceRun     = regexp.MustCompile(`\s+`)
	edgeJunk     = regexp.MustCompile(`^[^a-zA-Z0-9]+|[^a-zA-Z0-9]+$`)
	trackingLike = []*regexp.Regexp{
		regexp.MustCompile(`^[a-z0-9]{16,}$`),
		regexp.MustCompile(`^[A-Z0-9_]+$`),
		regexp.MustCompile(`^v\d+$`),
		regexp.MustCompile(`^\d+$`),
	}
	domainPrefixes = []string{"www.", "shop.", "store.", "stores.", "m.", "latest."}
	titleCaser     = cases.Title(language.English)
)

// ProductNameFromURL derives a readable product name from a landing URL.
// Known e-commerce path shapes win, then a plausible last path segment, then
// the brand part of the domain. ok is false only when the URL has no host.
func ProductNameFromURL(raw string) (string, NameSource, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return "", "", false
	}

	for _, re := range productPathPatterns {
		if m := re.FindStringSubmatch(u.Path); m != nil {
			if name := cleanSlug(m[1]); len(name) > 3 {
				return name, NameFromPath, true
			}
		}
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) > 0 {
		last := segments[len(segments)-1]
		if plausibleSlug(last) {
			if name := cleanSlug(last); name != "" {
				return name, NameFromSlug, true
			}
		}
	}

	return brandFromHost(u.Hostname()), NameFromDomain, true
}

// cleanSlug turns "elevora-100-unrefined-batana-oil" into
// "Elevora 100 Unrefined Batana Oil".
func cleanSlug(slug string) string {
	s := strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	s = pageSuffix.ReplaceAllString(s, "")
	s = spaceRun.ReplaceAllString(s, " ")
	s = edgeJunk.ReplaceAllString(strings.TrimSpace(s), "")
	if s == "" {
		return ""
	}
	return titleCaser.String(strings.ToLower(s))
}

// plausibleSlug rejects tracking codes and other segments that are not
// product names.
func plausibleSlug(seg string) bool {
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	seg = pageSuffix.ReplaceAllString(seg, "")
	if len(seg) < 3 {
		return false
	}
	if !strings.ContainsAny(seg, "-_ ") {
		if len(seg) > 20 {
			return false
		}
		if seg == strings.ToLower(seg) && len(seg) < 6 {
			return false
		}
	}
	if !strings.ContainsFunc(seg, unicode.IsLetter) {
		return false
	}
	for _, re := range trackingLike {
		if re.MatchString(seg) {
			return false
		}
	}
	return true
}

func brandFromHost(host string) string {
	host = strings.ToLower(host)
	for _, p := range domainPrefixes {
		host = strings.TrimPrefix(host, p)
	}
	brand, _, _ := strings.Cut(host, ".")
	brand = strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(brand))
	if brand == "" {
		return "Product"
	}
	return titleCaser.String(brand)
}

// InstagramHandle returns the profile handle of an instagram.com landing URL,
// trailing underscores trimmed.
func InstagramHandle(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "instagram.com" && !strings.HasSuffix(host, ".instagram.com") {
		return "", false
	}
	first, _, _ := strings.Cut(strings.Trim(u.Path, "/"), "/")
	first = strings.TrimRight(first, "_")
	if first == "" {
		return "", false
	}
	return first, true
}
