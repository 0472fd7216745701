// Package fingerprint derives the identity keys used to deduplicate creatives.
package fingerprint

import (
	"crypto/md5" //nolint:gosec // content digest, not a security boundary
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/sells-group/adradar/internal/model"
)

// NormalizeMediaURL drops everything from the first '?' so that CDN
// tracking parameters do not split one creative into many.
func NormalizeMediaURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// CreativeHash returns the hex MD5 of normalized video, normalized image and
// caption. The second result is false when there is nothing to hash.
func CreativeHash(videoURL, imageURL, caption string) (string, bool) {
	key := strings.TrimSpace(NormalizeMediaURL(videoURL) + NormalizeMediaURL(imageURL) + caption)
	if key == "" {
		return "", false
	}
	sum := md5.Sum([]byte(key)) //nolint:gosec
	return hex.EncodeToString(sum[:]), true
}

// ForObservation fingerprints an observation.
func ForObservation(obs *model.Observation) (string, bool) {
	return CreativeHash(obs.VideoURL, obs.ImageURL, obs.Caption)
}

// DedupKeyFor builds the record-identity key from the observation's media
// reference (video, else image, else poster).
func DedupKeyFor(obs *model.Observation) model.DedupKey {
	return model.DedupKey{
		Platform:   obs.PlatformOrDefault(),
		LandingURL: strings.TrimSpace(obs.LandingURL),
		VideoKey:   NormalizeMediaURL(obs.MediaURL()),
	}
}

// Domain returns the lowercase host of raw without port or leading "www.".
// Scheme-less input is accepted. It returns "" when no host can be parsed.
func Domain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// ProductHash groups creatives for the same product: the first eight hex
// characters of the creative hash joined to the landing domain.
func ProductHash(creativeHash, landingURL string) string {
	prefix := creativeHash
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	if prefix == "" {
		prefix = "nohash"
	}
	domain := Domain(landingURL)
	if domain == "" {
		domain = "unknown-landing"
	}
	return prefix + "-" + domain
}
