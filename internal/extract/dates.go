package extract

import (
	"regexp"
	"strings"
	"time"
)

var dateLayouts = []string{
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2 2006",
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"01/02/2006",
}

var runPrefix = regexp.MustCompile(`(?i)^\s*(started running on|running since|stopped running on|inactive since|active since)\s*:?\s*`)

// ParseDate reads an ad-library date such as "Started running on Mar 3, 2025"
// or an ISO date. The result is midnight UTC of that calendar day.
func ParseDate(raw string) (time.Time, bool) {
	s := runPrefix.ReplaceAllString(strings.TrimSpace(raw), "")
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// ParseDatePtr is ParseDate returning nil when raw is empty or unparseable.
// ok is false only when raw was non-empty and could not be parsed.
func ParseDatePtr(raw string) (*time.Time, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, true
	}
	t, ok := ParseDate(raw)
	if !ok {
		return nil, false
	}
	return &t, true
}
