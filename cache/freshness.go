package cache

import (
	"strings"
	"time"
)

// FreshnessPolicy decides whether a cache file may still be served.
type FreshnessPolicy struct {
	// TTLs maps a source to its staleness window. Sources without an entry
	// never go stale.
	TTLs     map[string]time.Duration
	Location *time.Location
	Now      func() time.Time
}

func (p FreshnessPolicy) loc() *time.Location {
	if p.Location == nil {
		return time.Local
	}
	return p.Location
}

func (p FreshnessPolicy) now() time.Time {
	if p.Now == nil {
		return time.Now().In(p.loc())
	}
	return p.Now().In(p.loc())
}

// IsFresh reports whether the file at path can be trusted for targetDate.
func (p FreshnessPolicy) IsFresh(path, source, targetDate string) bool {
	written, ok := p.FileTime(path)
	if !ok {
		return false
	}

	// History never expires. This has to win over the TTL, or every access
	// to an old date would refetch it.
	if p.IsHistorical(targetDate) {
		return true
	}

	ttl, ok := p.TTLs[source]
	if !ok {
		return true
	}
	return p.now().Sub(written) < ttl
}

// FileTime parses the timestamp embedded in a cache file name. Month keys
// resolve to the first day of the month.
func (p FreshnessPolicy) FileTime(path string) (time.Time, bool) {
	name, ok := parseFileName(path)
	if !ok {
		return time.Time{}, false
	}
	date := name.Date
	if isMonthKey(date) {
		date += "-01"
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+strings.ReplaceAll(name.Time, "-", ":"), p.loc())
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsHistorical reports whether targetDate lies entirely before today. A month
// key is historical once the whole month has passed. Unparseable dates are
// not historical.
func (p FreshnessPolicy) IsHistorical(targetDate string) bool {
	start, err := parseKeyDate(targetDate, p.loc())
	if err != nil {
		return false
	}
	now := p.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc())

	end := start
	if isMonthKey(targetDate) {
		end = start.AddDate(0, 1, -1)
	}
	return end.Before(today)
}
