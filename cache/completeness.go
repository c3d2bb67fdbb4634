package cache

import (
	"encoding/json"
	"time"
)

// DefaultDateKeys are the field names scanned for day markers.
var DefaultDateKeys = []string{"date", "time", "timeStamp", "timestamp", "lastUpdated", "date_time"}

const (
	// Numbers above this are taken to be epoch milliseconds.
	epochMillisThreshold = 3e10
	// 2000-01-01T00:00:00Z; smaller numbers are not treated as timestamps.
	minEpochSeconds = 946684800
)

// DateFieldExtractor scans any nested maps and arrays for values stored under
// date-like keys. It knows nothing about endpoint schemas.
type DateFieldExtractor struct {
	Keys     []string
	Location *time.Location
}

// ExtractDatesForMonth implements DateExtractor.
func (x DateFieldExtractor) ExtractDatesForMonth(payload any, year int, month time.Month) map[string]struct{} {
	keys := x.Keys
	if len(keys) == 0 {
		keys = DefaultDateKeys
	}
	wanted := make(map[string]bool, len(keys))
	for _, k := range keys {
		wanted[k] = true
	}

	prefix := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format(monthLayout)
	days := make(map[string]struct{})

	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			for k, child := range t {
				if wanted[k] {
					if day, ok := x.normalize(child); ok && day[:monthKeyLen] == prefix {
						days[day] = struct{}{}
					}
				}
				walk(child)
			}
		case []any:
			for _, child := range t {
				walk(child)
			}
		}
	}
	walk(payload)
	return days
}

// normalize turns a date-ish value into YYYY-MM-DD.
func (x DateFieldExtractor) normalize(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		if len(t) < dayKeyLen {
			return "", false
		}
		day := t[:dayKeyLen]
		if _, err := time.Parse(dayLayout, day); err != nil {
			return "", false
		}
		return day, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return "", false
		}
		return x.epochDay(f)
	case float64:
		return x.epochDay(t)
	}
	return "", false
}

func (x DateFieldExtractor) epochDay(f float64) (string, bool) {
	if f > epochMillisThreshold {
		f /= 1000
	}
	if f <= minEpochSeconds {
		return "", false
	}
	loc := x.Location
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(int64(f), 0).In(loc).Format(dayLayout), true
}

// CompletenessDetector decides whether a payload fully covers its date key.
type CompletenessDetector struct {
	Extractor DateExtractor
}

// IsComplete reports whether payload is final for date. Day keys are complete
// by construction; month keys need a day marker for every day of the month.
func (d CompletenessDetector) IsComplete(payload any, date string) bool {
	if !isMonthKey(date) {
		return true
	}
	start, err := time.Parse(monthLayout, date)
	if err != nil {
		return false
	}
	ex := d.Extractor
	if ex == nil {
		ex = DateFieldExtractor{}
	}
	found := ex.ExtractDatesForMonth(payload, start.Year(), start.Month())
	return len(found) == daysIn(start.Year(), start.Month())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
