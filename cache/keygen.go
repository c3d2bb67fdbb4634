package cache

import (
	"crypto/md5"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	fileExt       = ".json.gz"
	timeLayout    = "15-04"
	dayLayout     = "2006-01-02"
	monthLayout   = "2006-01"
	dayKeyLen     = len(dayLayout)
	monthKeyLen   = len(monthLayout)
	tmpFilePrefix = ".tmp-"
)

// KeyFor returns a short correlation id for a cache key. It only tags log
// lines; lookups always go through the file layout.
func KeyFor(source, endpoint, date string) string {
	sum := md5.Sum([]byte(source + ":" + endpoint + ":" + date))
	return fmt.Sprintf("%x", sum)[:16]
}

// PathResolver maps cache keys to file paths under Root.
type PathResolver struct {
	Root     string
	Location *time.Location
	Now      func() time.Time
}

func (r PathResolver) now() time.Time {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	return now().In(loc)
}

// Dir returns the directory holding every file of (source, endpoint).
func (r PathResolver) Dir(source, endpoint string) string {
	return filepath.Join(r.Root, source, endpoint)
}

// Path builds the file path for a key. An empty hhmm means the current local
// time; the hash segment is only added when hash is non-empty.
func (r PathResolver) Path(source, endpoint, date, hhmm, hash string) string {
	if hhmm == "" {
		hhmm = r.now().Format(timeLayout)
	}
	name := date + "_" + hhmm
	if hash != "" {
		name += "_" + hash
	}
	return filepath.Join(r.Dir(source, endpoint), name+fileExt)
}

// FindLatest returns the best file for (source, endpoint, date), or "" when
// there is none. Sealed files win over unsealed ones, then the latest name.
func (r PathResolver) FindLatest(source, endpoint, date string) string {
	return r.find(source, endpoint, date+"_")
}

// FindAt is FindLatest restricted to files written at hhmm.
func (r PathResolver) FindAt(source, endpoint, date, hhmm string) string {
	return r.find(source, endpoint, date+"_"+hhmm)
}

func (r PathResolver) find(source, endpoint, prefix string) string {
	names := r.list(source, endpoint, prefix)
	if len(names) == 0 {
		return ""
	}
	return filepath.Join(r.Dir(source, endpoint), names[0])
}

// list returns matching file names, best candidate first.
func (r PathResolver) list(source, endpoint, prefix string) []string {
	entries, err := os.ReadDir(r.Dir(source, endpoint))
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		names = append(names, name)
	}

	sort.Slice(names, func(i, j int) bool {
		si, sj := segmentCount(names[i]), segmentCount(names[j])
		if si != sj {
			return si > sj
		}
		return names[i] > names[j]
	})
	return names
}

func segmentCount(name string) int {
	return len(strings.Split(strings.TrimSuffix(filepath.Base(name), fileExt), "_"))
}

// fileName holds the parts encoded in a cache file name.
type fileName struct {
	Date string
	Time string
	Hash string
}

// Sealed reports whether the file carries a content hash.
func (f fileName) Sealed() bool { return f.Hash != "" }

func parseFileName(path string) (fileName, bool) {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, fileExt) {
		return fileName{}, false
	}
	parts := strings.Split(strings.TrimSuffix(base, fileExt), "_")
	switch len(parts) {
	case 2:
		return fileName{Date: parts[0], Time: parts[1]}, true
	case 3:
		return fileName{Date: parts[0], Time: parts[1], Hash: parts[2]}, true
	default:
		return fileName{}, false
	}
}

// ValidateKey reports ErrInvalidKey for keys the store would refuse.
func ValidateKey(source, endpoint, date string) error {
	return validateKey(source, endpoint, date)
}

// validateKey rejects keys that would escape the cache root or that carry a
// date in neither the daily nor the monthly form.
func validateKey(source, endpoint, date string) error {
	for _, part := range []string{source, endpoint} {
		if part == "" || part == "." || part == ".." || strings.ContainsAny(part, `/\`) {
			return fmt.Errorf("%w: %q", ErrInvalidKey, part)
		}
	}
	if _, err := parseKeyDate(date, time.UTC); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// parseKeyDate parses a YYYY-MM-DD or YYYY-MM key. Month keys resolve to the
// first day of the month.
func parseKeyDate(date string, loc *time.Location) (time.Time, error) {
	switch len(date) {
	case dayKeyLen:
		return time.ParseInLocation(dayLayout, date, loc)
	case monthKeyLen:
		return time.ParseInLocation(monthLayout, date, loc)
	default:
		return time.Time{}, fmt.Errorf("date %q is neither YYYY-MM-DD nor YYYY-MM", date)
	}
}

func isMonthKey(date string) bool { return len(date) == monthKeyLen }
