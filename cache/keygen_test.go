package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFor(t *testing.T) {
	k := KeyFor("gme", "data", "2024-03-15")
	assert.Len(t, k, 16)
	assert.Equal(t, k, KeyFor("gme", "data", "2024-03-15"))
	assert.NotEqual(t, k, KeyFor("gme", "data", "2024-03-16"))
}

func TestPath(t *testing.T) {
	clk := newClock("2024-03-15 10:30:00")
	r := PathResolver{Root: "cache", Now: clk.Now}

	assert.Equal(t, filepath.Join("cache", "gme", "data", "2024-03-15_10-30.json.gz"),
		r.Path("gme", "data", "2024-03-15", "", ""))
	assert.Equal(t, filepath.Join("cache", "gme", "data", "2024-03-15_08-05_deadbeef.json.gz"),
		r.Path("gme", "data", "2024-03-15", "08-05", "deadbeef"))
	assert.Equal(t, filepath.Join("cache", "vendor", "month", "2025-06_10-30.json.gz"),
		r.Path("vendor", "month", "2025-06", "", ""))
}

func TestFindLatest(t *testing.T) {
	root := t.TempDir()
	r := PathResolver{Root: root}
	dir := r.Dir("vendor", "daily")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	touch := func(name string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}

	t.Run("missing directory", func(t *testing.T) {
		assert.Empty(t, r.FindLatest("vendor", "nope", "2024-03-15"))
	})

	t.Run("latest unsealed", func(t *testing.T) {
		touch("2024-03-15_09-00.json.gz")
		touch("2024-03-15_10-00.json.gz")
		touch("2024-03-16_11-00.json.gz")
		touch(".tmp-123")
		assert.Equal(t, filepath.Join(dir, "2024-03-15_10-00.json.gz"), r.FindLatest("vendor", "daily", "2024-03-15"))
	})

	t.Run("sealed wins over newer unsealed", func(t *testing.T) {
		touch("2024-03-15_08-00_abcdef12.json.gz")
		assert.Equal(t, filepath.Join(dir, "2024-03-15_08-00_abcdef12.json.gz"), r.FindLatest("vendor", "daily", "2024-03-15"))
	})

	t.Run("month key does not match day files", func(t *testing.T) {
		assert.Empty(t, r.FindLatest("vendor", "daily", "2024-03"))
	})

	t.Run("exact time", func(t *testing.T) {
		assert.Equal(t, filepath.Join(dir, "2024-03-15_09-00.json.gz"), r.FindAt("vendor", "daily", "2024-03-15", "09-00"))
		assert.Empty(t, r.FindAt("vendor", "daily", "2024-03-15", "07-00"))
	})
}

func TestParseFileName(t *testing.T) {
	f, ok := parseFileName("/x/2024-03-15_10-30_deadbeef.json.gz")
	require.True(t, ok)
	assert.Equal(t, fileName{Date: "2024-03-15", Time: "10-30", Hash: "deadbeef"}, f)
	assert.True(t, f.Sealed())

	f, ok = parseFileName("2025-06_10-30.json.gz")
	require.True(t, ok)
	assert.False(t, f.Sealed())

	_, ok = parseFileName("2025-06.json.gz")
	assert.False(t, ok)
	_, ok = parseFileName("2025-06_10-30.json")
	assert.False(t, ok)
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		source, endpoint, date string
		ok                     bool
	}{
		{"gme", "data", "2024-03-15", true},
		{"gme", "data", "2024-03", true},
		{"", "data", "2024-03-15", false},
		{"gme", "", "2024-03-15", false},
		{"..", "data", "2024-03-15", false},
		{"gme", "a/b", "2024-03-15", false},
		{"gme", "data", "2024-3-15", false},
		{"gme", "data", "2024-13", false},
		{"gme", "data", "20240315", false},
	}
	for _, tt := range tests {
		err := validateKey(tt.source, tt.endpoint, tt.date)
		if tt.ok {
			assert.NoError(t, err, "%+v", tt)
		} else {
			assert.True(t, errors.Is(err, ErrInvalidKey), "%+v", tt)
		}
	}
}
