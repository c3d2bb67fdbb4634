package cache

import (
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gme", "data", "2024-03-15_10-30_deadbeef.json.gz")
	entry := &Entry{
		Data:     json.RawMessage(`{"prices":[1.5,2,3]}`),
		Source:   "gme",
		Endpoint: "data",
		Date:     "2024-03-15",
		DataHash: "deadbeef",
	}
	require.NoError(t, writeEntry(path, entry))

	got := readEntry(zerolog.Nop(), path)
	require.NotNil(t, got)
	assert.Equal(t, entry, got)

	// On disk it is gzip-compressed, indented JSON with the documented keys.
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	var envelope map[string]any
	require.NoError(t, json.NewDecoder(zr).Decode(&envelope))
	assert.ElementsMatch(t, []string{"data", "source", "endpoint", "date", "data_hash"}, keysOf(envelope))

	leftovers, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, leftovers, 1, "temp file must be renamed away")
}

func TestReadEntryCorrupt(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing", func(t *testing.T) {
		assert.Nil(t, readEntry(zerolog.Nop(), filepath.Join(dir, "nope.json.gz")))
	})

	t.Run("not gzip", func(t *testing.T) {
		p := filepath.Join(dir, "plain.json.gz")
		require.NoError(t, os.WriteFile(p, []byte(`{"data":1}`), 0o644))
		assert.Nil(t, readEntry(zerolog.Nop(), p))
	})

	t.Run("bad json", func(t *testing.T) {
		p := filepath.Join(dir, "bad.json.gz")
		f, err := os.Create(p)
		require.NoError(t, err)
		zw := gzip.NewWriter(f)
		_, _ = zw.Write([]byte(`{"data": [1, 2`))
		require.NoError(t, zw.Close())
		require.NoError(t, f.Close())
		assert.Nil(t, readEntry(zerolog.Nop(), p))
	})
}

func TestWriteEntryFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "gme")
	require.NoError(t, os.WriteFile(blocker, []byte("file, not dir"), 0o644))

	err := writeEntry(filepath.Join(blocker, "data", "2024-03-15_10-30.json.gz"), &Entry{Data: json.RawMessage(`1`)})
	assert.Error(t, err)
}

func keysOf(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
