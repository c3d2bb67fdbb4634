package cache

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// readEntry decodes a cache file. Missing, truncated or otherwise corrupt
// files are logged and reported as nil so callers treat them as a miss.
func readEntry(log zerolog.Logger, path string) *Entry {
	entry, err := decodeFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("unreadable cache file, treating as miss")
		return nil
	}
	return entry
}

func decodeFile(path string) (*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("gzip header: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("gzip body: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(entry.Data) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, entry.Data); err != nil {
			return nil, fmt.Errorf("compact data: %w", err)
		}
		entry.Data = buf.Bytes()
	}
	return &entry, nil
}

// writeEntry encodes entry as indented JSON, gzips it and moves it into place.
// The file is written next to its destination first, so a reader never sees a
// partial file.
func writeEntry(path string, entry *Entry) error {
	body, err := encodeEnvelope(entry)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tmpFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	zw := gzip.NewWriter(tmp)
	_, err = zw.Write(body)
	if closeErr := zw.Close(); err == nil {
		err = closeErr
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write cache file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

// encodeEnvelope indents entry without HTML-escaping, so Data reads back as
// the exact bytes that were fetched.
func encodeEnvelope(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entry); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
