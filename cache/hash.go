package cache

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

const hashLen = 8

// ContentHash returns the 8-hex-char digest stored alongside a payload: MD5
// over the key-sorted JSON form of data. Numbers are rendered the way Python
// prints them, so 1.50 and 1.5 hash alike while 1 and 1.0 do not.
func ContentHash(data any) (string, error) {
	raw, err := toRaw(data)
	if err != nil {
		return "", err
	}
	v, err := decodeGeneric(raw)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	writeCanonical(&buf, v)
	sum := md5.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:])[:hashLen], nil
}

// toRaw turns a fetched value into compact JSON bytes.
func toRaw(data any) (json.RawMessage, error) {
	var raw []byte
	switch v := data.(type) {
	case json.RawMessage:
		raw = v
	default:
		var enc bytes.Buffer
		e := json.NewEncoder(&enc)
		e.SetEscapeHTML(false)
		if err := e.Encode(data); err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		raw = enc.Bytes()
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeGeneric decodes JSON into maps, slices and json.Number values.
func decodeGeneric(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// writeCanonical renders v the way files written by earlier deployments were
// hashed: sorted keys, ", " and ": " separators, ASCII-only strings.
func writeCanonical(buf *bytes.Buffer, v any) {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(t))
	case json.Number:
		buf.WriteString(canonicalNumber(t))
	case string:
		writeASCIIString(buf, t)
	case []any:
		buf.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeCanonical(buf, item)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeASCIIString(buf, k)
			buf.WriteString(": ")
			writeCanonical(buf, t[k])
		}
		buf.WriteByte('}')
	default:
		b, _ := json.Marshal(t)
		buf.Write(b)
	}
}

func writeASCIIString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r >= 0x20 && r <= 0x7e {
				buf.WriteRune(r)
				continue
			}
			if r == utf8.RuneError || r <= 0xffff {
				fmt.Fprintf(buf, `\u%04x`, r)
				continue
			}
			r -= 0x10000
			fmt.Fprintf(buf, `\u%04x\u%04x`, 0xd800+(r>>10), 0xdc00+(r&0x3ff))
		}
	}
	buf.WriteByte('"')
}

// canonicalNumber prints an integer literal as is and any other number as
// Python's float repr: shortest round-trip digits, fixed notation for decimal
// exponents in [-4, 16), a trailing ".0" on whole values, two-digit signed
// exponents otherwise.
func canonicalNumber(n json.Number) string {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if strings.TrimLeft(text, "-0") == "" {
			return "0"
		}
		return text
	}

	f, err := strconv.ParseFloat(text, 64)
	switch {
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case err != nil:
		return text
	}

	sign := ""
	if math.Signbit(f) {
		sign = "-"
		f = -f
	}
	mant, exp, _ := strings.Cut(strconv.FormatFloat(f, 'e', -1, 64), "e")
	digits := strings.Replace(mant, ".", "", 1)
	e10, _ := strconv.Atoi(exp)
	point := e10 + 1

	switch {
	case point > -4 && point <= 16:
		switch {
		case point <= 0:
			return sign + "0." + strings.Repeat("0", -point) + digits
		case point >= len(digits):
			return sign + digits + strings.Repeat("0", point-len(digits)) + ".0"
		default:
			return sign + digits[:point] + "." + digits[point:]
		}
	default:
		out := digits[:1]
		if len(digits) > 1 {
			out += "." + digits[1:]
		}
		expSign := "+"
		if e10 < 0 {
			expSign = "-"
			e10 = -e10
		}
		return fmt.Sprintf("%s%se%s%02d", sign, out, expSign, e10)
	}
}
