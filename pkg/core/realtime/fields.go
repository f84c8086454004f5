package realtime

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"time"
)

// Logical field aliases, in priority order. The first alias present with a
// usable value wins.
var (
	itemIDKeys     = []string{"item_id", "itemId"}
	historyIDKeys  = []string{"itemId", "item_id", "id"}
	responseIDKeys = []string{"response_id", "responseId"}
	deltaKeys      = []string{"delta", "text"}
	transcriptKeys = []string{"transcript", "text"}
	createdAtKeys  = []string{"created_at", "createdAt"}
	toolNameKeys   = []string{"name", "tool_name", "toolName"}
	argumentsKeys  = []string{"arguments", "args"}
	outputKeys     = []string{"output", "result"}
)

type fields map[string]json.RawMessage

func parseFields(raw []byte) (fields, bool) {
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil || f == nil {
		return nil, false
	}
	return f, true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// str returns the first alias holding a JSON string.
func (f fields) str(keys ...string) (string, bool) {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok || isNull(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		return s, true
	}
	return "", false
}

// id is str with surrounding whitespace removed and empty values skipped.
func (f fields) id(keys ...string) string {
	for _, k := range keys {
		s, ok := f.str(k)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// text returns the first alias as text. Strings are unquoted; any other JSON
// value is returned in its compact encoding.
func (f fields) text(keys ...string) string {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok || isNull(raw) {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return buf.String()
		}
	}
	return ""
}

func (f fields) object(key string) (fields, bool) {
	raw, ok := f[key]
	if !ok || isNull(raw) {
		return nil, false
	}
	return parseFields(raw)
}

func (f fields) array(keys ...string) ([]json.RawMessage, bool) {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok || isNull(raw) {
			continue
		}
		var out []json.RawMessage
		if err := json.Unmarshal(raw, &out); err != nil {
			continue
		}
		return out, true
	}
	return nil, false
}

// timestamp accepts unix seconds, unix milliseconds or RFC 3339 text.
func (f fields) timestamp(keys ...string) time.Time {
	for _, k := range keys {
		raw, ok := f[k]
		if !ok || isNull(raw) {
			continue
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil && n > 0 && !math.IsInf(n, 0) {
			if n > 1e12 {
				return time.UnixMilli(int64(n)).UTC()
			}
			sec, frac := math.Modf(n)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC()
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
				return ts.UTC()
			}
		}
	}
	return time.Time{}
}
