package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// intFields are the record fields coerced to integers during
// normalization: identifiers, 0/1 flags, counts and epoch timestamps. The
// API delivers most of them as strings.
var intFields = []string{
	"item_id",
	"resolved_id",
	"favorite",
	"status",
	"time_added",
	"time_updated",
	"time_read",
	"time_favorited",
	"is_article",
	"is_index",
	"has_video",
	"has_image",
	"word_count",
	"time_to_read",
	"listen_duration_estimate",
}

// nullableTimeFields collapse falsy values to NULL. Epoch zero would read
// as 1970 when the real meaning is "never read" / "never favorited".
var nullableTimeFields = []string{"time_read", "time_favorited"}

// Transform normalizes a raw record in place: known numeric fields become
// integers, the two nullable timestamps lose their zero values. Fields
// outside the known set pass through unchanged, so schema drift on the
// source side does not break ingestion.
func Transform(rec map[string]any) error {
	for _, key := range intFields {
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		n, err := toInt64(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}
		rec[key] = n
	}

	for _, key := range nullableTimeFields {
		if v, ok := rec[key]; ok && isFalsy(v) {
			rec[key] = nil
		}
	}
	return nil
}

// SurrogateAuthorID derives a stable integer id from a non-numeric author
// identifier. The result depends on the string alone, so repeated
// ingestions produce the same id across runs and across stores.
func SurrogateAuthorID(name string) int64 {
	sum := sha256.Sum256([]byte(name))
	return int64(binary.BigEndian.Uint64(sum[:8]) & math.MaxInt64)
}

func toInt64(v any) (int64, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", t)
		}
		return n, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("not an integer: %v (%T)", v, v)
	}
}

func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case int64:
		return t == 0
	case float64:
		return t == 0
	case string:
		return t == "" || t == "0"
	case json.Number:
		return t.String() == "0" || t.String() == ""
	default:
		return false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// sqlValue converts a record value to something the driver can bind.
// Nested structures are stored as JSON text, matching how the original
// records carry their image and tag payloads.
func sqlValue(v any) (any, error) {
	switch t := v.(type) {
	case nil, string, int64, float64, bool:
		return v, nil
	case int:
		return int64(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		if f, err := t.Float64(); err == nil {
			return f, nil
		}
		return t.String(), nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("marshal nested value: %w", err)
		}
		return string(b), nil
	default:
		return fmt.Sprint(t), nil
	}
}

// columnType picks a SQLite column affinity for a value.
func columnType(v any) string {
	switch t := v.(type) {
	case int64, int, bool:
		return "INTEGER"
	case float64:
		return "FLOAT"
	case json.Number:
		if _, err := t.Int64(); err == nil {
			return "INTEGER"
		}
		return "FLOAT"
	default:
		return "TEXT"
	}
}
