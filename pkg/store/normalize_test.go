package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform(t *testing.T) {
	rec := map[string]any{
		"item_id":        "2746847510",
		"resolved_id":    "2746847510",
		"favorite":       "0",
		"status":         "1",
		"time_added":     "1570303854",
		"time_read":      "0",
		"time_favorited": "",
		"word_count":     float64(11415),
		"sort_id":        json.Number("206"),
		"lang":           "en",
		"custom_field":   "untouched",
	}
	require.NoError(t, Transform(rec))

	assert.Equal(t, int64(2746847510), rec["item_id"])
	assert.Equal(t, int64(0), rec["favorite"])
	assert.Equal(t, int64(1), rec["status"])
	assert.Equal(t, int64(1570303854), rec["time_added"])
	assert.Equal(t, int64(11415), rec["word_count"])

	// zero/empty nullable timestamps collapse to nil, not epoch zero
	assert.Nil(t, rec["time_read"])
	assert.Nil(t, rec["time_favorited"])

	// fields outside the known set pass through unchanged
	assert.Equal(t, json.Number("206"), rec["sort_id"])
	assert.Equal(t, "en", rec["lang"])
	assert.Equal(t, "untouched", rec["custom_field"])
}

func TestTransform_NonZeroTimesKept(t *testing.T) {
	rec := map[string]any{"time_read": "1570303854", "time_favorited": "12345"}
	require.NoError(t, Transform(rec))
	assert.Equal(t, int64(1570303854), rec["time_read"])
	assert.Equal(t, int64(12345), rec["time_favorited"])
}

func TestTransform_AbsentFieldsStayAbsent(t *testing.T) {
	rec := map[string]any{"item_id": "1"}
	require.NoError(t, Transform(rec))
	_, hasRead := rec["time_read"]
	assert.False(t, hasRead)
}

func TestTransform_BadIntegerIsFatal(t *testing.T) {
	rec := map[string]any{"item_id": "not-a-number"}
	err := Transform(rec)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item_id")
}

func TestSurrogateAuthorID(t *testing.T) {
	id := SurrogateAuthorID("Jane Doe")

	// pure function of the input, stable across runs
	assert.Equal(t, id, SurrogateAuthorID("Jane Doe"))
	assert.NotEqual(t, id, SurrogateAuthorID("jane doe"))
	assert.Positive(t, id)
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"int64", int64(5), "INTEGER"},
		{"bool", true, "INTEGER"},
		{"float", 1.5, "FLOAT"},
		{"integral json number", json.Number("42"), "INTEGER"},
		{"fractional json number", json.Number("4.2"), "FLOAT"},
		{"string", "x", "TEXT"},
		{"nil", nil, "TEXT"},
		{"nested", map[string]any{}, "TEXT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, columnType(tt.value))
		})
	}
}

func TestSQLValue_NestedAsJSON(t *testing.T) {
	v, err := sqlValue(map[string]any{"src": "http://example.com/img.gif"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"src": "http://example.com/img.gif"}`, v.(string))

	v, err = sqlValue([]any{"a", "b"})
	require.NoError(t, err)
	assert.JSONEq(t, `["a", "b"]`, v.(string))
}
