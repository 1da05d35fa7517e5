package pocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Record is one raw saved item as returned by the API. Field types vary
// between string and number from one account to another, so normalization
// happens at the store boundary, not here.
type Record map[string]any

// Page is a single decoded response from /v3/get. The error field is
// resolved here, once: an absent or JSON-null error is the normal success
// shape of this API, only a non-null value signals failure.
type Page struct {
	Records []Record
	Since   int64
}

// apiError is a non-null error value carried in an otherwise well-formed
// response body.
type apiError struct {
	msg string
}

func (e *apiError) Error() string { return "api error: " + e.msg }

// payloadTooLarge reports whether the error is the size-limit signal that
// calls for a smaller page rather than a retry or a failure.
func (e *apiError) payloadTooLarge() bool {
	return strings.Contains(e.msg, "413") || strings.Contains(e.msg, "Payload Too Large")
}

func decodePage(body []byte) (*Page, error) {
	var raw struct {
		List  json.RawMessage `json:"list"`
		Since json.Number     `json:"since"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if msg, failed := errorValue(raw.Error); failed {
		return nil, &apiError{msg: msg}
	}

	page := &Page{}
	if raw.Since != "" {
		page.Since, _ = raw.Since.Int64()
	}

	records, err := decodeRecordList(raw.List)
	if err != nil {
		return nil, fmt.Errorf("decode item list: %w", err)
	}
	page.Records = records
	return page, nil
}

// errorValue distinguishes a genuinely failing error field from the absent
// or null one the API sends on success.
func errorValue(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		msg = string(trimmed)
	}
	return msg, true
}

// decodeRecordList parses the list field preserving the API's own item
// order, which a plain map decode would lose. A missing list, a null and
// the occasional empty-array shape all mean an empty page.
func decodeRecordList(raw json.RawMessage) ([]Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("[]")) {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("unexpected list shape %q", string(trimmed[:1]))
	}

	var records []Record
	for dec.More() {
		if _, err := dec.Token(); err != nil { // record id key, duplicated inside the record
			return nil, err
		}
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeStats(body []byte) (*Stats, error) {
	var stats Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
