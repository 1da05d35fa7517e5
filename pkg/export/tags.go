package export

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ParseTags extracts tag names from the stored tags column. Two shapes
// are accepted: a JSON object keyed by tag name, as saved from the API
// detail payload, or a plain comma-separated string. Names come back
// sorted and deduplicated.
func ParseTags(raw any) []string {
	text := asString(raw)
	if text == "" {
		return nil
	}

	if strings.HasPrefix(strings.TrimSpace(text), "{") {
		if names, ok := parseTagObject(text); ok {
			return names
		}
	}

	seen := map[string]struct{}{}
	var names []string
	for _, part := range strings.Split(text, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// parseTagObject reads the API's tag detail shape, a map of tag name to
// detail object. The detail's own "tag" field wins over the key when set.
func parseTagObject(text string) ([]string, bool) {
	var details map[string]map[string]any
	if err := json.Unmarshal([]byte(text), &details); err != nil {
		return nil, false
	}

	seen := map[string]struct{}{}
	var names []string
	for key, detail := range details {
		name := key
		if tag, ok := detail["tag"].(string); ok && tag != "" {
			name = tag
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, true
}

// newTagID generates an id for a tag the destination does not know yet.
func newTagID() string {
	return uuid.NewString()
}
