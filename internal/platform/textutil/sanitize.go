package textutil

import (
	"html"
	"sort"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeNotes strips markup and control characters from free text and truncates it to limit
// runes. Line breaks are kept.
func SanitizeNotes(value string, limit int) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if limit > 0 {
		if runes := []rune(cleaned); len(runes) > limit {
			cleaned = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return cleaned
}

// Payment detail limits. Providers attach references such as transaction ids; anything longer
// is noise.
const (
	MaxDetailEntries     = 20
	MaxDetailValueLength = 256
)

// SanitizeDetails cleans a provider supplied key/value map before it is stored on an order.
// Keys are lower-cased and trimmed, values are sanitised like notes, and entries left empty
// are dropped. At most MaxDetailEntries keys survive, chosen in key order.
func SanitizeDetails(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	cleaned := make(map[string]string, len(values))
	for rawKey, rawValue := range values {
		key := strings.ToLower(strings.TrimSpace(rawKey))
		if key == "" {
			continue
		}
		value := SanitizeNotes(rawValue, MaxDetailValueLength)
		if value == "" {
			continue
		}
		if _, dup := cleaned[key]; !dup {
			keys = append(keys, key)
		}
		cleaned[key] = value
	}
	if len(keys) == 0 {
		return nil
	}
	if len(keys) > MaxDetailEntries {
		sort.Strings(keys)
		for _, key := range keys[MaxDetailEntries:] {
			delete(cleaned, key)
		}
	}
	return cleaned
}
