package llm

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"unicode"
	"unicode/utf8"
)

var ErrNoJSON = errors.New("no JSON document in response")

// StripFences removes markdown code fences (```json ... ```) around a reply.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	// drop the info string ("json", "JSON", ...)
	rest = strings.TrimLeftFunc(rest, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsDigit(r)
	})
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ExtractJSON returns the JSON document in s: s itself when valid, otherwise
// the outermost {...} or [...] span.
func ExtractJSON(s string) (json.RawMessage, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoJSON
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s), nil
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		i := strings.Index(s, pair[0])
		j := strings.LastIndex(s, pair[1])
		if i >= 0 && j > i {
			candidate := s[i : j+1]
			if json.Valid([]byte(candidate)) {
				return json.RawMessage(candidate), nil
			}
		}
	}
	return nil, ErrNoJSON
}

// ParseStructured is the shared defensive decoder for LLM replies: strip
// fences, locate the JSON document and hand it to validate. Any failure
// yields fallback(raw) instead of an error.
func ParseStructured[T any](raw string, validate func(json.RawMessage) (T, error), fallback func(raw string) T) T {
	doc, err := ExtractJSON(StripFences(raw))
	if err != nil {
		log.Printf("[LLM] unparsable reply (%d bytes): %v", len(raw), err)
		return fallback(raw)
	}
	v, err := validate(doc)
	if err != nil {
		log.Printf("[LLM] reply failed validation: %v", err)
		return fallback(raw)
	}
	return v
}

// AsList coerces a JSON value into a list: arrays are split into their items
// and a bare object becomes a one-element list. Scalars yield nil.
func AsList(raw json.RawMessage) []json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil
		}
		return items
	case strings.HasPrefix(trimmed, "{"):
		return []json.RawMessage{raw}
	}
	return nil
}

// AsObject unwraps a single object, including one wrapped in a list.
func AsObject(raw json.RawMessage) (json.RawMessage, bool) {
	for _, item := range AsList(raw) {
		if strings.HasPrefix(strings.TrimSpace(string(item)), "{") {
			return item, true
		}
	}
	return nil, false
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
