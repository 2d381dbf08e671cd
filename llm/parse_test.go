package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```":          `{"a":1}`,
		"```\n[1,2]\n```":                  `[1,2]`,
		"```JSON{\"a\":1}```":              `{"a":1}`,
		"Sure! Here you go:\n```json\n{}\n```\nthanks": `{}`,
		"  {\"plain\":true}  ":             `{"plain":true}`,
		"```json\n{\"unterminated\":1}":    `{"unterminated":1}`,
	}
	for in, want := range cases {
		assert.Equal(t, want, StripFences(in), in)
	}
}

func TestExtractJSON(t *testing.T) {
	doc, err := ExtractJSON(`The layout is {"a": [1, 2]} as requested.`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2]}`, string(doc))

	doc, err = ExtractJSON(`scenes: [{"t":1}]`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"t":1}]`, string(doc))

	_, err = ExtractJSON("no json here")
	assert.ErrorIs(t, err, ErrNoJSON)
	_, err = ExtractJSON("   ")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestParseStructured(t *testing.T) {
	validate := func(raw json.RawMessage) (map[string]int, error) {
		var m map[string]int
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		if _, ok := m["n"]; !ok {
			return nil, errors.New("missing n")
		}
		return m, nil
	}
	fallback := func(raw string) map[string]int { return map[string]int{"fallback": len(raw)} }

	assert.Equal(t, map[string]int{"n": 3}, ParseStructured("```json\n{\"n\":3}\n```", validate, fallback))
	assert.Equal(t, map[string]int{"fallback": 7}, ParseStructured("garbage", validate, fallback))
	assert.Equal(t, map[string]int{"fallback": 7}, ParseStructured(`{"m":1}`, validate, fallback))
}

func TestAsListAndAsObject(t *testing.T) {
	assert.Len(t, AsList(json.RawMessage(`[{"a":1},{"b":2}]`)), 2)
	assert.Len(t, AsList(json.RawMessage(` {"a":1}`)), 1)
	assert.Nil(t, AsList(json.RawMessage(`"x"`)))

	obj, ok := AsObject(json.RawMessage(`[{"a":1}]`))
	require.True(t, ok)
	assert.JSONEq(t, `{"a":1}`, string(obj))
	_, ok = AsObject(json.RawMessage(`[1,2]`))
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "héllo", Truncate("héllo wörld", 5))
	assert.Equal(t, "short", Truncate("short", 10))
}
