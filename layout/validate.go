package layout

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
)

// DefaultDecorations replaces a decorations field that is not a list.
var DefaultDecorations = []string{"subtle-grid"}

var (
	errNotObject   = errors.New("layout config is not a JSON object")
	errEmptyConfig = errors.New("empty layout config")
)

// Validate maps an untrusted wire document onto a Descriptor, repairing what
// it can: unknown arrangements fall back to FallbackArrangement, unknown or
// undecodable elements are dropped (an empty result gets a default heading),
// non-list decorations become DefaultDecorations and a non-object background
// is discarded. It only fails when raw is not a JSON object.
func Validate(raw json.RawMessage) (*Descriptor, error) {
	d, _, err := validate(raw)
	return d, err
}

// validate also reports whether raw carried anything usable: at least one
// valid element or a recognised arrangement.
func validate(raw json.RawMessage) (*Descriptor, bool, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return nil, false, errNotObject
	}

	d := &Descriptor{}

	var arrangement string
	_ = json.Unmarshal(doc["arrangement"], &arrangement)
	d.Arrangement = Arrangement(strings.ToLower(strings.TrimSpace(arrangement)))
	usable := d.Arrangement.Valid()
	if !usable {
		if arrangement != "" {
			log.Printf("[Layout] unknown arrangement %q, using %s", arrangement, FallbackArrangement)
		}
		d.Arrangement = FallbackArrangement
	}

	var rawElements []json.RawMessage
	_ = json.Unmarshal(doc["elements"], &rawElements)
	for _, re := range rawElements {
		var w wireElement
		if err := json.Unmarshal(re, &w); err != nil {
			continue
		}
		w.Type = ElementType(strings.ToLower(strings.TrimSpace(string(w.Type))))
		el, err := parseElement(w)
		if err != nil {
			log.Printf("[Layout] dropping element: %v", err)
			continue
		}
		d.Elements = append(d.Elements, el)
	}
	if len(d.Elements) > 0 {
		usable = true
	} else {
		d.Elements = []Element{defaultHeading()}
	}

	var decorations []string
	if err := json.Unmarshal(doc["decorations"], &decorations); err != nil || decorations == nil {
		decorations = append([]string(nil), DefaultDecorations...)
	}
	d.Decorations = decorations

	if bg, ok := doc["background"]; ok {
		var b Background
		if err := json.Unmarshal(bg, &b); err == nil && isObject(bg) {
			d.Background = &b
		}
	}
	return d, usable, nil
}

func isObject(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return strings.HasPrefix(s, "{")
}

func defaultHeading() Element {
	return Element{Type: ElementHeading, Content: Heading{Text: ""}, Emphasis: EmphasisHigh}
}
