package layout

import (
	"encoding/json"
	"fmt"
)

// Arrangement 场景宏观布局形状
type Arrangement string

const (
	ArrangementFullCenter      Arrangement = "full-center"
	ArrangementSplitLeft       Arrangement = "split-left"
	ArrangementSplitRight      Arrangement = "split-right"
	ArrangementTopBottom       Arrangement = "top-bottom"
	ArrangementGrid2x2         Arrangement = "grid-2x2"
	ArrangementGrid3           Arrangement = "grid-3"
	ArrangementAsymmetricLeft  Arrangement = "asymmetric-left"
	ArrangementAsymmetricRight Arrangement = "asymmetric-right"
	ArrangementStacked         Arrangement = "stacked"

	// FallbackArrangement replaces unknown arrangements during repair and is
	// used by the deterministic fallback descriptor.
	FallbackArrangement = ArrangementTopBottom
	// HeroArrangement is reserved for the opening scene.
	HeroArrangement = ArrangementFullCenter
)

// Arrangements lists every valid arrangement in a stable order.
var Arrangements = []Arrangement{
	ArrangementFullCenter,
	ArrangementSplitLeft,
	ArrangementSplitRight,
	ArrangementTopBottom,
	ArrangementGrid2x2,
	ArrangementGrid3,
	ArrangementAsymmetricLeft,
	ArrangementAsymmetricRight,
	ArrangementStacked,
}

// Valid reports whether a is one of the known arrangements.
func (a Arrangement) Valid() bool {
	for _, v := range Arrangements {
		if v == a {
			return true
		}
	}
	return false
}

// ElementType 元素类型（闭合集合）
type ElementType string

const (
	ElementHeading   ElementType = "heading"
	ElementBodyText  ElementType = "body-text"
	ElementCardGrid  ElementType = "card-grid"
	ElementCodeBlock ElementType = "code-block"
	ElementMetricRow ElementType = "metric-row"
	ElementImage     ElementType = "image"
	ElementQuote     ElementType = "quote"
	ElementTimeline  ElementType = "timeline"
	ElementSteps     ElementType = "steps"
	ElementIconText  ElementType = "icon-text"
)

var ElementTypes = []ElementType{
	ElementHeading,
	ElementBodyText,
	ElementCardGrid,
	ElementCodeBlock,
	ElementMetricRow,
	ElementImage,
	ElementQuote,
	ElementTimeline,
	ElementSteps,
	ElementIconText,
}

func (t ElementType) Valid() bool {
	_, ok := contentFactories[t]
	return ok
}

// Emphasis levels. Anything else is normalized to EmphasisMedium.
const (
	EmphasisHigh   = "high"
	EmphasisMedium = "medium"
	EmphasisLow    = "low"
)

// Descriptor is the structured layout document attached to a scene and
// consumed by the renderer.
type Descriptor struct {
	Arrangement Arrangement `json:"arrangement"`
	Elements    []Element   `json:"elements"`
	Decorations []string    `json:"decorations"`
	Background  *Background `json:"background,omitempty"`
}

// Empty reports whether the descriptor carries no usable content.
func (d *Descriptor) Empty() bool {
	return d == nil || len(d.Elements) == 0
}

// SetHeading replaces the text of the first heading element, if any.
func (d *Descriptor) SetHeading(text string) {
	if d == nil {
		return
	}
	for i, el := range d.Elements {
		if h, ok := el.Content.(Heading); ok {
			h.Text = text
			d.Elements[i].Content = h
			return
		}
	}
}

type Background struct {
	Type   string   `json:"type,omitempty"` // gradient | solid | image
	Colors []string `json:"colors,omitempty"`
	Image  string   `json:"image,omitempty"`
}

// Content is implemented by the typed payload of each element kind.
type Content interface {
	Kind() ElementType
}

// Element is one typed visual block of a descriptor. On the wire it is
// {"type": ..., "content": {...}, "emphasis": ...}.
type Element struct {
	Type     ElementType
	Content  Content
	Emphasis string
}

type Heading struct {
	Text     string `json:"text"`
	Subtitle string `json:"subtitle,omitempty"`
}

type BodyText struct {
	Text string `json:"text"`
}

type Card struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"icon,omitempty"`
}

type CardGrid struct {
	Items []Card `json:"items"`
}

type CodeBlock struct {
	Lines    []string `json:"lines"`
	Language string   `json:"language,omitempty"`
}

type Metric struct {
	Value  string `json:"value"`
	Label  string `json:"label"`
	Suffix string `json:"suffix,omitempty"`
}

type MetricRow struct {
	Metrics []Metric `json:"metrics"`
}

type Image struct {
	Src     string `json:"src"`
	Caption string `json:"caption,omitempty"`
}

type Quote struct {
	Text   string `json:"text"`
	Author string `json:"author,omitempty"`
}

type TimelineEntry struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

type Timeline struct {
	Items []TimelineEntry `json:"items"`
}

type Step struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type Steps struct {
	Items []Step `json:"items"`
}

type IconTextItem struct {
	Icon string `json:"icon"`
	Text string `json:"text"`
}

type IconText struct {
	Items []IconTextItem `json:"items"`
}

func (Heading) Kind() ElementType   { return ElementHeading }
func (BodyText) Kind() ElementType  { return ElementBodyText }
func (CardGrid) Kind() ElementType  { return ElementCardGrid }
func (CodeBlock) Kind() ElementType { return ElementCodeBlock }
func (MetricRow) Kind() ElementType { return ElementMetricRow }
func (Image) Kind() ElementType     { return ElementImage }
func (Quote) Kind() ElementType     { return ElementQuote }
func (Timeline) Kind() ElementType  { return ElementTimeline }
func (Steps) Kind() ElementType     { return ElementSteps }
func (IconText) Kind() ElementType  { return ElementIconText }

// contentFactories maps each wire tag to a decoder for its typed content.
var contentFactories = map[ElementType]func(json.RawMessage) (Content, error){
	ElementHeading:   decodeContent[Heading],
	ElementBodyText:  decodeContent[BodyText],
	ElementCardGrid:  decodeContent[CardGrid],
	ElementCodeBlock: decodeContent[CodeBlock],
	ElementMetricRow: decodeContent[MetricRow],
	ElementImage:     decodeContent[Image],
	ElementQuote:     decodeContent[Quote],
	ElementTimeline:  decodeContent[Timeline],
	ElementSteps:     decodeContent[Steps],
	ElementIconText:  decodeContent[IconText],
}

func decodeContent[T Content](raw json.RawMessage) (Content, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

type wireElement struct {
	Type     ElementType     `json:"type"`
	Content  json.RawMessage `json:"content,omitempty"`
	Emphasis string          `json:"emphasis,omitempty"`
}

func (e Element) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	if e.Content != nil {
		b, err := json.Marshal(e.Content)
		if err != nil {
			return nil, err
		}
		content = b
	} else {
		content = json.RawMessage("{}")
	}
	return json.Marshal(wireElement{Type: e.Type, Content: content, Emphasis: e.Emphasis})
}

func (e *Element) UnmarshalJSON(data []byte) error {
	var w wireElement
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	el, err := parseElement(w)
	if err != nil {
		return err
	}
	*e = el
	return nil
}

func parseElement(w wireElement) (Element, error) {
	factory, ok := contentFactories[w.Type]
	if !ok {
		return Element{}, fmt.Errorf("unknown element type %q", w.Type)
	}
	content, err := factory(w.Content)
	if err != nil {
		return Element{}, fmt.Errorf("decode %s content: %w", w.Type, err)
	}
	return Element{Type: w.Type, Content: content, Emphasis: normalizeEmphasis(w.Emphasis)}, nil
}

func normalizeEmphasis(e string) string {
	switch e {
	case EmphasisHigh, EmphasisMedium, EmphasisLow:
		return e
	}
	return EmphasisMedium
}
