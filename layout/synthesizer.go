package layout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"ExplainerVideo-server/llm"
)

const (
	DefaultMaxRetries  = 2
	defaultTemperature = 0.7
	heroBodyLimit      = 140
	fallbackBodyLimit  = 220
)

var ErrNoClient = errors.New("layout synthesizer has no llm client")

// SceneInput carries what the synthesizer needs to know about one scene.
type SceneInput struct {
	Title             string
	Narration         string
	VisualDescription string
	// Index is zero-based; Total is the number of scenes in the project.
	Index int
	Total int
	// PreferredArrangement, when valid, is forced onto the result.
	PreferredArrangement Arrangement
	// Current is the scene's existing descriptor, used to keep extracted
	// content stable across regenerations.
	Current *Descriptor
}

// RegenerateInput is a single-scene regeneration request. The sibling
// arrangements replace the rolling tracker as the variety signal.
type RegenerateInput struct {
	SceneInput
	SiblingArrangements []Arrangement
	Instruction         string
}

// Synthesizer turns scene text into layout descriptors. One Synthesizer (and
// its tracker) must be used per project run, feeding scenes in order.
type Synthesizer struct {
	client      llm.Client
	tracker     *VarietyTracker
	MaxRetries  int
	Temperature float64
	// SystemPrompt overrides the built-in instructions.
	SystemPrompt string
}

func NewSynthesizer(client llm.Client, tracker *VarietyTracker) *Synthesizer {
	if tracker == nil {
		tracker = NewVarietyTracker()
	}
	return &Synthesizer{
		client:      client,
		tracker:     tracker,
		MaxRetries:  DefaultMaxRetries,
		Temperature: defaultTemperature,
	}
}

func (s *Synthesizer) Tracker() *VarietyTracker { return s.tracker }

// Synthesize always returns a usable descriptor. The only error is a missing
// LLM client; per-attempt failures degrade to the fallback descriptor.
func (s *Synthesizer) Synthesize(ctx context.Context, in SceneInput) (*Descriptor, error) {
	if s.client == nil {
		return nil, ErrNoClient
	}
	preferred := normalizeArrangement(in.PreferredArrangement)

	var d *Descriptor
	if in.Index == 0 && preferred == "" {
		d = HeroDescriptor(in.Title, in.Narration)
	} else {
		req := s.request(buildScenePrompt(in, preferred, s.tracker.RecentHint(), s.tracker.UnderusedHint()))
		d = s.bestOf(ctx, req, s.tracker, in.Index)
		if d == nil {
			log.Printf("[Layout] scene %d: all attempts failed, using fallback", in.Index+1)
			d = FallbackDescriptor(in.Title, in.Narration)
		}
		finalize(d, in.Title, preferred)
	}

	s.tracker.Record(d.Arrangement)
	return d, nil
}

// Regenerate re-synthesizes one scene outside the rolling sequence. It does
// not record into the synthesizer's tracker.
func (s *Synthesizer) Regenerate(ctx context.Context, in RegenerateInput) (*Descriptor, error) {
	if s.client == nil {
		return nil, ErrNoClient
	}
	preferred := normalizeArrangement(in.PreferredArrangement)

	siblings := NewVarietyTracker()
	for _, a := range in.SiblingArrangements {
		if a.Valid() {
			siblings.Record(a)
		}
	}

	req := s.request(buildRegeneratePrompt(in, preferred))
	d := s.bestOf(ctx, req, siblings, in.Index)
	if d == nil {
		log.Printf("[Layout] regenerate scene %d: all attempts failed, using fallback", in.Index+1)
		d = FallbackDescriptor(in.Title, in.Narration)
	}
	finalize(d, in.Title, preferred)
	return d, nil
}

func (s *Synthesizer) request(prompt string) llm.Request {
	system := s.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	return llm.Request{
		System:      system,
		Prompt:      prompt,
		Temperature: s.Temperature,
		Schema: &llm.Schema{
			Name:        "scene_layout",
			Description: "Layout descriptor for one explainer video scene",
			Definition:  descriptorSchema,
		},
	}
}

// bestOf runs the retry-with-scoring loop and returns the best descriptor,
// or nil when no attempt produced one.
func (s *Synthesizer) bestOf(ctx context.Context, req llm.Request, tracker *VarietyTracker, index int) *Descriptor {
	retries := s.MaxRetries
	if retries < 0 {
		retries = 0
	}
	var best *Descriptor
	bestScore := -1.0
	for attempt := 1; attempt <= retries+1; attempt++ {
		if ctx.Err() != nil {
			break
		}
		d, err := s.attempt(ctx, req)
		if err != nil {
			log.Printf("[Layout] scene %d attempt %d: %v", index+1, attempt, err)
			continue
		}
		score := Score(d, tracker)
		if score > bestScore {
			best, bestScore = d, score
		}
		if score >= GoodEnoughScore {
			break
		}
	}
	return best
}

func (s *Synthesizer) attempt(ctx context.Context, req llm.Request) (d *Descriptor, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	raw, err := s.client.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	d = llm.ParseStructured(raw, validateReply, func(string) *Descriptor { return nil })
	if d.Empty() {
		return nil, errEmptyConfig
	}
	return d, nil
}

// validateReply accepts an object or an object wrapped in a list, optionally
// nested under a "layout" key. An object with neither a known arrangement nor
// a valid element is rejected so the caller falls back.
func validateReply(raw json.RawMessage) (*Descriptor, error) {
	obj, ok := llm.AsObject(raw)
	if !ok {
		return nil, errNotObject
	}
	var wrapper struct {
		Layout json.RawMessage `json:"layout"`
	}
	if err := json.Unmarshal(obj, &wrapper); err == nil && isObject(wrapper.Layout) {
		obj = wrapper.Layout
	}
	d, usable, err := validate(obj)
	if err != nil {
		return nil, err
	}
	if !usable {
		return nil, errEmptyConfig
	}
	return d, nil
}

// finalize forces the preferred arrangement and fills an empty heading.
func finalize(d *Descriptor, title string, preferred Arrangement) {
	if preferred != "" {
		d.Arrangement = preferred
	}
	for i, el := range d.Elements {
		if h, ok := el.Content.(Heading); ok && strings.TrimSpace(h.Text) == "" {
			h.Text = title
			d.Elements[i].Content = h
		}
	}
}

func normalizeArrangement(a Arrangement) Arrangement {
	a = Arrangement(strings.ToLower(strings.TrimSpace(string(a))))
	if a.Valid() {
		return a
	}
	return ""
}

// HeroDescriptor is the fixed layout of the opening scene.
func HeroDescriptor(title, narration string) *Descriptor {
	return &Descriptor{
		Arrangement: HeroArrangement,
		Elements: []Element{
			{Type: ElementHeading, Content: Heading{Text: title}, Emphasis: EmphasisHigh},
			{Type: ElementBodyText, Content: BodyText{Text: firstSentence(narration, heroBodyLimit)}, Emphasis: EmphasisMedium},
		},
		Decorations: []string{"gradient-orbs", "subtle-grid"},
		Background:  &Background{Type: "gradient"},
	}
}

// FallbackDescriptor is used when every synthesis attempt failed.
func FallbackDescriptor(title, narration string) *Descriptor {
	return &Descriptor{
		Arrangement: FallbackArrangement,
		Elements: []Element{
			{Type: ElementHeading, Content: Heading{Text: title}, Emphasis: EmphasisHigh},
			{Type: ElementBodyText, Content: BodyText{Text: llm.Truncate(strings.TrimSpace(narration), fallbackBodyLimit)}, Emphasis: EmphasisMedium},
		},
		Decorations: append([]string(nil), DefaultDecorations...),
	}
}

func firstSentence(text string, limit int) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		text = text[:i+1]
	}
	return llm.Truncate(text, limit)
}
