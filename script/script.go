// Package script turns source text into an ordered list of scene stubs.
package script

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"ExplainerVideo-server/llm"
)

const (
	DefaultDurationSeconds = 10
	fallbackNarrationLimit = 500
	fallbackTitle          = "Overview"
)

var (
	ErrNoClient = errors.New("script synthesizer has no llm client")
	errNoScenes = errors.New("reply contains no usable scenes")
)

// Stub is one scene as proposed by the script generator.
type Stub struct {
	Title             string   `json:"title"`
	Narration         string   `json:"narration"`
	VisualDescription string   `json:"visual_description"`
	Images            []string `json:"images"`
	DurationSeconds   int      `json:"duration_seconds"`
}

type Script struct {
	Title  string `json:"title"`
	Scenes []Stub `json:"scenes"`
}

type Synthesizer struct {
	client       llm.Client
	SystemPrompt string
	Temperature  float64
}

func NewSynthesizer(client llm.Client) *Synthesizer {
	return &Synthesizer{client: client, Temperature: 0.4}
}

// Generate asks the LLM for a script. Transport errors are returned; an
// unparsable reply degrades to a single fallback scene.
func (s *Synthesizer) Generate(ctx context.Context, sourceText string, imageRefs []string) (*Script, error) {
	if s.client == nil {
		return nil, ErrNoClient
	}
	system := s.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	raw, err := s.client.Complete(ctx, llm.Request{
		System:      system,
		Prompt:      buildPrompt(sourceText, imageRefs),
		Temperature: s.Temperature,
		Schema: &llm.Schema{
			Name:        "video_script",
			Description: "Ordered scenes of an explainer video",
			Definition:  scriptSchema,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("script generation: %w", err)
	}

	known := make(map[string]bool, len(imageRefs))
	for _, ref := range imageRefs {
		known[ref] = true
	}
	sc := llm.ParseStructured(raw, func(doc json.RawMessage) (*Script, error) {
		return parseScript(doc, known)
	}, fallbackScript)
	return sc, nil
}

var scriptSchema = llm.GenerateSchema[Script]()

const defaultSystemPrompt = `You write scripts for short narrated explainer videos.
Split the source into scenes. Narration is plain spoken prose. The visual description
is a hint for a slide designer and must not invent facts missing from the source.
Reply with JSON: {"title": "...", "scenes": [{"title", "narration", "visual_description", "images", "duration_seconds"}]}.`

func buildPrompt(sourceText string, imageRefs []string) string {
	var b strings.Builder
	b.WriteString("Source:\n")
	b.WriteString(sourceText)
	b.WriteString("\n\nAvailable images:\n")
	if len(imageRefs) == 0 {
		b.WriteString("(none)\n")
	}
	for _, ref := range imageRefs {
		fmt.Fprintf(&b, "- %s\n", ref)
	}
	return b.String()
}

// parseScript accepts {"title", "scenes": [...]}, a bare array of scenes or a
// single scene object.
func parseScript(doc json.RawMessage, known map[string]bool) (*Script, error) {
	sc := &Script{}
	var rawScenes []json.RawMessage

	if strings.HasPrefix(strings.TrimSpace(string(doc)), "{") {
		var top struct {
			Title  string          `json:"title"`
			Scenes json.RawMessage `json:"scenes"`
		}
		if err := json.Unmarshal(doc, &top); err != nil {
			return nil, err
		}
		sc.Title = strings.TrimSpace(top.Title)
		if len(top.Scenes) > 0 {
			rawScenes = llm.AsList(top.Scenes)
		} else {
			rawScenes = []json.RawMessage{doc}
		}
	} else {
		rawScenes = llm.AsList(doc)
	}

	for _, rs := range rawScenes {
		stub, ok := parseStub(rs, known)
		if ok {
			sc.Scenes = append(sc.Scenes, stub)
		}
	}
	if len(sc.Scenes) == 0 {
		return nil, errNoScenes
	}
	if sc.Title == "" {
		sc.Title = sc.Scenes[0].Title
	}
	return sc, nil
}

type wireStub struct {
	Title             string          `json:"title"`
	Narration         string          `json:"narration"`
	VisualDescription string          `json:"visual_description"`
	Visual            string          `json:"visual"`
	Images            json.RawMessage `json:"images"`
	Duration          json.RawMessage `json:"duration_seconds"`
	DurationAlt       json.RawMessage `json:"duration"`
}

func parseStub(raw json.RawMessage, known map[string]bool) (Stub, bool) {
	var w wireStub
	if err := json.Unmarshal(raw, &w); err != nil {
		return Stub{}, false
	}
	stub := Stub{
		Title:             strings.TrimSpace(w.Title),
		Narration:         strings.TrimSpace(w.Narration),
		VisualDescription: strings.TrimSpace(w.VisualDescription),
	}
	if stub.VisualDescription == "" {
		stub.VisualDescription = strings.TrimSpace(w.Visual)
	}
	if stub.Title == "" && stub.Narration == "" {
		return Stub{}, false
	}
	stub.Images = filterImages(w.Images, known)
	stub.DurationSeconds = parseDuration(w.Duration)
	if stub.DurationSeconds <= 0 {
		stub.DurationSeconds = parseDuration(w.DurationAlt)
	}
	if stub.DurationSeconds <= 0 {
		stub.DurationSeconds = DefaultDurationSeconds
	}
	return stub, true
}

func filterImages(raw json.RawMessage, known map[string]bool) []string {
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		var single string
		if err := json.Unmarshal(raw, &single); err != nil || single == "" {
			return nil
		}
		list = []string{single}
	}
	out := make([]string, 0, len(list))
	for _, ref := range list {
		ref = strings.TrimSpace(ref)
		if ref != "" && known[ref] {
			out = append(out, ref)
		}
	}
	return out
}

// parseDuration accepts 12, 12.5 or "12" and returns whole seconds.
func parseDuration(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(math.Round(f))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "s")
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return int(math.Round(v))
		}
	}
	return 0
}

func fallbackScript(raw string) *Script {
	return &Script{
		Title: fallbackTitle,
		Scenes: []Stub{{
			Title:           fallbackTitle,
			Narration:       llm.Truncate(strings.TrimSpace(llm.StripFences(raw)), fallbackNarrationLimit),
			DurationSeconds: DefaultDurationSeconds,
		}},
	}
}
