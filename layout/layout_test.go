package layout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ExplainerVideo-server/llm"
)

type scriptedClient struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (c *scriptedClient) Complete(_ context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	c.calls++
	c.prompts = append(c.prompts, req.Prompt)
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	if len(c.replies) == 0 {
		return "", nil
	}
	if i >= len(c.replies) {
		return c.replies[len(c.replies)-1], nil
	}
	return c.replies[i], nil
}

type panicClient struct{}

func (panicClient) Complete(context.Context, llm.Request) (string, error) { panic("boom") }

func assertUsable(t *testing.T, d *Descriptor) {
	t.Helper()
	require.NotNil(t, d)
	assert.True(t, d.Arrangement.Valid(), "arrangement %q", d.Arrangement)
	require.NotEmpty(t, d.Elements)
	for _, el := range d.Elements {
		assert.True(t, el.Type.Valid(), "element type %q", el.Type)
		require.NotNil(t, el.Content)
		assert.Equal(t, el.Type, el.Content.Kind())
	}
}

func TestValidate_RepairsDocument(t *testing.T) {
	raw := json.RawMessage(`{
		"arrangement": " Split-Left ",
		"elements": [
			{"type": "heading", "content": {"text": "Hi"}, "emphasis": "high"},
			{"type": "hologram", "content": {}},
			{"type": "card-grid", "content": {"items": [{"title": "A"}, {"title": "B"}]}, "emphasis": "loud"}
		],
		"decorations": "sparkles",
		"background": "blue"
	}`)
	d, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, ArrangementSplitLeft, d.Arrangement)
	require.Len(t, d.Elements, 2)
	assert.Equal(t, ElementHeading, d.Elements[0].Type)
	assert.Equal(t, EmphasisMedium, d.Elements[1].Emphasis)
	grid := d.Elements[1].Content.(CardGrid)
	assert.Len(t, grid.Items, 2)
	assert.Equal(t, DefaultDecorations, d.Decorations)
	assert.Nil(t, d.Background)
}

func TestValidate_UnknownArrangementAndNoElements(t *testing.T) {
	d, err := Validate(json.RawMessage(`{"arrangement": "spiral", "elements": [{"type": "nope"}]}`))
	require.NoError(t, err)
	assert.Equal(t, FallbackArrangement, d.Arrangement)
	require.Len(t, d.Elements, 1)
	assert.Equal(t, ElementHeading, d.Elements[0].Type)
}

func TestValidate_RejectsNonObject(t *testing.T) {
	_, err := Validate(json.RawMessage(`["a"]`))
	assert.Error(t, err)
	_, err = Validate(json.RawMessage(`"text"`))
	assert.Error(t, err)
}

func TestDescriptor_JSONRoundTripKeepsTypedContent(t *testing.T) {
	d := &Descriptor{
		Arrangement: ArrangementGrid3,
		Elements: []Element{
			{Type: ElementCodeBlock, Content: CodeBlock{Lines: []string{"go run ."}, Language: "bash"}, Emphasis: EmphasisLow},
		},
		Decorations: []string{},
	}
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"code-block"`)

	var back Descriptor
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, CodeBlock{Lines: []string{"go run ."}, Language: "bash"}, back.Elements[0].Content)
}

func TestVarietyTracker_IsRepetitive(t *testing.T) {
	tr := NewVarietyTracker()
	assert.False(t, tr.IsRepetitive(ArrangementSplitLeft))

	for _, a := range []Arrangement{ArrangementGrid3, ArrangementStacked, ArrangementSplitLeft, ArrangementSplitLeft} {
		tr.Record(a)
	}
	assert.True(t, tr.IsRepetitive(ArrangementSplitLeft))
	assert.False(t, tr.IsRepetitive(ArrangementTopBottom))
	assert.False(t, tr.IsRepetitive(ArrangementGrid3))
}

func TestVarietyTracker_HistoryIsBounded(t *testing.T) {
	tr := NewVarietyTracker()
	for i := 0; i < 6; i++ {
		tr.Record(Arrangements[i])
	}
	assert.Len(t, tr.Recent(10), historyWindow)
	assert.Equal(t, []Arrangement{Arrangements[3], Arrangements[4], Arrangements[5]}, tr.Recent(3))
	assert.Equal(t, 1, tr.Count(Arrangements[0]))
}

func TestVarietyTracker_Underused(t *testing.T) {
	tr := NewVarietyTracker()
	fresh := tr.Underused()
	assert.Len(t, fresh, underusedFallback)
	assert.NotContains(t, fresh, HeroArrangement)

	tr.Record(ArrangementSplitLeft)
	tr.Record(ArrangementSplitRight)
	under := tr.Underused()
	assert.NotContains(t, under, ArrangementSplitLeft)
	assert.NotContains(t, under, ArrangementSplitRight)
	assert.Contains(t, under, ArrangementStacked)
	assert.NotContains(t, under, HeroArrangement)
}

func TestScore(t *testing.T) {
	tr := NewVarietyTracker()
	one := &Descriptor{Arrangement: ArrangementStacked, Elements: []Element{defaultHeading()}}
	two := &Descriptor{Arrangement: ArrangementStacked, Elements: []Element{defaultHeading(), defaultHeading()}}

	assert.InDelta(t, 0.7, Score(one, tr), 1e-9)
	assert.InDelta(t, 1.0, Score(two, tr), 1e-9)
	assert.Equal(t, 0.0, Score(&Descriptor{}, tr))

	tr.Record(ArrangementStacked)
	assert.InDelta(t, 0.8, Score(two, tr), 1e-9)
	assert.InDelta(t, 1.0, Score(two, nil), 1e-9)
}

func TestSynthesize_HeroIsDeterministic(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"arrangement":"grid-3","elements":[{"type":"quote","content":{"text":"x"}}]}`}}
	for _, narration := range []string{"Welcome. This is long.", "", "Completely different words"} {
		s := NewSynthesizer(client, nil)
		d, err := s.Synthesize(context.Background(), SceneInput{Title: "Intro", Narration: narration, Index: 0, Total: 3})
		require.NoError(t, err)
		assertUsable(t, d)
		assert.Equal(t, ArrangementFullCenter, d.Arrangement)
		assert.Len(t, d.Decorations, 2)
		require.NotNil(t, d.Background)
		assert.Equal(t, "gradient", d.Background.Type)
		assert.Equal(t, 1, s.Tracker().Count(ArrangementFullCenter))
	}
	assert.Zero(t, client.calls)
}

func TestSynthesize_FallbackOnGarbage(t *testing.T) {
	cases := map[string]*scriptedClient{
		"empty":     {replies: []string{""}},
		"prose":     {replies: []string{"I cannot help with that."}},
		"scalar":    {replies: []string{"42"}},
		"errors":    {errs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")}},
		"emptyList": {replies: []string{"[]"}},
		"emptyObj":  {replies: []string{"{}"}},
		"noContent": {replies: []string{`{"theme":"dark","elements":[{"type":"nope"}]}`}},
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			s := NewSynthesizer(client, nil)
			d, err := s.Synthesize(context.Background(), SceneInput{Title: "Step", Narration: "Do the thing.", Index: 2, Total: 4})
			require.NoError(t, err)
			assertUsable(t, d)
			assert.Equal(t, FallbackArrangement, d.Arrangement)
			assert.Len(t, d.Decorations, 1)
			assert.Equal(t, DefaultMaxRetries+1, client.calls)
		})
	}
}

func TestSynthesize_EmptyObjectUsesFallbackDescriptor(t *testing.T) {
	client := &scriptedClient{replies: []string{"{}"}}
	s := NewSynthesizer(client, nil)
	in := SceneInput{Title: "Step one", Narration: "First you do A.", Index: 1, Total: 3}
	d, err := s.Synthesize(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, FallbackDescriptor(in.Title, in.Narration), d)
	require.Len(t, d.Elements, 2)
	assert.Equal(t, "Step one", d.Elements[0].Content.(Heading).Text)
	assert.Equal(t, ElementBodyText, d.Elements[1].Type)
}

func TestValidate_ReportsUsableContent(t *testing.T) {
	cases := map[string]bool{
		`{}`:                       false,
		`{"theme":"dark"}`:         false,
		`{"elements":[{"x":1}]}`:   false,
		`{"arrangement":"grid-3"}`: true,
		`{"elements":[{"type":"heading","content":{"text":"A"}}]}`: true,
	}
	for raw, want := range cases {
		d, usable, err := validate(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, usable, raw)
		// the exported form still repairs everything into a usable descriptor
		assertUsable(t, d)
	}
}

func TestSynthesize_PanicIsContained(t *testing.T) {
	s := NewSynthesizer(panicClient{}, nil)
	d, err := s.Synthesize(context.Background(), SceneInput{Title: "T", Index: 1, Total: 2})
	require.NoError(t, err)
	assertUsable(t, d)
}

func TestSynthesize_PreferredArrangementWins(t *testing.T) {
	client := &scriptedClient{replies: []string{"```json\n{\"arrangement\":\"grid-3\",\"elements\":[{\"type\":\"heading\",\"content\":{\"text\":\"A\"}},{\"type\":\"steps\",\"content\":{\"items\":[{\"title\":\"one\"}]}}]}\n```"}}
	s := NewSynthesizer(client, nil)

	d, err := s.Synthesize(context.Background(), SceneInput{Title: "T", Index: 3, Total: 5, PreferredArrangement: ArrangementStacked})
	require.NoError(t, err)
	assert.Equal(t, ArrangementStacked, d.Arrangement)
	assert.Contains(t, client.prompts[0], "MUST be stacked")

	// index 0 with a preferred arrangement goes through the LLM
	d, err = s.Synthesize(context.Background(), SceneInput{Title: "T", Index: 0, Total: 5, PreferredArrangement: "split-right"})
	require.NoError(t, err)
	assert.Equal(t, ArrangementSplitRight, d.Arrangement)
	assert.Equal(t, 2, client.calls)
}

func TestSynthesize_StopsAtGoodEnoughAndKeepsBest(t *testing.T) {
	good := `{"arrangement":"grid-3","elements":[{"type":"heading","content":{"text":"A"}},{"type":"body-text","content":{"text":"b"}}]}`
	client := &scriptedClient{replies: []string{good, `{"arrangement":"stacked","elements":[]}`}}
	s := NewSynthesizer(client, nil)
	d, err := s.Synthesize(context.Background(), SceneInput{Title: "T", Index: 1, Total: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
	assert.Equal(t, ArrangementGrid3, d.Arrangement)

	// repetitive single element scores lower than a later varied attempt
	tr := NewVarietyTracker()
	tr.Record(ArrangementSplitLeft)
	client = &scriptedClient{replies: []string{
		`{"arrangement":"split-left","elements":[{"type":"heading","content":{"text":"A"}}]}`,
		`{"arrangement":"timeline","elements":[{"type":"heading","content":{"text":"A"}}]}`,
		`[{"arrangement":"steps-nope","elements":[{"type":"heading","content":{"text":"A"}}]}]`,
	}}
	s = NewSynthesizer(client, tr)
	d, err = s.Synthesize(context.Background(), SceneInput{Title: "T", Index: 1, Total: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, client.calls)
	assert.Equal(t, FallbackArrangement, d.Arrangement)
	assert.Equal(t, 1, tr.Count(FallbackArrangement))
}

func TestSynthesize_FillsEmptyHeadingWithTitle(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"arrangement":"stacked","elements":[{"type":"heading","content":{}}]}`}}
	s := NewSynthesizer(client, nil)
	d, err := s.Synthesize(context.Background(), SceneInput{Title: "Why caching", Index: 1, Total: 2})
	require.NoError(t, err)
	assert.Equal(t, "Why caching", d.Elements[0].Content.(Heading).Text)
}

func TestSynthesize_NoClient(t *testing.T) {
	s := NewSynthesizer(nil, nil)
	_, err := s.Synthesize(context.Background(), SceneInput{Index: 1})
	assert.ErrorIs(t, err, ErrNoClient)
}

func TestRegenerate_UsesSiblingsAndLeavesTrackerAlone(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"layout":{"arrangement":"grid-2x2","elements":[{"type":"metric-row","content":{"metrics":[{"value":"3x","label":"faster"}]}},{"type":"heading","content":{"text":"H"}}]}}`}}
	s := NewSynthesizer(client, nil)
	current := FallbackDescriptor("Old", "old narration")

	d, err := s.Regenerate(context.Background(), RegenerateInput{
		SceneInput:          SceneInput{Title: "T", Index: 0, Total: 3, Current: current},
		SiblingArrangements: []Arrangement{ArrangementStacked, ArrangementGrid3},
		Instruction:         "make it punchier",
	})
	require.NoError(t, err)
	assert.Equal(t, ArrangementGrid2x2, d.Arrangement)
	assert.Equal(t, 0, s.Tracker().Count(ArrangementGrid2x2))
	assert.Contains(t, client.prompts[0], "stacked, grid-3")
	assert.Contains(t, client.prompts[0], "make it punchier")
	assert.Contains(t, client.prompts[0], `"old narration"`)

	d, err = s.Regenerate(context.Background(), RegenerateInput{
		SceneInput: SceneInput{Title: "T", Index: 1, Total: 3, PreferredArrangement: ArrangementAsymmetricRight},
	})
	require.NoError(t, err)
	assert.Equal(t, ArrangementAsymmetricRight, d.Arrangement)
}
