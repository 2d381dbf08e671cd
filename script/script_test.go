package script

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ExplainerVideo-server/llm"
)

type fakeLLM struct {
	reply  string
	err    error
	prompt string
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.prompt = req.Prompt
	return f.reply, f.err
}

func TestGenerate_ObjectWithScenes(t *testing.T) {
	client := &fakeLLM{reply: "```json\n" + `{
		"title": "A guide to X",
		"scenes": [
			{"title": "Intro", "narration": "A guide to X.", "visual_description": "logo", "images": ["img/a.png", "http://made.up/x.png"], "duration_seconds": 8},
			{"title": "Steps", "narration": "Step one: do A. Step two: do B.", "duration_seconds": "12.4"},
			{"title": "", "narration": ""}
		]
	}` + "\n```"}
	s := NewSynthesizer(client)

	sc, err := s.Generate(context.Background(), "A guide to X. Step one: do A.", []string{"img/a.png"})
	require.NoError(t, err)
	assert.Equal(t, "A guide to X", sc.Title)
	require.Len(t, sc.Scenes, 2)
	assert.Equal(t, []string{"img/a.png"}, sc.Scenes[0].Images)
	assert.Equal(t, 8, sc.Scenes[0].DurationSeconds)
	assert.Equal(t, 12, sc.Scenes[1].DurationSeconds)
	assert.Contains(t, client.prompt, "- img/a.png")
}

func TestGenerate_BareArrayAndSingleObject(t *testing.T) {
	s := NewSynthesizer(&fakeLLM{reply: `[{"title": "Only", "narration": "Hello."}]`})
	sc, err := s.Generate(context.Background(), "Hello.", nil)
	require.NoError(t, err)
	require.Len(t, sc.Scenes, 1)
	assert.Equal(t, "Only", sc.Title)
	assert.Equal(t, DefaultDurationSeconds, sc.Scenes[0].DurationSeconds)

	s = NewSynthesizer(&fakeLLM{reply: `{"title": "Solo", "narration": "Just one.", "visual": "a chart", "duration": 6}`})
	sc, err = s.Generate(context.Background(), "Just one.", nil)
	require.NoError(t, err)
	require.Len(t, sc.Scenes, 1)
	assert.Equal(t, "a chart", sc.Scenes[0].VisualDescription)
	assert.Equal(t, 6, sc.Scenes[0].DurationSeconds)
}

func TestGenerate_FallbackOnUnparsableReply(t *testing.T) {
	reply := strings.Repeat("word ", 200)
	s := NewSynthesizer(&fakeLLM{reply: reply})
	sc, err := s.Generate(context.Background(), "text", nil)
	require.NoError(t, err)
	require.Len(t, sc.Scenes, 1)
	assert.LessOrEqual(t, len([]rune(sc.Scenes[0].Narration)), 500)
	assert.True(t, strings.HasPrefix(sc.Scenes[0].Narration, "word word"))
	assert.Equal(t, DefaultDurationSeconds, sc.Scenes[0].DurationSeconds)

	s = NewSynthesizer(&fakeLLM{reply: `{"scenes": []}`})
	sc, err = s.Generate(context.Background(), "text", nil)
	require.NoError(t, err)
	require.Len(t, sc.Scenes, 1)
}

func TestGenerate_TransportErrorPropagates(t *testing.T) {
	s := NewSynthesizer(&fakeLLM{err: errors.New("connection reset")})
	_, err := s.Generate(context.Background(), "text", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	_, err = NewSynthesizer(nil).Generate(context.Background(), "text", nil)
	assert.ErrorIs(t, err, ErrNoClient)
}
