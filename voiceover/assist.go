package voiceover

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"golang.org/x/sync/errgroup"

	"ExplainerVideo-server/llm"
	"ExplainerVideo-server/models"
)

const DefaultAssistLimit = 4

const assistSystemPrompt = `Rewrite narration so it sounds natural when read aloud by a TTS voice.
Spell out symbols and abbreviations, keep every fact, add nothing.
Reply with JSON: {"spoken": "..."}`

// NarrationAssist rewrites scene narration into TTS-friendly text with a
// bounded number of concurrent LLM calls.
type NarrationAssist struct {
	client llm.Client
	Limit  int
}

func NewNarrationAssist(client llm.Client) *NarrationAssist {
	return &NarrationAssist{client: client, Limit: DefaultAssistLimit}
}

// Rewrite returns one spoken text per scene. Any failure keeps the original
// narration for that scene.
func (a *NarrationAssist) Rewrite(ctx context.Context, scenes []models.Scene) []string {
	out := make([]string, len(scenes))
	for i := range scenes {
		out[i] = scenes[i].Narration
	}
	if a == nil || a.client == nil {
		return out
	}
	limit := a.Limit
	if limit <= 0 {
		limit = DefaultAssistLimit
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range scenes {
		narration := scenes[i].Narration
		if strings.TrimSpace(narration) == "" {
			continue
		}
		g.Go(func() error {
			spoken, err := a.rewriteOne(gctx, narration)
			if err != nil {
				log.Printf("[Voiceover] narration assist scene %d: %v", i+1, err)
				return nil
			}
			out[i] = spoken
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (a *NarrationAssist) rewriteOne(ctx context.Context, narration string) (string, error) {
	raw, err := a.client.Complete(ctx, llm.Request{
		System:      assistSystemPrompt,
		Prompt:      narration,
		Temperature: 0.2,
	})
	if err != nil {
		return "", err
	}
	spoken := llm.ParseStructured(raw, func(doc json.RawMessage) (string, error) {
		var v struct {
			Spoken string `json:"spoken"`
		}
		if err := json.Unmarshal(doc, &v); err != nil {
			return "", err
		}
		if strings.TrimSpace(v.Spoken) == "" {
			return "", errors.New("empty spoken text")
		}
		return strings.TrimSpace(v.Spoken), nil
	}, func(string) string { return "" })
	if spoken == "" {
		return "", errors.New("unusable rewrite")
	}
	return spoken, nil
}
