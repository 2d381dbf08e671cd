package voiceover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TTS turns text into an audio stream. The caller closes the stream.
type TTS interface {
	Synthesize(ctx context.Context, text, voiceID string) (io.ReadCloser, error)
}

// HTTPTTS calls an ElevenLabs-compatible text-to-speech endpoint:
// POST {BaseURL}/{voice_id} returning audio/mpeg.
type HTTPTTS struct {
	BaseURL string
	APIKey  string
	ModelID string
	client  *http.Client
}

func NewHTTPTTS(baseURL, apiKey, modelID string) *HTTPTTS {
	return &HTTPTTS{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		ModelID: modelID,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id,omitempty"`
}

func (t *HTTPTTS) Synthesize(ctx context.Context, text, voiceID string) (io.ReadCloser, error) {
	body, err := json.Marshal(ttsRequest{Text: text, ModelID: t.ModelID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/"+voiceID, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("xi-api-key", t.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp.Body, nil
}
