package voiceover

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ExplainerVideo-server/llm"
	"ExplainerVideo-server/models"
)

type fakeTTS struct {
	mu       sync.Mutex
	failures int
	calls    int
	texts    []string
	voices   []string
	payload  []byte
}

func (f *fakeTTS) Synthesize(_ context.Context, text, voiceID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.texts = append(f.texts, text)
	f.voices = append(f.voices, voiceID)
	if f.calls <= f.failures {
		return nil, fmt.Errorf("rate limited (call %d)", f.calls)
	}
	payload := f.payload
	if payload == nil {
		payload = []byte("ID3-audio")
	}
	return io.NopCloser(strings.NewReader(string(payload))), nil
}

type fakeProbe struct {
	seconds float64
	err     error
}

func (p fakeProbe) DurationSeconds(context.Context, string) (float64, error) {
	return p.seconds, p.err
}

type recordingObjects struct {
	uploads []string
	fail    bool
}

func (o *recordingObjects) Upload(_ context.Context, _, key string) (string, error) {
	if o.fail {
		return "", errors.New("bucket unreachable")
	}
	o.uploads = append(o.uploads, key)
	return "https://cdn.example.com/" + key, nil
}

func (o *recordingObjects) Delete(context.Context, string) error { return nil }

type harness struct {
	store  *models.MemoryStore
	tts    *fakeTTS
	objs   *recordingObjects
	sleeps []time.Duration
	synth  *Synthesizer
	p      *models.Project
}

func newHarness(t *testing.T, tts *fakeTTS, probe Probe) *harness {
	t.Helper()
	h := &harness{store: models.NewMemoryStore(), tts: tts, objs: &recordingObjects{}}
	h.synth = NewSynthesizer(tts, probe, h.store, h.objs, t.TempDir())
	h.synth.RetryDelay = time.Second
	h.synth.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	h.p = &models.Project{VoiceGender: "female", VoiceAccent: "british"}
	require.NoError(t, h.store.CreateProject(context.Background(), h.p))
	return h
}

func (h *harness) scenes(t *testing.T, narrations ...string) []models.Scene {
	t.Helper()
	var in []models.Scene
	for i, n := range narrations {
		in = append(in, models.Scene{Title: fmt.Sprintf("S%d", i+1), Narration: n})
	}
	require.NoError(t, h.store.ReplaceScenes(context.Background(), h.p.ID, in))
	out, err := h.store.ListScenes(context.Background(), h.p.ID)
	require.NoError(t, err)
	return out
}

func TestSynthesize_Success(t *testing.T) {
	h := newHarness(t, &fakeTTS{}, fakeProbe{seconds: 4.24})
	sc := h.scenes(t, "Caching keeps hot data close.")[0]

	path, err := h.synth.Synthesize(context.Background(), h.p, &sc)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, 5.2, sc.DurationSeconds)
	assert.Equal(t, path, sc.VoiceoverPath)
	assert.Equal(t, []string{VoiceFor("female", "british")}, h.tts.voices)

	saved, err := h.store.GetScene(context.Background(), h.p.ID, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, path, saved.VoiceoverPath)

	assets, _ := h.store.ListAssets(context.Background(), h.p.ID)
	require.Len(t, assets, 1)
	assert.Equal(t, models.AssetKindAudio, assets[0].Kind)
	assert.NotEmpty(t, assets[0].ObjectURL)
	assert.Len(t, h.objs.uploads, 1)
}

func TestSynthesize_RetriesWithLinearBackoff(t *testing.T) {
	h := newHarness(t, &fakeTTS{failures: 2}, fakeProbe{seconds: 9})
	sc := h.scenes(t, "Hello there.")[0]

	_, err := h.synth.Synthesize(context.Background(), h.p, &sc)
	require.NoError(t, err)
	assert.Equal(t, 3, h.tts.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps)
	assert.Equal(t, 10.0, sc.DurationSeconds)
}

func TestSynthesize_GivesUpAfterThreeAttempts(t *testing.T) {
	h := newHarness(t, &fakeTTS{failures: 100}, fakeProbe{seconds: 1})
	sc := h.scenes(t, "Hello there.")[0]

	_, err := h.synth.Synthesize(context.Background(), h.p, &sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, 3, h.tts.calls)
	assert.Empty(t, sc.VoiceoverPath)
	assets, _ := h.store.ListAssets(context.Background(), h.p.ID)
	assert.Empty(t, assets)
}

func TestSynthesize_BlankNarrationSkips(t *testing.T) {
	h := newHarness(t, &fakeTTS{}, fakeProbe{seconds: 1})
	sc := h.scenes(t, "   ")[0]
	path, err := h.synth.Synthesize(context.Background(), h.p, &sc)
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Zero(t, h.tts.calls)

	// the skipped scene still honours the duration floor
	assert.Equal(t, models.MinSceneDuration, sc.DurationSeconds)
	stored, err := h.store.GetScene(context.Background(), h.p.ID, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MinSceneDuration, stored.DurationSeconds)
}

func TestSynthesize_ProbeFailureEstimatesFromSize(t *testing.T) {
	tts := &fakeTTS{payload: make([]byte, 10*bytesPerSecond)}
	h := newHarness(t, tts, fakeProbe{err: errors.New("ffprobe missing")})
	h.objs.fail = true
	sc := h.scenes(t, "Short.")[0]

	_, err := h.synth.Synthesize(context.Background(), h.p, &sc)
	require.NoError(t, err)
	assert.Equal(t, 11.0, sc.DurationSeconds)

	assets, _ := h.store.ListAssets(context.Background(), h.p.ID)
	require.Len(t, assets, 1)
	assert.Empty(t, assets[0].ObjectKey)
}

func TestSynthesize_ReplacesPreviousAudioAsset(t *testing.T) {
	h := newHarness(t, &fakeTTS{}, fakeProbe{seconds: 6})
	sc := h.scenes(t, "Again and again.")[0]
	for i := 0; i < 2; i++ {
		_, err := h.synth.Synthesize(context.Background(), h.p, &sc)
		require.NoError(t, err)
	}
	assets, _ := h.store.ListAssets(context.Background(), h.p.ID)
	assert.Len(t, assets, 1)
}

func TestSynthesizeAll_SequentialWithSceneDelay(t *testing.T) {
	h := newHarness(t, &fakeTTS{}, fakeProbe{seconds: 6})
	h.synth.SceneDelay = 300 * time.Millisecond
	scenes := h.scenes(t, "One.", "", "Three.")

	var visited []int
	require.NoError(t, h.synth.SynthesizeAll(context.Background(), h.p, scenes, func(i int) { visited = append(visited, i) }))
	assert.Equal(t, []int{0, 1, 2}, visited)
	assert.Equal(t, []string{"One.", "Three."}, h.tts.texts)
	assert.Equal(t, []time.Duration{300 * time.Millisecond, 300 * time.Millisecond}, h.sleeps)
	assert.NotEmpty(t, scenes[0].VoiceoverPath)
	assert.Empty(t, scenes[1].VoiceoverPath)
}

func TestSynthesizeAll_StopsAtFirstFatalScene(t *testing.T) {
	h := newHarness(t, &fakeTTS{failures: 100}, fakeProbe{seconds: 6})
	scenes := h.scenes(t, "One.", "Two.")
	err := h.synth.SynthesizeAll(context.Background(), h.p, scenes, nil)
	require.Error(t, err)
	assert.Equal(t, 3, h.tts.calls)
}

type assistLLM struct {
	active, peak int32
	fail         string
}

func (a *assistLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	n := atomic.AddInt32(&a.active, 1)
	defer atomic.AddInt32(&a.active, -1)
	for {
		p := atomic.LoadInt32(&a.peak)
		if n <= p || atomic.CompareAndSwapInt32(&a.peak, p, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	if req.Prompt == a.fail {
		return "", errors.New("llm down")
	}
	b, _ := json.Marshal(map[string]string{"spoken": "spoken: " + req.Prompt})
	return string(b), nil
}

func TestNarrationAssist_BoundedAndFallsBack(t *testing.T) {
	client := &assistLLM{fail: "n3"}
	a := NewNarrationAssist(client)
	var scenes []models.Scene
	for i := 0; i < 10; i++ {
		scenes = append(scenes, models.Scene{Narration: fmt.Sprintf("n%d", i)})
	}
	out := a.Rewrite(context.Background(), scenes)
	require.Len(t, out, 10)
	assert.Equal(t, "spoken: n0", out[0])
	assert.Equal(t, "n3", out[3])
	assert.LessOrEqual(t, atomic.LoadInt32(&client.peak), int32(DefaultAssistLimit))
}

func TestSynthesizeAll_UsesAssistText(t *testing.T) {
	h := newHarness(t, &fakeTTS{}, fakeProbe{seconds: 6})
	h.synth.Assist = NewNarrationAssist(&assistLLM{})
	scenes := h.scenes(t, "API v2 is 3x faster.")
	require.NoError(t, h.synth.SynthesizeAll(context.Background(), h.p, scenes, nil))
	assert.Equal(t, []string{"spoken: API v2 is 3x faster."}, h.tts.texts)
	assert.Equal(t, "API v2 is 3x faster.", scenes[0].Narration)
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 11.0, EstimateDuration(strings.TrimSpace(strings.Repeat("word ", 25))))
	assert.Equal(t, 6.0, EstimateDuration(""))
	assert.Equal(t, 6.0, EstimateDuration("just a few words"))
	assert.Equal(t, 12.2, EstimateDuration(strings.Repeat("w ", 28)))
}

func TestVoiceFor(t *testing.T) {
	assert.Equal(t, voices[voiceKey{"male", "british"}], VoiceFor("Male", " British "))
	assert.Equal(t, voices[voiceKey{"female", "american"}], VoiceFor("female", ""))
	assert.Equal(t, DefaultVoiceID, VoiceFor("robot", "martian"))
	assert.Equal(t, DefaultVoiceID, VoiceFor("", ""))
}

func TestHTTPTTS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("xi-api-key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"bad key"}`))
			return
		}
		var body ttsRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "/voice-1", r.URL.Path)
		assert.Equal(t, "hello", body.Text)
		_, _ = w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	rc, err := NewHTTPTTS(srv.URL+"/", "secret", "m1").Synthesize(context.Background(), "hello", "voice-1")
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "mp3", string(data))

	_, err = NewHTTPTTS(srv.URL, "wrong", "").Synthesize(context.Background(), "hello", "voice-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestFFProbe_MissingBinary(t *testing.T) {
	_, err := FFProbe{Binary: "/no/such/ffprobe"}.DurationSeconds(context.Background(), os.DevNull)
	assert.Error(t, err)
}
