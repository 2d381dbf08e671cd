// Package voiceover narrates scenes with a TTS provider and derives scene
// durations from the resulting audio.
package voiceover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ExplainerVideo-server/models"
	"ExplainerVideo-server/storage"
)

const (
	DefaultAttempts   = 3
	DefaultRetryDelay = 2 * time.Second
)

// Store is the slice of models.Store the synthesizer writes to.
type Store interface {
	SaveScene(ctx context.Context, s *models.Scene) error
	CreateAsset(ctx context.Context, a *models.Asset) error
	ListAssets(ctx context.Context, projectID string) ([]models.Asset, error)
	DeleteAsset(ctx context.Context, projectID, assetID string) error
}

type Synthesizer struct {
	tts      TTS
	probe    Probe
	store    Store
	objects  storage.ObjectStore
	mediaDir string

	Attempts   int
	RetryDelay time.Duration
	// SceneDelay separates consecutive TTS calls to stay under provider rate limits.
	SceneDelay time.Duration
	// Assist, when set, rewrites narration into spoken text before synthesis.
	Assist *NarrationAssist

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSynthesizer(tts TTS, probe Probe, store Store, objects storage.ObjectStore, mediaDir string) *Synthesizer {
	if objects == nil {
		objects = storage.Nop{}
	}
	return &Synthesizer{
		tts:        tts,
		probe:      probe,
		store:      store,
		objects:    objects,
		mediaDir:   mediaDir,
		Attempts:   DefaultAttempts,
		RetryDelay: DefaultRetryDelay,
		sleep:      sleepCtx,
	}
}

// SynthesizeAll narrates scenes one after another in order. The first scene
// that fails after all retries aborts the run. onScene is called after each
// scene with its index.
func (s *Synthesizer) SynthesizeAll(ctx context.Context, p *models.Project, scenes []models.Scene, onScene func(i int)) error {
	var spoken []string
	if s.Assist != nil {
		spoken = s.Assist.Rewrite(ctx, scenes)
	}
	for i := range scenes {
		if i > 0 {
			if err := s.sleep(ctx, s.SceneDelay); err != nil {
				return err
			}
		}
		text := scenes[i].Narration
		if spoken != nil && strings.TrimSpace(spoken[i]) != "" {
			text = spoken[i]
		}
		if _, err := s.synthesize(ctx, p, &scenes[i], text); err != nil {
			return err
		}
		if onScene != nil {
			onScene(i)
		}
	}
	return nil
}

// Synthesize narrates one scene and returns the local audio path. Scenes with
// blank narration are skipped and yield "".
func (s *Synthesizer) Synthesize(ctx context.Context, p *models.Project, sc *models.Scene) (string, error) {
	return s.synthesize(ctx, p, sc, sc.Narration)
}

func (s *Synthesizer) synthesize(ctx context.Context, p *models.Project, sc *models.Scene, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		log.Printf("[Voiceover] %s scene %d: no narration, skipping", p.ID, sc.Order)
		if sc.DurationSeconds < models.MinSceneDuration {
			sc.DurationSeconds = models.MinSceneDuration
			if err := s.store.SaveScene(ctx, sc); err != nil {
				return "", fmt.Errorf("save scene %d: %w", sc.Order, err)
			}
		}
		return "", nil
	}
	voiceID := VoiceFor(p.VoiceGender, p.VoiceAccent)
	dir := filepath.Join(s.mediaDir, p.ID, "audio")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audio dir: %w", err)
	}
	filename := fmt.Sprintf("scene-%s.mp3", sc.ID)
	path := filepath.Join(dir, filename)

	attempts := s.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = s.fetch(ctx, text, voiceID, path)
		if err == nil {
			break
		}
		log.Printf("[Voiceover] %s scene %d: TTS attempt %d/%d failed: %v", p.ID, sc.Order, attempt, attempts, err)
		if attempt == attempts || ctx.Err() != nil {
			break
		}
		if serr := s.sleep(ctx, time.Duration(attempt)*s.RetryDelay); serr != nil {
			err = serr
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("voiceover for scene %d failed after %d attempts: %w", sc.Order, attempts, err)
	}

	audio := s.measure(ctx, path, text)
	sc.DurationSeconds = math.Max(models.MinSceneDuration, round1(audio+Padding))
	sc.VoiceoverPath = path
	if err := s.store.SaveScene(ctx, sc); err != nil {
		return "", fmt.Errorf("save scene %d: %w", sc.Order, err)
	}
	s.recordAsset(ctx, p.ID, sc.ID, filename, path)
	log.Printf("[Voiceover] %s scene %d: %.1fs audio -> %s", p.ID, sc.Order, audio, path)
	return path, nil
}

func (s *Synthesizer) fetch(ctx context.Context, text, voiceID, path string) error {
	rc, err := s.tts.Synthesize(ctx, text, voiceID)
	if err != nil {
		return err
	}
	defer rc.Close()

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, rc)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.New("tts returned empty audio")
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// measure probes the audio and degrades to size- then word-based estimates.
func (s *Synthesizer) measure(ctx context.Context, path, text string) float64 {
	if s.probe != nil {
		d, err := s.probe.DurationSeconds(ctx, path)
		if err == nil && d > 0 {
			return d
		}
		log.Printf("[Voiceover] probe %s failed, estimating from size: %v", path, err)
	}
	if d, err := EstimateFromSize(path); err == nil && d > 0 {
		return d
	}
	return EstimateDuration(text) - Padding
}

// recordAsset replaces the scene's previous voiceover asset and mirrors the
// new file to object storage. Failures are logged only.
func (s *Synthesizer) recordAsset(ctx context.Context, projectID, sceneID, filename, path string) {
	if existing, err := s.store.ListAssets(ctx, projectID); err == nil {
		for _, a := range existing {
			if a.Kind != models.AssetKindAudio || a.SceneID != sceneID {
				continue
			}
			if a.ObjectKey != "" {
				if err := s.objects.Delete(ctx, a.ObjectKey); err != nil {
					log.Printf("[Voiceover] delete stale object %s: %v", a.ObjectKey, err)
				}
			}
			if a.LocalPath != path {
				os.Remove(a.LocalPath)
			}
			_ = s.store.DeleteAsset(ctx, projectID, a.ID)
		}
	}

	asset := &models.Asset{
		ProjectID: projectID,
		SceneID:   sceneID,
		Kind:      models.AssetKindAudio,
		Filename:  filename,
		LocalPath: path,
	}
	key := storage.Key(projectID, "audio", filename)
	if url, err := s.objects.Upload(ctx, path, key); err != nil {
		log.Printf("[Voiceover] mirror %s skipped: %v", key, err)
	} else {
		asset.ObjectKey, asset.ObjectURL = key, url
	}
	if err := s.store.CreateAsset(ctx, asset); err != nil {
		log.Printf("[Voiceover] record asset for scene %s: %v", sceneID, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
