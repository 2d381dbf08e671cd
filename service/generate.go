package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"ExplainerVideo-server/layout"
	"ExplainerVideo-server/models"
	"ExplainerVideo-server/voiceover"
)

// generateScenes runs voiceover, layout synthesis and the workspace write,
// then marks the project GENERATED.
func (o *Orchestrator) generateScenes(ctx context.Context, p *models.Project) error {
	scenes, err := o.Store.ListScenes(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("load scenes: %w", err)
	}
	if len(scenes) == 0 {
		return ErrEmptyScript
	}

	if p.VoiceEnabled() {
		if o.Narrator == nil {
			return errors.New("no voiceover synthesizer configured")
		}
		err := o.Narrator.SynthesizeAll(ctx, p, scenes, func(int) { o.touch(ctx, p.ID, -1) })
		if err != nil {
			return err
		}
	} else if err := o.estimateDurations(ctx, p, scenes); err != nil {
		return err
	}

	// 配音可能在其他执行上下文写库，这里重新读取
	scenes, err = o.Store.ListScenes(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("reload scenes: %w", err)
	}

	synth := o.newLayoutSynthesizer()
	for i := range scenes {
		sc := &scenes[i]
		d := o.synthesizeLayout(ctx, synth, layout.SceneInput{
			Title:             sc.Title,
			Narration:         sc.Narration,
			VisualDescription: sc.VisualDescription,
			Index:             i,
			Total:             len(scenes),
			Current:           sc.Descriptor(),
		})
		sc.SetDescriptor(d)
		if err := o.Store.SaveScene(ctx, sc); err != nil {
			return fmt.Errorf("save layout for scene %d: %w", sc.Order, err)
		}
		o.touch(ctx, p.ID, -1)
	}

	if _, err := o.writeWorkspace(ctx, p, scenes); err != nil {
		return err
	}

	p.Status = models.ProjectStatusGenerated
	p.ErrorMessage = ""
	if err := o.Store.SaveProject(ctx, p); err != nil {
		return fmt.Errorf("save generated project: %w", err)
	}
	return nil
}

// estimateDurations derives durations from word counts when voice is off and
// drops any voiceover left from an earlier voiced run.
func (o *Orchestrator) estimateDurations(ctx context.Context, p *models.Project, scenes []models.Scene) error {
	for i := range scenes {
		sc := &scenes[i]
		sc.DurationSeconds = voiceover.EstimateDuration(sc.Narration)
		sc.VoiceoverPath = ""
		if err := o.Store.SaveScene(ctx, sc); err != nil {
			return fmt.Errorf("save scene %d: %w", sc.Order, err)
		}
	}
	assets, err := o.Store.ListAssets(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	for _, a := range assets {
		if a.Kind == models.AssetKindAudio {
			o.removeAsset(ctx, a)
		}
	}
	return nil
}

func (o *Orchestrator) newLayoutSynthesizer() *layout.Synthesizer {
	synth := layout.NewSynthesizer(o.LayoutLLM, layout.NewVarietyTracker())
	if o.LayoutRetries != nil {
		synth.MaxRetries = *o.LayoutRetries
	}
	if o.LayoutTemperature > 0 {
		synth.Temperature = o.LayoutTemperature
	}
	return synth
}

// synthesizeLayout never fails: without an LLM the deterministic descriptors
// are used.
func (o *Orchestrator) synthesizeLayout(ctx context.Context, synth *layout.Synthesizer, in layout.SceneInput) *layout.Descriptor {
	d, err := synth.Synthesize(ctx, in)
	if err == nil {
		return d
	}
	log.Printf("[Layout] scene %d: %v, using fallback", in.Index+1, err)
	if in.Index == 0 && !in.PreferredArrangement.Valid() {
		d = layout.HeroDescriptor(in.Title, in.Narration)
	} else {
		d = layout.FallbackDescriptor(in.Title, in.Narration)
		if in.PreferredArrangement.Valid() {
			d.Arrangement = in.PreferredArrangement
		}
	}
	synth.Tracker().Record(d.Arrangement)
	return d
}

// writeWorkspace regenerates the render workspace. Callers hold the project
// gate. scenes may be nil, in which case they are loaded.
func (o *Orchestrator) writeWorkspace(ctx context.Context, p *models.Project, scenes []models.Scene) (string, error) {
	if o.Workspace == nil {
		return "", errors.New("no workspace writer configured")
	}
	if scenes == nil {
		var err error
		if scenes, err = o.Store.ListScenes(ctx, p.ID); err != nil {
			return "", fmt.Errorf("load scenes: %w", err)
		}
	}
	assets, err := o.Store.ListAssets(ctx, p.ID)
	if err != nil {
		return "", fmt.Errorf("list assets: %w", err)
	}
	dir, err := o.Workspace.Write(p, scenes, assets)
	if err != nil {
		return "", fmt.Errorf("write workspace: %w", err)
	}
	return dir, nil
}
