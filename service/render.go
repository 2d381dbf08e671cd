package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"ExplainerVideo-server/models"
	"ExplainerVideo-server/render"
	"ExplainerVideo-server/storage"
)

type RenderStart string

const (
	RenderAccepted       RenderStart = "accepted"
	RenderAlreadyRunning RenderStart = "already-running"
	RenderAlreadyDone    RenderStart = "already-done"
)

const restartMessage = "Render was interrupted by a server restart. Start it again."

// StartRender launches the renderer for a generated project. A cached
// render short-circuits to already-done. The project gate is held until the
// workspace is written and the project marked RENDERING.
func (o *Orchestrator) StartRender(ctx context.Context, id string) (RenderStart, error) {
	if o.Renderer == nil {
		return "", errors.New("no renderer configured")
	}
	p, unlock, err := o.lockProject(ctx, id)
	if err != nil {
		return "", err
	}
	defer unlock()
	if p.Status == models.ProjectStatusDone && p.HasCachedRender() {
		return RenderAlreadyDone, nil
	}
	switch p.Status {
	case models.ProjectStatusGenerated, models.ProjectStatusDone, models.ProjectStatusRendering:
	default:
		return "", ErrNotGenerated
	}

	store := o.Renderer.Store()
	claimed := false
	_, err = store.Update(ctx, id, func(cur render.Progress, exists bool) (render.Progress, error) {
		if exists && cur.Running() && !o.renderStale(cur) {
			return cur, nil
		}
		claimed = true
		now := o.now()
		return render.Progress{StartedAt: now, UpdatedAt: now}, nil
	})
	if err != nil {
		return "", fmt.Errorf("claim render: %w", err)
	}
	if !claimed {
		return RenderAlreadyRunning, nil
	}

	dir, err := o.writeWorkspace(ctx, p, nil)
	if err != nil {
		_ = store.Delete(ctx, id)
		return "", err
	}
	output := filepath.Join(dir, "out", o.RenderOutputName)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		_ = store.Delete(ctx, id)
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if err := o.Store.SetProjectStatus(ctx, id, models.ProjectStatusRendering, ""); err != nil {
		_ = store.Delete(ctx, id)
		return "", fmt.Errorf("mark rendering: %w", err)
	}
	h, err := o.Renderer.Start(context.Background(), render.Job{
		Key:       id,
		Workspace: dir,
		Output:    output,
		OnFinish:  func(pr render.Progress) { o.finishRender(id, output, pr) },
	})
	if err != nil {
		_ = o.Store.SetProjectStatus(ctx, id, models.ProjectStatusGenerated, "")
		return "", err
	}
	o.handlesMu.Lock()
	o.handles[id] = h
	o.handlesMu.Unlock()
	log.Printf("[Render] %s: accepted, output %s", id, output)
	return RenderAccepted, nil
}

func (o *Orchestrator) renderStale(pr render.Progress) bool {
	return !pr.Done && o.StaleAfter > 0 && o.now().Sub(pr.UpdatedAt) > o.StaleAfter
}

// finishRender runs on the render watcher once the process has exited.
func (o *Orchestrator) finishRender(id, output string, pr render.Progress) {
	o.handlesMu.Lock()
	delete(o.handles, id)
	o.handlesMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if pr.Error != "" {
		log.Printf("[Render] %s: failed: %s", id, pr.Error)
		if err := o.Store.SetProjectStatus(ctx, id, models.ProjectStatusGenerated, ""); err != nil {
			log.Printf("[Render] %s: reset status: %v", id, err)
		}
		return
	}

	p, err := o.Store.GetProject(ctx, id)
	if err != nil {
		log.Printf("[Render] %s: project gone after render: %v", id, err)
		return
	}

	key := storage.Key(id, "video", filepath.Base(output))
	url, err := o.Objects.Upload(ctx, output, key)
	if err != nil {
		log.Printf("[Render] %s: upload skipped, serving local file: %v", id, err)
		url, key = output, ""
	}
	if p.RenderKey != "" && p.RenderKey != key {
		_ = o.Objects.Delete(ctx, p.RenderKey)
	}
	p.RenderURL, p.RenderKey = url, key
	p.Status = models.ProjectStatusDone
	p.ErrorMessage = ""
	if err := o.Store.SaveProject(ctx, p); err != nil {
		log.Printf("[Render] %s: save result: %v", id, err)
		return
	}
	log.Printf("[Render] %s: done -> %s", id, url)

	if err := o.Notifier.RenderComplete(ctx, p, url); err != nil {
		log.Printf("[Notify] %s: %v", id, err)
	}
}

// PollRender returns the render record. A RENDERING project without a live
// record was interrupted by a restart: it is reset to GENERATED and a
// retryable error is reported.
func (o *Orchestrator) PollRender(ctx context.Context, id string) (render.Progress, error) {
	p, err := o.getProject(ctx, id)
	if err != nil {
		return render.Progress{}, err
	}
	var pr render.Progress
	ok := false
	if o.Renderer != nil {
		if pr, ok, err = o.Renderer.Store().Get(ctx, id); err != nil {
			return render.Progress{}, fmt.Errorf("read render progress: %w", err)
		}
	}

	if p.Status == models.ProjectStatusRendering && (!ok || o.renderStale(pr)) {
		log.Printf("[Render] %s: no live render record, resetting to GENERATED", id)
		if err := o.Store.SetProjectStatus(ctx, id, models.ProjectStatusGenerated, ""); err != nil {
			return render.Progress{}, fmt.Errorf("reset project: %w", err)
		}
		interrupted := render.Progress{Done: true, Error: restartMessage, UpdatedAt: o.now()}
		if o.Renderer != nil {
			_ = o.Renderer.Store().Put(ctx, id, interrupted)
		}
		return interrupted, nil
	}
	if !ok && p.Status == models.ProjectStatusDone && p.HasCachedRender() {
		return render.Progress{Progress: 100, Done: true}, nil
	}
	return pr, nil
}

// cancelRender stops a running render of this process, if any.
func (o *Orchestrator) cancelRender(id string) {
	o.handlesMu.Lock()
	h := o.handles[id]
	delete(o.handles, id)
	o.handlesMu.Unlock()
	if h != nil {
		h.Cancel()
		select {
		case <-h.Done():
		case <-time.After(10 * time.Second):
			log.Printf("[Render] %s: renderer did not stop in time", id)
		}
	}
}
