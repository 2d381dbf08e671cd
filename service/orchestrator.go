package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"ExplainerVideo-server/llm"
	"ExplainerVideo-server/models"
	"ExplainerVideo-server/notify"
	"ExplainerVideo-server/registry"
	"ExplainerVideo-server/render"
	"ExplainerVideo-server/script"
	"ExplainerVideo-server/source"
	"ExplainerVideo-server/storage"
	"ExplainerVideo-server/workspace"
)

// PageSource scrapes a blog post and downloads its images.
type PageSource interface {
	source.Scraper
	DownloadImages(ctx context.Context, urls []string, dir string) ([]source.Download, error)
}

type ScriptWriter interface {
	Generate(ctx context.Context, sourceText string, imageRefs []string) (*script.Script, error)
}

// Narrator produces voiceovers. SynthesizeAll runs scenes in order.
type Narrator interface {
	SynthesizeAll(ctx context.Context, p *models.Project, scenes []models.Scene, onScene func(i int)) error
	Synthesize(ctx context.Context, p *models.Project, sc *models.Scene) (string, error)
}

type RenderRunner interface {
	Start(ctx context.Context, job render.Job) (*render.Handle, error)
	Store() registry.Store[render.Progress]
}

// Dispatcher hands a generation run to whatever executes it.
type Dispatcher interface {
	Dispatch(ctx context.Context, projectID string) error
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Store     models.Store
	Pipelines registry.Store[PipelineRecord]
	Scraper   PageSource
	Extractor source.DocumentExtractor
	Script    ScriptWriter
	LayoutLLM llm.Client
	Narrator  Narrator
	Workspace *workspace.Writer
	Renderer  RenderRunner
	Objects   storage.ObjectStore
	Notifier  notify.Notifier

	MediaDir          string
	LayoutRetries     *int
	LayoutTemperature float64
	StaleAfter        time.Duration
	RenderOutputName  string
}

// Orchestrator drives a project through CREATED → SCRAPED → SCRIPTED →
// GENERATED → RENDERING → DONE and owns every edit that touches the
// rendered workspace.
type Orchestrator struct {
	Options
	Dispatcher Dispatcher

	handlesMu sync.Mutex
	handles   map[string]*render.Handle

	now func() time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Pipelines == nil {
		opts.Pipelines = registry.NewMemory[PipelineRecord]()
	}
	if opts.Objects == nil {
		opts.Objects = storage.Nop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{}
	}
	if opts.Extractor == nil {
		opts.Extractor = source.TextExtractor{}
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.RenderOutputName == "" {
		opts.RenderOutputName = "video.mp4"
	}
	if opts.MediaDir == "" {
		opts.MediaDir = "data/media"
	}
	o := &Orchestrator{
		Options: opts,
		handles: make(map[string]*render.Handle),
		now:     time.Now,
	}
	o.Dispatcher = NewInlineDispatcher(o.RunGeneration)
	return o
}

func (o *Orchestrator) getProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := o.Store.GetProject(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load project %s: %w", id, err)
	}
	return p, nil
}

// acquire takes the per-project run gate. A stale running record is taken
// over.
func (o *Orchestrator) acquire(ctx context.Context, id string, step int) error {
	_, err := o.Pipelines.Update(ctx, id, func(cur PipelineRecord, exists bool) (PipelineRecord, error) {
		if err := o.checkGate(id, cur, exists); err != nil {
			return cur, err
		}
		return PipelineRecord{Step: step, Running: true, UpdatedAt: o.now()}, nil
	})
	return err
}

// checkGate fails while a live generation or edit holds the gate.
func (o *Orchestrator) checkGate(id string, cur PipelineRecord, exists bool) error {
	if !exists || !cur.Running {
		return nil
	}
	if !cur.Stale(o.StaleAfter, o.now()) {
		if cur.Edit != "" {
			return ErrEditInProgress
		}
		return ErrAlreadyRunning
	}
	log.Printf("[Pipeline] %s: taking over stale gate (last update %s)", id, cur.UpdatedAt.Format(time.RFC3339))
	return nil
}

var errGateLost = errors.New("gate no longer held")

// lockProject takes the gate for one change outside a generation run and
// returns the project as loaded under it. The step and error of the last run
// are kept; unlock only clears a gate that still carries this change's token.
func (o *Orchestrator) lockProject(ctx context.Context, id string) (*models.Project, func(), error) {
	p, err := o.getProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	token := uuid.NewString()
	_, err = o.Pipelines.Update(ctx, id, func(cur PipelineRecord, exists bool) (PipelineRecord, error) {
		if err := o.checkGate(id, cur, exists); err != nil {
			return cur, err
		}
		if !exists {
			cur = PipelineRecord{Step: stepForStatus(p.Status)}
		}
		cur.Running, cur.Edit, cur.UpdatedAt = true, token, o.now()
		return cur, nil
	})
	if err != nil {
		return nil, nil, err
	}

	unlock := func() {
		// 独立 context，请求取消后也要释放
		_, err := o.Pipelines.Update(context.Background(), id, func(cur PipelineRecord, exists bool) (PipelineRecord, error) {
			if !exists || cur.Edit != token {
				return cur, errGateLost
			}
			cur.Running, cur.Edit, cur.UpdatedAt = false, "", o.now()
			return cur, nil
		})
		if err != nil && !errors.Is(err, errGateLost) {
			log.Printf("[Pipeline] %s: release edit gate: %v", id, err)
		}
	}

	// 重新读取，拿到加锁之后的状态
	if p, err = o.getProject(ctx, id); err != nil {
		unlock()
		return nil, nil, err
	}
	return p, unlock, nil
}

func (o *Orchestrator) release(ctx context.Context, id string, step int, msg string) {
	rec := PipelineRecord{Step: step, Running: false, Error: msg, UpdatedAt: o.now()}
	if err := o.Pipelines.Put(ctx, id, rec); err != nil {
		log.Printf("[Pipeline] %s: release gate: %v", id, err)
	}
}

// touch advances the step and refreshes the heartbeat of a running record.
func (o *Orchestrator) touch(ctx context.Context, id string, step int) {
	_, err := o.Pipelines.Update(ctx, id, func(cur PipelineRecord, exists bool) (PipelineRecord, error) {
		if step >= 0 {
			cur.Step = step
		}
		cur.Running = true
		cur.UpdatedAt = o.now()
		return cur, nil
	})
	if err != nil {
		log.Printf("[Pipeline] %s: update progress: %v", id, err)
	}
}

// StartGeneration gates and dispatches a generation run. Projects that are
// already generated are reported as done without a new run.
func (o *Orchestrator) StartGeneration(ctx context.Context, id string) error {
	p, err := o.getProject(ctx, id)
	if err != nil {
		return err
	}
	switch p.Status {
	case models.ProjectStatusGenerated, models.ProjectStatusRendering, models.ProjectStatusDone:
		return ErrAlreadyDone
	}
	if p.Status == models.ProjectStatusCreated && p.UploadPending() {
		return ErrDocumentsPending
	}
	if err := o.acquire(ctx, id, stepForStatus(p.Status)); err != nil {
		return err
	}
	if err := o.Dispatcher.Dispatch(ctx, id); err != nil {
		o.release(ctx, id, stepForStatus(p.Status), "could not queue generation")
		return fmt.Errorf("dispatch generation: %w", err)
	}
	log.Printf("[Pipeline] %s: generation dispatched from %s", id, p.Status)
	return nil
}

// RunGeneration executes one run for a project whose gate is already held
// and always releases it. Failures set ERROR with a readable message; no
// retry happens here.
func (o *Orchestrator) RunGeneration(ctx context.Context, id string) error {
	step := StepNotStarted
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("Generation crashed: %v", rec)
			log.Printf("[Pipeline] %s: %s", id, msg)
			_ = o.Store.SetProjectStatus(context.Background(), id, models.ProjectStatusError, msg)
			o.release(context.Background(), id, step, msg)
		}
	}()

	err := o.advance(ctx, id, &step)
	if err == nil {
		o.release(ctx, id, StepDone, "")
		log.Printf("[Pipeline] %s: run complete", id)
		return nil
	}

	stage := "Generation"
	var se *stageError
	if errors.As(err, &se) {
		stage, step = se.stage, se.step
	}
	msg := userMessage(stage, err)
	log.Printf("[Pipeline] %s: %v", id, err)
	// 用独立 context 写回状态，避免请求取消后错误无法落库
	if serr := o.Store.SetProjectStatus(context.Background(), id, models.ProjectStatusError, msg); serr != nil && !errors.Is(serr, models.ErrNotFound) {
		log.Printf("[Pipeline] %s: persist ERROR status: %v", id, serr)
	}
	o.release(context.Background(), id, step, msg)
	return err
}

// advance runs every stage the project's status says is still pending.
func (o *Orchestrator) advance(ctx context.Context, id string, step *int) error {
	p, err := o.getProject(ctx, id)
	if err != nil {
		return err
	}

	if p.Status == models.ProjectStatusError {
		scenes, err := o.Store.ListScenes(ctx, id)
		if err != nil {
			return fmt.Errorf("load scenes: %w", err)
		}
		p.Status = resumeStatus(p, len(scenes))
		p.ErrorMessage = ""
		if err := o.Store.SaveProject(ctx, p); err != nil {
			return fmt.Errorf("reset project: %w", err)
		}
		log.Printf("[Pipeline] %s: resuming from %s", id, p.Status)
	}

	if p.Status == models.ProjectStatusCreated {
		if p.UploadPending() {
			return failAt(StepScraping, "Scraping", ErrDocumentsPending)
		}
		if !p.IsUploadSource() {
			*step = StepScraping
			o.touch(ctx, id, StepScraping)
			if err := o.scrape(ctx, p); err != nil {
				return failAt(StepScraping, "Scraping", err)
			}
		}
	}

	switch p.Status {
	case models.ProjectStatusCreated, models.ProjectStatusScraped:
		*step = StepScripting
		o.touch(ctx, id, StepScripting)
		if err := o.writeScript(ctx, p); err != nil {
			return failAt(StepScripting, "Script generation", err)
		}
	}

	switch p.Status {
	case models.ProjectStatusCreated, models.ProjectStatusScraped, models.ProjectStatusScripted:
		*step = StepScenes
		o.touch(ctx, id, StepScenes)
		if err := o.generateScenes(ctx, p); err != nil {
			return failAt(StepScenes, "Scene generation", err)
		}
	}
	*step = StepDone
	return nil
}

// PollGeneration reports progress. Without a record the step is inferred
// from the persisted status; a record that stopped updating is reported as
// not running so the caller can retry.
func (o *Orchestrator) PollGeneration(ctx context.Context, id string) (GenerationStatus, error) {
	p, err := o.getProject(ctx, id)
	if err != nil {
		return GenerationStatus{}, err
	}
	st := GenerationStatus{Status: p.Status, Step: stepForStatus(p.Status)}
	if p.Status == models.ProjectStatusError {
		st.Error = p.ErrorMessage
	}

	rec, ok, err := o.Pipelines.Get(ctx, id)
	if err != nil {
		return st, fmt.Errorf("read progress: %w", err)
	}
	if !ok {
		return st, nil
	}
	st.Step, st.Running = rec.Step, rec.Running
	if rec.Error != "" {
		st.Error = rec.Error
	}
	if rec.Edit != "" {
		// an edit holds the gate, no generation is running
		st.Running = false
		return st, nil
	}
	if rec.Stale(o.StaleAfter, o.now()) {
		st.Running = false
		st.Error = "Generation stopped responding. Start it again to resume."
	}
	return st, nil
}

func (o *Orchestrator) projectDir(id, kind string) string {
	return filepath.Join(o.MediaDir, id, kind)
}

// scrape fetches the source URL, stores its text and downloads images as
// assets. Images already recorded for the same URL are not duplicated.
func (o *Orchestrator) scrape(ctx context.Context, p *models.Project) error {
	if o.Scraper == nil {
		return errors.New("no scraper configured")
	}
	page, err := o.Scraper.Scrape(ctx, p.SourceURL)
	if err != nil {
		return err
	}

	existing, err := o.Store.ListAssets(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	known := make(map[string]bool)
	for _, a := range existing {
		if a.SourceURL != "" {
			known[a.SourceURL] = true
		}
	}
	var fresh []string
	for _, u := range page.Images {
		if !known[u] {
			fresh = append(fresh, u)
		}
	}
	if len(fresh) > 0 {
		downloads, err := o.Scraper.DownloadImages(ctx, fresh, o.projectDir(p.ID, "images"))
		if err != nil {
			return fmt.Errorf("download images: %w", err)
		}
		for _, d := range downloads {
			a := &models.Asset{
				ProjectID: p.ID,
				Kind:      models.AssetKindImage,
				Filename:  d.Filename,
				LocalPath: d.Path,
				SourceURL: d.URL,
			}
			o.mirror(ctx, a, "images")
			if err := o.Store.CreateAsset(ctx, a); err != nil {
				return fmt.Errorf("record image asset: %w", err)
			}
		}
	}

	p.SourceText = page.Text
	if p.Name == "" {
		p.Name = page.Title
	}
	p.Status = models.ProjectStatusScraped
	if err := o.Store.SaveProject(ctx, p); err != nil {
		return fmt.Errorf("save scraped project: %w", err)
	}
	log.Printf("[Pipeline] %s: scraped %d chars, %d images", p.ID, len(page.Text), len(fresh))
	return nil
}

// writeScript replaces all scenes with a freshly generated script.
func (o *Orchestrator) writeScript(ctx context.Context, p *models.Project) error {
	if p.SourceText == "" {
		return ErrNoSourceText
	}
	if o.Script == nil {
		return errors.New("no script generator configured")
	}
	assets, err := o.Store.ListAssets(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	var refs []string
	for _, a := range models.IncludedImages(assets) {
		refs = append(refs, a.Filename)
	}

	sc, err := o.Script.Generate(ctx, p.SourceText, refs)
	if err != nil {
		return err
	}
	if len(sc.Scenes) == 0 {
		return ErrEmptyScript
	}
	scenes := make([]models.Scene, 0, len(sc.Scenes))
	for _, stub := range sc.Scenes {
		scenes = append(scenes, models.Scene{
			Title:             stub.Title,
			Narration:         stub.Narration,
			VisualDescription: stub.VisualDescription,
			Images:            models.StringList(stub.Images),
			DurationSeconds:   math.Max(models.MinSceneDuration, float64(stub.DurationSeconds)),
		})
	}

	// 旧分镜的配音随分镜一起失效
	for _, a := range assets {
		if a.Kind == models.AssetKindAudio {
			o.removeAsset(ctx, a)
		}
	}
	if err := o.Store.ReplaceScenes(ctx, p.ID, scenes); err != nil {
		return fmt.Errorf("replace scenes: %w", err)
	}

	if p.Name == "" {
		p.Name = sc.Title
	}
	p.Status = models.ProjectStatusScripted
	if err := o.Store.SaveProject(ctx, p); err != nil {
		return fmt.Errorf("save scripted project: %w", err)
	}
	log.Printf("[Pipeline] %s: script has %d scenes", p.ID, len(scenes))
	return nil
}

// mirror uploads a local asset file to object storage, best-effort.
func (o *Orchestrator) mirror(ctx context.Context, a *models.Asset, kind string) {
	key := storage.Key(a.ProjectID, kind, a.Filename)
	url, err := o.Objects.Upload(ctx, a.LocalPath, key)
	if err != nil {
		log.Printf("[Storage] mirror %s skipped: %v", key, err)
		return
	}
	a.ObjectKey, a.ObjectURL = key, url
}

// removeAsset deletes the local file, the object-store copy and the row.
func (o *Orchestrator) removeAsset(ctx context.Context, a models.Asset) {
	if a.LocalPath != "" {
		if err := os.Remove(a.LocalPath); err != nil && !os.IsNotExist(err) {
			log.Printf("[Pipeline] remove %s: %v", a.LocalPath, err)
		}
	}
	if a.ObjectKey != "" {
		if err := o.Objects.Delete(ctx, a.ObjectKey); err != nil {
			log.Printf("[Storage] delete %s: %v", a.ObjectKey, err)
		}
	}
	if err := o.Store.DeleteAsset(ctx, a.ProjectID, a.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Printf("[Pipeline] delete asset %s: %v", a.ID, err)
	}
}
