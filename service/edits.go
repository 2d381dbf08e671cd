package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"ExplainerVideo-server/layout"
	"ExplainerVideo-server/models"
	"ExplainerVideo-server/source"
	"ExplainerVideo-server/storage"
	"ExplainerVideo-server/voiceover"
)

var (
	ErrInvalidSource   = errors.New("source must be an http(s) url or an upload")
	ErrSceneNotFound   = errors.New("scene not found")
	ErrAssetNotFound   = errors.New("asset not found")
	ErrUploadsClosed   = errors.New("documents can only be added before generation starts")
	ErrInvalidLayout   = errors.New("unknown layout arrangement")
	ErrNothingUploaded = errors.New("no documents in upload")
)

// NewProject 创建项目请求参数
type NewProject struct {
	OwnerID         string
	Tier            string
	Name            string
	SourceURL       string
	Upload          bool
	TemplateID      string
	AspectRatio     string
	PrimaryColor    string
	SecondaryColor  string
	BackgroundColor string
	TextColor       string
	VoiceGender     string
	VoiceAccent     string
}

func (o *Orchestrator) CreateProject(ctx context.Context, req NewProject) (*models.Project, error) {
	p := &models.Project{
		ID:              uuid.NewString(),
		OwnerID:         req.OwnerID,
		Tier:            req.Tier,
		Name:            strings.TrimSpace(req.Name),
		Status:          models.ProjectStatusCreated,
		TemplateID:      req.TemplateID,
		AspectRatio:     req.AspectRatio,
		PrimaryColor:    req.PrimaryColor,
		SecondaryColor:  req.SecondaryColor,
		BackgroundColor: req.BackgroundColor,
		TextColor:       req.TextColor,
		VoiceGender:     req.VoiceGender,
		VoiceAccent:     req.VoiceAccent,
	}
	if p.Tier == "" {
		p.Tier = models.TierFree
	}
	if p.TemplateID == "" {
		p.TemplateID = "default"
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "16:9"
	}
	switch {
	case req.Upload:
		p.SourceURL = models.SourceUploadPending
	default:
		u, err := url.Parse(strings.TrimSpace(req.SourceURL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, ErrInvalidSource
		}
		p.SourceURL = u.String()
	}
	if err := o.Store.CreateProject(ctx, p); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	log.Printf("[Pipeline] %s: created from %s", p.ID, p.SourceURL)
	return p, nil
}

// Upload is one uploaded document.
type Upload struct {
	Filename string
	Body     io.Reader
}

// AddDocuments stores uploads for an upload-sourced project. Text documents
// are appended to the source text; images become image assets.
func (o *Orchestrator) AddDocuments(ctx context.Context, id string, uploads []Upload) (*models.Project, error) {
	if len(uploads) == 0 {
		return nil, ErrNothingUploaded
	}
	p, unlock, err := o.lockProject(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if !p.IsUploadSource() || p.Status != models.ProjectStatusCreated {
		return nil, ErrUploadsClosed
	}

	var texts []string
	for _, up := range uploads {
		name := filepath.Base(up.Filename)
		kind, dir := models.AssetKindDocument, "documents"
		if source.IsImage(name) {
			kind, dir = models.AssetKindImage, "images"
		} else if !o.Extractor.Supports(name) {
			return nil, fmt.Errorf("%w: %s", source.ErrUnsupportedDocument, name)
		}

		path, err := o.saveUpload(p.ID, dir, name, up.Body)
		if err != nil {
			return nil, err
		}
		if kind == models.AssetKindDocument {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			text, err := o.Extractor.Extract(name, f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("extract %s: %w", name, err)
			}
			if text != "" {
				texts = append(texts, text)
			}
		}
		a := &models.Asset{
			ProjectID: p.ID,
			Kind:      kind,
			Filename:  filepath.Base(path),
			LocalPath: path,
		}
		o.mirror(ctx, a, dir)
		if err := o.Store.CreateAsset(ctx, a); err != nil {
			return nil, fmt.Errorf("record upload: %w", err)
		}
	}

	if len(texts) > 0 {
		parts := append([]string{}, texts...)
		if p.SourceText != "" {
			parts = append([]string{p.SourceText}, parts...)
		}
		p.SourceText = strings.Join(parts, "\n\n")
	}
	p.SourceURL = models.SourceUploadReady
	if err := o.Store.SaveProject(ctx, p); err != nil {
		return nil, fmt.Errorf("save project: %w", err)
	}
	return p, nil
}

// saveUpload writes an upload under the project's media dir, prefixing the
// name when a file of that name already exists.
func (o *Orchestrator) saveUpload(projectID, dir, name string, body io.Reader) (string, error) {
	target := o.projectDir(projectID, dir)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(target, name)
	if _, err := os.Stat(path); err == nil {
		path = filepath.Join(target, uuid.NewString()[:8]+"-"+name)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("save upload: %w", err)
	}
	_, err = io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("save upload: %w", err)
	}
	return path, nil
}

// guardEdit takes the project gate for an edit and rejects it while a
// generation, another edit or a render owns the project. The caller must
// call unlock once its writes, workspace included, are done.
func (o *Orchestrator) guardEdit(ctx context.Context, id string) (p *models.Project, unlock func(), err error) {
	p, unlock, err = o.lockProject(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if p.Status == models.ProjectStatusRendering {
		unlock()
		return nil, nil, ErrRenderRunning
	}
	return p, unlock, nil
}

// invalidate drops the cached render of a generated project and rewrites
// its workspace. Projects not yet generated are left alone.
func (o *Orchestrator) invalidate(ctx context.Context, p *models.Project) error {
	if p.Status != models.ProjectStatusGenerated && p.Status != models.ProjectStatusDone {
		return nil
	}
	if p.RenderKey != "" {
		if err := o.Objects.Delete(ctx, p.RenderKey); err != nil {
			log.Printf("[Storage] delete stale render %s: %v", p.RenderKey, err)
		}
	}
	p.RenderURL, p.RenderKey = "", ""
	p.Status = models.ProjectStatusGenerated
	if err := o.Store.SaveProject(ctx, p); err != nil {
		return fmt.Errorf("invalidate render: %w", err)
	}
	if o.Renderer != nil {
		_ = o.Renderer.Store().Delete(ctx, p.ID)
	}
	_, err := o.writeWorkspace(ctx, p, nil)
	return err
}

func (o *Orchestrator) getScene(ctx context.Context, projectID, sceneID string) (*models.Scene, error) {
	sc, err := o.Store.GetScene(ctx, projectID, sceneID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrSceneNotFound
	}
	return sc, err
}

// ProjectDetail is a project with its scenes and assets.
type ProjectDetail struct {
	Project *models.Project `json:"project"`
	Scenes  []models.Scene  `json:"scenes"`
	Assets  []models.Asset  `json:"assets"`
}

func (o *Orchestrator) GetProject(ctx context.Context, id string) (*ProjectDetail, error) {
	p, err := o.getProject(ctx, id)
	if err != nil {
		return nil, err
	}
	scenes, err := o.Store.ListScenes(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load scenes: %w", err)
	}
	assets, err := o.Store.ListAssets(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	return &ProjectDetail{Project: p, Scenes: scenes, Assets: assets}, nil
}

func (o *Orchestrator) ListScenes(ctx context.Context, id string) ([]models.Scene, error) {
	if _, err := o.getProject(ctx, id); err != nil {
		return nil, err
	}
	return o.Store.ListScenes(ctx, id)
}

// SceneEdit carries the fields a user may change. Nil means unchanged.
type SceneEdit struct {
	Title             *string
	Narration         *string
	VisualDescription *string
}

// EditScene applies a manual edit. A changed narration re-derives the
// duration, re-recording the voiceover when voice is enabled.
func (o *Orchestrator) EditScene(ctx context.Context, projectID, sceneID string, edit SceneEdit) (*models.Scene, error) {
	p, unlock, err := o.guardEdit(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	sc, err := o.getScene(ctx, projectID, sceneID)
	if err != nil {
		return nil, err
	}
	if edit.Title != nil {
		sc.Title = strings.TrimSpace(*edit.Title)
		if d := sc.Descriptor(); d != nil {
			d.SetHeading(sc.Title)
			sc.SetDescriptor(d)
		}
	}
	if edit.VisualDescription != nil {
		sc.VisualDescription = *edit.VisualDescription
	}
	narrationChanged := edit.Narration != nil && *edit.Narration != sc.Narration
	if narrationChanged {
		sc.Narration = *edit.Narration
	}
	if err := o.Store.SaveScene(ctx, sc); err != nil {
		return nil, fmt.Errorf("save scene: %w", err)
	}

	if narrationChanged && p.Status != models.ProjectStatusCreated && p.Status != models.ProjectStatusScraped {
		if p.VoiceEnabled() && o.Narrator != nil && (p.Status == models.ProjectStatusGenerated || p.Status == models.ProjectStatusDone) {
			if _, err := o.Narrator.Synthesize(ctx, p, sc); err != nil {
				return sc, fmt.Errorf("re-record voiceover: %w", err)
			}
		} else if !p.VoiceEnabled() {
			sc.DurationSeconds = voiceover.EstimateDuration(sc.Narration)
			if err := o.Store.SaveScene(ctx, sc); err != nil {
				return nil, fmt.Errorf("save scene: %w", err)
			}
		}
	}
	if err := o.invalidate(ctx, p); err != nil {
		return sc, err
	}
	return sc, nil
}

// RegenerateLayout re-synthesizes one scene's descriptor. preferred may be
// empty; instruction is an optional free-text request.
func (o *Orchestrator) RegenerateLayout(ctx context.Context, projectID, sceneID string, preferred layout.Arrangement, instruction string) (*models.Scene, error) {
	if preferred != "" && !preferred.Valid() {
		return nil, ErrInvalidLayout
	}
	p, unlock, err := o.guardEdit(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	scenes, err := o.Store.ListScenes(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load scenes: %w", err)
	}
	idx := -1
	var siblings []layout.Arrangement
	for i, s := range scenes {
		if s.ID == sceneID {
			idx = i
			continue
		}
		if d := s.Descriptor(); d != nil && d.Arrangement.Valid() {
			siblings = append(siblings, d.Arrangement)
		}
	}
	if idx < 0 {
		return nil, ErrSceneNotFound
	}
	sc := &scenes[idx]

	in := layout.RegenerateInput{
		SceneInput: layout.SceneInput{
			Title:                sc.Title,
			Narration:            sc.Narration,
			VisualDescription:    sc.VisualDescription,
			Index:                idx,
			Total:                len(scenes),
			PreferredArrangement: preferred,
			Current:              sc.Descriptor(),
		},
		SiblingArrangements: siblings,
		Instruction:         instruction,
	}
	d, err := o.newLayoutSynthesizer().Regenerate(ctx, in)
	if err != nil {
		log.Printf("[Layout] regenerate %s: %v, using fallback", sceneID, err)
		d = layout.FallbackDescriptor(sc.Title, sc.Narration)
		if preferred != "" {
			d.Arrangement = preferred
		}
	}
	sc.SetDescriptor(d)
	if err := o.Store.SaveScene(ctx, sc); err != nil {
		return nil, fmt.Errorf("save scene: %w", err)
	}
	if err := o.invalidate(ctx, p); err != nil {
		return sc, err
	}
	return sc, nil
}

// ReorderScenes renumbers scenes 1..N following orderedIDs.
func (o *Orchestrator) ReorderScenes(ctx context.Context, projectID string, orderedIDs []string) ([]models.Scene, error) {
	p, unlock, err := o.guardEdit(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	if err := o.Store.ReorderScenes(ctx, projectID, orderedIDs); err != nil {
		return nil, err
	}
	if err := o.invalidate(ctx, p); err != nil {
		return nil, err
	}
	return o.Store.ListScenes(ctx, projectID)
}

func (o *Orchestrator) getAsset(ctx context.Context, projectID, assetID string) (*models.Asset, error) {
	a, err := o.Store.GetAsset(ctx, projectID, assetID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, ErrAssetNotFound
	}
	return a, err
}

// SetAssetExcluded toggles whether an image may appear in the video.
func (o *Orchestrator) SetAssetExcluded(ctx context.Context, projectID, assetID string, excluded bool) (*models.Asset, error) {
	p, unlock, err := o.guardEdit(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	a, err := o.getAsset(ctx, projectID, assetID)
	if err != nil {
		return nil, err
	}
	if a.Excluded == excluded {
		return a, nil
	}
	a.Excluded = excluded
	if err := o.Store.SaveAsset(ctx, a); err != nil {
		return nil, fmt.Errorf("save asset: %w", err)
	}
	if a.Kind == models.AssetKindImage {
		if err := o.invalidate(ctx, p); err != nil {
			return a, err
		}
	}
	return a, nil
}

// DeleteAsset removes the local file and its object-store copy together.
func (o *Orchestrator) DeleteAsset(ctx context.Context, projectID, assetID string) error {
	p, unlock, err := o.guardEdit(ctx, projectID)
	if err != nil {
		return err
	}
	defer unlock()
	a, err := o.getAsset(ctx, projectID, assetID)
	if err != nil {
		return err
	}
	o.removeAsset(ctx, *a)
	if a.Kind == models.AssetKindAudio && a.SceneID != "" {
		if sc, err := o.Store.GetScene(ctx, projectID, a.SceneID); err == nil && sc.VoiceoverPath == a.LocalPath {
			sc.VoiceoverPath = ""
			_ = o.Store.SaveScene(ctx, sc)
		}
	}
	return o.invalidate(ctx, p)
}

// DeleteProject removes the project with its scenes, assets, local media,
// workspace and object-store copies. A running generation or edit blocks
// deletion; a running render is cancelled.
func (o *Orchestrator) DeleteProject(ctx context.Context, id string) error {
	p, unlock, err := o.lockProject(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	o.cancelRender(id)

	assets, err := o.Store.ListAssets(ctx, id)
	if err != nil {
		return fmt.Errorf("list assets: %w", err)
	}
	if err := o.Store.DeleteProject(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}

	for _, a := range assets {
		if a.ObjectKey != "" {
			if err := o.Objects.Delete(ctx, a.ObjectKey); err != nil {
				log.Printf("[Storage] delete %s: %v", a.ObjectKey, err)
			}
		}
	}
	if p.RenderKey != "" {
		if err := o.Objects.Delete(ctx, p.RenderKey); err != nil {
			log.Printf("[Storage] delete %s: %v", p.RenderKey, err)
		}
	}
	if err := os.RemoveAll(filepath.Join(o.MediaDir, id)); err != nil {
		log.Printf("[Pipeline] %s: remove media: %v", id, err)
	}
	if o.Workspace != nil {
		if err := o.Workspace.Remove(id); err != nil {
			log.Printf("[Pipeline] %s: remove workspace: %v", id, err)
		}
	}
	// 删除记录即释放闸门，unlock 随后为空操作
	_ = o.Pipelines.Delete(ctx, id)
	if o.Renderer != nil {
		_ = o.Renderer.Store().Delete(ctx, id)
	}
	log.Printf("[Pipeline] %s: deleted (%d assets, prefix %s)", id, len(assets), storage.ProjectPrefix(id))
	return nil
}
