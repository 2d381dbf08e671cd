// Package workspace materializes a project into the file tree consumed by the
// renderer: a data.json manifest plus copies of every referenced media file.
package workspace

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"ExplainerVideo-server/layout"
	"ExplainerVideo-server/models"
)

const (
	ManifestName = "data.json"
	audioDir     = "audio"
	imagesDir    = "images"

	LayoutCustom        = "custom"
	LayoutTextNarration = "text-narration"
)

type Manifest struct {
	ProjectName string       `json:"projectName"`
	TemplateID  string       `json:"templateId,omitempty"`
	AspectRatio string       `json:"aspectRatio,omitempty"`
	Theme       models.Theme `json:"theme"`
	Scenes      []SceneEntry `json:"scenes"`
}

type SceneEntry struct {
	Order           int                `json:"order"`
	Title           string             `json:"title"`
	Narration       string             `json:"narration"`
	Layout          string             `json:"layout"`
	Props           *layout.Descriptor `json:"props,omitempty"`
	DurationSeconds float64            `json:"durationSeconds"`
	VoiceoverFile   string             `json:"voiceoverFile,omitempty"`
	Images          []string           `json:"images"`
}

type Writer struct {
	Root string
}

func NewWriter(root string) *Writer {
	return &Writer{Root: root}
}

func (w *Writer) Dir(projectID string) string {
	return filepath.Join(w.Root, projectID)
}

func (w *Writer) ManifestPath(projectID string) string {
	return filepath.Join(w.Dir(projectID), ManifestName)
}

// Write regenerates the workspace of p from scratch: media directories are
// rebuilt and the manifest is replaced atomically. Scenes must be in order.
func (w *Writer) Write(p *models.Project, scenes []models.Scene, assets []models.Asset) (string, error) {
	dir := w.Dir(p.ID)
	for _, sub := range []string{audioDir, imagesDir} {
		if err := os.RemoveAll(filepath.Join(dir, sub)); err != nil {
			return "", fmt.Errorf("clean workspace: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return "", fmt.Errorf("create workspace: %w", err)
		}
	}

	images := make(map[string]models.Asset)
	for _, a := range models.IncludedImages(assets) {
		images[a.Filename] = a
	}

	m := Manifest{
		ProjectName: p.Name,
		TemplateID:  p.TemplateID,
		AspectRatio: p.AspectRatio,
		Theme:       p.Theme(),
		Scenes:      make([]SceneEntry, 0, len(scenes)),
	}
	copied := make(map[string]bool)
	for _, sc := range scenes {
		entry := SceneEntry{
			Order:           sc.Order,
			Title:           sc.Title,
			Narration:       sc.Narration,
			Layout:          LayoutTextNarration,
			DurationSeconds: sc.DurationSeconds,
			Images:          []string{},
		}
		if entry.DurationSeconds < models.MinSceneDuration {
			entry.DurationSeconds = models.MinSceneDuration
		}
		if d := sc.Descriptor(); !d.Empty() {
			entry.Layout = LayoutCustom
			entry.Props = d
		}

		if sc.VoiceoverPath != "" {
			name := fmt.Sprintf("scene-%d%s", sc.Order, filepath.Ext(sc.VoiceoverPath))
			if err := copyFile(sc.VoiceoverPath, filepath.Join(dir, audioDir, name)); err != nil {
				return "", fmt.Errorf("copy voiceover for scene %d: %w", sc.Order, err)
			}
			entry.VoiceoverFile = audioDir + "/" + name
		}

		for _, ref := range sc.Images {
			a, ok := images[ref]
			if !ok {
				continue
			}
			rel := imagesDir + "/" + a.Filename
			if !copied[a.Filename] {
				if err := copyFile(a.LocalPath, filepath.Join(dir, imagesDir, a.Filename)); err != nil {
					log.Printf("[Workspace] %s: skip image %s: %v", p.ID, a.Filename, err)
					continue
				}
				copied[a.Filename] = true
			}
			entry.Images = append(entry.Images, rel)
		}
		m.Scenes = append(m.Scenes, entry)
	}

	path := w.ManifestPath(p.ID)
	if err := writeJSONAtomic(path, m); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}
	log.Printf("[Workspace] %s: wrote %d scenes to %s", p.ID, len(m.Scenes), dir)
	return dir, nil
}

// Remove deletes the whole workspace of a project.
func (w *Writer) Remove(projectID string) error {
	return os.RemoveAll(w.Dir(projectID))
}

func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
