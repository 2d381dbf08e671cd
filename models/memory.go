package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store for local runs and tests.
type MemoryStore struct {
	sync.RWMutex
	projects map[string]Project
	scenes   map[string]Scene
	assets   map[string]Asset
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]Project),
		scenes:   make(map[string]Scene),
		assets:   make(map[string]Asset),
	}
}

func (m *MemoryStore) CreateProject(_ context.Context, p *Project) error {
	m.Lock()
	defer m.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.projects[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	m.RLock()
	defer m.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) SaveProject(_ context.Context, p *Project) error {
	m.Lock()
	defer m.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.UpdatedAt = time.Now()
	m.projects[p.ID] = *p
	return nil
}

func (m *MemoryStore) SetProjectStatus(_ context.Context, id, status, message string) error {
	m.Lock()
	defer m.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	p.ErrorMessage = message
	p.UpdatedAt = time.Now()
	m.projects[id] = p
	return nil
}

func (m *MemoryStore) ListProjects(_ context.Context, f ProjectFilter) ([]Project, error) {
	m.RLock()
	defer m.RUnlock()
	var out []Project
	for _, p := range m.projects {
		if f.Tier != "" && p.Tier != f.Tier {
			continue
		}
		if !f.CreatedBefore.IsZero() && !p.CreatedAt.Before(f.CreatedBefore) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) DeleteProject(_ context.Context, id string) error {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.projects[id]; !ok {
		return ErrNotFound
	}
	delete(m.projects, id)
	for k, s := range m.scenes {
		if s.ProjectID == id {
			delete(m.scenes, k)
		}
	}
	for k, a := range m.assets {
		if a.ProjectID == id {
			delete(m.assets, k)
		}
	}
	return nil
}

func (m *MemoryStore) ListScenes(_ context.Context, projectID string) ([]Scene, error) {
	m.RLock()
	defer m.RUnlock()
	return m.scenesLocked(projectID), nil
}

func (m *MemoryStore) scenesLocked(projectID string) []Scene {
	var out []Scene
	for _, s := range m.scenes {
		if s.ProjectID == projectID {
			out = append(out, cloneScene(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

func (m *MemoryStore) GetScene(_ context.Context, projectID, sceneID string) (*Scene, error) {
	m.RLock()
	defer m.RUnlock()
	s, ok := m.scenes[sceneID]
	if !ok || s.ProjectID != projectID {
		return nil, ErrNotFound
	}
	s = cloneScene(s)
	return &s, nil
}

func (m *MemoryStore) ReplaceScenes(_ context.Context, projectID string, scenes []Scene) error {
	m.Lock()
	defer m.Unlock()
	for k, s := range m.scenes {
		if s.ProjectID == projectID {
			delete(m.scenes, k)
		}
	}
	Renumber(scenes)
	now := time.Now()
	for i := range scenes {
		scenes[i].ProjectID = projectID
		if scenes[i].ID == "" {
			scenes[i].ID = uuid.NewString()
		}
		scenes[i].CreatedAt = now
		scenes[i].UpdatedAt = now
		m.scenes[scenes[i].ID] = cloneScene(scenes[i])
	}
	return nil
}

func (m *MemoryStore) SaveScene(_ context.Context, s *Scene) error {
	m.Lock()
	defer m.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.UpdatedAt = time.Now()
	m.scenes[s.ID] = cloneScene(*s)
	return nil
}

func (m *MemoryStore) ReorderScenes(_ context.Context, projectID string, orderedIDs []string) error {
	m.Lock()
	defer m.Unlock()
	pos, err := checkOrder(m.scenesLocked(projectID), orderedIDs)
	if err != nil {
		return err
	}
	for id, order := range pos {
		s := m.scenes[id]
		s.Order = order
		s.UpdatedAt = time.Now()
		m.scenes[id] = s
	}
	return nil
}

func (m *MemoryStore) CreateAsset(_ context.Context, a *Asset) error {
	m.Lock()
	defer m.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.assets[a.ID] = *a
	return nil
}

func (m *MemoryStore) GetAsset(_ context.Context, projectID, assetID string) (*Asset, error) {
	m.RLock()
	defer m.RUnlock()
	a, ok := m.assets[assetID]
	if !ok || a.ProjectID != projectID {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListAssets(_ context.Context, projectID string) ([]Asset, error) {
	m.RLock()
	defer m.RUnlock()
	var out []Asset
	for _, a := range m.assets {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) SaveAsset(_ context.Context, a *Asset) error {
	m.Lock()
	defer m.Unlock()
	a.UpdatedAt = time.Now()
	m.assets[a.ID] = *a
	return nil
}

func (m *MemoryStore) DeleteAsset(_ context.Context, projectID, assetID string) error {
	m.Lock()
	defer m.Unlock()
	a, ok := m.assets[assetID]
	if !ok || a.ProjectID != projectID {
		return ErrNotFound
	}
	delete(m.assets, assetID)
	return nil
}

func cloneScene(s Scene) Scene {
	if s.Images != nil {
		s.Images = append(StringList(nil), s.Images...)
	}
	if s.Layout != nil {
		doc := *s.Layout
		doc.Elements = append(doc.Elements[:0:0], doc.Elements...)
		doc.Decorations = append(doc.Decorations[:0:0], doc.Decorations...)
		s.Layout = &doc
	}
	return s
}
