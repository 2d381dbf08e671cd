package models

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidOrder = errors.New("reorder must list every scene of the project exactly once")
)

// ProjectFilter selects projects for maintenance jobs. Zero fields match all.
type ProjectFilter struct {
	Tier          string
	CreatedBefore time.Time
}

// Store is the relational source of truth for projects, scenes and assets.
type Store interface {
	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	SaveProject(ctx context.Context, p *Project) error
	SetProjectStatus(ctx context.Context, id, status, message string) error
	ListProjects(ctx context.Context, f ProjectFilter) ([]Project, error)
	// DeleteProject removes the project row together with its scenes and assets.
	DeleteProject(ctx context.Context, id string) error

	ListScenes(ctx context.Context, projectID string) ([]Scene, error)
	GetScene(ctx context.Context, projectID, sceneID string) (*Scene, error)
	// ReplaceScenes atomically swaps all scenes of a project, numbering them 1..N.
	ReplaceScenes(ctx context.Context, projectID string, scenes []Scene) error
	SaveScene(ctx context.Context, s *Scene) error
	ReorderScenes(ctx context.Context, projectID string, orderedIDs []string) error

	CreateAsset(ctx context.Context, a *Asset) error
	GetAsset(ctx context.Context, projectID, assetID string) (*Asset, error)
	ListAssets(ctx context.Context, projectID string) ([]Asset, error)
	SaveAsset(ctx context.Context, a *Asset) error
	DeleteAsset(ctx context.Context, projectID, assetID string) error
}

// checkOrder validates that orderedIDs is a permutation of existing.
func checkOrder(existing []Scene, orderedIDs []string) (map[string]int, error) {
	if len(existing) != len(orderedIDs) {
		return nil, ErrInvalidOrder
	}
	known := make(map[string]bool, len(existing))
	for _, s := range existing {
		known[s.ID] = true
	}
	pos := make(map[string]int, len(orderedIDs))
	for i, id := range orderedIDs {
		if !known[id] {
			return nil, ErrInvalidOrder
		}
		if _, dup := pos[id]; dup {
			return nil, ErrInvalidOrder
		}
		pos[id] = i + 1
	}
	return pos, nil
}
