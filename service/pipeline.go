package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ExplainerVideo-server/models"
	"ExplainerVideo-server/source"
)

// 进度步骤（与持久化状态无关，供前端绘制进度条）
const (
	StepNotStarted = 0
	StepScraping   = 1
	StepScripting  = 2
	StepScenes     = 3
	StepDone       = 4
)

const DefaultStaleAfter = 15 * time.Minute

var (
	ErrAlreadyRunning   = errors.New("generation already running for this project")
	ErrEditInProgress   = errors.New("another change to this project is in progress")
	ErrProjectNotFound  = errors.New("project not found")
	ErrDocumentsPending = errors.New("documents not yet uploaded")
	ErrAlreadyDone      = errors.New("project already generated")
	ErrNotGenerated     = errors.New("project has not been generated yet")
	ErrRenderRunning    = errors.New("render in progress")
	ErrNoSourceText     = errors.New("project has no source text")
	ErrEmptyScript      = errors.New("script has no scenes")
)

// PipelineRecord is the per-project progress entry kept in the registry. It
// doubles as the project gate: Running is set by a generation run, and by an
// edit holding the gate, in which case Edit carries that edit's token.
type PipelineRecord struct {
	Step      int       `json:"step"`
	Running   bool      `json:"running"`
	Error     string    `json:"error,omitempty"`
	Edit      string    `json:"edit,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stale reports whether a running record has not been touched within after.
func (r PipelineRecord) Stale(after time.Duration, now time.Time) bool {
	if !r.Running || after <= 0 {
		return false
	}
	return now.Sub(r.UpdatedAt) > after
}

// GenerationStatus is what poll_generation_status returns.
type GenerationStatus struct {
	Status  string `json:"status"`
	Step    int    `json:"step"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// stepForStatus infers the step a project is at when no record exists.
func stepForStatus(status string) int {
	switch status {
	case models.ProjectStatusScraped:
		return StepScripting
	case models.ProjectStatusScripted:
		return StepScenes
	case models.ProjectStatusGenerated, models.ProjectStatusRendering, models.ProjectStatusDone:
		return StepDone
	}
	return StepNotStarted
}

// resumeStatus picks the stage an ERROR project restarts from.
func resumeStatus(p *models.Project, sceneCount int) string {
	switch {
	case sceneCount > 0:
		return models.ProjectStatusScripted
	case p.SourceText != "":
		return models.ProjectStatusScraped
	}
	return models.ProjectStatusCreated
}

// stageError remembers which step failed.
type stageError struct {
	step  int
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failAt(step int, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{step: step, stage: stage, err: err}
}

// userMessage 将协作方错误转换为可读信息
func userMessage(stage string, err error) string {
	switch {
	case errors.Is(err, ErrDocumentsPending):
		return "Documents not yet uploaded. Upload at least one document and try again."
	case errors.Is(err, source.ErrNoContent):
		return "Could not find readable text at the source URL."
	case errors.Is(err, ErrNoSourceText):
		return "The project has no source text to build a script from."
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s timed out. Please try again.", stage)
	case errors.Is(err, context.Canceled):
		return fmt.Sprintf("%s was interrupted. Please try again.", stage)
	}
	return fmt.Sprintf("%s failed: %v", stage, err)
}
