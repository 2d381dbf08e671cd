package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"ExplainerVideo-server/models"
)

// RetentionSweeper periodically deletes free-tier projects older than Days.
type RetentionSweeper struct {
	orchestrator *Orchestrator
	Schedule     string
	Days         int
	cron         *cron.Cron
}

func NewRetentionSweeper(o *Orchestrator, schedule string, days int) *RetentionSweeper {
	return &RetentionSweeper{orchestrator: o, Schedule: schedule, Days: days}
}

// Start registers the sweep with a cron scheduler. Days <= 0 disables it.
func (r *RetentionSweeper) Start() error {
	if r.Days <= 0 {
		log.Printf("[Retention] disabled")
		return nil
	}
	r.cron = cron.New()
	_, err := r.cron.AddFunc(r.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if n, err := r.Sweep(ctx); err != nil {
			log.Printf("[Retention] sweep failed after %d deletions: %v", n, err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention sweep %q: %w", r.Schedule, err)
	}
	r.cron.Start()
	log.Printf("[Retention] free-tier projects older than %d days swept on %q", r.Days, r.Schedule)
	return nil
}

func (r *RetentionSweeper) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Sweep deletes expired free-tier projects and returns how many were
// removed. Projects with a running generation or edit are skipped until next
// time.
func (r *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.orchestrator.now().AddDate(0, 0, -r.Days)
	projects, err := r.orchestrator.Store.ListProjects(ctx, models.ProjectFilter{
		Tier:          models.TierFree,
		CreatedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list expired projects: %w", err)
	}
	deleted := 0
	for _, p := range projects {
		err := r.orchestrator.DeleteProject(ctx, p.ID)
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrEditInProgress), errors.Is(err, ErrProjectNotFound):
			log.Printf("[Retention] skip %s: %v", p.ID, err)
		default:
			return deleted, fmt.Errorf("delete %s: %w", p.ID, err)
		}
	}
	if deleted > 0 {
		log.Printf("[Retention] deleted %d free-tier projects created before %s", deleted, cutoff.Format(time.RFC3339))
	}
	return deleted, nil
}
