// Package notify tells project owners that their video is ready.
package notify

import (
	"context"
	"log"

	"ExplainerVideo-server/models"
)

type Notifier interface {
	RenderComplete(ctx context.Context, p *models.Project, videoURL string) error
}

// LogNotifier only writes a log line. It stands in until an email provider
// is configured.
type LogNotifier struct{}

func (LogNotifier) RenderComplete(_ context.Context, p *models.Project, videoURL string) error {
	log.Printf("[Notify] project %s (%s) owner=%s: video ready at %s", p.ID, p.Name, p.OwnerID, videoURL)
	return nil
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, p *models.Project, videoURL string) error

func (f Func) RenderComplete(ctx context.Context, p *models.Project, videoURL string) error {
	return f(ctx, p, videoURL)
}
