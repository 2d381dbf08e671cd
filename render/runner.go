package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"ExplainerVideo-server/registry"
)

const (
	DefaultGracePeriod  = 5 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

// Job describes one render invocation.
type Job struct {
	Key       string // progress record key, normally the project id
	Workspace string
	Output    string
	// OnFinish runs in the watcher once the final record has been stored.
	OnFinish func(Progress)
}

// Runner spawns the renderer subprocess. Args may contain the {workspace}
// and {output} placeholders.
type Runner struct {
	Command      string
	Args         []string
	Dir          string
	GracePeriod  time.Duration
	PollInterval time.Duration
	store        registry.Store[Progress]
}

func NewRunner(store registry.Store[Progress], command string, args []string) *Runner {
	return &Runner{
		Command:      command,
		Args:         args,
		GracePeriod:  DefaultGracePeriod,
		PollInterval: DefaultPollInterval,
		store:        store,
	}
}

func (r *Runner) Store() registry.Store[Progress] { return r.store }

// Handle controls a running render.
type Handle struct {
	cmd   *exec.Cmd
	done  chan struct{}
	grace time.Duration
	once  sync.Once
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel terminates the process group and force-kills it after the grace
// period if it is still alive.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		terminateGroup(h.cmd)
		go func() {
			select {
			case <-h.done:
			case <-time.After(h.grace):
				killGroup(h.cmd)
			}
		}()
	})
}

func (r *Runner) expand(job Job) []string {
	out := make([]string, len(r.Args))
	for i, a := range r.Args {
		a = strings.ReplaceAll(a, "{workspace}", job.Workspace)
		a = strings.ReplaceAll(a, "{output}", job.Output)
		out[i] = a
	}
	return out
}

// Start resets the progress record, launches the subprocess and returns
// immediately. Progress is observable through the store.
func (r *Runner) Start(ctx context.Context, job Job) (*Handle, error) {
	cmd := exec.Command(r.Command, r.expand(job)...)
	cmd.Dir = r.Dir
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	now := time.Now()
	if err := r.store.Put(ctx, job.Key, Progress{StartedAt: now, UpdatedAt: now}); err != nil {
		return nil, fmt.Errorf("reset render progress: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = r.store.Put(ctx, job.Key, Progress{Done: true, Error: fmt.Sprintf("failed to start renderer: %v", err), StartedAt: now, UpdatedAt: now})
		return nil, fmt.Errorf("start renderer: %w", err)
	}
	log.Printf("[Render] %s: started pid %d", job.Key, cmd.Process.Pid)

	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	h := &Handle{cmd: cmd, done: make(chan struct{}), grace: grace}

	tracker := NewTracker(r.store, job.Key)
	var readers sync.WaitGroup
	for _, stream := range []io.Reader{stdout, stderr} {
		readers.Add(1)
		go func(s io.Reader) {
			defer readers.Done()
			if err := tracker.Consume(s); err != nil {
				log.Printf("[Render] %s: read output: %v", job.Key, err)
			}
		}(stream)
	}

	exited := make(chan error, 1)
	go func() {
		readers.Wait()
		exited <- cmd.Wait()
	}()

	go r.watch(job, h, exited)
	return h, nil
}

// watch waits for the process to exit and writes the final record. When the
// frame counter reports completion first, the process group is killed after
// the grace period.
func (r *Runner) watch(job Job, h *Handle, exited <-chan error) {
	defer close(h.done)
	final := Progress{}
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[Render] %s: watcher panic: %v", job.Key, rec)
			final = r.finish(job.Key, func(p *Progress) {
				p.Done = true
				p.Error = fmt.Sprintf("render watcher failed: %v", rec)
			})
			killGroup(h.cmd)
		}
		if job.OnFinish != nil {
			job.OnFinish(final)
		}
	}()

	poll := r.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var completeSince time.Time
	killedAfterComplete := false
	for {
		select {
		case err := <-exited:
			final = r.finish(job.Key, func(p *Progress) {
				applyExit(p, err, killedAfterComplete)
			})
			log.Printf("[Render] %s: finished (error=%q)", job.Key, final.Error)
			return
		case <-ticker.C:
			p, _, err := r.store.Get(context.Background(), job.Key)
			if err != nil || !p.FramesComplete() || killedAfterComplete {
				continue
			}
			if completeSince.IsZero() {
				completeSince = time.Now()
				continue
			}
			if time.Since(completeSince) >= h.grace {
				log.Printf("[Render] %s: all frames rendered but process still alive, killing", job.Key)
				killedAfterComplete = true
				killGroup(h.cmd)
			}
		}
	}
}

func (r *Runner) finish(key string, fn func(p *Progress)) Progress {
	p, err := r.store.Update(context.Background(), key, func(cur Progress, _ bool) (Progress, error) {
		fn(&cur)
		cur.UpdatedAt = time.Now()
		return cur, nil
	})
	if err != nil {
		log.Printf("[Render] %s: store final progress: %v", key, err)
	}
	return p
}

// applyExit maps the subprocess exit onto the record.
func applyExit(p *Progress, err error, killedAfterComplete bool) {
	p.Done = true
	if err == nil || killedAfterComplete {
		p.Progress = 100
		if p.TotalFrames > 0 {
			p.RenderedFrames = p.TotalFrames
		}
		p.TimeRemaining = ""
		p.Error = ""
		return
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		p.Error = fmt.Sprintf("render failed with exit code %d", exitErr.ExitCode())
		return
	}
	p.Error = fmt.Sprintf("render failed: %v", err)
}
