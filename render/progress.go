// Package render runs the video renderer as a subprocess and tracks its
// progress from the text it prints.
package render

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"ExplainerVideo-server/registry"
)

// Progress is the polled render record of one project.
type Progress struct {
	Progress       int       `json:"progress"`
	RenderedFrames int       `json:"rendered_frames"`
	TotalFrames    int       `json:"total_frames"`
	Done           bool      `json:"done"`
	Error          string    `json:"error,omitempty"`
	TimeRemaining  string    `json:"time_remaining,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Running reports whether the record belongs to a render still in flight.
func (p Progress) Running() bool { return !p.Done }

func (p Progress) FramesComplete() bool {
	return p.TotalFrames > 0 && p.RenderedFrames >= p.TotalFrames
}

var (
	framesRe = regexp.MustCompile(`Rendered\s+(\d+)\s*/\s*(\d+)`)
	etaRe    = regexp.MustCompile(`(?i)time remaining:\s*([^,\r\n]+)`)
)

// LineUpdate is what a single output line contributes to the record.
type LineUpdate struct {
	HasFrames bool
	Rendered  int
	Total     int
	ETA       string
}

func (u LineUpdate) Empty() bool { return !u.HasFrames && u.ETA == "" }

// ParseLine extracts frame counts and the ETA from one line of output.
// Lines without progress information yield an empty update.
func ParseLine(line string) LineUpdate {
	var u LineUpdate
	if m := framesRe.FindStringSubmatch(line); m != nil {
		rendered, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil {
			u.HasFrames, u.Rendered, u.Total = true, rendered, total
		}
	}
	if m := etaRe.FindStringSubmatch(line); m != nil {
		u.ETA = strings.TrimSpace(m[1])
	}
	return u
}

// Apply folds an update into p.
func (u LineUpdate) Apply(p *Progress) {
	if u.HasFrames {
		p.RenderedFrames = u.Rendered
		p.TotalFrames = u.Total
		if u.Total > 0 {
			p.Progress = int(math.Round(float64(u.Rendered) / float64(u.Total) * 100))
			if p.Progress > 100 {
				p.Progress = 100
			}
		}
	}
	if u.ETA != "" {
		p.TimeRemaining = u.ETA
	}
}

// Tracker feeds subprocess output into the shared progress record.
type Tracker struct {
	store registry.Store[Progress]
	key   string
}

func NewTracker(store registry.Store[Progress], key string) *Tracker {
	return &Tracker{store: store, key: key}
}

// Consume reads r byte by byte until EOF. Both '\r' and '\n' end a line, and
// each line is applied to the record in a single update.
func (t *Tracker) Consume(r io.Reader) error {
	br := bufio.NewReader(r)
	var line []byte
	for {
		b, err := br.ReadByte()
		if err != nil {
			if len(line) > 0 {
				t.HandleLine(string(line))
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
		if b == '\r' || b == '\n' {
			if len(line) > 0 {
				t.HandleLine(string(line))
				line = line[:0]
			}
			continue
		}
		line = append(line, b)
	}
}

func (t *Tracker) HandleLine(raw string) {
	u := ParseLine(strings.ToValidUTF8(raw, "�"))
	if u.Empty() {
		return
	}
	_, err := t.store.Update(context.Background(), t.key, func(cur Progress, _ bool) (Progress, error) {
		u.Apply(&cur)
		cur.UpdatedAt = time.Now()
		return cur, nil
	})
	if err != nil {
		log.Printf("[Render] %s: progress update failed: %v", t.key, err)
	}
}
