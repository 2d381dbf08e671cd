package voiceover

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const (
	// WordsPerSecond is the assumed speaking rate when no audio exists.
	WordsPerSecond = 2.5
	// Padding is added after the narration of every scene.
	Padding = 1.0
	// MinNarrationSeconds is the floor of the word-count estimate.
	MinNarrationSeconds = 5.0
	// bytesPerSecond approximates 128kbps mp3 for the size-based fallback.
	bytesPerSecond = 16 * 1024
)

// EstimateDuration derives a scene duration from its narration word count,
// used when voiceover is disabled.
func EstimateDuration(narration string) float64 {
	words := float64(len(strings.Fields(narration)))
	return round1(math.Max(MinNarrationSeconds, words/WordsPerSecond) + Padding)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Probe measures the duration of an audio file in seconds.
type Probe interface {
	DurationSeconds(ctx context.Context, path string) (float64, error)
}

// FFProbe shells out to ffprobe.
type FFProbe struct {
	Binary string
}

func (p FFProbe) DurationSeconds(ctx context.Context, path string) (float64, error) {
	bin := p.Binary
	if bin == "" {
		bin = "ffprobe"
	}
	out, err := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return dur, nil
}

// EstimateFromSize is the last-resort duration guess from file size.
func EstimateFromSize(path string) (float64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return float64(info.Size()) / bytesPerSecond, nil
}
