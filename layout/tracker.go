package layout

import (
	"strings"
	"sync"
)

const (
	historyWindow     = 4
	underusedFallback = 5
)

// VarietyTracker remembers which arrangements a sequence of scenes has used
// so later scenes can be steered away from repetition. It is safe for
// concurrent use, but a single project's scenes must be fed to it in order.
type VarietyTracker struct {
	mu      sync.Mutex
	counts  map[Arrangement]int
	history []Arrangement
}

func NewVarietyTracker() *VarietyTracker {
	return &VarietyTracker{counts: make(map[Arrangement]int)}
}

// Record increments the usage counter and pushes a onto the bounded history.
func (t *VarietyTracker) Record(a Arrangement) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[a]++
	t.history = append(t.history, a)
	if len(t.history) > historyWindow {
		t.history = t.history[len(t.history)-historyWindow:]
	}
}

// Recent returns up to n of the most recent arrangements, oldest first.
func (t *VarietyTracker) Recent(n int) []Arrangement {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recentLocked(n)
}

func (t *VarietyTracker) recentLocked(n int) []Arrangement {
	if n > len(t.history) {
		n = len(t.history)
	}
	out := make([]Arrangement, n)
	copy(out, t.history[len(t.history)-n:])
	return out
}

// Count returns how many times a has been recorded.
func (t *VarietyTracker) Count(a Arrangement) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[a]
}

// IsRepetitive reports whether a equals the immediately preceding arrangement
// or already fills both of the last two history slots.
func (t *VarietyTracker) IsRepetitive(a Arrangement) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) == 0 {
		return false
	}
	if t.history[len(t.history)-1] == a {
		return true
	}
	seen := 0
	for _, h := range t.recentLocked(2) {
		if h == a {
			seen++
		}
	}
	return seen >= 2
}

// Underused returns the non-hero arrangements whose usage count is strictly
// below the mean. When nothing qualifies (for example before any scene has
// been recorded) the first five non-hero arrangements are returned.
func (t *VarietyTracker) Underused() []Arrangement {
	t.mu.Lock()
	defer t.mu.Unlock()

	candidates := selectable()
	total := 0
	for _, a := range candidates {
		total += t.counts[a]
	}
	mean := float64(total) / float64(len(candidates))

	var out []Arrangement
	for _, a := range candidates {
		if float64(t.counts[a]) < mean {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		out = append(out, candidates[:underusedFallback]...)
	}
	return out
}

// RecentHint and UnderusedHint render the tracker state as soft steering text
// for the LLM prompt.
func (t *VarietyTracker) RecentHint() string {
	recent := t.Recent(3)
	if len(recent) == 0 {
		return "none yet"
	}
	return joinArrangements(recent)
}

func (t *VarietyTracker) UnderusedHint() string {
	return joinArrangements(t.Underused())
}

// selectable lists the arrangements the LLM may choose, i.e. all but the hero.
func selectable() []Arrangement {
	out := make([]Arrangement, 0, len(Arrangements)-1)
	for _, a := range Arrangements {
		if a != HeroArrangement {
			out = append(out, a)
		}
	}
	return out
}

func joinArrangements(as []Arrangement) string {
	parts := make([]string, len(as))
	for i, a := range as {
		parts[i] = string(a)
	}
	return strings.Join(parts, ", ")
}
