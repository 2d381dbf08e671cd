package render

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ExplainerVideo-server/registry"
)

func TestParseLine(t *testing.T) {
	u := ParseLine("Rendered 50/200, time remaining: 00:30")
	assert.Equal(t, LineUpdate{HasFrames: true, Rendered: 50, Total: 200, ETA: "00:30"}, u)

	u = ParseLine("Rendered 7 / 9")
	assert.True(t, u.HasFrames)
	assert.Equal(t, 7, u.Rendered)

	assert.True(t, ParseLine("Bundling 34%").Empty())
	assert.Equal(t, "2m 10s", ParseLine("Time Remaining: 2m 10s").ETA)
}

func TestTracker_CarriageReturnLines(t *testing.T) {
	store := registry.NewMemory[Progress]()
	tr := NewTracker(store, "p1")

	require.NoError(t, tr.Consume(bytes.NewReader([]byte("Rendered 50/200, time remaining: 00:30\r"))))
	p, ok, _ := store.Get(context.Background(), "p1")
	require.True(t, ok)
	assert.Equal(t, 50, p.RenderedFrames)
	assert.Equal(t, 200, p.TotalFrames)
	assert.Equal(t, 25, p.Progress)
	assert.Equal(t, "00:30", p.TimeRemaining)
	assert.False(t, p.Done)
}

func TestTracker_InterleavedAndInvalidBytes(t *testing.T) {
	store := registry.NewMemory[Progress]()
	tr := NewTracker(store, "p1")
	stream := "noise \xff\xfe\nRendered 1/3\rRendered 2/3\rwarning: slow\nRendered 3/3"

	require.NoError(t, tr.Consume(strings.NewReader(stream)))
	p, _, _ := store.Get(context.Background(), "p1")
	assert.Equal(t, 3, p.RenderedFrames)
	assert.Equal(t, 100, p.Progress)
}

func TestApplyExit(t *testing.T) {
	p := Progress{RenderedFrames: 90, TotalFrames: 100, Progress: 90, TimeRemaining: "1s"}
	applyExit(&p, nil, false)
	assert.True(t, p.Done)
	assert.Equal(t, 100, p.Progress)
	assert.Equal(t, 100, p.RenderedFrames)
	assert.Empty(t, p.Error)
}

func newTestRunner(t *testing.T, script string) (*Runner, registry.Store[Progress]) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	store := registry.NewMemory[Progress]()
	r := NewRunner(store, "sh", []string{"-c", script})
	r.GracePeriod = 200 * time.Millisecond
	r.PollInterval = 20 * time.Millisecond
	return r, store
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("render did not finish")
	}
}

func TestRunner_Success(t *testing.T) {
	r, store := newTestRunner(t, `printf 'Rendered 10/20\n'; printf 'Rendered 18/20\r' >&2; exit 0`)
	var finished Progress
	h, err := r.Start(context.Background(), Job{Key: "p1", OnFinish: func(p Progress) { finished = p }})
	require.NoError(t, err)
	waitDone(t, h)

	p, _, _ := store.Get(context.Background(), "p1")
	assert.True(t, p.Done)
	assert.Empty(t, p.Error)
	assert.Equal(t, 100, p.Progress)
	assert.Equal(t, 20, p.RenderedFrames)
	assert.Equal(t, p.Progress, finished.Progress)
}

func TestRunner_NonZeroExit(t *testing.T) {
	r, store := newTestRunner(t, `echo 'Rendered 3/20'; echo boom >&2; exit 3`)
	h, err := r.Start(context.Background(), Job{Key: "p1"})
	require.NoError(t, err)
	waitDone(t, h)

	p, _, _ := store.Get(context.Background(), "p1")
	assert.True(t, p.Done)
	assert.Contains(t, p.Error, "exit code 3")
	assert.Equal(t, 3, p.RenderedFrames)
}

func TestRunner_KillsLingeringProcessAfterLastFrame(t *testing.T) {
	r, store := newTestRunner(t, `echo 'Rendered 5/5'; sleep 30`)
	start := time.Now()
	h, err := r.Start(context.Background(), Job{Key: "p1"})
	require.NoError(t, err)
	waitDone(t, h)

	assert.Less(t, time.Since(start), 10*time.Second)
	p, _, _ := store.Get(context.Background(), "p1")
	assert.True(t, p.Done)
	assert.Empty(t, p.Error)
	assert.Equal(t, 100, p.Progress)
}

func TestRunner_Cancel(t *testing.T) {
	r, store := newTestRunner(t, `sleep 30`)
	h, err := r.Start(context.Background(), Job{Key: "p1"})
	require.NoError(t, err)
	h.Cancel()
	waitDone(t, h)

	p, _, _ := store.Get(context.Background(), "p1")
	assert.True(t, p.Done)
	assert.NotEmpty(t, p.Error)
}

func TestRunner_ExpandsPlaceholders(t *testing.T) {
	r := NewRunner(registry.NewMemory[Progress](), "npx", []string{"render", "{workspace}/index.ts", "{output}", "--props={workspace}/data.json"})
	args := r.expand(Job{Workspace: "/w/p1", Output: "/w/p1/out.mp4"})
	assert.Equal(t, []string{"render", "/w/p1/index.ts", "/w/p1/out.mp4", "--props=/w/p1/data.json"}, args)
}

func TestRunner_StartFailure(t *testing.T) {
	store := registry.NewMemory[Progress]()
	r := NewRunner(store, "/definitely/not/a/binary", nil)
	_, err := r.Start(context.Background(), Job{Key: "p1"})
	require.Error(t, err)
	p, ok, _ := store.Get(context.Background(), "p1")
	require.True(t, ok)
	assert.True(t, p.Done)
	assert.NotEmpty(t, p.Error)
}
