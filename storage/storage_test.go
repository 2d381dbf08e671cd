package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyAndContentType(t *testing.T) {
	assert.Equal(t, "projects/p1/audio/scene-1.mp3", Key("p1", "audio", "/tmp/x/scene-1.mp3"))
	assert.True(t, strings.HasPrefix(Key("p1", "images", "a.png"), ProjectPrefix("p1")))
	assert.Equal(t, "image/png", ContentType("A.PNG"))
	assert.Equal(t, "audio/mpeg", ContentType("v.mp3"))
	assert.Equal(t, "application/octet-stream", ContentType("blob"))
}

func TestNop(t *testing.T) {
	_, err := Nop{}.Upload(context.Background(), "/tmp/a", "k")
	assert.Error(t, err)
	assert.NoError(t, Nop{}.Delete(context.Background(), "k"))
}

func TestSupabaseStore_UploadAndDelete(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		seen = append(seen, r.Method+" "+r.URL.Path+" "+string(body))
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodDelete {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(`{"Key":"renders/projects/p1/video/out.mp4"}`))
	}))
	defer srv.Close()

	local := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(local, []byte("video"), 0o644))

	s := NewSupabase(srv.URL+"/", "service-key", "renders")
	url, err := s.Upload(context.Background(), local, "projects/p1/video/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/renders/projects/p1/video/out.mp4", url)

	require.NoError(t, s.Delete(context.Background(), "projects/p1/video/out.mp4"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Contains(t, seen[0], "/storage/v1/object/renders/projects/p1/video/out.mp4")
	assert.Contains(t, seen[0], "video")
}
