package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!doctype html>
<html><head><title> Caching 101 </title><style>p{}</style></head>
<body>
<nav><p>Home | Blog</p></nav>
<article>
  <h1>Why caches matter</h1>
  <p>Caches keep   hot data close.</p>
  <script>track()</script>
  <p>They <b>trade</b> memory for latency. <img src="/img/diagram.png"></p>
  <img src="data:image/png;base64,AAAA">
  <img src="https://cdn.example.com/logo.svg">
  <img src="/img/diagram.png">
  <ul><li>Hit ratio</li><li>Eviction</li></ul>
</article>
<footer><p>Copyright</p></footer>
</body></html>`

func TestScrape_ArticleTextAndImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/post":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(articleHTML))
		case "/img/diagram.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewHTTPScraper()
	page, err := s.Scrape(context.Background(), srv.URL+"/post")
	require.NoError(t, err)
	assert.Equal(t, "Caching 101", page.Title)
	assert.Equal(t, "Why caches matter\n\nCaches keep hot data close.\n\nThey trade memory for latency.\n\nHit ratio\n\nEviction", page.Text)
	assert.NotContains(t, page.Text, "Home")
	assert.NotContains(t, page.Text, "Copyright")
	assert.Equal(t, []string{srv.URL + "/img/diagram.png"}, page.Images)

	dir := t.TempDir()
	downloads, err := s.DownloadImages(context.Background(), append(page.Images, srv.URL+"/missing.jpg"), dir)
	require.NoError(t, err)
	require.Len(t, downloads, 1)
	assert.Equal(t, "image-1.png", downloads[0].Filename)
	assert.FileExists(t, downloads[0].Path)
}

func TestScrape_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/empty" {
			_, _ = w.Write([]byte("<html><body><script>x()</script></body></html>"))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	s := NewHTTPScraper()
	_, err := s.Scrape(context.Background(), srv.URL+"/blocked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")

	_, err = s.Scrape(context.Background(), srv.URL+"/empty")
	assert.True(t, errors.Is(err, ErrNoContent))

	_, err = s.Scrape(context.Background(), "ftp://example.com/file")
	assert.Error(t, err)
}

func TestTextExtractor(t *testing.T) {
	x := TextExtractor{}
	assert.True(t, x.Supports("notes.MD"))
	assert.False(t, x.Supports("deck.pptx"))

	md := "# Title\n\nSome **bold** and [a link](https://x.y).\n\n\n\n```go\nfmt.Println()\n```\n![chart](c.png)"
	text, err := x.Extract("notes.md", strings.NewReader(md))
	require.NoError(t, err)
	assert.Equal(t, "Title\n\nSome bold and a link.\n\nfmt.Println()\n\nchart", text)

	text, err = x.Extract("page.html", strings.NewReader("<p>Hello</p><p>World</p>"))
	require.NoError(t, err)
	assert.Equal(t, "Hello\n\nWorld", text)

	_, err = x.Extract("deck.pptx", strings.NewReader("binary"))
	assert.True(t, errors.Is(err, ErrUnsupportedDocument))
}

func TestIsImage(t *testing.T) {
	assert.True(t, IsImage("a.JPG"))
	assert.False(t, IsImage("a.txt"))
}
