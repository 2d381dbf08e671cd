// Package source turns a blog URL or uploaded documents into plain text and
// candidate images for script generation.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"ExplainerVideo-server/llm"
)

const (
	DefaultMaxImages = 8
	maxPageBytes     = 5 << 20
	maxImageBytes    = 10 << 20
	maxTextRunes     = 20000
)

var ErrNoContent = errors.New("page has no readable text")

// Page is the readable part of a scraped article.
type Page struct {
	Title  string
	Text   string
	Images []string
}

type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (*Page, error)
}

// HTTPScraper fetches a page and keeps article text and inline images.
type HTTPScraper struct {
	UserAgent string
	MaxImages int
	client    *http.Client
}

func NewHTTPScraper() *HTTPScraper {
	return &HTTPScraper{
		UserAgent: "Mozilla/5.0 (compatible; ExplainerVideoBot/1.0)",
		MaxImages: DefaultMaxImages,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPScraper) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.UserAgent)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
	}
	return resp, nil
}

func (s *HTTPScraper) Scrape(ctx context.Context, pageURL string) (*Page, error) {
	base, err := url.Parse(pageURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("invalid page url %q", pageURL)
	}
	resp, err := s.get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	doc, err := html.Parse(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	page := ExtractPage(doc, base, s.MaxImages)
	if page.Text == "" {
		return nil, ErrNoContent
	}
	return page, nil
}

// ExtractPage walks a parsed document. Text comes from <article> or <main>
// when present, otherwise from <body>.
func ExtractPage(doc *html.Node, base *url.URL, maxImages int) *Page {
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	page := &Page{}
	if t := find(doc, atom.Title); t != nil {
		page.Title = strings.TrimSpace(textOf(t))
	}
	root := find(doc, atom.Article)
	if root == nil {
		root = find(doc, atom.Main)
	}
	if root == nil {
		root = find(doc, atom.Body)
	}
	if root == nil {
		root = doc
	}

	var blocks []string
	seen := make(map[string]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header, atom.Aside, atom.Form, atom.Svg:
				return
			case atom.P, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6, atom.Li, atom.Blockquote, atom.Pre:
				if t := collapse(textOf(n)); t != "" {
					blocks = append(blocks, t)
				}
				collectImages(n, base, page, seen, maxImages)
				return
			case atom.Img:
				addImage(n, base, page, seen, maxImages)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	page.Text = llm.Truncate(strings.Join(blocks, "\n\n"), maxTextRunes)
	return page
}

func collectImages(n *html.Node, base *url.URL, page *Page, seen map[string]bool, max int) {
	if n.Type == html.ElementNode && n.DataAtom == atom.Img {
		addImage(n, base, page, seen, max)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectImages(c, base, page, seen, max)
	}
}

func addImage(n *html.Node, base *url.URL, page *Page, seen map[string]bool, max int) {
	if len(page.Images) >= max {
		return
	}
	src := attr(n, "src")
	if src == "" {
		src = attr(n, "data-src")
	}
	if src == "" || strings.HasPrefix(src, "data:") {
		return
	}
	ref, err := url.Parse(src)
	if err != nil {
		return
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if strings.EqualFold(path.Ext(abs.Path), ".svg") {
		return
	}
	u := abs.String()
	if seen[u] {
		return
	}
	seen[u] = true
	page.Images = append(page.Images, u)
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if f := find(c, a); f != nil {
			return f
		}
	}
	return nil
}

func textOf(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.DataAtom == atom.Script || n.DataAtom == atom.Style) {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Download is an image fetched to local disk.
type Download struct {
	URL      string
	Filename string
	Path     string
}

// DownloadImages saves each image into dir as image-<n><ext>. Images that fail
// to download are logged and skipped.
func (s *HTTPScraper) DownloadImages(ctx context.Context, urls []string, dir string) ([]Download, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	var out []Download
	for _, u := range urls {
		filename := fmt.Sprintf("image-%d%s", len(out)+1, imageExt(u))
		p := filepath.Join(dir, filename)
		if err := s.downloadOne(ctx, u, p); err != nil {
			log.Printf("[Scraper] skip image %s: %v", u, err)
			continue
		}
		out = append(out, Download{URL: u, Filename: filename, Path: p})
	}
	return out, nil
}

func (s *HTTPScraper) downloadOne(ctx context.Context, u, dst string) error {
	resp, err := s.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return fmt.Errorf("unexpected content type %s", ct)
	}
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, maxImageBytes))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.New("empty image")
	}
	if err != nil {
		os.Remove(dst)
	}
	return err
}

func imageExt(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ".jpg"
	}
	switch ext := strings.ToLower(path.Ext(parsed.Path)); ext {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return ext
	}
	return ".jpg"
}
