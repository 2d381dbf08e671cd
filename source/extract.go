package source

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

var ErrUnsupportedDocument = errors.New("unsupported document type")

const maxDocumentBytes = 10 << 20

// DocumentExtractor pulls plain text out of an uploaded file.
type DocumentExtractor interface {
	Extract(filename string, r io.Reader) (string, error)
	Supports(filename string) bool
}

// TextExtractor handles plain text, markdown and html uploads.
type TextExtractor struct{}

func (TextExtractor) Supports(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".md", ".markdown", ".html", ".htm":
		return true
	}
	return false
}

var (
	mdFence   = regexp.MustCompile("(?m)^```.*$")
	mdHeading = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	mdImage   = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink    = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdEmph    = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)`)
	blankRuns = regexp.MustCompile(`\n{3,}`)
)

func (t TextExtractor) Extract(filename string, r io.Reader) (string, error) {
	if !t.Supports(filename) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, filepath.Ext(filename))
	}
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filename, err)
	}
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), ""))
	}
	text := string(data)

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		text = stripMarkdown(text)
	case ".html", ".htm":
		doc, err := html.Parse(strings.NewReader(text))
		if err != nil {
			return "", fmt.Errorf("parse %s: %w", filename, err)
		}
		text = ExtractPage(doc, nil, 0).Text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = blankRuns.ReplaceAllString(strings.TrimSpace(text), "\n\n")
	return text, nil
}

func stripMarkdown(s string) string {
	s = mdFence.ReplaceAllString(s, "")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	return mdEmph.ReplaceAllString(s, "")
}

// IsImage reports whether an upload should be stored as an image asset.
func IsImage(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	}
	return false
}
