// Package storage mirrors local media files to durable object storage.
// Callers treat every operation as best-effort.
package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

type ObjectStore interface {
	// Upload copies the local file to key and returns a URL for it.
	Upload(ctx context.Context, localPath, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Key builds an object key of the form projects/<id>/<kind>/<filename>.
func Key(projectID, kind, filename string) string {
	return path.Join("projects", projectID, kind, filepath.Base(filename))
}

// ProjectPrefix is the key prefix shared by every object of a project.
func ProjectPrefix(projectID string) string {
	return "projects/" + projectID + "/"
}

// ContentType 根据扩展名确定 ContentType
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".pdf":
		return "application/pdf"
	case ".md", ".txt":
		return "text/plain; charset=utf-8"
	}
	return "application/octet-stream"
}

// Nop is used when no object storage is configured.
type Nop struct{}

func (Nop) Upload(_ context.Context, localPath, key string) (string, error) {
	return "", fmt.Errorf("object storage disabled, not uploading %s", key)
}

func (Nop) Delete(context.Context, string) error { return nil }
