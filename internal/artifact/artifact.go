// Package artifact persists uploaded PDFs and generated outputs under stable
// keys, on local disk or in a MinIO bucket.
package artifact

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/spherical/paper-whisperer/internal/config"
	"github.com/spherical/paper-whisperer/internal/domain"
	"github.com/spherical/paper-whisperer/internal/observability"
)

// Store is a flat key/value blob store.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Content types of the stored artifacts.
const (
	ContentTypePDF      = "application/pdf"
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypePNG      = "image/png"
)

// UploadKey is where the original PDF of a task lives.
func UploadKey(taskID string) string {
	return "uploads/" + taskID + ".pdf"
}

// Key returns the storage key of a generated artifact.
func Key(taskID string, kind domain.ArtifactKind) string {
	switch kind {
	case domain.ArtifactUpload:
		return UploadKey(taskID)
	case domain.ArtifactArticle:
		return "outputs/" + taskID + "_article.md"
	case domain.ArtifactNote:
		return "outputs/" + taskID + "_note.md"
	case domain.ArtifactImage:
		return "outputs/" + taskID + "_note.png"
	default:
		return "outputs/" + taskID + "_" + string(kind)
	}
}

// ContentType returns the MIME type served for an artifact kind.
func ContentType(kind domain.ArtifactKind) string {
	switch kind {
	case domain.ArtifactUpload:
		return ContentTypePDF
	case domain.ArtifactImage:
		return ContentTypePNG
	default:
		return ContentTypeMarkdown
	}
}

// FileName is the download name offered for an artifact.
func FileName(taskID string, kind domain.ArtifactKind) string {
	return path.Base(Key(taskID, kind))
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.ArtifactConfig, logger *observability.Logger) (Store, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStore(cfg.OutputDir)
	case "minio":
		return NewMinioStore(ctx, cfg.Minio, logger)
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown artifact driver %q", cfg.Driver), nil)
	}
}

// cleanKey rejects keys that could escape the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean(strings.TrimSpace(key))
	if k == "." || k == "" || strings.HasPrefix(k, "/") || k == ".." || strings.HasPrefix(k, "../") {
		return "", domain.ValidationError(fmt.Sprintf("invalid artifact key %q", key), nil)
	}
	return k, nil
}
