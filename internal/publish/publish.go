// Package publish uploads a finished archive to object storage.
package publish

import (
	"context"
	"path"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/gpkgsink/pkg/config"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

// ContentType of uploaded archives.
const ContentType = "application/zip"

// Publisher uploads one local file and returns its remote location.
type Publisher interface {
	Publish(ctx context.Context, localPath, runID string) (string, error)
	Close() error
}

// New returns the publisher selected by cfg.Target.
func New(ctx context.Context, cfg config.PublishConfig) (Publisher, error) {
	if cfg.Bucket == "" {
		return nil, sinkerrors.New(sinkerrors.ErrorTypeConfig, "publish bucket is required")
	}
	switch cfg.Target {
	case config.PublishS3:
		return NewS3(ctx, cfg)
	case config.PublishGCS:
		return NewGCS(ctx, cfg)
	default:
		return nil, sinkerrors.Newf(sinkerrors.ErrorTypeConfig, "unknown publish target %q", cfg.Target)
	}
}

// ObjectKey is prefix/runID/<file name>, skipping empty parts.
func ObjectKey(prefix, runID, localPath string) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	if runID != "" {
		parts = append(parts, runID)
	}
	parts = append(parts, filepath.Base(localPath))
	return path.Join(parts...)
}
