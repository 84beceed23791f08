package publish

import (
	"context"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/gpkgsink/pkg/config"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

// GCS publishes archives to a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
	prefix string
}

// NewGCS creates a storage client, using cfg.CredentialsFile when set and
// application default credentials otherwise.
func NewGCS(ctx context.Context, cfg config.PublishConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeConfig, "failed to create GCS client")
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		name:   cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Publish uploads localPath and returns its gs:// URL.
func (p *GCS) Publish(ctx context.Context, localPath, runID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", sinkerrors.Wrap(err, sinkerrors.ErrorTypeFile, "failed to open archive").
			WithDetail("path", localPath)
	}
	defer f.Close()

	key := ObjectKey(p.prefix, runID, localPath)
	w := p.bucket.Object(key).NewWriter(ctx)
	w.ContentType = ContentType
	w.Metadata = map[string]string{"run-id": runID}

	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return "", sinkerrors.Wrap(err, sinkerrors.ErrorTypePublish, "failed to write to GCS").
			WithDetail("key", key)
	}
	if err := w.Close(); err != nil {
		return "", sinkerrors.Wrap(err, sinkerrors.ErrorTypePublish, "failed to finish GCS upload").
			WithDetail("key", key)
	}
	return "gs://" + p.name + "/" + key, nil
}

// Close releases the storage client.
func (p *GCS) Close() error {
	return p.client.Close()
}
