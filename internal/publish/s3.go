package publish

import (
	"context"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ajitpratap0/gpkgsink/pkg/config"
	"github.com/ajitpratap0/gpkgsink/pkg/sinkerrors"
)

type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3 publishes archives to an S3 bucket using the multipart uploader.
type S3 struct {
	bucket   string
	prefix   string
	uploader s3Uploader
}

// NewS3 loads the default AWS configuration for cfg.Region.
func NewS3(ctx context.Context, cfg config.PublishConfig) (*S3, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, awsconfig.WithSharedCredentialsFiles([]string{cfg.CredentialsFile}))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeConfig, "failed to load AWS configuration")
	}
	return &S3{
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		uploader: manager.NewUploader(s3.NewFromConfig(awsCfg)),
	}, nil
}

// Publish uploads localPath and returns its s3:// URL.
func (p *S3) Publish(ctx context.Context, localPath, runID string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", sinkerrors.Wrap(err, sinkerrors.ErrorTypeFile, "failed to open archive").
			WithDetail("path", localPath)
	}
	defer f.Close()

	key := ObjectKey(p.prefix, runID, localPath)
	_, err = p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(ContentType),
		Metadata:    map[string]string{"run-id": runID},
	})
	if err != nil {
		return "", sinkerrors.Wrap(err, sinkerrors.ErrorTypePublish, "failed to upload to S3").
			WithDetail("bucket", p.bucket).
			WithDetail("key", key)
	}
	return "s3://" + p.bucket + "/" + key, nil
}

// Close is a no-op; the SDK client holds no resources.
func (p *S3) Close() error { return nil }
