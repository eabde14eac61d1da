package backup

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/galaxycache/pkg/config"
)

// archiver mirrors flushed backup entries to a cold S3-compatible object
// store, for long-MODIFIED lines whose local WAL segment may eventually
// be rotated away. It is best-effort: a failed archive upload is logged
// by the caller and never blocks the hot backup path.
type archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// newArchiver builds an archiver from ArchiveConfig, or returns (nil,
// nil) when archiving is disabled.
func newArchiver(ctx context.Context, cfg config.ArchiveConfig) (*archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup: archive.bucket is required when archive.enabled is true")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("backup: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &archiver{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// put uploads a snapshot of one backed-up line under
// <prefix><lineID>/<version>; the prefix is prepended as is, so a
// prefix meant as a folder carries its own trailing slash.
func (a *archiver) put(ctx context.Context, lineID, version uint64, data []byte) error {
	key := fmt.Sprintf("%s%d/%d", a.prefix, lineID, version)
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("backup: archive put %s: %w", key, err)
	}
	return nil
}
