// Package publish optionally uploads a finished WACZ to an S3-compatible
// bucket once export finishes, a supplemental sink not present in
// original_source (WACZ-producing crawlers commonly ship one; see
// SPEC_FULL.md's domain stack). It is invoked only when the export CLI is
// given --s3-bucket, never as part of the core pipeline.
package publish

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config names the destination bucket/key and, optionally, a non-AWS
// S3-compatible endpoint.
type Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string // empty uses the default AWS endpoint resolution
}

// Upload puts the file at path to the bucket/key named by cfg.
func Upload(ctx context.Context, cfg Config, path string) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return fmt.Errorf("publish: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("publish: opening %s: %w", path, err)
	}
	defer f.Close()

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(cfg.Bucket),
		Key:    aws.String(cfg.Key),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("publish: uploading to s3://%s/%s: %w", cfg.Bucket, cfg.Key, err)
	}
	return nil
}
