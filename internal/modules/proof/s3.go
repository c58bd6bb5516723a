package proof

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"foodbridge/internal/types"
)

type S3Storage struct {
	client  *s3.Client
	bucket  string
	region  string
	folder  string
	baseURL string
	now     func() time.Time
}

// NewS3Storage loads the default AWS credential chain. baseURL, when set,
// replaces the virtual-hosted bucket URL (e.g. a CDN in front of the bucket).
func NewS3Storage(ctx context.Context, bucket, region, folder, baseURL string) (*S3Storage, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return &S3Storage{
		client:  s3.NewFromConfig(cfg),
		bucket:  bucket,
		region:  cfg.Region,
		folder:  folder,
		baseURL: baseURL,
		now:     time.Now,
	}, nil
}

func (s *S3Storage) Put(ctx context.Context, donationID types.ID, filename string, body io.Reader) (string, error) {
	if err := ValidateName(filename); err != nil {
		return "", err
	}
	key := objectKey(s.folder, donationID, filename, s.now())
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType(filename)),
	})
	if err != nil {
		return "", fmt.Errorf("unable to upload proof to S3: %w", err)
	}
	return s.objectURL(key), nil
}

func (s *S3Storage) objectURL(key string) string {
	if s.baseURL != "" {
		return strings.TrimRight(s.baseURL, "/") + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
