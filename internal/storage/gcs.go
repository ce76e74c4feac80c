package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores artifacts in a Google Cloud Storage bucket. Objects are
// written publicly readable; the returned URL is the stable public form.
type GCS struct {
	client *gcs.Client
	bucket string
}

// NewGCS opens a client against the given bucket. Credentials come from
// ADC, or from explicit JSON in GCS_CREDENTIALS_JSON for local runs.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		client *gcs.Client
		err    error
	)
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		client, err = gcs.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		client, err = gcs.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bucket %q not accessible: %w", bucket, err)
	}

	return &GCS{client: client, bucket: bucket}, nil
}

func (s *GCS) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("storage is not initialized")
	}
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key is required")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("object data is empty")
	}

	wc := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	wc.ContentType = contentType
	wc.Metadata = map[string]string{
		"x-goog-acl": "public-read",
	}

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("failed to write object %q: %w", key, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %q: %w", key, err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, key), nil
}

func (s *GCS) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
