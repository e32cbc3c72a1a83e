// Package gcs archives raw pages in Google Cloud Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/archive"
	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

// Config captures the bucket and object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// Archive uploads page bodies to a bucket.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed archive.
func New(client *storage.Client, cfg Config) (*Archive, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive.gcs_bucket is required")
	}
	return &Archive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// PutPage uploads data and returns a gs:// URI.
func (a *Archive) PutPage(ctx context.Context, ref etl.PageRef, data []byte) (string, error) {
	path, err := archive.ObjectPath(a.prefix, ref)
	if err != nil {
		return "", err
	}
	writer := a.client.Bucket(a.bucket).Object(path).NewWriter(ctx)
	writer.ContentType = archive.ContentType
	writer.Metadata = map[string]string{
		"run_id": ref.RunID,
		"page":   fmt.Sprint(ref.Page),
		"sha256": ref.Digest,
	}
	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, path), nil
}

// Close releases the storage client.
func (a *Archive) Close() error {
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("close storage client: %w", err)
	}
	return nil
}
