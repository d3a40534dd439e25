// Package archive stores finalized flight records in S3-compatible object
// storage for post-flight review.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/flightdeck-io/flightdeck/internal/engine"
	"github.com/flightdeck-io/flightdeck/pkg/log"
	genericoptions "github.com/flightdeck-io/flightdeck/pkg/options"
)

const storeTimeout = 10 * time.Second

// Archiver uploads finalized execution records as JSON objects under
// records/{vehicleID}/{recordID}.json.
type Archiver struct {
	client    *minio.Client
	bucket    string
	vehicleID string
}

// New builds an Archiver against the configured S3 endpoint.
func New(opts *genericoptions.S3Options, vehicleID string) (*Archiver, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &Archiver{
		client:    client,
		bucket:    opts.BucketName,
		vehicleID: vehicleID,
	}, nil
}

// EnsureBucket creates the archive bucket if it does not exist yet.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if !exists {
		log.Info("Archive bucket does not exist, creating", "bucket", a.bucket)
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// Store uploads one finalized record. Failures are returned, not retried;
// the caller decides whether archival is best effort.
func (a *Archiver) Store(ctx context.Context, view engine.View) error {
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", view.ID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	key := fmt.Sprintf("records/%s/%s.json", a.vehicleID, view.ID)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("store record %s: %w", view.ID, err)
	}
	return nil
}
