// Package archive writes expired execution records to object storage before
// the retention job deletes them. Archival is optional: when no bucket is
// configured the retention job deletes without archiving.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mc "github.com/minio/minio-go/v7"

	kminio "github.com/kijko-dev/kijko-api/pkg/clients/minio"
	kerr "github.com/kijko-dev/kijko-api/pkg/errors"
	"github.com/kijko-dev/kijko-api/pkg/models"
)

// Archiver copies executions into a bucket as JSON objects keyed by
// organization and start date, so an organization's history stays browsable
// after the rows are gone.
type Archiver struct {
	client *kminio.Client
	bucket string
	logger *slog.Logger
}

// New creates an Archiver over the given bucket, creating the bucket if it
// does not exist yet.
func New(ctx context.Context, client *kminio.Client, bucket string, logger *slog.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, kerr.New(kerr.CodeValidationRequired, "archive: bucket name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "archive: bucket check failed")
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, mc.MakeBucketOptions{}); err != nil {
			return nil, kerr.Wrap(err, kerr.CodeUnavailableDependency, "archive: bucket creation failed")
		}
		logger.Info("archive bucket created", slog.String("bucket", bucket))
	}

	return &Archiver{client: client, bucket: bucket, logger: logger}, nil
}

// objectKey lays executions out as <org>/<yyyy>/<mm>/<id>.json.
func objectKey(e *models.Execution) string {
	return fmt.Sprintf("%s/%04d/%02d/%s.json",
		e.OrgID, e.StartedAt.Year(), int(e.StartedAt.Month()), e.ID)
}

// Archive stores each execution as one JSON object. It stops at the first
// failure so the retention job never deletes rows that were not written.
func (a *Archiver) Archive(ctx context.Context, executions []models.Execution) error {
	for i := range executions {
		e := &executions[i]
		data, err := json.Marshal(e)
		if err != nil {
			return kerr.Wrapf(err, kerr.CodeInternal, "archive: failed to encode execution %s", e.ID)
		}
		_, err = a.client.PutObject(ctx, a.bucket, objectKey(e),
			bytes.NewReader(data), int64(len(data)),
			mc.PutObjectOptions{ContentType: "application/json"})
		if err != nil {
			return kerr.Wrapf(err, kerr.CodeUnavailableDependency, "archive: failed to store execution %s", e.ID)
		}
	}
	a.logger.Info("executions archived",
		slog.Int("count", len(executions)),
		slog.String("bucket", a.bucket))
	return nil
}
