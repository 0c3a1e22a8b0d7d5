package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"CoDetServer/eventlog"
	iface "CoDetServer/interface"
	"CoDetServer/render"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// ObjectStore is the part of *minio.Client the archiver uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Snapshot produces an annotated JPEG of the current frame.
type Snapshot interface {
	JPEG() ([]byte, error)
}

func NewMinioClient(endpoint, accessKey, secretKey string, secure bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	return client, nil
}

// Archiver stores a snapshot and the event JSON for every new co-occurrence. Matches that only
// refresh the previous log head are skipped.
type Archiver struct {
	store    ObjectStore
	bucket   string
	snapshot Snapshot
	logger   *zap.Logger
}

func NewArchiver(store ObjectStore, bucket string, snapshot Snapshot, logger *zap.Logger) *Archiver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, bucket: bucket, snapshot: snapshot, logger: logger}
}

// EnsureBucket creates the bucket when missing.
func (a *Archiver) EnsureBucket(ctx context.Context) error {
	exists, err := a.store.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	if err := a.store.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", a.bucket, err)
	}
	return nil
}

// Run consumes log entries until ctx is done or entries is closed.
func (a *Archiver) Run(ctx context.Context, entries <-chan eventlog.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if entry.Replaced || entry.Event.Kind != iface.KindMatched {
				continue
			}
			if err := a.Archive(ctx, entry.Event); err != nil {
				a.logger.Error("snapshot upload failed", zap.String("event", entry.Event.ID), zap.Error(err))
			}
		}
	}
}

// Archive uploads <date>/<id>.jpg and <date>/<id>.json. The image is skipped when no frame has
// been captured.
func (a *Archiver) Archive(ctx context.Context, e iface.Event) error {
	prefix := ObjectPrefix(e)
	if a.snapshot != nil {
		img, err := a.snapshot.JPEG()
		switch {
		case errors.Is(err, render.ErrNoFrame):
			a.logger.Debug("no frame for snapshot", zap.String("event", e.ID))
		case err != nil:
			return fmt.Errorf("render snapshot: %w", err)
		default:
			if err := a.put(ctx, prefix+".jpg", img, "image/jpeg"); err != nil {
				return err
			}
		}
	}
	meta, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return a.put(ctx, prefix+".json", meta, "application/json")
}

func (a *Archiver) put(ctx context.Context, object string, data []byte, contentType string) error {
	_, err := a.store.PutObject(ctx, a.bucket, object, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to save %s to S3: %w", object, err)
	}
	return nil
}

func ObjectPrefix(e iface.Event) string {
	return e.Timestamp.UTC().Format("2006/01/02") + "/" + e.ID
}
