package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"storyloom/internal/config"
	"storyloom/internal/logging"
)

// objectWriter opens a writer for object that fails if the object exists.
type objectWriter func(ctx context.Context, object, contentType string) io.WriteCloser

// GCSMirror uploads combined videos to a Cloud Storage bucket.
type GCSMirror struct {
	bucket string
	prefix string
	client *storage.Client
	writer objectWriter
	logger *slog.Logger
}

// NewGCSMirror creates a storage client for bucket.
func NewGCSMirror(ctx context.Context, bucket, prefix string, logger *slog.Logger, opts ...option.ClientOption) (*GCSMirror, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	handle := client.Bucket(bucket)
	m := &GCSMirror{
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		client: client,
		writer: func(ctx context.Context, object, contentType string) io.WriteCloser {
			w := handle.Object(object).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
			w.ContentType = contentType
			return w
		},
		logger: logging.NewComponentLogger(logger, "gcs_mirror"),
	}
	return m, nil
}

// MirrorFromConfig returns a mirror when storage.gcs_bucket is set, nil otherwise.
func MirrorFromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*GCSMirror, error) {
	if strings.TrimSpace(cfg.Storage.GCSBucket) == "" {
		return nil, nil
	}
	return NewGCSMirror(ctx, cfg.Storage.GCSBucket, cfg.Storage.GCSPrefix, logger)
}

// Upload copies localPath to <prefix>/<planID>/<file name> and returns its
// gs:// URL. An object that already exists counts as uploaded.
func (m *GCSMirror) Upload(ctx context.Context, planID, localPath string) (string, error) {
	object := path.Join(m.prefix, planID, filepath.Base(localPath))
	location := "gs://" + m.bucket + "/" + object

	src, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open combined video: %w", err)
	}
	defer src.Close()

	w := m.writer(ctx, object, "video/mp4")
	if _, err := io.Copy(w, src); err != nil {
		_ = w.Close()
		if alreadyStored(err) {
			m.logger.Info("object already mirrored", logging.String("object", location))
			return location, nil
		}
		return "", fmt.Errorf("write %s: %w", location, err)
	}
	if err := w.Close(); err != nil {
		if alreadyStored(err) {
			m.logger.Info("object already mirrored", logging.String("object", location))
			return location, nil
		}
		return "", fmt.Errorf("finalize %s: %w", location, err)
	}
	m.logger.Info("combined video mirrored", logging.String("object", location))
	return location, nil
}

// Close releases the storage client.
func (m *GCSMirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

func alreadyStored(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
