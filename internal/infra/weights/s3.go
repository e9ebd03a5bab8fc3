package weights

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/yanqian/polyglot-score/internal/infra/modelhub"
)

// S3Config locates a model mirror in an S3-compatible bucket.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Prefix    string
}

// S3Source serves model snapshots mirrored under <prefix>/<model id>/ in a bucket.
type S3Source struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Source constructs the mirror adapter.
func NewS3Source(cfg S3Config, logger *slog.Logger) (*S3Source, error) {
	useSSL := strings.HasPrefix(strings.ToLower(strings.TrimSpace(cfg.Endpoint)), "https")
	client, err := minio.New(sanitizeEndpoint(cfg.Endpoint), &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       useSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &S3Source{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger.With("component", "weights.s3"),
	}, nil
}

// Files lists every object of the model snapshot.
func (s *S3Source) Files(ctx context.Context, modelID string) ([]modelhub.RemoteFile, error) {
	root := s.modelPrefix(modelID)
	var files []modelhub.RemoteFile
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: root, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		name := strings.TrimPrefix(obj.Key, root)
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		files = append(files, modelhub.RemoteFile{Name: name, Size: obj.Size})
	}
	s.logger.Debug("mirror listed", "model", modelID, "files", len(files))
	return files, nil
}

// Open streams one object.
func (s *S3Source) Open(ctx context.Context, modelID, name string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.modelPrefix(modelID)+name, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

func (s *S3Source) modelPrefix(modelID string) string {
	return path.Join(s.prefix, strings.Trim(modelID, "/")) + "/"
}

var _ modelhub.Source = (*S3Source)(nil)

// sanitizeEndpoint removes schemes and paths to satisfy minio.New expectations.
func sanitizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.Index(raw, "/"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}
