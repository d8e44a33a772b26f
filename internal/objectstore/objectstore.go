// Package objectstore mirrors regression records to an S3-compatible
// bucket.
package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	Prefix    string
}

type Store struct {
	client *minio.Client
	bucket string
	region string
	prefix string

	mu    sync.Mutex
	ready bool
}

func New(cfg Config) (*Store, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Store{
		client: client,
		bucket: bucket,
		region: region,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ensureBucket checks for the bucket until one check succeeds. A failed
// check is retried on the next call.
func (s *Store) ensureBucket(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return err
		}
	}
	s.ready = true
	return nil
}

// MirrorDir uploads every regular file under dir to
// <prefix>/regressions/<seed>/<relative path>.
func (s *Store) MirrorDir(ctx context.Context, seed int64, dir string) (int, error) {
	if err := s.ensureBucket(ctx); err != nil {
		return 0, fmt.Errorf("ensure bucket: %w", err)
	}
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		key := ObjectKey(s.prefix, seed, filepath.ToSlash(rel))
		if _, err := s.client.FPutObject(ctx, s.bucket, key, p, minio.PutObjectOptions{ContentType: ContentType(p)}); err != nil {
			return fmt.Errorf("uploading %s: %w", key, err)
		}
		uploaded++
		return nil
	})
	return uploaded, err
}

func ObjectKey(prefix string, seed int64, name string) string {
	return path.Join(prefix, "regressions", fmt.Sprint(seed), name)
}

func ContentType(name string) string {
	switch filepath.Ext(name) {
	case ".json":
		return "application/json"
	case ".java":
		return "text/x-java-source"
	case ".kt":
		return "text/x-kotlin"
	default:
		return "application/octet-stream"
	}
}
