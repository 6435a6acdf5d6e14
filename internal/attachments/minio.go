// Package attachments stores project files and images in an S3-compatible
// bucket. Projects keep only the object key and a URL.
package attachments

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"teamsync/api/internal/util"
)

type Store struct {
	client *minio.Client
	bucket string
	urlTTL time.Duration
}

// Object describes a stored upload.
type Object struct {
	Key         string
	URL         string
	ContentType string
	Size        int64
}

func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &Store{client: client, bucket: bucket, urlTTL: 7 * 24 * time.Hour}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// ObjectKey places an upload under its owner, keeping the file extension.
func ObjectKey(owner, name string) string {
	ext := strings.ToLower(path.Ext(name))
	return path.Join(owner, util.NewID("att")+ext)
}

// Put uploads body under key and returns a presigned download URL.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (Object, error) {
	info, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return Object{}, fmt.Errorf("upload %s: %w", key, err)
	}
	link, err := s.URL(ctx, key)
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: link, ContentType: contentType, Size: info.Size}, nil
}

// URL presigns a download link for key.
func (s *Store) URL(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.urlTTL, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return u.String(), nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}
