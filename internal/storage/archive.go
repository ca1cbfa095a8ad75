package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/alqutdigital/tender-watch/internal/announcement"
)

// MinIOConfig holds MinIO connection configuration.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// PathSnapshots is the prefix of archived detail pages.
const PathSnapshots = "snapshots"

// SnapshotArchive stores raw detail page HTML in a MinIO bucket.
type SnapshotArchive struct {
	client     *minio.Client
	bucketName string
	region     string
	now        func() time.Time
}

// NewSnapshotArchive creates a MinIO-backed archive.
func NewSnapshotArchive(cfg MinIOConfig) (*SnapshotArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &SnapshotArchive{
		client:     client,
		bucketName: cfg.BucketName,
		region:     cfg.Region,
		now:        time.Now,
	}, nil
}

// InitBucket ensures the bucket exists and creates it if necessary.
func (s *SnapshotArchive) InitBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Health checks MinIO connectivity.
func (s *SnapshotArchive) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// SnapshotKey is the object key of a snapshot of rec taken at.
func SnapshotKey(rec *announcement.Record, at time.Time) string {
	fp := rec.Fingerprint
	if fp == "" {
		fp = rec.ComputeFingerprint()
	}
	return path.Join(PathSnapshots, string(rec.Category), fp, at.UTC().Format("20060102T150405Z")+".html")
}

// PutSnapshot uploads markup as the latest detail page of rec and returns its
// key.
func (s *SnapshotArchive) PutSnapshot(ctx context.Context, rec *announcement.Record, markup string) (string, error) {
	key := SnapshotKey(rec, s.now())
	data := []byte(markup)

	info, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "text/html; charset=utf-8",
		UserMetadata: map[string]string{
			"project-code": rec.ProjectCode,
			"category":     string(rec.Category),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	return info.Key, nil
}

// GetSnapshot downloads an archived page.
func (s *SnapshotArchive) GetSnapshot(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}

	return data, nil
}

// ListSnapshots returns the keys archived for fingerprint of category, oldest
// first.
func (s *SnapshotArchive) ListSnapshots(ctx context.Context, category announcement.Category, fingerprint string) ([]string, error) {
	prefix := path.Join(PathSnapshots, string(category), fingerprint) + "/"
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// SignedURL returns a presigned download URL for key.
func (s *SnapshotArchive) SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, key, expiry, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}

	return u.String(), nil
}
