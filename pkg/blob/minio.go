package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aleksaelezovic/worlds/pkg/codec"
)

const (
	metaTenant      = "Tenant-Id"
	metaFormat      = "Format"
	metaCompression = "Compression"
)

// MinioStore keeps blobs as objects in an S3 compatible bucket.
//
// Layout under the root prefix:
//
//	worlds/<world id>               the blob, tenant and codec in user metadata
//	tenants/<tenant id>/<world id>  empty listing marker
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

// MinioConfig holds the connection settings of a MinIO or S3 endpoint
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// NewMinioClient connects to the endpoint and creates the bucket when it is missing
func NewMinioClient(ctx context.Context, cfg MinioConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
		}
	}
	return client, nil
}

// NewMinioStore creates a blob store in bucket. rootPrefix is prepended to
// every object name.
func NewMinioStore(client *minio.Client, bucket, rootPrefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *MinioStore) blobKey(worldID string) string {
	return path.Join(s.prefix, "worlds", worldID)
}

func (s *MinioStore) markerPrefix(tenantID string) string {
	if tenantID == "" {
		return path.Join(s.prefix, "tenants") + "/"
	}
	return path.Join(s.prefix, "tenants", tenantID) + "/"
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStore) stat(ctx context.Context, worldID string) (minio.ObjectInfo, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.blobKey(worldID), minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return info, ErrNotFound
		}
		return info, fmt.Errorf("failed to stat blob of world %s: %w", worldID, err)
	}
	return info, nil
}

func infoFromObject(worldID string, obj minio.ObjectInfo) Info {
	return Info{
		WorldID:     worldID,
		TenantID:    obj.UserMetadata[metaTenant],
		Format:      codec.Format(obj.UserMetadata[metaFormat]),
		Compression: codec.Compression(obj.UserMetadata[metaCompression]),
		Size:        obj.Size,
		UpdatedAt:   obj.LastModified,
	}
}

func (s *MinioStore) Get(ctx context.Context, worldID string) (*WorldBlob, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.blobKey(worldID), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get blob of world %s: %w", worldID, err)
	}
	defer func() { _ = obj.Close() }()

	// GetObject is lazy; Stat surfaces a missing key
	stat, err := obj.Stat()
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get blob of world %s: %w", worldID, err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob of world %s: %w", worldID, err)
	}

	info := infoFromObject(worldID, stat)
	return &WorldBlob{
		WorldID:     worldID,
		TenantID:    info.TenantID,
		Data:        data,
		Format:      info.Format,
		Compression: info.Compression,
		UpdatedAt:   info.UpdatedAt,
	}, nil
}

func (s *MinioStore) Put(ctx context.Context, b *WorldBlob) error {
	if err := validate(b); err != nil {
		return err
	}

	previous, err := s.stat(ctx, b.WorldID)
	switch {
	case err == nil:
		if owner := previous.UserMetadata[metaTenant]; owner != "" && owner != b.TenantID {
			_ = s.client.RemoveObject(ctx, s.bucket, s.markerPrefix(owner)+b.WorldID, minio.RemoveObjectOptions{})
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	compression := b.Compression
	if compression == "" {
		compression = codec.CompressionNone
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.blobKey(b.WorldID), bytes.NewReader(b.Data), int64(len(b.Data)), minio.PutObjectOptions{
		ContentType: b.Format.ContentType(),
		UserMetadata: map[string]string{
			metaTenant:      b.TenantID,
			metaFormat:      string(b.Format),
			metaCompression: string(compression),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to put blob of world %s: %w", b.WorldID, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, s.markerPrefix(b.TenantID)+b.WorldID, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to list world %s for tenant %s: %w", b.WorldID, b.TenantID, err)
	}
	return nil
}

func (s *MinioStore) Delete(ctx context.Context, worldID string) error {
	previous, err := s.stat(ctx, worldID)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.blobKey(worldID), minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete blob of world %s: %w", worldID, err)
	}
	if owner := previous.UserMetadata[metaTenant]; owner != "" {
		err := s.client.RemoveObject(ctx, s.bucket, s.markerPrefix(owner)+worldID, minio.RemoveObjectOptions{})
		if err != nil && !isNotFound(err) {
			return fmt.Errorf("failed to unlist world %s: %w", worldID, err)
		}
	}
	return nil
}

func (s *MinioStore) List(ctx context.Context, tenantID string) ([]Info, error) {
	prefix := s.markerPrefix(tenantID)
	var infos []Info
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list worlds of tenant %s: %w", tenantID, obj.Err)
		}
		worldID := strings.TrimPrefix(obj.Key, prefix)
		owner := tenantID
		if tenantID == "" {
			owner, worldID, _ = strings.Cut(worldID, "/")
		}
		stat, err := s.stat(ctx, worldID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		info := infoFromObject(worldID, stat)
		if info.TenantID != owner {
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
