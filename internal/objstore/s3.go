package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/paperdrive/paperdrive-go/internal/keyspace"
	"github.com/paperdrive/paperdrive-go/internal/metrics"
	"github.com/paperdrive/paperdrive-go/pkg/contenthash"
)

// S3Config holds everything needed to reach one bucket on an S3-compatible
// service. MinIO deployments set Endpoint and UsePathStyle.
type S3Config struct {
	Endpoint        string // empty means AWS default endpoints
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// S3Store implements Store against S3 or any S3-compatible service (MinIO).
type S3Store struct {
	client *s3.Client
	bucket string
	logger *slog.Logger
}

// NewS3Store builds the client from static credentials and an optional
// custom endpoint. No network calls happen here; use EnsureBucket to probe.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objstore: bucket is required")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("objstore: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket when it does not exist. A bucket already
// owned by this account is success.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	start := time.Now()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		metrics.ObserveStoreOp("ensure_bucket", start, nil)
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &owned) {
			metrics.ObserveStoreOp("ensure_bucket", start, nil)
			return nil
		}

		metrics.ObserveStoreOp("ensure_bucket", start, err)

		return fmt.Errorf("objstore: creating bucket %s: %w", s.bucket, err)
	}

	metrics.ObserveStoreOp("ensure_bucket", start, nil)
	s.logger.Info("created bucket", "bucket", s.bucket)

	return nil
}

// List drives ListObjectsV2 pagination to one fully materialized slice.
// Bucket listings expose no per-object metadata, so DisplayName is left
// empty and the content type is derived from the key.
func (s *S3Store) List(ctx context.Context, prefix string) ([]Record, error) {
	start := time.Now()

	var records []Record

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			metrics.ObserveStoreOp("list", start, err)
			return nil, fmt.Errorf("objstore: listing %q: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			rec := Record{
				Key:         aws.ToString(obj.Key),
				Size:        aws.ToInt64(obj.Size),
				ContentType: contentTypeForKey(aws.ToString(obj.Key)),
			}

			if obj.LastModified != nil {
				rec.LastModified = *obj.LastModified
			}

			records = append(records, rec)
		}
	}

	metrics.ObserveStoreOp("list", start, nil)
	s.logger.Debug("listed objects", "prefix", prefix, "count", len(records))

	return records, nil
}

// Put writes payload under key with content type and metadata, overwriting
// any previous object. A content hash is added to the metadata when the
// caller did not supply one.
func (s *S3Store) Put(ctx context.Context, key string, payload []byte, contentType string, meta map[string]string) error {
	start := time.Now()

	merged := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		merged[k] = v
	}

	if _, ok := merged[MetaContentHash]; !ok {
		merged[MetaContentHash] = contenthash.Bytes(payload)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
		Metadata:    merged,
	})

	metrics.ObserveStoreOp("put", start, err)

	if err != nil {
		return fmt.Errorf("objstore: putting %q: %w", key, err)
	}

	s.logger.Debug("put object", "key", key, "bytes", len(payload), "content_type", contentType)

	return nil
}

// Get reads the object at key, returning ErrNotFound for a missing key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, Record, error) {
	start := time.Now()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			metrics.ObserveStoreOp("get", start, nil)
			return nil, Record{}, fmt.Errorf("objstore: %q: %w", key, ErrNotFound)
		}

		metrics.ObserveStoreOp("get", start, err)

		return nil, Record{}, fmt.Errorf("objstore: getting %q: %w", key, err)
	}
	defer out.Body.Close()

	payload, err := io.ReadAll(out.Body)
	if err != nil {
		metrics.ObserveStoreOp("get", start, err)
		return nil, Record{}, fmt.Errorf("objstore: reading %q: %w", key, err)
	}

	metrics.ObserveStoreOp("get", start, nil)

	rec := Record{
		Key:         key,
		DisplayName: out.Metadata[MetaDisplayName],
		ContentType: aws.ToString(out.ContentType),
		Size:        int64(len(payload)),
		ContentHash: out.Metadata[MetaContentHash],
	}

	if out.LastModified != nil {
		rec.LastModified = *out.LastModified
	}

	return payload, rec, nil
}

// Delete removes key. S3 DeleteObject on an absent key already succeeds, so
// the idempotent-delete contract holds without extra handling.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	start := time.Now()

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	metrics.ObserveStoreOp("delete", start, err)

	if err != nil {
		return fmt.Errorf("objstore: deleting %q: %w", key, err)
	}

	s.logger.Debug("deleted object", "key", key)

	return nil
}

// ContentHash reads the checksum metadata of the object at key. Empty when
// the object carries none (uploaded by another tool).
func (s *S3Store) ContentHash(ctx context.Context, key string) (string, error) {
	start := time.Now()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})

	metrics.ObserveStoreOp("head", start, err)

	if err != nil {
		return "", fmt.Errorf("objstore: heading %q: %w", key, err)
	}

	return out.Metadata[MetaContentHash], nil
}

// contentTypeForKey derives a display content type from the key alone:
// placeholder markers get the directory type, everything else goes by
// extension.
func contentTypeForKey(key string) string {
	base := path.Base(key)
	if base == keyspace.Marker {
		return DirectoryContentType
	}

	if ct := mime.TypeByExtension(path.Ext(base)); ct != "" {
		return ct
	}

	return "application/octet-stream"
}

// Compile-time interface check.
var _ Store = (*S3Store)(nil)
