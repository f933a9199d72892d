// Package storage wraps the durable blob store holding alarm artifacts:
// the sanitized event JSON and the retrieved video file, both addressed by
// keys derived in internal/keys. It also provides the read-side queries
// (latest video, event lookup, daily summary) used by the query routes.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/engineerthefuture/unifi-protect-event-backup-api/internal/types"
)

// S3API defines the subset of the S3 client used by the artifact store.
// Extracted for testability.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// ArtifactStore is a thin contract over S3: put/get with explicit
// content-type and storage-class hints, plus prefix listing.
type ArtifactStore struct {
	api    S3API
	bucket string
	logger *slog.Logger
}

// NewArtifactStore creates an ArtifactStore for the given bucket.
func NewArtifactStore(api S3API, bucket string, logger *slog.Logger) *ArtifactStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactStore{
		api:    api,
		bucket: bucket,
		logger: logger,
	}
}

// Bucket returns the configured bucket name. Empty means the store is not
// configured; callers treat that as a configuration error.
func (s *ArtifactStore) Bucket() string {
	return s.bucket
}

// Put writes body to the given key with the supplied content type.
// Event metadata is written with the infrequent-access storage class:
// artifacts are write-once, read-rarely.
func (s *ArtifactStore) Put(ctx context.Context, key string, body []byte, contentType string, infrequentAccess bool) error {
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	if infrequentAccess {
		input.StorageClass = s3types.StorageClassStandardIa
	}

	if _, err := s.api.PutObject(ctx, input); err != nil {
		return types.NewAppError(
			types.ErrCodeStorageWrite,
			fmt.Sprintf("failed to store artifact at %s", key),
			err,
		)
	}

	s.logger.InfoContext(ctx, "artifact stored",
		"bucket", s.bucket,
		"key", key,
		"content_type", contentType,
		"bytes", len(body),
	)
	return nil
}

// PutFile uploads a local file to the given key. The content type is derived
// from the file extension. Used for video uploads; the caller owns deletion
// of the local file.
func (s *ArtifactStore) PutFile(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return types.NewAppError(
			types.ErrCodeVideoUpload,
			fmt.Sprintf("failed to open local file %s", localPath),
			err,
		)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return types.NewAppError(
			types.ErrCodeVideoUpload,
			fmt.Sprintf("failed to stat local file %s", localPath),
			err,
		)
	}

	contentType := ContentTypeForExtension(filepath.Ext(localPath))
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return types.NewAppError(
			types.ErrCodeVideoUpload,
			fmt.Sprintf("failed to upload %s to %s", localPath, key),
			err,
		)
	}

	s.logger.InfoContext(ctx, "video artifact uploaded",
		"bucket", s.bucket,
		"key", key,
		"content_type", contentType,
		"bytes", stat.Size(),
	)
	return nil
}

// Get reads the object at key and returns its contents.
func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeStorageRead,
			fmt.Sprintf("failed to read artifact at %s", key),
			err,
		)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, types.NewAppError(
			types.ErrCodeStorageRead,
			fmt.Sprintf("failed to read artifact body at %s", key),
			err,
		)
	}
	return data, nil
}

// List returns metadata for all objects under the given prefix, following
// continuation tokens.
func (s *ArtifactStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo
	var token *string

	for {
		out, err := s.api.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeStorageRead,
				fmt.Sprintf("failed to list artifacts under %s", prefix),
				err,
			)
		}

		for _, obj := range out.Contents {
			info := ObjectInfo{
				Key:  aws.ToString(obj.Key),
				Size: aws.ToInt64(obj.Size),
			}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			objects = append(objects, info)
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	return objects, nil
}

// ContentTypeForExtension maps a file extension (with or without the leading
// dot) to a MIME content type. Unknown extensions map to a generic
// octet-stream.
func ContentTypeForExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp4":
		return "video/mp4"
	case "json":
		return "application/json"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}
