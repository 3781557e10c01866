package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// md5MetadataKey is the object metadata key carrying the blob's MD5 digest.
// Stored explicitly because multipart ETags are not content digests.
const md5MetadataKey = "content-md5"

// S3BlobStore stores blobs in an S3 bucket, using the upload manager for
// multipart transfers of large files.
type S3BlobStore struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

// NewS3BlobStore creates an S3-backed blob store. Credentials come from the
// default AWS credential chain.
func NewS3BlobStore(ctx context.Context, bucket, prefix, region string) (*S3BlobStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	return &S3BlobStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}, nil
}

// NewS3BlobStoreFromClient wraps an existing S3 client. Used in tests with a
// stubbed endpoint.
func NewS3BlobStoreFromClient(client *s3.Client, bucket, prefix string) *S3BlobStore {
	return &S3BlobStore{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   bucket,
		prefix:   strings.Trim(prefix, "/"),
	}
}

func (s *S3BlobStore) key(path string) string {
	path = strings.TrimPrefix(path, "/")
	if s.prefix == "" {
		return path
	}
	return s.prefix + "/" + path
}

func (s *S3BlobStore) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("heading s3 object %s: %w", path, err)
	}
	return true, nil
}

func (s *S3BlobStore) ContentHash(ctx context.Context, path string) ([]byte, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("heading s3 object %s: %w", path, err)
	}

	if hexSum, ok := head.Metadata[md5MetadataKey]; ok {
		sum, err := hex.DecodeString(hexSum)
		if err == nil {
			return sum, nil
		}
	}

	// Fall back to the ETag for single-part objects written by other
	// tooling; multipart ETags (with a part-count suffix) are unusable.
	etag := strings.Trim(aws.ToString(head.ETag), `"`)
	if etag != "" && !strings.Contains(etag, "-") {
		if sum, err := hex.DecodeString(etag); err == nil {
			return sum, nil
		}
	}
	return nil, fmt.Errorf("s3 object %s has no readable content digest", path)
}

func (s *S3BlobStore) Upload(ctx context.Context, path string, r io.Reader, size int64, contentMD5 []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(path)),
		Body:          r,
		ContentLength: aws.Int64(size),
	}
	if contentMD5 != nil {
		input.Metadata = map[string]string{md5MetadataKey: hex.EncodeToString(contentMD5)}
	}

	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("uploading s3 object %s: %w", path, err)
	}
	return nil
}
