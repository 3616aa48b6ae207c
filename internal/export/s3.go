package export

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Uploader ships a snapshot to remote storage.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, at time.Time) (*UploadResult, error)
}

// UploadResult represents the result of an upload
type UploadResult struct {
	Bucket         string    `json:"bucket"`
	Key            string    `json:"key"`
	CompressedSize int64     `json:"compressed_size"`
	OriginalSize   int64     `json:"original_size"`
	Timestamp      time.Time `json:"timestamp"`
}

// S3Uploader stores gzip-compressed snapshots in an S3 bucket.
type S3Uploader struct {
	client s3iface.S3API
	bucket string
	prefix string
}

// NewS3Uploader creates an uploader using the default AWS credential chain.
func NewS3Uploader(bucket, prefix, region string) (*S3Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is empty")
	}
	if region == "" {
		region = "us-east-1"
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return NewS3UploaderWithClient(s3.New(sess), bucket, prefix), nil
}

// NewS3UploaderWithClient creates an uploader around an existing client.
func NewS3UploaderWithClient(client s3iface.S3API, bucket, prefix string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Upload compresses data and stores it under a timestamped key.
func (u *S3Uploader) Upload(ctx context.Context, name string, data []byte, at time.Time) (*UploadResult, error) {
	key := u.key(name, at)

	compressed, err := compress(data)
	if err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:          aws.String(u.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(compressed),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]*string{
			"snapshot-name": aws.String(name),
			"export-time":   aws.String(at.UTC().Format(time.RFC3339)),
		},
	}
	if _, err := u.client.PutObjectWithContext(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	return &UploadResult{
		Bucket:         u.bucket,
		Key:            key,
		CompressedSize: int64(len(compressed)),
		OriginalSize:   int64(len(data)),
		Timestamp:      at.UTC(),
	}, nil
}

// key formats <prefix>/<YYYY-MM-DD>/<name>-<YYYYMMDD-HHMMSS>.json.gz
func (u *S3Uploader) key(name string, at time.Time) string {
	at = at.UTC()
	base := strings.TrimSuffix(name, path.Ext(name))
	file := fmt.Sprintf("%s-%s.json.gz", base, at.Format("20060102-150405"))
	return path.Join(u.prefix, at.Format("2006-01-02"), file)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(data); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
