package snapshot

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	appErrors "github.com/hayabusa-fifo/fifoqueue/pkg/errors"
)

// S3Config configures the S3-backed snapshot store, used when operators
// want release cursors to survive the loss of every replica's local disk.
type S3Config struct {
	Bucket          string `env:"SNAPSHOT_S3_BUCKET"`
	Region          string `env:"SNAPSHOT_S3_REGION" env-default:"us-east-1"`
	Prefix          string `env:"SNAPSHOT_S3_PREFIX" env-default:"fifoqueue"`
	Endpoint        string `env:"SNAPSHOT_S3_ENDPOINT"`
	AccessKeyID     string `env:"SNAPSHOT_S3_ACCESS_KEY_ID"`
	SecretAccessKey string `env:"SNAPSHOT_S3_SECRET_ACCESS_KEY"`
}

// S3Store implements Store on top of an S3-compatible object store.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3 builds an S3Store from cfg. Static credentials are only used when
// both fields are set; otherwise the SDK's default credential chain
// applies (env vars, shared config, instance role).
func NewS3(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, appErrors.New(CodeWriteFailed, "s3 bucket is required", nil)
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, appErrors.New(CodeWriteFailed, "failed to load aws config", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "fifoqueue"
	}
	return &S3Store{client: client, bucket: cfg.Bucket, prefix: prefix}, nil
}

func (s *S3Store) objectKey(queue string) string {
	return fmt.Sprintf("%s/snapshots/%s.snap", s.prefix, queue)
}

func (s *S3Store) Put(ctx context.Context, queue string, index uint64, data []byte) error {
	var header [8]byte
	binary.BigEndian.PutUint64(header[:], index)

	body := bytes.NewBuffer(make([]byte, 0, len(header)+len(data)))
	body.Write(header[:])
	body.Write(data)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(queue)),
		Body:   bytes.NewReader(body.Bytes()),
	})
	if err != nil {
		return errWriteFailed(err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, queue string) ([]byte, uint64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(queue)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		var apiErr smithy.APIError
		if errors.As(err, &nsk) {
			return nil, 0, errNotFound(queue)
		}
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFound" {
			return nil, 0, errNotFound(queue)
		}
		return nil, 0, errReadFailed(err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, 0, errReadFailed(err)
	}
	if len(raw) < 8 {
		return nil, 0, errReadFailed(nil)
	}
	index := binary.BigEndian.Uint64(raw[:8])
	return raw[8:], index, nil
}
