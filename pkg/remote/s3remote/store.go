// Package s3remote implements the remote store as a single JSON object in an
// S3-compatible bucket (AWS S3 or MinIO).
package s3remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stacklok/statesync/pkg/remote"
	"github.com/stacklok/statesync/pkg/statetree"
)

const defaultRegion = "us-east-1"

// ObjectAPI is the subset of *s3.Client used by the store
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config holds the bucket location and optional static credentials.
// Without credentials the default AWS credential chain is used.
type Config struct {
	Bucket          string
	Key             string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// Store is a remote.Store holding the whole envelope in one object
type Store struct {
	api    ObjectAPI
	bucket string
	key    string
}

var _ remote.Store = (*Store)(nil)

// New creates a store from cfg using the AWS SDK default configuration
func New(ctx context.Context, cfg Config) (*Store, error) {
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewWithAPI(client, cfg.Bucket, cfg.Key)
}

// NewWithAPI creates a store over an existing object API
func NewWithAPI(api ObjectAPI, bucket, key string) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket required")
	}
	if key == "" {
		return nil, fmt.Errorf("s3 object key required")
	}
	return &Store{api: api, bucket: bucket, key: key}, nil
}

// Fetch implements remote.Store. A missing object is an empty envelope.
func (s *Store) Fetch(ctx context.Context) (statetree.Envelope, error) {
	env, _, err := s.read(ctx)
	return env, err
}

// Update implements remote.Store. The object is read, merged with diff and
// written back conditionally on the ETag that was read.
func (s *Store) Update(ctx context.Context, diff statetree.Envelope) (any, error) {
	current, etag, err := s.read(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(remote.Apply(current, diff))
	if err != nil {
		return nil, fmt.Errorf("failed to encode settings object: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	}
	if etag != "" {
		input.IfMatch = aws.String(etag)
	} else {
		input.IfNoneMatch = aws.String("*")
	}

	out, err := s.api.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to write s3://%s/%s: %w", s.bucket, s.key, err)
	}

	slog.Debug("Remote settings object written", "bucket", s.bucket, "key", s.key)
	return map[string]any{"etag": aws.ToString(out.ETag)}, nil
}

func (s *Store) read(ctx context.Context) (statetree.Envelope, string, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return statetree.Envelope{}, "", nil
		}
		return nil, "", fmt.Errorf("failed to read s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer func() {
		_ = out.Body.Close()
	}()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read settings object body: %w", err)
	}
	env := statetree.Envelope{}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, "", fmt.Errorf("failed to decode settings object: %w", err)
		}
	}
	return env, aws.ToString(out.ETag), nil
}
