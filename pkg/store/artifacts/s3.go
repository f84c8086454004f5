package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // for S3-compatible services; enables path-style addressing
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
}

type objectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3 writes artifacts to an S3 bucket.
type S3 struct {
	client  objectAPI
	bucket  string
	baseURL string
}

var _ Store = (*S3)(nil)

func NewS3(cfg S3Config) (*S3, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}
	opts := s3.Options{Region: region}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		opts.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""))
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		opts.BaseEndpoint = aws.String(endpoint)
		opts.UsePathStyle = true
	}
	return &S3{client: s3.New(opts), bucket: bucket, baseURL: strings.TrimSpace(cfg.PublicBaseURL)}, nil
}

func (s *S3) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	if _, err := s.client.PutObject(ctx, in); err != nil {
		return "", fmt.Errorf("s3 put %s: %w", key, err)
	}
	if s.baseURL != "" {
		return joinURL(s.baseURL, key), nil
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3) Get(ctx context.Context, u string) ([]byte, error) {
	key, ok := keyFromURL(u, "s3://"+s.bucket+"/")
	if !ok && s.baseURL != "" {
		key, ok = keyFromURL(u, strings.TrimRight(s.baseURL, "/")+"/")
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is not in bucket %s", ErrNotFound, u, s.bucket)
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
