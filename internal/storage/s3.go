package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"
)

// S3Backend implements Storage against any S3-compatible object store,
// including Cloudflare R2 (via a custom endpoint). The version token is
// the object's ETag; conditional writes are expressed with the If-Match /
// If-None-Match PutObject preconditions, which the service enforces
// server-side and rejects with HTTP 412 on mismatch.
type S3Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

// S3Config configures an S3Backend.
type S3Config struct {
	Bucket          string
	Prefix          string
	Region          string
	Endpoint        string // non-empty for R2 or other S3-compatible hosts
	AccessKeyID     string
	SecretAccessKey string
}

// NewS3Backend builds an S3Backend from cfg, falling back to the default
// AWS credential chain (environment, shared config, IMDS) when
// AccessKeyID is empty.
func NewS3Backend(ctx context.Context, cfg S3Config) (*S3Backend, error) {
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3 backend: load config: %w", err)
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = staticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return &S3Backend{client: client, bucket: cfg.Bucket, prefix: strings.Trim(cfg.Prefix, "/")}, nil
}

func (b *S3Backend) key(p string) string {
	if b.prefix == "" {
		return p
	}
	return b.prefix + "/" + strings.TrimPrefix(p, "/")
}

func (b *S3Backend) Read(ctx context.Context, p string) ([]byte, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(p))})
	if err != nil {
		return nil, classifyS3Error(p, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) Write(ctx context.Context, p string, data []byte) error {
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &b.bucket,
		Key:    aws.String(b.key(p)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return classifyS3Error(p, err)
	}
	return nil
}

func (b *S3Backend) ReadRange(ctx context.Context, p string, start, end int64) ([]byte, error) {
	if start >= end {
		return []byte{}, nil
	}
	rng := fmt.Sprintf("bytes=%d-%d", start, end-1)
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(p)), Range: &rng})
	if err != nil {
		return nil, classifyS3Error(p, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (b *S3Backend) List(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.bucket,
		Prefix: aws.String(b.key(prefix)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classifyS3Error(prefix, err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			out = append(out, b.unkey(*obj.Key))
		}
	}
	return out, nil
}

func (b *S3Backend) unkey(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, b.prefix), "/")
}

func (b *S3Backend) Delete(ctx context.Context, p string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(p))})
	if err != nil {
		var nf *types.NoSuchKey
		if errors.As(err, &nf) {
			return nil
		}
		return classifyS3Error(p, err)
	}
	return nil
}

func (b *S3Backend) Stat(ctx context.Context, p string) (*Stat, error) {
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &b.bucket, Key: aws.String(b.key(p))})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, classifyS3Error(p, err)
	}
	st := &Stat{}
	if out.ContentLength != nil {
		st.Size = *out.ContentLength
	}
	if out.LastModified != nil {
		st.LastModified = out.LastModified.UnixMilli()
	}
	if out.ETag != nil {
		st.ETag = strings.Trim(*out.ETag, `"`)
	}
	return st, nil
}

func (b *S3Backend) Exists(ctx context.Context, p string) (bool, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		return false, err
	}
	return st != nil, nil
}

func (b *S3Backend) GetVersion(ctx context.Context, p string) (*string, error) {
	st, err := b.Stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}
	return &st.ETag, nil
}

// WriteConditional relies on the S3 conditional-write preconditions
// (If-Match / If-None-Match on PutObject). A 412 Precondition Failed from
// the service is translated to VersionMismatch; since the object's own
// current ETag is not echoed back by a failed PutObject, a follow-up
// HeadObject recovers ActualVersion for the caller.
func (b *S3Backend) WriteConditional(ctx context.Context, p string, data []byte, expectedVersion *string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket: &b.bucket,
		Key:    aws.String(b.key(p)),
		Body:   bytes.NewReader(data),
	}
	if expectedVersion == nil {
		in.IfNoneMatch = aws.String("*")
	} else {
		in.IfMatch = expectedVersion
	}
	out, err := b.client.PutObject(ctx, in)
	if err != nil {
		if isPreconditionFailed(err) {
			actual, _ := b.GetVersion(ctx, p)
			return "", &VersionMismatch{Path: p, ExpectedVersion: expectedVersion, ActualVersion: actual}
		}
		return "", classifyS3Error(p, err)
	}
	if out.ETag != nil {
		return strings.Trim(*out.ETag, `"`), nil
	}
	v, err := b.GetVersion(ctx, p)
	if err != nil || v == nil {
		return "", fmt.Errorf("s3 backend: missing ETag after write")
	}
	return *v, nil
}

func isNotFound(err error) bool {
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404
}

func isPreconditionFailed(err error) bool {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == 412
	}
	return false
}

func classifyS3Error(path string, err error) error {
	if isNotFound(err) {
		return &FileNotFound{Path: path}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 403, 401:
			return &PermissionDenied{Path: path, Err: err}
		case 500, 502, 503, 504:
			return &ServiceUnavailable{Path: path, Err: err}
		}
	}
	return &ServiceUnavailable{Path: path, Err: err}
}
