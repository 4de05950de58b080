package storage

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Open resolves a storage URL to a Storage backend, per the surface in
// §6: memory://, file:///abs/path, /abs/path, ./rel/path,
// s3://bucket[/prefix][.s3[.|-]region.amazonaws.com], r2://bucket[/prefix].
func Open(ctx context.Context, rawURL string) (Storage, error) {
	switch {
	case rawURL == "memory://" || strings.HasPrefix(rawURL, "memory://"):
		return NewMemoryBackend(), nil

	case strings.HasPrefix(rawURL, "file://"):
		return NewFileBackend(strings.TrimPrefix(rawURL, "file://"))

	case strings.HasPrefix(rawURL, "s3://"):
		bucket, prefix, region := parseS3URL(strings.TrimPrefix(rawURL, "s3://"))
		return NewS3Backend(ctx, S3Config{Bucket: bucket, Prefix: prefix, Region: region})

	case strings.HasPrefix(rawURL, "r2://"):
		bucket, prefix, _ := parseS3URL(strings.TrimPrefix(rawURL, "r2://"))
		return NewS3Backend(ctx, S3Config{Bucket: bucket, Prefix: prefix, Region: "auto"})

	case strings.HasPrefix(rawURL, "/") || strings.HasPrefix(rawURL, "./") || strings.HasPrefix(rawURL, "../"):
		return NewFileBackend(rawURL)

	default:
		return nil, &ValidationError{Field: "url", Message: fmt.Sprintf("unrecognized storage scheme: %q", rawURL)}
	}
}

var s3HostSuffix = regexp.MustCompile(`\.s3[.-][a-z0-9-]+\.amazonaws\.com$`)

// parseS3URL splits "bucket[/prefix][.s3[.|-]region.amazonaws.com]" as
// described in §6. The region suffix, when present, is stripped from the
// bucket name and returned separately.
func parseS3URL(rest string) (bucket, prefix, region string) {
	parts := strings.SplitN(rest, "/", 2)
	bucket = parts[0]
	if len(parts) == 2 {
		prefix = parts[1]
	}
	if loc := s3HostSuffix.FindStringIndex(bucket); loc != nil {
		suffix := bucket[loc[0]:]
		bucket = bucket[:loc[0]]
		fields := strings.FieldsFunc(suffix, func(r rune) bool { return r == '.' || r == '-' })
		// fields: ["s3", "<region...>", "amazonaws", "com"]
		if len(fields) >= 3 {
			region = strings.Join(fields[1:len(fields)-2], "-")
		}
	}
	return bucket, prefix, region
}
