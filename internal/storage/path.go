package storage

import (
	"net/url"
	"path"
	"strings"
)

// SafeJoin resolves name against base and fails closed if the decoded
// result would escape base. It rejects:
//   - any ".." path segment, before or after one or two rounds of
//     percent-decoding (guards against %2e%2e and %252e%252e),
//   - embedded NUL bytes,
//   - absolute paths (a leading "/" is stripped, never treated as rooted
//     outside base).
//
// The check runs before any I/O is attempted, per the storage contract.
func SafeJoin(base, name string) (string, error) {
	if strings.Contains(name, "\x00") {
		return "", &ValidationError{Field: "path", Message: "embedded NUL byte"}
	}
	decoded := name
	for range 2 {
		d, err := url.QueryUnescape(decoded)
		if err != nil {
			break
		}
		if d == decoded {
			break
		}
		decoded = d
		if strings.Contains(decoded, "\x00") {
			return "", &ValidationError{Field: "path", Message: "embedded NUL byte after decoding"}
		}
	}
	for _, seg := range strings.Split(decoded, "/") {
		if seg == ".." {
			return "", &ValidationError{Field: "path", Message: "path escapes storage base: " + name}
		}
	}
	clean := path.Clean("/" + strings.TrimPrefix(decoded, "/"))
	if clean == "/" {
		clean = "/"
	}
	if strings.Contains(clean, "..") {
		return "", &ValidationError{Field: "path", Message: "path escapes storage base: " + name}
	}
	rel := strings.TrimPrefix(clean, "/")
	if base == "" {
		return rel, nil
	}
	return path.Join(base, rel), nil
}
