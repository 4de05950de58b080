// Package codec implements the on-disk binary formats deltakit reads and
// writes: the VARIANT self-describing value encoding, the columnar
// row-group file layout with zone-map statistics, VARIANT shredding, and
// deletion-vector bitmaps.
package codec

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// maxVersionDigits matches the Delta-style 20-digit zero-padded filename
// convention used for every log, checkpoint, and CDC file.
const maxVersionDigits = 20

// FormatVersion renders version as a 20-digit zero-padded decimal string,
// e.g. FormatVersion(7) == "00000000000000000007". version must be
// non-negative and fit the digit budget; both are range-checked so a
// caller never silently truncates a version number.
func FormatVersion(version int64) (string, error) {
	if version < 0 {
		return "", fmt.Errorf("codec: version must be non-negative, got %d", version)
	}
	s := strconv.FormatInt(version, 10)
	if len(s) > maxVersionDigits {
		return "", fmt.Errorf("codec: version %d overflows %d-digit filename budget", version, maxVersionDigits)
	}
	return strings.Repeat("0", maxVersionDigits-len(s)) + s, nil
}

// ParseVersion inverts FormatVersion, rejecting anything that is not
// exactly 20 ASCII digits.
func ParseVersion(s string) (int64, error) {
	if len(s) != maxVersionDigits {
		return 0, fmt.Errorf("codec: version filename segment must be %d digits, got %q", maxVersionDigits, s)
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("codec: version filename segment must be all digits, got %q", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// PartitionValues parses a Hive-style partition path ("k1=v1/k2=v2") into
// a map, URL-decoding each value (dates and strings containing
// '=' or '/' are percent-encoded by the writer).
func PartitionValues(relPath string) (map[string]string, error) {
	out := make(map[string]string)
	segments := strings.Split(strings.Trim(relPath, "/"), "/")
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		kv := strings.SplitN(seg, "=", 2)
		if len(kv) != 2 {
			continue // not a partition segment (e.g. the filename itself)
		}
		val, err := url.QueryUnescape(kv[1])
		if err != nil {
			return nil, fmt.Errorf("codec: decode partition value %q: %w", seg, err)
		}
		out[kv[0]] = val
	}
	return out, nil
}

// EncodePartitionSegment renders a single "k=v" Hive partition path
// segment with the value percent-encoded.
func EncodePartitionSegment(key, value string) string {
	return key + "=" + url.QueryEscape(value)
}
