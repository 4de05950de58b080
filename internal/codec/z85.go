package codec

import "fmt"

// z85Alphabet is the ZeroMQ Z85 encoding alphabet (RFC-ish, per
// https://rfc.zeromq.org/spec/32/). Deletion-vector side-file names are
// derived from a table file's UUID by this encoding for path-safety and
// brevity (§4.2).
const z85Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ.-:+=^!/*?&<>()[]{}@%$#"

var z85Decode [256]int8

func init() {
	for i := range z85Decode {
		z85Decode[i] = -1
	}
	for i, c := range z85Alphabet {
		z85Decode[byte(c)] = int8(i)
	}
}

// Z85Decode decodes a Z85 string into its original bytes. len(s) must be
// a multiple of 5; the result is 4 bytes for every 5 input characters.
func Z85Decode(s string) ([]byte, error) {
	if len(s)%5 != 0 {
		return nil, fmt.Errorf("codec: z85 input length %d is not a multiple of 5", len(s))
	}
	out := make([]byte, 0, len(s)/5*4)
	for i := 0; i < len(s); i += 5 {
		var value uint32
		for j := 0; j < 5; j++ {
			c := s[i+j]
			d := z85Decode[c]
			if d < 0 {
				return nil, fmt.Errorf("codec: invalid z85 character %q", c)
			}
			value = value*85 + uint32(d)
		}
		out = append(out,
			byte(value>>24),
			byte(value>>16),
			byte(value>>8),
			byte(value),
		)
	}
	return out, nil
}

// Z85Encode encodes bytes into a Z85 string. len(b) must be a multiple
// of 4.
func Z85Encode(b []byte) (string, error) {
	if len(b)%4 != 0 {
		return "", fmt.Errorf("codec: z85 input length %d is not a multiple of 4", len(b))
	}
	out := make([]byte, 0, len(b)/4*5)
	for i := 0; i < len(b); i += 4 {
		value := uint32(b[i])<<24 | uint32(b[i+1])<<16 | uint32(b[i+2])<<8 | uint32(b[i+3])
		var chunk [5]byte
		for j := 4; j >= 0; j-- {
			chunk[j] = z85Alphabet[value%85]
			value /= 85
		}
		out = append(out, chunk[:]...)
	}
	return string(out), nil
}
