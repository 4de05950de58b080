package codec

import (
	"bytes"
	"testing"
)

func TestZ85RoundTrip(t *testing.T) {
	raw := []byte{0x86, 0x4F, 0xD2, 0x6F, 0xB5, 0x59, 0xF7, 0x5B, 0x90, 0x10, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB}
	enc, err := Z85Encode(raw)
	if err != nil {
		t.Fatalf("Z85Encode: %v", err)
	}
	if len(enc) != len(raw)/4*5 {
		t.Fatalf("encoded length = %d, want %d", len(enc), len(raw)/4*5)
	}
	dec, err := Z85Decode(enc)
	if err != nil {
		t.Fatalf("Z85Decode: %v", err)
	}
	if !bytes.Equal(dec, raw) {
		t.Fatalf("round trip mismatch: got %x want %x", dec, raw)
	}
}

func TestZ85RejectsBadLength(t *testing.T) {
	if _, err := Z85Encode([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error encoding non-multiple-of-4 input")
	}
	if _, err := Z85Decode("abc"); err == nil {
		t.Fatalf("expected error decoding non-multiple-of-5 input")
	}
}

func TestZ85RejectsInvalidCharacter(t *testing.T) {
	if _, err := Z85Decode("ab\x01de"); err == nil {
		t.Fatalf("expected error for invalid z85 character")
	}
}
