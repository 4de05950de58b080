package codec

import "testing"

func TestFormatParseVersionRoundTrip(t *testing.T) {
	s, err := FormatVersion(7)
	if err != nil {
		t.Fatalf("FormatVersion: %v", err)
	}
	if s != "00000000000000000007" {
		t.Fatalf("FormatVersion(7) = %q", s)
	}
	v, err := ParseVersion(s)
	if err != nil {
		t.Fatalf("ParseVersion: %v", err)
	}
	if v != 7 {
		t.Fatalf("ParseVersion = %d, want 7", v)
	}
}

func TestFormatVersionRejectsNegative(t *testing.T) {
	if _, err := FormatVersion(-1); err == nil {
		t.Fatalf("expected error for negative version")
	}
}

func TestParseVersionRejectsMalformed(t *testing.T) {
	cases := []string{"123", "abcdefghijklmnopqrst", "", "0000000000000000000x"}
	for _, c := range cases {
		if _, err := ParseVersion(c); err == nil {
			t.Fatalf("expected error parsing %q", c)
		}
	}
}

func TestPartitionValuesDecodesHiveStylePath(t *testing.T) {
	got, err := PartitionValues("year=2026/month=07%2F08/file.bin")
	if err != nil {
		t.Fatalf("PartitionValues: %v", err)
	}
	if got["year"] != "2026" {
		t.Fatalf("year = %q", got["year"])
	}
	if got["month"] != "07/08" {
		t.Fatalf("month = %q", got["month"])
	}
}

func TestEncodePartitionSegmentEscapesValue(t *testing.T) {
	seg := EncodePartitionSegment("month", "07/08")
	got, err := PartitionValues(seg)
	if err != nil {
		t.Fatalf("PartitionValues: %v", err)
	}
	if got["month"] != "07/08" {
		t.Fatalf("round trip failed: got %q", got["month"])
	}
}
