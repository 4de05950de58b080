package codec

import (
	"bytes"
	"testing"
)

func writeSample(t *testing.T, codec Codec, opts WriterOptions) []byte {
	t.Helper()
	opts.Codec = codec
	var buf bytes.Buffer
	w := NewWriter(&buf, []string{"id", "name"}, opts)
	for i := 0; i < 10; i++ {
		row := Row{"id": Int(int64(i)), "name": String("row")}
		if err := w.Write(row); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestColumnarWriterReaderRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecUncompressed, CodecSnappy, CodecGzip, CodecZstd, CodecLZ4} {
		data := writeSample(t, codec, WriterOptions{MaxRowsPerGroup: 4})
		if !IsParquetFile(data) {
			t.Fatalf("codec %v: missing PAR1 magic", codec)
		}
		r, err := NewReader(data)
		if err != nil {
			t.Fatalf("codec %v: NewReader: %v", codec, err)
		}
		if r.Footer.NumRows != 10 {
			t.Fatalf("codec %v: NumRows = %d, want 10", codec, r.Footer.NumRows)
		}
		if len(r.Footer.RowGroups) != 3 { // 4 + 4 + 2
			t.Fatalf("codec %v: got %d row groups, want 3", codec, len(r.Footer.RowGroups))
		}
		rows, err := r.ReadAll()
		if err != nil {
			t.Fatalf("codec %v: ReadAll: %v", codec, err)
		}
		if len(rows) != 10 {
			t.Fatalf("codec %v: got %d rows, want 10", codec, len(rows))
		}
		if rows[3]["id"].Int != 3 {
			t.Fatalf("codec %v: rows[3][id] = %v", codec, rows[3]["id"].Int)
		}
	}
}

func TestColumnarSchemaMismatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, []string{"id"}, WriterOptions{})
	if err := w.Write(Row{"id": Int(1)}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	err := w.Write(Row{"other": Int(1)})
	if err == nil {
		t.Fatalf("expected schema mismatch error")
	}
	if _, ok := err.(*SchemaMismatchError); !ok {
		t.Fatalf("expected *SchemaMismatchError, got %T", err)
	}
}

func TestColumnarInferredSchema(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, nil, WriterOptions{})
	if err := w.Write(Row{"a": Int(1), "b": String("x")}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r, err := NewReader(buf.Bytes())
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if len(r.Footer.Schema) != 2 {
		t.Fatalf("inferred schema = %v, want 2 columns", r.Footer.Schema)
	}
}

func TestColumnarZoneMapStatsInFooter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, []string{"id"}, WriterOptions{MaxRowsPerGroup: 100})
	for i := 0; i < 5; i++ {
		_ = w.Write(Row{"id": Int(int64(i * 10))})
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	r, _ := NewReader(buf.Bytes())
	stats := r.Footer.RowGroups[0].ColumnStats["id"]
	if stats == nil {
		t.Fatalf("missing column stats for id")
	}
	if !r.CanSkipRowGroup(0, "id", Predicate{Op: OpGt, Literal: keyOf(Int(40))}) {
		t.Fatalf("expected row group to be skippable for id > 40")
	}
	if r.CanSkipRowGroup(0, "id", Predicate{Op: OpGt, Literal: keyOf(Int(0))}) {
		t.Fatalf("expected row group not skippable for id > 0")
	}
}

func TestColumnarAbortForbidsFurtherWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, []string{"id"}, WriterOptions{})
	_ = w.Write(Row{"id": Int(1)})
	w.Abort()
	if err := w.Write(Row{"id": Int(2)}); err == nil {
		t.Fatalf("expected error writing to aborted writer")
	}
	if err := w.Close(); err == nil {
		t.Fatalf("expected error closing an aborted writer")
	}
}
