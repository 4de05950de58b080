package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Magic bytes terminating every columnar data file, matching the
// Parquet-style PAR1 convention named in §4.2.
var parquetMagic = [4]byte{'P', 'A', 'R', '1'}

// Codec selects the per-row-group compression algorithm.
type Codec uint8

const (
	CodecUncompressed Codec = iota
	CodecSnappy
	CodecGzip
	CodecZstd
	CodecLZ4
)

func (c Codec) String() string {
	switch c {
	case CodecUncompressed:
		return "uncompressed"
	case CodecSnappy:
		return "snappy"
	case CodecGzip:
		return "gzip"
	case CodecZstd:
		return "zstd"
	case CodecLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

func compress(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecUncompressed:
		return data, nil
	case CodecSnappy:
		return snappy.Encode(nil, data), nil
	case CodecGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case CodecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("codec: unknown compression codec %d", codec)
	}
}

func decompress(codec Codec, data []byte, uncompressedSize int) ([]byte, error) {
	switch codec {
	case CodecUncompressed:
		return data, nil
	case CodecSnappy:
		return snappy.Decode(nil, data)
	case CodecGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, make([]byte, 0, uncompressedSize))
	case CodecLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("codec: unknown compression codec %d", codec)
	}
}

// ColumnStats mirrors a single column's zone map in the row-group and
// footer metadata, plus an optional distinct-value count.
type ColumnStats struct {
	Min           []byte `json:"min,omitempty"`
	Max           []byte `json:"max,omitempty"`
	NullCount     int64  `json:"nullCount"`
	DistinctCount *int64 `json:"distinctCount,omitempty"`
}

// RowGroupInfo is the footer-level record of one flushed row group.
type RowGroupInfo struct {
	NumRows          int64                   `json:"numRows"`
	FileOffset       int64                   `json:"fileOffset"`
	CompressedSize   int64                   `json:"compressedSize"`
	UncompressedSize int64                   `json:"uncompressedSize"`
	ColumnStats      map[string]*ColumnStats `json:"columnStats"`
}

// Footer is the trailing metadata block of a columnar file, immediately
// preceding the PAR1 magic and its 4-byte little-endian length prefix.
type Footer struct {
	Schema      []string          `json:"schema"`
	RowGroups   []RowGroupInfo    `json:"rowGroups"`
	NumRows     int64             `json:"numRows"`
	KeyValue    map[string]string `json:"keyValueMetadata,omitempty"`
	Codec       Codec             `json:"codec"`
}

// Row is one record as a map of column name to VARIANT-encoded value; a
// missing key or an explicit nil means SQL NULL in that column.
type Row map[string]Value

const (
	defaultMaxRowsPerGroup  = 64 * 1024
	defaultMaxBytesPerGroup = 16 << 20
)

// WriterOptions configures row-group flush thresholds and compression.
type WriterOptions struct {
	MaxRowsPerGroup  int
	MaxBytesPerGroup int
	Codec            Codec
	KeyValue         map[string]string
	// MaxPendingFlushes sizes the flush semaphore. Each flush writes its
	// row group to the underlying io.Writer before Write returns, so a
	// slow sink blocks the caller; no row group is buffered ahead of it.
	MaxPendingFlushes int
}

func (o WriterOptions) withDefaults() WriterOptions {
	if o.MaxRowsPerGroup <= 0 {
		o.MaxRowsPerGroup = defaultMaxRowsPerGroup
	}
	if o.MaxBytesPerGroup <= 0 {
		o.MaxBytesPerGroup = defaultMaxBytesPerGroup
	}
	if o.MaxPendingFlushes <= 0 {
		o.MaxPendingFlushes = 4
	}
	return o
}

// SchemaMismatchError reports a row whose column set disagrees with the
// file's established schema.
type SchemaMismatchError struct {
	Expected []string
	Got      []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("codec: row schema %v does not match file schema %v", e.Got, e.Expected)
}

// Writer is a row-group-bounded streaming columnar writer. Schema is
// either supplied up front or inferred from the first row written;
// every subsequent row must share the same column set.
type Writer struct {
	w        io.Writer
	opts     WriterOptions
	schema   []string
	schemaOK map[string]bool

	pending     []Row
	pendingSize int
	offset      int64
	groups      []RowGroupInfo

	flushSlots chan struct{}
	aborted    bool
	closed     bool
}

// NewWriter creates a Writer. If schema is nil it is inferred from the
// first row passed to Write.
func NewWriter(w io.Writer, schema []string, opts WriterOptions) *Writer {
	opts = opts.withDefaults()
	wr := &Writer{
		w:          w,
		opts:       opts,
		flushSlots: make(chan struct{}, opts.MaxPendingFlushes),
	}
	if schema != nil {
		wr.setSchema(schema)
	}
	return wr
}

func (w *Writer) setSchema(schema []string) {
	w.schema = append([]string(nil), schema...)
	w.schemaOK = make(map[string]bool, len(schema))
	for _, c := range schema {
		w.schemaOK[c] = true
	}
}

func rowColumns(r Row) []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	return cols
}

// Write appends one row, flushing a row group when either threshold in
// WriterOptions is reached. A flush writes the row group to the
// underlying io.Writer synchronously, so Write blocks for as long as that
// write takes. It returns an error once the writer has been aborted or
// closed.
func (w *Writer) Write(row Row) error {
	if w.aborted {
		return fmt.Errorf("codec: write to aborted writer")
	}
	if w.closed {
		return fmt.Errorf("codec: write to closed writer")
	}
	if w.schema == nil {
		w.setSchema(rowColumns(row))
	} else {
		for k := range row {
			if !w.schemaOK[k] {
				return &SchemaMismatchError{Expected: w.schema, Got: rowColumns(row)}
			}
		}
	}

	w.pending = append(w.pending, row)
	w.pendingSize += estimateRowSize(row)

	if len(w.pending) >= w.opts.MaxRowsPerGroup || w.pendingSize >= w.opts.MaxBytesPerGroup {
		return w.flush()
	}
	return nil
}

func estimateRowSize(r Row) int {
	n := 0
	for k, v := range r {
		n += len(k) + 16
		enc := Encode(v)
		n += len(enc.Metadata) + len(enc.Value)
	}
	return n
}

// flush serializes the pending rows into one row group: per-column
// zone-map stats, then a compressed payload block.
func (w *Writer) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	w.flushSlots <- struct{}{}
	defer func() { <-w.flushSlots }()

	stats := make(map[string]*ColumnStats, len(w.schema))
	for _, c := range w.schema {
		stats[c] = &ColumnStats{}
	}
	zms := make(map[string]*ZoneMap, len(w.schema))
	for _, c := range w.schema {
		zms[c] = NewZoneMap()
	}

	payload := make([]rowPayload, len(w.pending))
	for i, row := range w.pending {
		rp := make(rowPayload, len(w.schema))
		for ci, c := range w.schema {
			v, present := row[c]
			if !present {
				v = Null()
			}
			enc := Encode(v)
			rp[ci] = enc
			var key []byte
			if v.Kind != KindNull {
				key = sortKey(v)
			}
			zms[c].Observe(key)
		}
		payload[i] = rp
	}
	for _, c := range w.schema {
		zm := zms[c]
		stats[c] = &ColumnStats{Min: zm.Min, Max: zm.Max, NullCount: zm.NullCount}
	}

	raw, err := encodeRowPayloads(w.schema, payload)
	if err != nil {
		return err
	}
	compressed, err := compress(w.opts.Codec, raw)
	if err != nil {
		return err
	}

	info := RowGroupInfo{
		NumRows:          int64(len(w.pending)),
		FileOffset:       w.offset,
		CompressedSize:   int64(len(compressed)),
		UncompressedSize: int64(len(raw)),
		ColumnStats:      stats,
	}

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(compressed)))
	if _, err := w.w.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(compressed); err != nil {
		return err
	}
	w.offset += int64(len(lenPrefix)) + int64(len(compressed))

	w.groups = append(w.groups, info)
	w.pending = nil
	w.pendingSize = 0
	return nil
}

type rowPayload []Encoded

func encodeRowPayloads(schema []string, rows []rowPayload) ([]byte, error) {
	type wireRow struct {
		Meta [][]byte `json:"m"`
		Val  [][]byte `json:"v"`
	}
	wire := make([]wireRow, len(rows))
	for i, rp := range rows {
		wr := wireRow{Meta: make([][]byte, len(rp)), Val: make([][]byte, len(rp))}
		for j, enc := range rp {
			wr.Meta[j] = enc.Metadata
			wr.Val[j] = enc.Value
		}
		wire[i] = wr
	}
	return json.Marshal(wire)
}

func decodeRowPayloads(schema []string, raw []byte) ([]Row, error) {
	type wireRow struct {
		Meta [][]byte `json:"m"`
		Val  [][]byte `json:"v"`
	}
	var wire []wireRow
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("codec: decode row group payload: %w", err)
	}
	rows := make([]Row, len(wire))
	for i, wr := range wire {
		row := make(Row, len(schema))
		for j, c := range schema {
			if j >= len(wr.Meta) {
				continue
			}
			v, err := Decode(Encoded{Metadata: wr.Meta[j], Value: wr.Val[j]})
			if err != nil {
				return nil, err
			}
			row[c] = v
		}
		rows[i] = row
	}
	return rows, nil
}

// sortKey produces an order-preserving byte encoding of a scalar VARIANT
// value, used as the zone-map comparison key. Types incomparable with
// byte-lexicographic ordering (object/array) get a nil key, which the
// zone map counts as a null.
func sortKey(v Value) []byte {
	switch v.Kind {
	case KindInt:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.Int)^(1<<63))
		return buf[:]
	case KindDouble:
		bits := float64bitsOrdered(v.Double)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], bits)
		return buf[:]
	case KindTimestampMicros:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.TSMicros)^(1<<63))
		return buf[:]
	case KindString:
		return []byte(v.Str)
	case KindBinary:
		return v.Binary
	case KindBool:
		if v.Bool {
			return []byte{1}
		}
		return []byte{0}
	default:
		return nil
	}
}

// SortKeyForPushdown converts a plain Go scalar (the literal side of a
// filter predicate) into the same order-preserving byte key the
// columnar writer uses for zone-map stats, so filter and codec packages
// agree on comparand encoding without the filter package reaching into
// codec internals.
func SortKeyForPushdown(v any) ([]byte, bool) {
	switch x := v.(type) {
	case string:
		return sortKey(String(x)), true
	case bool:
		return sortKey(Bool(x)), true
	case int:
		return sortKey(Int(int64(x))), true
	case int64:
		return sortKey(Int(x)), true
	case float64:
		return sortKey(Double(x)), true
	default:
		return nil, false
	}
}

func float64bitsOrdered(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// Abort releases buffers and forbids further writes. No footer is
// written; a partially-written file is left for the caller to discard.
func (w *Writer) Abort() {
	w.aborted = true
	w.pending = nil
	w.pendingSize = 0
}

// Close flushes any pending row group and writes the footer plus its
// PAR1 trailing magic.
func (w *Writer) Close() error {
	if w.aborted {
		return fmt.Errorf("codec: close of aborted writer")
	}
	if w.closed {
		return nil
	}
	if err := w.flush(); err != nil {
		return err
	}
	var total int64
	for _, g := range w.groups {
		total += g.NumRows
	}
	footer := Footer{
		Schema:    w.schema,
		RowGroups: w.groups,
		NumRows:   total,
		KeyValue:  w.opts.KeyValue,
		Codec:     w.opts.Codec,
	}
	footerBytes, err := json.Marshal(footer)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(footerBytes); err != nil {
		return err
	}
	var footerLen [4]byte
	binary.LittleEndian.PutUint32(footerLen[:], uint32(len(footerBytes)))
	if _, err := w.w.Write(footerLen[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(parquetMagic[:]); err != nil {
		return err
	}
	w.closed = true
	return nil
}

// Reader provides random access to the row groups of a file produced by
// Writer, given the whole file's bytes (e.g. read from blob storage).
type Reader struct {
	data   []byte
	Footer Footer
}

// NewReader parses the footer at the tail of data and validates the
// PAR1 magic.
func NewReader(data []byte) (*Reader, error) {
	if len(data) < 8 || !bytes.Equal(data[len(data)-4:], parquetMagic[:]) {
		return nil, fmt.Errorf("codec: missing PAR1 trailing magic")
	}
	footerLen := binary.LittleEndian.Uint32(data[len(data)-8 : len(data)-4])
	footerStart := len(data) - 8 - int(footerLen)
	if footerStart < 0 {
		return nil, fmt.Errorf("codec: footer length exceeds file size")
	}
	var footer Footer
	if err := json.Unmarshal(data[footerStart:len(data)-8], &footer); err != nil {
		return nil, fmt.Errorf("codec: decode footer: %w", err)
	}
	return &Reader{data: data, Footer: footer}, nil
}

// IsParquetFile is a cheap sniff for the PAR1 trailing magic, used to
// detect externally-produced data files (e.g. a foreign CDC consumer's
// Parquet output) without fully parsing the footer.
func IsParquetFile(data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data[len(data)-4:], parquetMagic[:])
}

// ReadRowGroup decodes and decompresses row group idx into Row values.
func (r *Reader) ReadRowGroup(idx int) ([]Row, error) {
	if idx < 0 || idx >= len(r.Footer.RowGroups) {
		return nil, fmt.Errorf("codec: row group index %d out of range", idx)
	}
	g := r.Footer.RowGroups[idx]
	start := g.FileOffset + 4
	end := start + g.CompressedSize
	if end > int64(len(r.data)) {
		return nil, fmt.Errorf("codec: row group %d extends past end of file", idx)
	}
	raw, err := decompress(r.Footer.Codec, r.data[start:end], int(g.UncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("codec: decompress row group %d: %w", idx, err)
	}
	return decodeRowPayloads(r.Footer.Schema, raw)
}

// ReadAll decodes every row group in file order.
func (r *Reader) ReadAll() ([]Row, error) {
	var all []Row
	for i := range r.Footer.RowGroups {
		rows, err := r.ReadRowGroup(i)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}

// CanSkipRowGroup applies a zone-map predicate against row group idx's
// recorded stats for column col.
func (r *Reader) CanSkipRowGroup(idx int, col string, p Predicate) bool {
	if idx < 0 || idx >= len(r.Footer.RowGroups) {
		return false
	}
	cs, ok := r.Footer.RowGroups[idx].ColumnStats[col]
	if !ok {
		return false
	}
	zm := &ZoneMap{Min: cs.Min, Max: cs.Max, NullCount: cs.NullCount, HasValues: cs.Min != nil || cs.Max != nil}
	return zm.CanSkip(p)
}
