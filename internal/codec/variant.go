package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Variant basic type tags, packed into the low 2 bits of the value header
// byte (primitive types use basic_type=0 with the type code in the upper
// 6 bits instead; see headerByte below).
const (
	basicPrimitive = 0
	basicShortStr  = 1
	basicObject    = 2
	basicArray     = 3
)

// Primitive type codes (header byte when basic_type == basicPrimitive).
const (
	primitiveNull      = 0x00
	primitiveTrue      = 0x04
	primitiveFalse     = 0x08
	primitiveInt8      = 0x0C
	primitiveInt16     = 0x10
	primitiveInt32     = 0x14
	primitiveInt64     = 0x18
	primitiveDouble    = 0x1C
	primitiveTimestamp = 0x30
	primitiveBinary    = 0x3C
	primitiveLongStr   = 0x40
)

// Value is the decoded, in-memory form of a VARIANT. Exactly one of the
// fields is meaningful, selected by Kind — a tagged union expressed as a
// flat struct rather than an interface hierarchy, matching how the row
// representation elsewhere in the codec treats heterogeneous documents.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindTimestampMicros
	KindBinary
	KindString
	KindObject
	KindArray
)

type Value struct {
	Kind      Kind
	Bool      bool
	Int       int64
	Double    float64
	TSMicros  int64
	Binary    []byte
	Str       string
	Object    map[string]Value
	ObjectOrd []string // key insertion order, for deterministic re-encoding
	Array     []Value
}

// Null, Bool, Int, Double, String, Binary, TimestampMicros, and Object/
// Array constructors make building test fixtures and shredded values
// terse at call sites.
func Null() Value                 { return Value{Kind: KindNull} }
func Bool(b bool) Value           { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value           { return Value{Kind: KindInt, Int: i} }
func Double(f float64) Value      { return Value{Kind: KindDouble, Double: f} }
func String(s string) Value       { return Value{Kind: KindString, Str: s} }
func Binary_(b []byte) Value      { return Value{Kind: KindBinary, Binary: b} }
func TimestampMicros(t int64) Value { return Value{Kind: KindTimestampMicros, TSMicros: t} }

func Object(m map[string]Value) Value {
	ord := make([]string, 0, len(m))
	for k := range m {
		ord = append(ord, k)
	}
	sort.Strings(ord)
	return Value{Kind: KindObject, Object: m, ObjectOrd: ord}
}

func Array(vals []Value) Value { return Value{Kind: KindArray, Array: vals} }

// Encoded is the pair of byte buffers a VARIANT column stores.
type Encoded struct {
	Metadata []byte
	Value    []byte
}

// Encode produces the {metadata, value} pair for v. Metadata holds a
// deduplicated dictionary, in first-seen order, of every field name encountered anywhere
// in the value tree (including nested objects), per §4.2.
func Encode(v Value) Encoded {
	dict := newDictionary()
	collectFieldNames(v, dict)
	meta := dict.encode()
	val := encodeValue(v, dict)
	return Encoded{Metadata: meta, Value: val}
}

// ---- metadata dictionary ----

type dictionary struct {
	idOf map[string]int
	ordered []string
}

func newDictionary() *dictionary {
	return &dictionary{idOf: make(map[string]int)}
}

func (d *dictionary) add(name string) int {
	if id, ok := d.idOf[name]; ok {
		return id
	}
	id := len(d.ordered)
	d.idOf[name] = id
	d.ordered = append(d.ordered, name)
	return id
}

func (d *dictionary) id(name string) int { return d.idOf[name] }

// encode writes the version-1 metadata block: a 1-byte header, an offset
// array (entry count + 1 offsets), then the concatenated UTF-8 bytes of
// every dictionary entry in insertion order.
func (d *dictionary) encode() []byte {
	n := len(d.ordered)
	offsetSize := minOffsetSize(totalBytes(d.ordered))
	buf := []byte{0x01} // version=1, sorted=0, offset_size-1 packed minimally below
	buf[0] = 0x01 | byte(offsetSize-1)<<6
	buf = appendUint(buf, uint64(n), offsetSize)
	offset := uint64(0)
	buf = appendUint(buf, offset, offsetSize)
	for _, name := range d.ordered {
		offset += uint64(len(name))
		buf = appendUint(buf, offset, offsetSize)
	}
	for _, name := range d.ordered {
		buf = append(buf, name...)
	}
	return buf
}

func totalBytes(names []string) int {
	n := 0
	for _, s := range names {
		n += len(s)
	}
	return n
}

func minOffsetSize(maxValue int) int {
	switch {
	case maxValue < 1<<8:
		return 1
	case maxValue < 1<<16:
		return 2
	case maxValue < 1<<24:
		return 3
	default:
		return 4
	}
}

func appendUint(buf []byte, v uint64, size int) []byte {
	for i := 0; i < size; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

func readUint(b []byte, size int) uint64 {
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func collectFieldNames(v Value, d *dictionary) {
	switch v.Kind {
	case KindObject:
		for _, k := range v.ObjectOrd {
			d.add(k)
			collectFieldNames(v.Object[k], d)
		}
	case KindArray:
		for _, e := range v.Array {
			collectFieldNames(e, d)
		}
	}
}

// ---- value encoding ----

func encodeValue(v Value, d *dictionary) []byte {
	switch v.Kind {
	case KindNull:
		return []byte{primitiveNull}
	case KindBool:
		if v.Bool {
			return []byte{primitiveTrue}
		}
		return []byte{primitiveFalse}
	case KindInt:
		return encodeInt(v.Int)
	case KindDouble:
		return encodeDouble(v.Double)
	case KindTimestampMicros:
		buf := []byte{primitiveTimestamp}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v.TSMicros))
		return append(buf, tmp[:]...)
	case KindBinary:
		buf := []byte{primitiveBinary}
		buf = appendInt32LE(buf, int32(len(v.Binary)))
		return append(buf, v.Binary...)
	case KindString:
		return encodeString(v.Str)
	case KindObject:
		return encodeObject(v, d)
	case KindArray:
		return encodeArray(v, d)
	default:
		return []byte{primitiveNull}
	}
}

func encodeInt(i int64) []byte {
	switch {
	case i >= math.MinInt8 && i <= math.MaxInt8:
		return []byte{primitiveInt8, byte(int8(i))}
	case i >= math.MinInt16 && i <= math.MaxInt16:
		buf := []byte{primitiveInt16}
		return appendInt16LE(buf, int16(i))
	case i >= math.MinInt32 && i <= math.MaxInt32:
		buf := []byte{primitiveInt32}
		return appendInt32LE(buf, int32(i))
	default:
		buf := []byte{primitiveInt64}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(i))
		return append(buf, tmp[:]...)
	}
}

func encodeDouble(f float64) []byte {
	buf := []byte{primitiveDouble}
	if f == 0 {
		f = 0 // clears the sign bit: -0 round-trips as 0 (§4.2)
	}
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], math.Float64bits(f))
	return append(buf, tmp[:]...)
}

func encodeString(s string) []byte {
	if len(s) <= 63 {
		header := byte(basicShortStr) | byte(len(s))<<2
		return append([]byte{header}, s...)
	}
	buf := []byte{primitiveLongStr}
	buf = appendInt32LE(buf, int32(len(s)))
	return append(buf, s...)
}

func appendInt16LE(buf []byte, v int16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], uint16(v))
	return append(buf, tmp[:]...)
}

func appendInt32LE(buf []byte, v int32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	return append(buf, tmp[:]...)
}

func encodeObject(v Value, d *dictionary) []byte {
	n := len(v.ObjectOrd)
	keys := append([]string(nil), v.ObjectOrd...)
	sort.Strings(keys)

	var encodedFields [][]byte
	maxDataOffset := 0
	for _, k := range keys {
		ev := encodeValue(v.Object[k], d)
		encodedFields = append(encodedFields, ev)
		maxDataOffset += len(ev)
	}
	maxID := 0
	for _, k := range keys {
		if id := d.id(k); id > maxID {
			maxID = id
		}
	}
	idSize := minOffsetSize(maxID + 1)
	offsetSize := minOffsetSize(maxDataOffset)
	largeSize := n > 0xFF
	header := byte(basicObject)
	header |= byte(idSize-1) << 2
	header |= byte(offsetSize-1) << 4
	if largeSize {
		header |= 1 << 6
	}
	buf := []byte{header}
	if largeSize {
		buf = appendInt32LE(buf, int32(n))
	} else {
		buf = append(buf, byte(n))
	}
	for _, k := range keys {
		buf = appendUint(buf, uint64(d.id(k)), idSize)
	}
	offset := 0
	buf = appendUint(buf, uint64(offset), offsetSize)
	for _, ev := range encodedFields {
		offset += len(ev)
		buf = appendUint(buf, uint64(offset), offsetSize)
	}
	for _, ev := range encodedFields {
		buf = append(buf, ev...)
	}
	return buf
}

func encodeArray(v Value, d *dictionary) []byte {
	n := len(v.Array)
	var encodedElems [][]byte
	totalData := 0
	for _, e := range v.Array {
		ev := encodeValue(e, d)
		encodedElems = append(encodedElems, ev)
		totalData += len(ev)
	}
	offsetSize := minOffsetSize(totalData)
	largeSize := n > 0xFF
	header := byte(basicArray)
	header |= byte(offsetSize-1) << 4
	if largeSize {
		header |= 1 << 6
	}
	buf := []byte{header}
	if largeSize {
		buf = appendInt32LE(buf, int32(n))
	} else {
		buf = append(buf, byte(n))
	}
	offset := 0
	buf = appendUint(buf, uint64(offset), offsetSize)
	for _, ev := range encodedElems {
		offset += len(ev)
		buf = appendUint(buf, uint64(offset), offsetSize)
	}
	for _, ev := range encodedElems {
		buf = append(buf, ev...)
	}
	return buf
}

// ---- decoding ----

// Decode reverses Encode. Truncated input raises a ValidationError-style
// wrapped error; unknown primitive type tags decode as null (§4.2).
func Decode(enc Encoded) (Value, error) {
	dict, err := decodeDictionary(enc.Metadata)
	if err != nil {
		return Value{}, err
	}
	v, _, err := decodeValue(enc.Value, dict)
	return v, err
}

func decodeDictionary(meta []byte) ([]string, error) {
	if len(meta) < 1 {
		return nil, fmt.Errorf("codec: truncated variant metadata")
	}
	offsetSize := int((meta[0]>>6)&0x3) + 1
	pos := 1
	if pos+offsetSize > len(meta) {
		return nil, fmt.Errorf("codec: truncated variant metadata header")
	}
	n := int(readUint(meta[pos:], offsetSize))
	pos += offsetSize
	offsets := make([]int, n+1)
	for i := 0; i <= n; i++ {
		if pos+offsetSize > len(meta) {
			return nil, fmt.Errorf("codec: truncated variant metadata offsets")
		}
		offsets[i] = int(readUint(meta[pos:], offsetSize))
		pos += offsetSize
	}
	dataStart := pos
	names := make([]string, n)
	for i := 0; i < n; i++ {
		lo, hi := dataStart+offsets[i], dataStart+offsets[i+1]
		if hi > len(meta) || lo > hi {
			return nil, fmt.Errorf("codec: truncated variant metadata entry %d", i)
		}
		names[i] = string(meta[lo:hi])
	}
	return names, nil
}

func decodeValue(b []byte, dict []string) (Value, int, error) {
	if len(b) < 1 {
		return Value{}, 0, fmt.Errorf("codec: truncated variant value")
	}
	header := b[0]
	basicType := header & 0x3
	switch basicType {
	case basicPrimitive:
		return decodePrimitive(b, dict)
	case basicShortStr:
		n := int(header >> 2)
		if 1+n > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated short string")
		}
		return Value{Kind: KindString, Str: string(b[1 : 1+n])}, 1 + n, nil
	case basicObject:
		return decodeObject(b, dict, header)
	case basicArray:
		return decodeArray(b, dict, header)
	}
	return Value{Kind: KindNull}, 1, nil
}

func decodePrimitive(b []byte, dict []string) (Value, int, error) {
	switch b[0] {
	case primitiveNull:
		return Value{Kind: KindNull}, 1, nil
	case primitiveTrue:
		return Value{Kind: KindBool, Bool: true}, 1, nil
	case primitiveFalse:
		return Value{Kind: KindBool, Bool: false}, 1, nil
	case primitiveInt8:
		if len(b) < 2 {
			return Value{}, 0, fmt.Errorf("codec: truncated int8")
		}
		return Value{Kind: KindInt, Int: int64(int8(b[1]))}, 2, nil
	case primitiveInt16:
		if len(b) < 3 {
			return Value{}, 0, fmt.Errorf("codec: truncated int16")
		}
		return Value{Kind: KindInt, Int: int64(int16(binary.LittleEndian.Uint16(b[1:3])))}, 3, nil
	case primitiveInt32:
		if len(b) < 5 {
			return Value{}, 0, fmt.Errorf("codec: truncated int32")
		}
		return Value{Kind: KindInt, Int: int64(int32(binary.LittleEndian.Uint32(b[1:5])))}, 5, nil
	case primitiveInt64:
		if len(b) < 9 {
			return Value{}, 0, fmt.Errorf("codec: truncated int64")
		}
		return Value{Kind: KindInt, Int: int64(binary.LittleEndian.Uint64(b[1:9]))}, 9, nil
	case primitiveDouble:
		if len(b) < 9 {
			return Value{}, 0, fmt.Errorf("codec: truncated double")
		}
		return Value{Kind: KindDouble, Double: math.Float64frombits(binary.LittleEndian.Uint64(b[1:9]))}, 9, nil
	case primitiveTimestamp:
		if len(b) < 9 {
			return Value{}, 0, fmt.Errorf("codec: truncated timestamp")
		}
		return Value{Kind: KindTimestampMicros, TSMicros: int64(binary.LittleEndian.Uint64(b[1:9]))}, 9, nil
	case primitiveBinary:
		if len(b) < 5 {
			return Value{}, 0, fmt.Errorf("codec: truncated binary length")
		}
		n := int(int32(binary.LittleEndian.Uint32(b[1:5])))
		if n < 0 || 5+n > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated binary payload")
		}
		bin := append([]byte(nil), b[5:5+n]...)
		return Value{Kind: KindBinary, Binary: bin}, 5 + n, nil
	case primitiveLongStr:
		if len(b) < 5 {
			return Value{}, 0, fmt.Errorf("codec: truncated long string length")
		}
		n := int(int32(binary.LittleEndian.Uint32(b[1:5])))
		if n < 0 || 5+n > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated long string payload")
		}
		return Value{Kind: KindString, Str: string(b[5 : 5+n])}, 5 + n, nil
	default:
		// Unknown primitive type tag decodes as null (§4.2).
		return Value{Kind: KindNull}, 1, nil
	}
}

func decodeObject(b []byte, dict []string, header byte) (Value, int, error) {
	idSize := int((header>>2)&0x3) + 1
	offsetSize := int((header>>4)&0x3) + 1
	largeSize := header&(1<<6) != 0
	pos := 1
	var n int
	if largeSize {
		if pos+4 > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated object count")
		}
		n = int(int32(binary.LittleEndian.Uint32(b[pos : pos+4])))
		pos += 4
	} else {
		if pos+1 > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated object count")
		}
		n = int(b[pos])
		pos++
	}
	ids := make([]int, n)
	for i := 0; i < n; i++ {
		if pos+idSize > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated object field ids")
		}
		ids[i] = int(readUint(b[pos:], idSize))
		pos += idSize
	}
	offsets := make([]int, n+1)
	for i := 0; i <= n; i++ {
		if pos+offsetSize > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated object offsets")
		}
		offsets[i] = int(readUint(b[pos:], offsetSize))
		pos += offsetSize
	}
	dataStart := pos
	obj := make(map[string]Value, n)
	ord := make([]string, n)
	maxEnd := 0
	for i := 0; i < n; i++ {
		lo, hi := dataStart+offsets[i], dataStart+offsets[i+1]
		if hi > len(b) || lo > hi {
			return Value{}, 0, fmt.Errorf("codec: truncated object field %d", i)
		}
		if ids[i] < 0 || ids[i] >= len(dict) {
			return Value{}, 0, fmt.Errorf("codec: object field id %d out of dictionary range", ids[i])
		}
		fv, _, err := decodeValue(b[lo:hi], dict)
		if err != nil {
			return Value{}, 0, err
		}
		name := dict[ids[i]]
		obj[name] = fv
		ord[i] = name
		if hi > maxEnd {
			maxEnd = hi
		}
	}
	sort.Strings(ord)
	return Value{Kind: KindObject, Object: obj, ObjectOrd: ord}, maxEnd, nil
}

func decodeArray(b []byte, dict []string, header byte) (Value, int, error) {
	offsetSize := int((header>>4)&0x3) + 1
	largeSize := header&(1<<6) != 0
	pos := 1
	var n int
	if largeSize {
		if pos+4 > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated array count")
		}
		n = int(int32(binary.LittleEndian.Uint32(b[pos : pos+4])))
		pos += 4
	} else {
		if pos+1 > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated array count")
		}
		n = int(b[pos])
		pos++
	}
	offsets := make([]int, n+1)
	for i := 0; i <= n; i++ {
		if pos+offsetSize > len(b) {
			return Value{}, 0, fmt.Errorf("codec: truncated array offsets")
		}
		offsets[i] = int(readUint(b[pos:], offsetSize))
		pos += offsetSize
	}
	dataStart := pos
	elems := make([]Value, n)
	maxEnd := 0
	for i := 0; i < n; i++ {
		lo, hi := dataStart+offsets[i], dataStart+offsets[i+1]
		if hi > len(b) || lo > hi {
			return Value{}, 0, fmt.Errorf("codec: truncated array element %d", i)
		}
		ev, _, err := decodeValue(b[lo:hi], dict)
		if err != nil {
			return Value{}, 0, err
		}
		elems[i] = ev
		if hi > maxEnd {
			maxEnd = hi
		}
	}
	return Value{Kind: KindArray, Array: elems}, maxEnd, nil
}

// FromAny converts a Go document tree (nil | bool | int-family | float64 |
// string | []byte | []any | map[string]any) into a Value, applying the
// documented VARIANT equalities: undefined (a missing map entry never
// reaches here) encodes as null; -0.0 normalizes to 0; an integer-valued
// float64 (NaN and ±Inf excepted) narrows to KindInt, matching the i64
// round-trip rule (§4.2).
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case float32:
		return doubleValue(float64(x))
	case float64:
		return doubleValue(x)
	case string:
		return String(x)
	case []byte:
		return Binary_(x)
	case []any:
		vals := make([]Value, len(x))
		for i, e := range x {
			vals[i] = FromAny(e)
		}
		return Array(vals)
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, e := range x {
			m[k] = FromAny(e)
		}
		return Object(m)
	default:
		return Null()
	}
}

// doubleValue narrows f to KindInt when it is integer-valued and
// representable as an int64, clearing -0's sign bit on the way. NaN and
// ±Inf are never integer-valued and stay KindDouble untouched.
func doubleValue(f float64) Value {
	if f == 0 {
		return Int(0)
	}
	if !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f) &&
		f >= math.MinInt64 && f < math.MaxInt64 {
		return Int(int64(f))
	}
	return Double(f)
}

// ToAny converts a decoded Value back into a Go document tree. KindInt
// decodes to int64, KindDouble to float64 — each Value already carries
// the narrowed-or-not distinction FromAny established at encode time.
func ToAny(v Value) any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt:
		return v.Int
	case KindDouble:
		return v.Double
	case KindTimestampMicros:
		return v.TSMicros
	case KindBinary:
		return v.Binary
	case KindString:
		return v.Str
	case KindArray:
		out := make([]any, len(v.Array))
		for i, e := range v.Array {
			out[i] = ToAny(e)
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.Object))
		for k, e := range v.Object {
			out[k] = ToAny(e)
		}
		return out
	default:
		return nil
	}
}
