package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
)

// DeletionVector is the in-memory form of a side-file recording which
// row indices of a data file are logically deleted without rewriting it.
type DeletionVector struct {
	bitmap *roaring.Bitmap
}

// NewDeletionVector returns an empty deletion vector.
func NewDeletionVector() *DeletionVector {
	return &DeletionVector{bitmap: roaring.New()}
}

// Delete marks row as deleted.
func (dv *DeletionVector) Delete(row uint32) { dv.bitmap.Add(row) }

// IsDeleted reports whether row is marked deleted.
func (dv *DeletionVector) IsDeleted(row uint32) bool { return dv.bitmap.Contains(row) }

// Count returns the number of deleted rows.
func (dv *DeletionVector) Count() uint64 { return dv.bitmap.GetCardinality() }

// Rows returns the sorted set of deleted row indices.
func (dv *DeletionVector) Rows() []uint32 { return dv.bitmap.ToArray() }

// Merge folds other's deleted rows into dv (used when a second commit
// adds further deletions against the same data file).
func (dv *DeletionVector) Merge(other *DeletionVector) {
	dv.bitmap.Or(other.bitmap)
}

// DVPathForUUID derives the deletion-vector side-file path segment from a
// table-file UUID: the Z85 encoding of the UUID's 16 raw bytes (§4.2).
func DVPathForUUID(id uuid.UUID) (string, error) {
	return Z85Encode(id[:])
}

// UUIDForDVPath inverts DVPathForUUID, recovering the UUID encoded in a
// deletion-vector path segment.
func UUIDForDVPath(pathSegment string) (uuid.UUID, error) {
	raw, err := Z85Decode(pathSegment)
	if err != nil {
		return uuid.UUID{}, err
	}
	if len(raw) != 16 {
		return uuid.UUID{}, fmt.Errorf("codec: z85-decoded deletion vector path has %d bytes, want 16", len(raw))
	}
	var id uuid.UUID
	copy(id[:], raw)
	return id, nil
}

// EncodeDeletionVectorFile serializes dv as the side-file body: an i32
// length prefix followed by the little-endian Roaring Bitmap
// serialization, per §4.2.
func EncodeDeletionVectorFile(dv *DeletionVector) ([]byte, error) {
	var body bytes.Buffer
	if _, err := dv.bitmap.WriteTo(&body); err != nil {
		return nil, fmt.Errorf("codec: serialize deletion vector bitmap: %w", err)
	}
	var out bytes.Buffer
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(body.Len()))
	out.Write(lenPrefix[:])
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// DecodeDeletionVectorFile parses a deletion-vector side-file produced by
// EncodeDeletionVectorFile, validating the declared length against the
// actual payload.
func DecodeDeletionVectorFile(data []byte) (*DeletionVector, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("codec: truncated deletion vector file header")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	if int(n) != len(data)-4 {
		return nil, fmt.Errorf("codec: deletion vector length prefix %d does not match payload size %d", n, len(data)-4)
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(data[4:])); err != nil {
		return nil, fmt.Errorf("codec: parse roaring bitmap: %w", err)
	}
	return &DeletionVector{bitmap: bm}, nil
}
