package codec

import (
	"testing"

	"github.com/google/uuid"
)

func TestDeletionVectorFileRoundTrip(t *testing.T) {
	dv := NewDeletionVector()
	dv.Delete(3)
	dv.Delete(17)
	dv.Delete(1000)

	data, err := EncodeDeletionVectorFile(dv)
	if err != nil {
		t.Fatalf("EncodeDeletionVectorFile: %v", err)
	}
	got, err := DecodeDeletionVectorFile(data)
	if err != nil {
		t.Fatalf("DecodeDeletionVectorFile: %v", err)
	}
	if got.Count() != 3 {
		t.Fatalf("Count = %d, want 3", got.Count())
	}
	for _, row := range []uint32{3, 17, 1000} {
		if !got.IsDeleted(row) {
			t.Fatalf("row %d should be deleted", row)
		}
	}
	if got.IsDeleted(4) {
		t.Fatalf("row 4 should not be deleted")
	}
}

func TestDeletionVectorFileRejectsLengthMismatch(t *testing.T) {
	dv := NewDeletionVector()
	dv.Delete(1)
	data, _ := EncodeDeletionVectorFile(dv)
	corrupt := append([]byte(nil), data...)
	corrupt[0] = 0xFF
	if _, err := DecodeDeletionVectorFile(corrupt); err == nil {
		t.Fatalf("expected error for corrupted length prefix")
	}
}

func TestDVPathForUUIDRoundTrip(t *testing.T) {
	id := uuid.New()
	seg, err := DVPathForUUID(id)
	if err != nil {
		t.Fatalf("DVPathForUUID: %v", err)
	}
	got, err := UUIDForDVPath(seg)
	if err != nil {
		t.Fatalf("UUIDForDVPath: %v", err)
	}
	if got != id {
		t.Fatalf("got %v, want %v", got, id)
	}
}

func TestDeletionVectorMerge(t *testing.T) {
	a := NewDeletionVector()
	a.Delete(1)
	b := NewDeletionVector()
	b.Delete(2)
	a.Merge(b)
	if a.Count() != 2 {
		t.Fatalf("Count = %d, want 2", a.Count())
	}
}
