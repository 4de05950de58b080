package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/txlog"
)

func sampleActions() []txlog.Action {
	return []txlog.Action{
		{Protocol: &txlog.Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		{MetaData: &txlog.Metadata{ID: "t1", Format: txlog.Format{Provider: "parquet"}, SchemaString: "{}"}},
		{Add: &txlog.Add{Path: "part-00000.parquet", Size: 1024, DataChange: true}},
		{Add: &txlog.Add{Path: "part-00001.parquet", Size: 2048, DataChange: true, PartitionValues: map[string]string{"d": "2026-07-31"}}},
	}
}

func TestWriteReadCheckpointSinglePart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	lc, err := Write(ctx, store, "t1", 3, sampleActions(), 0)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lc.Version != 3 || lc.Parts != nil {
		t.Fatalf("unexpected pointer: %+v", lc)
	}

	got, err := Read(ctx, store, "t1", 3, 1)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d actions, want 4", len(got))
	}
	if got[2].Add == nil || got[2].Add.Path != "part-00000.parquet" || got[2].Add.Size != 1024 {
		t.Fatalf("add action mismatch: %+v", got[2])
	}
	if got[3].Add == nil || got[3].Add.PartitionValues["d"] != "2026-07-31" {
		t.Fatalf("partition values not preserved: %+v", got[3])
	}
}

func TestWriteMultiPart(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	actions := sampleActions()
	lc, err := Write(ctx, store, "t1", 5, actions, 2)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if lc.Parts == nil || *lc.Parts != 2 {
		t.Fatalf("expected 2 parts, got %+v", lc.Parts)
	}

	got, err := Read(ctx, store, "t1", 5, *lc.Parts)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(actions) {
		t.Fatalf("got %d actions across parts, want %d", len(got), len(actions))
	}
}

func TestLastCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()

	if got, err := ReadLastCheckpoint(ctx, store, "t1"); err != nil || got != nil {
		t.Fatalf("expected (nil, nil) before any checkpoint, got (%+v, %v)", got, err)
	}

	lc := &LastCheckpoint{Version: 7, Size: 4096}
	if err := WriteLastCheckpoint(ctx, store, "t1", lc); err != nil {
		t.Fatalf("WriteLastCheckpoint: %v", err)
	}
	got, err := ReadLastCheckpoint(ctx, store, "t1")
	if err != nil {
		t.Fatalf("ReadLastCheckpoint: %v", err)
	}
	if got.Version != 7 || got.Size != 4096 {
		t.Fatalf("pointer mismatch: %+v", got)
	}
}

func TestCleanupDeletesOnlyOldPreCheckpointVersions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	log := txlog.NewLog(store, "t1")

	first := []txlog.Action{
		{Protocol: &txlog.Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		{MetaData: &txlog.Metadata{ID: "t1", Format: txlog.Format{Provider: "parquet"}, SchemaString: "{}"}},
	}
	if _, err := log.Commit(ctx, first); err != nil {
		t.Fatalf("commit v0: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := log.Commit(ctx, []txlog.Action{{CommitInfo: &txlog.CommitInfo{Operation: "WRITE"}}}); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}
	// versions 0..3 now exist. Checkpoint at version 2; only versions
	// below 2 are cleanup candidates.
	now := time.Unix(1_900_000_000, 0)
	result, err := Cleanup(ctx, store, "t1", 2, time.Hour, now)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	// MemoryBackend stamps LastModified at write time (effectively "now"
	// relative to the test's wall clock), which is nowhere near the
	// far-future `now` passed above, so both candidates qualify as old
	// enough and get deleted; version 2 and 3 are never candidates.
	for _, v := range result.Deleted {
		if v >= 2 {
			t.Fatalf("cleanup deleted version %d at or above checkpoint version", v)
		}
	}
	if len(result.Deleted) != 2 {
		t.Fatalf("expected versions 0 and 1 deleted, got %v", result.Deleted)
	}
}

func TestCleanupRespectsMinAge(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	log := txlog.NewLog(store, "t1")
	first := []txlog.Action{
		{Protocol: &txlog.Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		{MetaData: &txlog.Metadata{ID: "t1", Format: txlog.Format{Provider: "parquet"}, SchemaString: "{}"}},
	}
	if _, err := log.Commit(ctx, first); err != nil {
		t.Fatalf("commit v0: %v", err)
	}
	// now == the moment of the commit: nothing is old enough yet.
	result, err := Cleanup(ctx, store, "t1", 1, time.Hour, time.Now())
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if len(result.Deleted) != 0 {
		t.Fatalf("expected no deletions when nothing has aged out, got %v", result.Deleted)
	}
}

func TestPolicyDue(t *testing.T) {
	p := Policy{CommitInterval: 10}
	if p.Due(9, 0) {
		t.Fatalf("should not be due at 9 commits with interval 10")
	}
	if !p.Due(10, 0) {
		t.Fatalf("should be due at 10 commits with interval 10")
	}
	byBytes := Policy{MaxLogBytes: 1000}
	if !byBytes.Due(0, 1500) {
		t.Fatalf("should be due once bytes threshold is crossed")
	}
}
