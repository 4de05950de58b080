package cdc

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/deltakit/deltakit/internal/filter"
	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/table"
)

var errFailingSubscriber = errors.New("boom")

func TestEnabledDefaultsFalse(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	e := New(store, "t1", 0)
	enabled, err := e.Enabled(ctx)
	if err != nil {
		t.Fatalf("Enabled: %v", err)
	}
	if enabled {
		t.Fatalf("expected disabled by default")
	}
}

func TestRecordChangesNoopWhenDisabled(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	e := New(store, "t1", 0)
	err := e.RecordChanges(ctx, 1, 1000, []table.ChangeRow{{Type: table.ChangeInsert, Data: map[string]any{"id": "1"}}})
	if err != nil {
		t.Fatalf("RecordChanges: %v", err)
	}
	recs, err := e.ReadByVersion(ctx, 1)
	if err != nil {
		t.Fatalf("ReadByVersion: %v", err)
	}
	if recs != nil {
		t.Fatalf("expected no records written while disabled, got %+v", recs)
	}
}

func TestRecordChangesWritesFlatAndPartitionedCopies(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	e := New(store, "t1", 0)
	if err := e.SetEnabled(ctx, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	changes := []table.ChangeRow{
		{Type: table.ChangeInsert, Data: map[string]any{"id": "1", "value": int64(10)}},
		{Type: table.ChangeDelete, Data: map[string]any{"id": "2", "value": int64(20)}},
	}
	if err := e.RecordChanges(ctx, 3, 1_700_000_000_000, changes); err != nil {
		t.Fatalf("RecordChanges: %v", err)
	}

	recs, err := e.ReadByVersion(ctx, 3)
	if err != nil {
		t.Fatalf("ReadByVersion: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].ChangeType != "insert" || recs[0].CommitVersion != 3 {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
	if recs[0].Data["id"] != "1" {
		t.Fatalf("nested data not preserved: %+v", recs[0].Data)
	}

	partPath, err := e.partitionedPath(3, 1_700_000_000_000)
	if err != nil {
		t.Fatalf("partitionedPath: %v", err)
	}
	if exists, _ := store.Exists(ctx, partPath); !exists {
		t.Fatalf("expected date-partitioned mirror at %s", partPath)
	}
}

func TestReadByTimestampFindsNearestCommit(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	tbl, err := table.Create(ctx, store, "t1", table.CreateOptions{ID: "t1", SchemaString: "{}"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e := New(store, "t1", 0)
	if err := e.SetEnabled(ctx, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	tbl.Recorder = e

	if _, err := tbl.Write(ctx, []filter.Row{{"id": "1", "value": int64(10)}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	recs, err := e.ReadByTimestamp(ctx, 9_999_999_999_999)
	if err != nil {
		t.Fatalf("ReadByTimestamp: %v", err)
	}
	if len(recs) != 1 || recs[0].ChangeType != "insert" {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestSubscribeDispatchesAndIsolatesErrors(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	e := New(store, "t1", 2)
	if err := e.SetEnabled(ctx, true); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}

	var mu sync.Mutex
	var gotA, gotB int
	unsubA := e.Subscribe(func(ctx context.Context, version int64, records []Record) error {
		mu.Lock()
		gotA += len(records)
		mu.Unlock()
		return nil
	})
	defer unsubA()
	unsubB := e.Subscribe(func(ctx context.Context, version int64, records []Record) error {
		mu.Lock()
		gotB += len(records)
		mu.Unlock()
		return errFailingSubscriber
	})
	defer unsubB()

	changes := []table.ChangeRow{{Type: table.ChangeInsert, Data: map[string]any{"id": "1"}}}
	if err := e.RecordChanges(ctx, 1, 1000, changes); err != nil {
		t.Fatalf("RecordChanges: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotA != 1 || gotB != 1 {
		t.Fatalf("expected both subscribers to be invoked despite one erroring, got A=%d B=%d", gotA, gotB)
	}
}
