package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/deltakit/deltakit/internal/filter"
	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/table"
)

func newTestTable(t *testing.T, store storage.Storage, partitionColumns []string) *table.Table {
	t.Helper()
	ctx := context.Background()
	tbl, err := table.Create(ctx, store, "t1", table.CreateOptions{
		ID:               "t1",
		SchemaString:     "{}",
		PartitionColumns: partitionColumns,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return tbl
}

func TestCompactMergesSmallFilesPerPartition(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	tbl := newTestTable(t, store, nil)

	// Each Write produces its own file, so three writes leaves three
	// small files to merge.
	for i := 0; i < 3; i++ {
		if _, err := tbl.Write(ctx, []filter.Row{{"id": "x", "n": int64(i)}}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	res, err := Compact(ctx, store, "t1", CompactOptions{})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if res.FilesRemoved != 3 || res.FilesAdded != 1 {
		t.Fatalf("unexpected compact result: %+v", res)
	}

	got, err := tbl.Query(ctx, filter.Filter{}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d rows after compact, want 3", len(got))
	}
}

func TestCompactLeavesSinglePartitionFileUntouched(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	tbl := newTestTable(t, store, nil)
	if _, err := tbl.Write(ctx, []filter.Row{{"id": "only"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res, err := Compact(ctx, store, "t1", CompactOptions{})
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if res.FilesAdded != 0 || res.FilesRemoved != 0 {
		t.Fatalf("expected no-op compact for a single file, got %+v", res)
	}
}

func TestDedupKeepsOneRowPerKey(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	tbl := newTestTable(t, store, nil)

	if _, err := tbl.Write(ctx, []filter.Row{
		{"id": "1", "value": int64(10)},
		{"id": "1", "value": int64(20)},
		{"id": "2", "value": int64(30)},
	}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res, err := Dedup(ctx, store, "t1", func(r filter.Row) any { return r["id"] }, KeepFirst)
	if err != nil {
		t.Fatalf("Dedup: %v", err)
	}
	if res.RowsAffected != 1 {
		t.Fatalf("expected 1 duplicate removed, got %+v", res)
	}

	got, err := tbl.Query(ctx, filter.Filter{}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows after dedup, want 2", len(got))
	}
	for _, row := range got {
		if row["id"] == "1" && row["value"] != int64(10) {
			t.Fatalf("KeepFirst should have kept value 10, got %+v", row)
		}
	}
}

func TestZOrderPreservesAllRows(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	tbl := newTestTable(t, store, nil)

	for i := 0; i < 5; i++ {
		if _, err := tbl.Write(ctx, []filter.Row{{"id": "x", "a": int64(i), "b": int64(4 - i)}}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	res, err := ZOrder(ctx, store, "t1", []string{"a", "b"}, 100)
	if err != nil {
		t.Fatalf("ZOrder: %v", err)
	}
	if res.RowsAffected != 5 {
		t.Fatalf("expected 5 rows affected, got %+v", res)
	}

	got, err := tbl.Query(ctx, filter.Filter{}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d rows after zorder, want 5", len(got))
	}
}

func TestZOrderNoopOnEmptyTable(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	newTestTable(t, store, nil)

	res, err := ZOrder(ctx, store, "t1", []string{"a"}, 100)
	if err != nil {
		t.Fatalf("ZOrder: %v", err)
	}
	if res.FilesAdded != 0 || res.FilesRemoved != 0 {
		t.Fatalf("expected no-op zorder on empty table, got %+v", res)
	}
}

func TestVacuumDeletesOldTombstonesOnly(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	tbl := newTestTable(t, store, nil)

	if _, err := tbl.Write(ctx, []filter.Row{{"id": "1"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := tbl.Delete(ctx, filter.Eq("id", "1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	// Tombstone is brand new: default retention keeps it.
	res, err := Vacuum(ctx, store, "t1", VacuumOptions{}, time.Now())
	if err != nil {
		t.Fatalf("Vacuum (fresh tombstone): %v", err)
	}
	if res.FilesRemoved != 0 {
		t.Fatalf("expected fresh tombstone to survive vacuum, got %+v", res)
	}

	// Simulate enough elapsed time for the default retention to expire.
	future := time.Now().Add(DefaultRetention + time.Hour)
	res, err = Vacuum(ctx, store, "t1", VacuumOptions{}, future)
	if err != nil {
		t.Fatalf("Vacuum (aged tombstone): %v", err)
	}
	if res.FilesRemoved != 1 {
		t.Fatalf("expected aged tombstone to be vacuumed, got %+v", res)
	}
}

func TestVacuumNeverDeletesLiveFile(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	tbl := newTestTable(t, store, nil)
	if _, err := tbl.Write(ctx, []filter.Row{{"id": "1"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	future := time.Now().Add(DefaultRetention + time.Hour)
	res, err := Vacuum(ctx, store, "t1", VacuumOptions{}, future)
	if err != nil {
		t.Fatalf("Vacuum: %v", err)
	}
	if res.FilesRemoved != 0 {
		t.Fatalf("vacuum must never remove a live (never-removed) file, got %+v", res)
	}

	got, err := tbl.Query(ctx, filter.Filter{}, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("live row lost after vacuum: %+v", got)
	}
}

func TestSchedulerRejectsDuplicateJobName(t *testing.T) {
	s := NewScheduler()
	job := Job{Name: "nightly-vacuum", CronExpr: "@every 1h", Run: func(ctx context.Context) error { return nil }}
	if err := s.Schedule(job); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if err := s.Schedule(job); err == nil {
		t.Fatalf("expected duplicate job name to be rejected")
	}
}

func TestSchedulerRejectsInvalidCronExpression(t *testing.T) {
	s := NewScheduler()
	err := s.Schedule(Job{Name: "bad", CronExpr: "not-a-cron-expression", Run: func(ctx context.Context) error { return nil }})
	if err == nil {
		t.Fatalf("expected invalid cron expression to be rejected")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	s := NewScheduler()
	if err := s.Schedule(Job{
		Name:     "noop",
		CronExpr: "@every 1h",
		Run:      func(ctx context.Context) error { return nil },
	}); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	s.Start()
	s.Stop()
}
