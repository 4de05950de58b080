package snapshot

import (
	"context"
	"testing"

	"github.com/deltakit/deltakit/internal/checkpoint"
	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/txlog"
)

func createTable(t *testing.T, store storage.Storage) *txlog.Log {
	t.Helper()
	log := txlog.NewLog(store, "t1")
	ctx := context.Background()
	_, err := log.Commit(ctx, []txlog.Action{
		{Protocol: &txlog.Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		{MetaData: &txlog.Metadata{ID: "t1", Format: txlog.Format{Provider: "parquet"}, SchemaString: "{}"}},
		{CommitInfo: &txlog.CommitInfo{Operation: "CREATE TABLE", Timestamp: 1000}},
	})
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return log
}

func TestAtReplaysWithoutCheckpoint(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	log := createTable(t, store)

	if _, err := log.Commit(ctx, []txlog.Action{
		{Add: &txlog.Add{Path: "part-0.parquet", Size: 10, DataChange: true}},
		{CommitInfo: &txlog.CommitInfo{Operation: "WRITE", Timestamp: 2000}},
	}); err != nil {
		t.Fatalf("commit v1: %v", err)
	}

	snap, err := At(ctx, store, "t1", 1)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if snap.Version != 1 {
		t.Fatalf("Version = %d, want 1", snap.Version)
	}
	if len(snap.LiveFiles) != 1 || snap.LiveFiles["part-0.parquet"] == nil {
		t.Fatalf("unexpected live files: %+v", snap.LiveFiles)
	}
	if snap.Timestamp != 2000 {
		t.Fatalf("Timestamp = %d, want 2000", snap.Timestamp)
	}
	if snap.Metadata == nil || snap.Metadata.ID != "t1" {
		t.Fatalf("metadata not carried forward: %+v", snap.Metadata)
	}
}

func TestAtAppliesRemove(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	log := createTable(t, store)

	if _, err := log.Commit(ctx, []txlog.Action{
		{Add: &txlog.Add{Path: "part-0.parquet", Size: 10, DataChange: true}},
	}); err != nil {
		t.Fatalf("commit v1: %v", err)
	}
	if _, err := log.Commit(ctx, []txlog.Action{
		{Add: &txlog.Add{Path: "part-1.parquet", Size: 20, DataChange: true}},
		{Remove: &txlog.Remove{Path: "part-0.parquet", DataChange: true}},
	}); err != nil {
		t.Fatalf("commit v2: %v", err)
	}

	snap, err := At(ctx, store, "t1", 2)
	if err != nil {
		t.Fatalf("At: %v", err)
	}
	if _, ok := snap.LiveFiles["part-0.parquet"]; ok {
		t.Fatalf("part-0.parquet should have been removed")
	}
	if _, ok := snap.LiveFiles["part-1.parquet"]; !ok {
		t.Fatalf("part-1.parquet should be live")
	}
}

func TestAtUsesCheckpointAndSkipsOlderVersions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	log := createTable(t, store)
	if _, err := log.Commit(ctx, []txlog.Action{
		{Add: &txlog.Add{Path: "part-0.parquet", Size: 10, DataChange: true}},
	}); err != nil {
		t.Fatalf("commit v1: %v", err)
	}

	snapAtCheckpoint, err := At(ctx, store, "t1", 1)
	if err != nil {
		t.Fatalf("At v1: %v", err)
	}
	checkpointActions := []txlog.Action{
		{Protocol: snapAtCheckpoint.Protocol},
		{MetaData: snapAtCheckpoint.Metadata},
	}
	for _, add := range snapAtCheckpoint.SortedFiles() {
		checkpointActions = append(checkpointActions, txlog.Action{Add: add})
	}
	lc, err := checkpoint.Write(ctx, store, "t1", 1, checkpointActions, 0)
	if err != nil {
		t.Fatalf("checkpoint.Write: %v", err)
	}
	if err := checkpoint.WriteLastCheckpoint(ctx, store, "t1", lc); err != nil {
		t.Fatalf("WriteLastCheckpoint: %v", err)
	}

	// Now delete version 0's log file to prove the checkpoint path
	// doesn't need it: if At() still tried to replay from 0 it would
	// fail to read a missing file.
	if err := store.Delete(ctx, "t1/_delta_log/00000000000000000000.json"); err != nil {
		t.Fatalf("delete v0 log: %v", err)
	}

	if _, err := log.Commit(ctx, []txlog.Action{
		{Add: &txlog.Add{Path: "part-1.parquet", Size: 20, DataChange: true}},
	}); err != nil {
		t.Fatalf("commit v2: %v", err)
	}

	snap, err := At(ctx, store, "t1", 2)
	if err != nil {
		t.Fatalf("At v2 after checkpoint: %v", err)
	}
	if len(snap.LiveFiles) != 2 {
		t.Fatalf("expected 2 live files, got %d: %+v", len(snap.LiveFiles), snap.LiveFiles)
	}
}

func TestAtRejectsNegativeVersion(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryBackend()
	if _, err := At(ctx, store, "t1", -1); err == nil {
		t.Fatalf("expected error for negative version")
	}
}
