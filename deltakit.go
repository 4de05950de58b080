// Package deltakit provides a transactional table format over blob
// storage: versioned JSON commits, optimistic concurrency, columnar
// data files with zone-map pruning, checkpoints, change data feed, and
// maintenance (compaction, dedup, Z-order, vacuum).
//
// # Basic usage
//
//	ctx := context.Background()
//	db, _ := deltakit.Open(ctx, "memory://")
//
//	tbl, _ := db.CreateTable(ctx, "events", deltakit.CreateOptions{
//	    ID:           "events",
//	    SchemaString: "{}",
//	})
//
//	tbl.Write(ctx, []deltakit.Row{{"id": "1", "status": "ok"}})
//
//	rows, _ := tbl.Query(ctx, deltakit.Eq("status", "ok"), nil)
//
// # Reopening
//
//	tbl, _ = db.OpenTable(ctx, "events")
//
// # Change data feed
//
//	cdc := db.ChangeFeed("events")
//	cdc.SetEnabled(ctx, true)
//	unsubscribe := cdc.Subscribe(func(ctx context.Context, version int64, recs []deltakit.ChangeRecord) error {
//	    return nil
//	})
//	defer unsubscribe()
//
// # Maintenance
//
//	db.Compact(ctx, "events", deltakit.CompactOptions{})
//	db.Vacuum(ctx, "events", deltakit.VacuumOptions{}, time.Now())
package deltakit

import (
	"context"
	"time"

	"github.com/deltakit/deltakit/internal/cdc"
	"github.com/deltakit/deltakit/internal/checkpoint"
	"github.com/deltakit/deltakit/internal/filter"
	"github.com/deltakit/deltakit/internal/maintenance"
	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/table"
)

// ============================================================================
// Re-exported types
// ============================================================================

// Storage is the backend abstraction every table reads and writes
// through — memory, local filesystem, or S3/R2-compatible object
// storage, selected by the URL scheme passed to Open.
type Storage = storage.Storage

// Table is an open handle to one table's transaction log and data
// files. Obtain one via DB.CreateTable or DB.OpenTable.
type Table = table.Table

// CreateOptions configures a new table's identity, schema, and
// partitioning at creation time.
type CreateOptions = table.CreateOptions

// CommitSummary reports what a write/update/delete/merge/maintenance
// commit actually changed.
type CommitSummary = table.CommitSummary

// Row is one record's column-name-to-value mapping, the unit every
// query, write, and CDC record is expressed in.
type Row = filter.Row

// Filter is a compiled three-valued-logic predicate tree used by
// Query, Delete, and Update.
type Filter = filter.Filter

// UpdateFunc transforms a matched row in place during Table.Update.
type UpdateFunc = table.UpdateFunc

// MergeOptions configures Table.Merge's key function and
// matched/unmatched behavior.
type MergeOptions = table.MergeOptions

// ChangeRecord is one row of a table's change data feed.
type ChangeRecord = cdc.Record

// ChangeFeed reads, subscribes to, and enables/disables a table's
// change data feed.
type ChangeFeed = cdc.Engine

// CompactOptions bounds how large a compacted file may grow.
type CompactOptions = maintenance.CompactOptions

// VacuumOptions configures tombstone-deletion retention.
type VacuumOptions = maintenance.VacuumOptions

// KeepStrategy picks which row survives a Dedup collision.
type KeepStrategy = maintenance.KeepStrategy

// Result reports what a maintenance operation (Compact, Dedup, ZOrder,
// Vacuum) actually changed.
type Result = maintenance.Result

// Scheduler runs maintenance Jobs on cron schedules.
type Scheduler = maintenance.Scheduler

// Job is one cron-scheduled maintenance action.
type Job = maintenance.Job

const (
	KeepFirst = maintenance.KeepFirst
	KeepLast  = maintenance.KeepLast
)

// DefaultRetention is Vacuum's default tombstone retention window.
const DefaultRetention = maintenance.DefaultRetention

// ============================================================================
// Filter constructors
// ============================================================================

// Eq builds an equality predicate on path.
func Eq(path string, v any) Filter { return filter.Eq(path, v) }

// Ne builds an inequality predicate on path.
func Ne(path string, v any) Filter { return filter.Ne(path, v) }

// Gt, Gte, Lt, Lte build ordering predicates on path.
func Gt(path string, v any) Filter  { return filter.Gt(path, v) }
func Gte(path string, v any) Filter { return filter.Gte(path, v) }
func Lt(path string, v any) Filter  { return filter.Lt(path, v) }
func Lte(path string, v any) Filter { return filter.Lte(path, v) }

// And/Or/Not combine predicates with three-valued logic.
func And(clauses ...Filter) Filter { return filter.And(clauses...) }
func Or(clauses ...Filter) Filter  { return filter.Or(clauses...) }
func Not(f Filter) Filter          { return filter.Not(f) }

// ============================================================================
// DB — a storage backend plus every table opened against it
// ============================================================================

// DB binds table operations to one storage backend. It holds no
// per-table state of its own; every Table returned from CreateTable or
// OpenTable is independently usable once handed back to the caller.
type DB struct {
	store storage.Storage
}

// Open resolves url per the storage URL surface (memory://,
// file:///abs, /abs, ./rel, s3://bucket[/prefix], r2://bucket[/prefix])
// and returns a DB bound to it.
func Open(ctx context.Context, url string) (*DB, error) {
	store, err := storage.Open(ctx, url)
	if err != nil {
		return nil, err
	}
	return &DB{store: store}, nil
}

// NewWithStorage binds a DB to an already-constructed Storage backend,
// for callers that built one directly (e.g. storage.NewMemoryBackend()
// in tests) rather than going through a URL.
func NewWithStorage(store storage.Storage) *DB {
	return &DB{store: store}
}

// Storage returns the backend db is bound to, for callers that need to
// drop to a lower-level package (e.g. txlog) not exposed through DB.
func (db *DB) Storage() Storage {
	return db.store
}

// CreateTable commits a new table's version 0 (Protocol+Metadata) at
// path and returns it opened.
func (db *DB) CreateTable(ctx context.Context, path string, opts CreateOptions) (*Table, error) {
	return table.Create(ctx, db.store, path, opts)
}

// OpenTable reconstructs an existing table's current snapshot at path.
func (db *DB) OpenTable(ctx context.Context, path string) (*Table, error) {
	return table.Open(ctx, db.store, path)
}

// ChangeFeed returns the change-data-feed engine for the table at path.
// It is cheap to call repeatedly; the engine itself holds no cache
// beyond its subscriber list.
func (db *DB) ChangeFeed(path string) *ChangeFeed {
	return cdc.New(db.store, path, 0)
}

// Compact merges a table's small per-partition files into fewer,
// larger ones without changing any row's content.
func (db *DB) Compact(ctx context.Context, path string, opts CompactOptions) (*Result, error) {
	return maintenance.Compact(ctx, db.store, path, opts)
}

// Dedup removes duplicate rows sharing the same key across a table.
func (db *DB) Dedup(ctx context.Context, path string, key func(Row) any, strategy KeepStrategy) (*Result, error) {
	return maintenance.Dedup(ctx, db.store, path, key, strategy)
}

// ZOrder rewrites a table's rows clustered by a bit-interleaved key
// over columns, so zone-map pruning on any of them is effective.
func (db *DB) ZOrder(ctx context.Context, path string, columns []string, rowsPerFile int) (*Result, error) {
	return maintenance.ZOrder(ctx, db.store, path, columns, rowsPerFile)
}

// Vacuum permanently deletes tombstoned data files older than
// opts.Retention (default DefaultRetention), skipping any file still
// reachable from a live snapshot.
func (db *DB) Vacuum(ctx context.Context, path string, opts VacuumOptions, now time.Time) (*Result, error) {
	return maintenance.Vacuum(ctx, db.store, path, opts, now)
}

// NewScheduler returns an idle maintenance job scheduler. Register jobs
// with Schedule, then call Start.
func NewScheduler() *Scheduler { return maintenance.NewScheduler() }

// CheckpointPolicy controls how often a table's log is compacted into a
// checkpoint; pass to Table.SetCheckpointPolicy.
type CheckpointPolicy = checkpoint.Policy

// DefaultCheckpointPolicy returns the standard commit-interval-10 policy.
func DefaultCheckpointPolicy() CheckpointPolicy { return checkpoint.DefaultPolicy() }
