// Package table implements the table engine (§4.7): the operations
// applications actually call — write, query, update, delete, merge,
// updateMetadata, commit — each one routed through the optimistic
// transaction log and honoring partition pruning, zone-map pushdown, and
// projection.
package table

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deltakit/deltakit/internal/checkpoint"
	"github.com/deltakit/deltakit/internal/codec"
	"github.com/deltakit/deltakit/internal/filter"
	"github.com/deltakit/deltakit/internal/logging"
	"github.com/deltakit/deltakit/internal/snapshot"
	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/txlog"
)

// ChangeType labels a row produced by a mutating operation, matching
// §4.8's emission rules.
type ChangeType string

const (
	ChangeInsert          ChangeType = "insert"
	ChangeUpdatePreimage  ChangeType = "update_preimage"
	ChangeUpdatePostimage ChangeType = "update_postimage"
	ChangeDelete          ChangeType = "delete"
)

// ChangeRow is one row of CDC-shaped output from a mutating operation;
// Recorder implementations (the cdc engine) turn a commit's ChangeRows
// into the on-disk change feed.
type ChangeRow struct {
	Type ChangeType
	Data filter.Row
}

// Recorder is notified after every successful commit that produced
// change rows. Implementations must not block the commit on slow I/O;
// the table only calls this once the commit itself has succeeded.
type Recorder interface {
	RecordChanges(ctx context.Context, version int64, timestamp int64, changes []ChangeRow) error
}

// CreateOptions describes a new table's initial Metadata/Protocol.
type CreateOptions struct {
	ID               string
	Name             string
	Description      string
	SchemaString     string
	PartitionColumns []string
	Configuration    map[string]string
}

// Table is the engine bound to one table's storage location.
type Table struct {
	store    storage.Storage
	basePath string
	log      *txlog.Log

	filterCache      *filter.Cache
	checkpointPolicy checkpoint.Policy

	mu                         sync.Mutex
	partitionColumns           []string
	commitsSinceCheckpoint     int
	lastQuerySkippedFiles      int
	lastQueryProjectionColumns []string

	Recorder Recorder
}

// Create commits the version-0 Protocol+Metadata pair and returns the
// opened Table.
func Create(ctx context.Context, store storage.Storage, basePath string, opts CreateOptions) (*Table, error) {
	now := time.Now().UnixMilli()
	actions := []txlog.Action{
		{Protocol: &txlog.Protocol{MinReaderVersion: 1, MinWriterVersion: 1}},
		{MetaData: &txlog.Metadata{
			ID:               opts.ID,
			Name:             opts.Name,
			Description:      opts.Description,
			Format:           txlog.Format{Provider: "parquet"},
			SchemaString:     opts.SchemaString,
			PartitionColumns: opts.PartitionColumns,
			CreatedTime:      now,
			Configuration:    opts.Configuration,
		}},
		{CommitInfo: &txlog.CommitInfo{Operation: "CREATE TABLE", Timestamp: now}},
	}
	log := txlog.NewLog(store, basePath)
	if _, err := log.Commit(ctx, actions); err != nil {
		return nil, fmt.Errorf("table: create: %w", err)
	}
	return Open(ctx, store, basePath)
}

// supportedReaderVersion is the reader protocol version this engine
// implements (§3 invariant 5). Open refuses any table whose stored
// Protocol.MinReaderVersion exceeds it.
const supportedReaderVersion = 1

// Open binds a Table to an existing table at basePath, reading its
// current Protocol and Metadata to enforce the reader-version gate and
// learn the partition scheme.
func Open(ctx context.Context, store storage.Storage, basePath string) (*Table, error) {
	log := txlog.NewLog(store, basePath)
	version, err := log.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version < 0 {
		return nil, fmt.Errorf("table: no table at %q", basePath)
	}
	snap, err := snapshot.At(ctx, store, basePath, version)
	if err != nil {
		return nil, err
	}
	if snap.Protocol != nil && snap.Protocol.MinReaderVersion > supportedReaderVersion {
		return nil, &UnsupportedProtocolError{
			Path:                   basePath,
			MinReaderVersion:       snap.Protocol.MinReaderVersion,
			SupportedReaderVersion: supportedReaderVersion,
		}
	}
	return &Table{
		store:            store,
		basePath:         basePath,
		log:              log,
		filterCache:      filter.NewCache(256),
		checkpointPolicy: checkpoint.DefaultPolicy(),
		partitionColumns: snap.Metadata.PartitionColumns,
	}, nil
}

func (t *Table) currentSnapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	version, err := t.log.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	return snapshot.At(ctx, t.store, t.basePath, version)
}

func (t *Table) dataPath(partitionValues map[string]string) string {
	id := uuid.New().String()
	name := "part-" + id + ".parquet"
	if len(t.partitionColumns) == 0 {
		return joinPath(t.basePath, name)
	}
	dir := t.basePath
	for _, col := range t.partitionColumns {
		dir = joinPath(dir, codec.EncodePartitionSegment(col, partitionValues[col]))
	}
	return joinPath(dir, name)
}

func joinPath(parts ...string) string {
	out := ""
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i > 0 && out != "" {
			out += "/"
		}
		out += p
	}
	return out
}

func partitionValuesOf(row filter.Row, columns []string) map[string]string {
	out := make(map[string]string, len(columns))
	for _, c := range columns {
		v, ok := row[c]
		if !ok {
			out[c] = ""
			continue
		}
		out[c] = fmt.Sprintf("%v", v)
	}
	return out
}

func partitionKey(pv map[string]string, columns []string) string {
	key := ""
	for _, c := range columns {
		key += c + "=" + pv[c] + "/"
	}
	return key
}

// writeDataFiles groups rows by partition value and writes one Parquet-
// shaped file per group, returning the resulting Add actions.
func (t *Table) writeDataFiles(ctx context.Context, rows []filter.Row) ([]txlog.Add, error) {
	groups := map[string][]filter.Row{}
	groupPV := map[string]map[string]string{}
	for _, row := range rows {
		pv := partitionValuesOf(row, t.partitionColumns)
		key := partitionKey(pv, t.partitionColumns)
		groups[key] = append(groups[key], row)
		groupPV[key] = pv
	}

	var adds []txlog.Add
	for key, groupRows := range groups {
		path := t.dataPath(groupPV[key])
		data, err := encodeRows(groupRows)
		if err != nil {
			return nil, fmt.Errorf("table: encode data file: %w", err)
		}
		if err := t.store.Write(ctx, path, data); err != nil {
			return nil, fmt.Errorf("table: write data file: %w", err)
		}
		adds = append(adds, txlog.Add{
			Path:             relativePath(t.basePath, path),
			PartitionValues:  groupPV[key],
			Size:             int64(len(data)),
			ModificationTime: time.Now().UnixMilli(),
			DataChange:       true,
		})
	}
	return adds, nil
}

func relativePath(basePath, path string) string {
	if basePath == "" {
		return path
	}
	prefix := basePath + "/"
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return path
}

func encodeRows(rows []filter.Row) ([]byte, error) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf, nil, codec.WriterOptions{})
	for _, row := range rows {
		cr := make(codec.Row, len(row))
		for k, v := range row {
			cr[k] = codec.FromAny(v)
		}
		if err := w.Write(cr); err != nil {
			w.Abort()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRows(data []byte) ([]filter.Row, error) {
	r, err := codec.NewReader(data)
	if err != nil {
		return nil, err
	}
	crs, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	out := make([]filter.Row, len(crs))
	for i, cr := range crs {
		row := make(filter.Row, len(cr))
		for k, v := range cr {
			row[k] = codec.ToAny(v)
		}
		out[i] = row
	}
	return out, nil
}

// Write appends rows as one or more new data files and commits a single
// blind-append Add-only transaction.
func (t *Table) Write(ctx context.Context, rows []filter.Row) (*CommitSummary, error) {
	if len(rows) == 0 {
		return &CommitSummary{}, nil
	}
	adds, err := t.writeDataFiles(ctx, rows)
	if err != nil {
		return nil, err
	}
	changes := make([]ChangeRow, len(rows))
	for i, r := range rows {
		changes[i] = ChangeRow{Type: ChangeInsert, Data: r}
	}
	isBlindAppend := true
	res, err := t.commitWithChanges(ctx, "WRITE", adds, nil, changes, &isBlindAppend)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CommitSummary reports the outcome of a mutating operation.
type CommitSummary struct {
	Version      int64
	FilesAdded   int
	FilesRemoved int
	RowsChanged  int
}

// commitWithChanges builds the Add/Remove/CommitInfo actions for one
// mutating operation and runs it through the retrying optimistic commit
// protocol, updating the current-version Metadata/Protocol carry-forward
// implicitly (txlog only requires them at version 0). On success it
// opportunistically checkpoints and, if a Recorder is installed, hands
// it the operation's change rows.
func (t *Table) commitWithChanges(ctx context.Context, operation string, adds []txlog.Add, removes []txlog.Remove, changes []ChangeRow, isBlindAppend *bool) (*CommitSummary, error) {
	now := time.Now().UnixMilli()
	res, err := t.log.CommitWithRetry(ctx, txlog.DefaultRetryPolicy(), func(int64) ([]txlog.Action, error) {
		actions := make([]txlog.Action, 0, len(adds)+len(removes)+1)
		for i := range adds {
			a := adds[i]
			actions = append(actions, txlog.Action{Add: &a})
		}
		for i := range removes {
			r := removes[i]
			actions = append(actions, txlog.Action{Remove: &r})
		}
		actions = append(actions, txlog.Action{CommitInfo: &txlog.CommitInfo{
			Timestamp:     now,
			Operation:     operation,
			IsBlindAppend: isBlindAppend,
		}})
		return actions, nil
	})
	if err != nil {
		return nil, err
	}

	if t.Recorder != nil && len(changes) > 0 {
		if err := t.Recorder.RecordChanges(ctx, res.Version, now, changes); err != nil {
			logging.Get().Warn("cdc record failed", "version", res.Version, "err", err)
		}
	}

	t.maybeCheckpoint(ctx, res.Version)

	return &CommitSummary{
		Version:      res.Version,
		FilesAdded:   len(adds),
		FilesRemoved: len(removes),
		RowsChanged:  len(changes),
	}, nil
}

// maybeCheckpoint writes a checkpoint if the policy says it's due. Failure
// is logged, not propagated: a missed checkpoint only costs the next
// snapshot reconstruction a longer replay, never correctness.
func (t *Table) maybeCheckpoint(ctx context.Context, version int64) {
	t.mu.Lock()
	t.commitsSinceCheckpoint++
	due := t.checkpointPolicy.Due(t.commitsSinceCheckpoint, 0)
	if due {
		t.commitsSinceCheckpoint = 0
	}
	t.mu.Unlock()
	if !due {
		return
	}

	snap, err := snapshot.At(ctx, t.store, t.basePath, version)
	if err != nil {
		logging.Get().Warn("checkpoint snapshot failed", "version", version, "err", err)
		return
	}
	actions := []txlog.Action{{Protocol: snap.Protocol}, {MetaData: snap.Metadata}}
	for _, add := range snap.SortedFiles() {
		actions = append(actions, txlog.Action{Add: add})
	}
	lc, err := checkpoint.Write(ctx, t.store, t.basePath, version, actions, 0)
	if err != nil {
		logging.Get().Warn("checkpoint write failed", "version", version, "err", err)
		return
	}
	if err := checkpoint.WriteLastCheckpoint(ctx, t.store, t.basePath, lc); err != nil {
		logging.Get().Warn("checkpoint pointer write failed", "version", version, "err", err)
	}
}

// SetCheckpointPolicy overrides the default opportunistic checkpoint
// policy.
func (t *Table) SetCheckpointPolicy(p checkpoint.Policy) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkpointPolicy = p
}

// LastQuerySkippedFiles reports how many data files the most recent
// Query call pruned via partition/zone-map pushdown, for observability.
func (t *Table) LastQuerySkippedFiles() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastQuerySkippedFiles
}

// LastQueryProjectionColumns reports the column set the most recent
// Query call derived for projection pushdown.
func (t *Table) LastQueryProjectionColumns() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lastQueryProjectionColumns...)
}

// UpdateMetadata commits a new Metadata action that merges updates into
// the table's current configuration.
func (t *Table) UpdateMetadata(ctx context.Context, updates func(*txlog.Metadata)) (*CommitSummary, error) {
	snap, err := t.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	next := *snap.Metadata
	if next.Configuration != nil {
		cfg := make(map[string]string, len(next.Configuration))
		for k, v := range next.Configuration {
			cfg[k] = v
		}
		next.Configuration = cfg
	}
	updates(&next)

	res, err := t.log.CommitWithRetry(ctx, txlog.DefaultRetryPolicy(), func(int64) ([]txlog.Action, error) {
		return []txlog.Action{
			{MetaData: &next},
			{CommitInfo: &txlog.CommitInfo{Timestamp: time.Now().UnixMilli(), Operation: "UPDATE METADATA"}},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.partitionColumns = next.PartitionColumns
	t.mu.Unlock()

	return &CommitSummary{Version: res.Version}, nil
}
