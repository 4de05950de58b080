// Package maintenance implements table upkeep (§4.9): small-file
// compaction, primary-key deduplication, Z-order clustering, and
// tombstone vacuuming, each committing through the same optimistic
// transaction log every other mutating operation uses.
package maintenance

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/deltakit/deltakit/internal/checkpoint"
	"github.com/deltakit/deltakit/internal/codec"
	"github.com/deltakit/deltakit/internal/filter"
	"github.com/deltakit/deltakit/internal/snapshot"
	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/txlog"
)

// Result reports what a maintenance operation actually did.
type Result struct {
	FilesAdded   int
	FilesRemoved int
	RowsAffected int
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

func readFile(ctx context.Context, store storage.Storage, basePath, relPath string) ([]filter.Row, error) {
	data, err := store.Read(ctx, joinPath(basePath, relPath))
	if err != nil {
		return nil, err
	}
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

func writeFile(ctx context.Context, store storage.Storage, basePath, relPath string, rows []filter.Row) (int64, error) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf, nil, codec.WriterOptions{})
	for _, row := range rows {
		cr := make(codec.Row, len(row))
		for k, v := range row {
			cr[k] = codec.FromAny(v)
		}
		if err := w.Write(cr); err != nil {
			w.Abort()
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	data := buf.Bytes()
	if err := store.Write(ctx, joinPath(basePath, relPath), data); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func newPartPath(partitionColumns []string, partitionValues map[string]string, suffix string) string {
	name := "part-" + uuid.New().String() + suffix + ".parquet"
	if len(partitionColumns) == 0 {
		return name
	}
	dir := ""
	for _, col := range partitionColumns {
		dir = joinPath(dir, codec.EncodePartitionSegment(col, partitionValues[col]))
	}
	return joinPath(dir, name)
}

func commit(ctx context.Context, store storage.Storage, basePath string, adds []txlog.Add, removes []txlog.Remove, operation string) (int64, error) {
	log := txlog.NewLog(store, basePath)
	now := time.Now().UnixMilli()
	res, err := log.CommitWithRetry(ctx, txlog.DefaultRetryPolicy(), func(int64) ([]txlog.Action, error) {
		actions := make([]txlog.Action, 0, len(adds)+len(removes)+1)
		for i := range adds {
			a := adds[i]
			actions = append(actions, txlog.Action{Add: &a})
		}
		for i := range removes {
			r := removes[i]
			actions = append(actions, txlog.Action{Remove: &r})
		}
		actions = append(actions, txlog.Action{CommitInfo: &txlog.CommitInfo{Timestamp: now, Operation: operation}})
		return actions, nil
	})
	if err != nil {
		return 0, err
	}
	return res.Version, nil
}

func currentSnapshot(ctx context.Context, store storage.Storage, basePath string) (*snapshot.Snapshot, error) {
	log := txlog.NewLog(store, basePath)
	version, err := log.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version < 0 {
		return nil, fmt.Errorf("maintenance: no table at %q", basePath)
	}
	return snapshot.At(ctx, store, basePath, version)
}

// CompactOptions bounds how large a merged file may grow; a partition
// group is merged into ceil(totalRows / MaxRowsPerFile) output files.
type CompactOptions struct {
	MaxRowsPerFile int // <=0 means unbounded (one file per partition group)
}

// Compact merges every partition's small files into fewer, larger ones.
// A partition with only one file is left untouched. The replacement is
// committed as dataChange=false, since no row's content changes.
func Compact(ctx context.Context, store storage.Storage, basePath string, opts CompactOptions) (*Result, error) {
	snap, err := currentSnapshot(ctx, store, basePath)
	if err != nil {
		return nil, err
	}

	groups := map[string][]*txlog.Add{}
	for _, add := range snap.SortedFiles() {
		key := partitionKey(add.PartitionValues, snap.Metadata.PartitionColumns)
		groups[key] = append(groups[key], add)
	}

	var adds []txlog.Add
	var removes []txlog.Remove
	rowsAffected := 0

	for _, files := range groups {
		if len(files) < 2 {
			continue
		}
		var rows []filter.Row
		for _, f := range files {
			fileRows, err := readFile(ctx, store, basePath, f.Path)
			if err != nil {
				return nil, fmt.Errorf("maintenance: compact read %s: %w", f.Path, err)
			}
			rows = append(rows, fileRows...)
			removes = append(removes, txlog.Remove{
				Path:              f.Path,
				DeletionTimestamp: time.Now().UnixMilli(),
				DataChange:        false,
				PartitionValues:   f.PartitionValues,
				Size:              f.Size,
			})
		}
		rowsAffected += len(rows)

		chunkSize := len(rows)
		if opts.MaxRowsPerFile > 0 {
			chunkSize = opts.MaxRowsPerFile
		}
		for start := 0; start < len(rows); start += chunkSize {
			end := start + chunkSize
			if end > len(rows) {
				end = len(rows)
			}
			relPath := newPartPath(snap.Metadata.PartitionColumns, files[0].PartitionValues, "-compacted")
			size, err := writeFile(ctx, store, basePath, relPath, rows[start:end])
			if err != nil {
				return nil, fmt.Errorf("maintenance: compact write: %w", err)
			}
			adds = append(adds, txlog.Add{
				Path:             relPath,
				PartitionValues:  files[0].PartitionValues,
				Size:             size,
				ModificationTime: time.Now().UnixMilli(),
				DataChange:       false,
			})
		}
	}

	if len(adds) == 0 && len(removes) == 0 {
		return &Result{}, nil
	}
	if _, err := commit(ctx, store, basePath, adds, removes, "COMPACT"); err != nil {
		return nil, err
	}
	return &Result{FilesAdded: len(adds), FilesRemoved: len(removes), RowsAffected: rowsAffected}, nil
}

func partitionKey(pv map[string]string, columns []string) string {
	key := ""
	for _, c := range columns {
		key += c + "=" + pv[c] + "/"
	}
	return key
}

// KeepStrategy picks which of two rows sharing a dedup key survives.
type KeepStrategy int

const (
	KeepFirst KeepStrategy = iota
	KeepLast
)

// Dedup rewrites every live file, keeping at most one row per key(row)
// according to strategy. Only files that actually contained a duplicate
// are rewritten; the replacement is dataChange=true since row content
// (the surviving set) changes.
func Dedup(ctx context.Context, store storage.Storage, basePath string, key func(filter.Row) any, strategy KeepStrategy) (*Result, error) {
	snap, err := currentSnapshot(ctx, store, basePath)
	if err != nil {
		return nil, err
	}

	seen := map[any]bool{}
	var adds []txlog.Add
	var removes []txlog.Remove
	rowsAffected := 0

	files := snap.SortedFiles()
	if strategy == KeepLast {
		// Process in reverse file order so "last wins" keeps the row from
		// the most recently written file.
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, f := range files {
		rows, err := readFile(ctx, store, basePath, f.Path)
		if err != nil {
			return nil, fmt.Errorf("maintenance: dedup read %s: %w", f.Path, err)
		}
		var kept []filter.Row
		fileChanged := false
		for _, row := range rows {
			k := key(row)
			if seen[k] {
				fileChanged = true
				rowsAffected++
				continue
			}
			seen[k] = true
			kept = append(kept, row)
		}
		if !fileChanged {
			continue
		}
		removes = append(removes, txlog.Remove{
			Path:              f.Path,
			DeletionTimestamp: time.Now().UnixMilli(),
			DataChange:        true,
			PartitionValues:   f.PartitionValues,
			Size:              f.Size,
		})
		if len(kept) > 0 {
			relPath := newPartPath(snap.Metadata.PartitionColumns, f.PartitionValues, "-deduped")
			size, err := writeFile(ctx, store, basePath, relPath, kept)
			if err != nil {
				return nil, fmt.Errorf("maintenance: dedup write: %w", err)
			}
			adds = append(adds, txlog.Add{
				Path:             relPath,
				PartitionValues:  f.PartitionValues,
				Size:             size,
				ModificationTime: time.Now().UnixMilli(),
				DataChange:       true,
			})
		}
	}

	if len(adds) == 0 && len(removes) == 0 {
		return &Result{}, nil
	}
	if _, err := commit(ctx, store, basePath, adds, removes, "DEDUP"); err != nil {
		return nil, err
	}
	return &Result{FilesAdded: len(adds), FilesRemoved: len(removes), RowsAffected: rowsAffected}, nil
}

// ZOrder rewrites the whole table's live rows sorted by a bit-interleaved
// (Morton-coded) key over columns, clustering related rows into the same
// files so zone-map pruning on any of columns is effective. The
// replacement is dataChange=false: row content is unchanged, only its
// physical placement.
func ZOrder(ctx context.Context, store storage.Storage, basePath string, columns []string, rowsPerFile int) (*Result, error) {
	snap, err := currentSnapshot(ctx, store, basePath)
	if err != nil {
		return nil, err
	}
	if rowsPerFile <= 0 {
		rowsPerFile = 100000
	}

	var rows []filter.Row
	var removes []txlog.Remove
	for _, f := range snap.SortedFiles() {
		fileRows, err := readFile(ctx, store, basePath, f.Path)
		if err != nil {
			return nil, fmt.Errorf("maintenance: zorder read %s: %w", f.Path, err)
		}
		rows = append(rows, fileRows...)
		removes = append(removes, txlog.Remove{
			Path:              f.Path,
			DeletionTimestamp: time.Now().UnixMilli(),
			DataChange:        false,
			PartitionValues:   f.PartitionValues,
			Size:              f.Size,
		})
	}
	if len(rows) == 0 {
		return &Result{}, nil
	}

	keys := make([][]byte, len(rows))
	for i, row := range rows {
		keys[i] = zOrderKey(row, columns)
	}
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return bytes.Compare(keys[idx[a]], keys[idx[b]]) < 0
	})

	var adds []txlog.Add
	for start := 0; start < len(idx); start += rowsPerFile {
		end := start + rowsPerFile
		if end > len(idx) {
			end = len(idx)
		}
		chunk := make([]filter.Row, end-start)
		for i, rowIdx := range idx[start:end] {
			chunk[i] = rows[rowIdx]
		}
		relPath := newPartPath(snap.Metadata.PartitionColumns, partitionValuesOf(chunk[0], snap.Metadata.PartitionColumns), "-zorder")
		size, err := writeFile(ctx, store, basePath, relPath, chunk)
		if err != nil {
			return nil, fmt.Errorf("maintenance: zorder write: %w", err)
		}
		adds = append(adds, txlog.Add{
			Path:             relPath,
			PartitionValues:  partitionValuesOf(chunk[0], snap.Metadata.PartitionColumns),
			Size:             size,
			ModificationTime: time.Now().UnixMilli(),
			DataChange:       false,
		})
	}

	if _, err := commit(ctx, store, basePath, adds, removes, "OPTIMIZE ZORDER BY"); err != nil {
		return nil, err
	}
	return &Result{FilesAdded: len(adds), FilesRemoved: len(removes), RowsAffected: len(rows)}, nil
}

func partitionValuesOf(row filter.Row, columns []string) map[string]string {
	out := make(map[string]string, len(columns))
	for _, c := range columns {
		if v, ok := row[c]; ok {
			out[c] = fmt.Sprintf("%v", v)
		}
	}
	return out
}

// zOrderBytesPerColumn fixes each column's sort key to this many bytes
// (truncated or zero-padded) before interleaving, bounding the Morton
// code to a manageable, comparable size regardless of column type.
const zOrderBytesPerColumn = 8

func zOrderKey(row filter.Row, columns []string) []byte {
	keys := make([][]byte, len(columns))
	for i, c := range columns {
		raw, ok := codec.SortKeyForPushdown(row[c])
		fixed := make([]byte, zOrderBytesPerColumn)
		if ok {
			copy(fixed, raw)
		}
		keys[i] = fixed
	}
	return interleaveBits(keys, zOrderBytesPerColumn)
}

// interleaveBits produces the Morton code (bit-interleaved key) across
// len(keys) columns of bytesPerKey bytes each: bit i of the output cycles
// through column 0, column 1, ..., column N-1, most-significant bit
// first, so a byte-wise comparison of the result approximates Z-order
// locality across every interleaved dimension simultaneously.
func interleaveBits(keys [][]byte, bytesPerKey int) []byte {
	n := len(keys)
	out := make([]byte, bytesPerKey*n)
	bitPos := 0
	for byteIdx := 0; byteIdx < bytesPerKey; byteIdx++ {
		for bit := 7; bit >= 0; bit-- {
			for k := 0; k < n; k++ {
				bitVal := (keys[k][byteIdx] >> uint(bit)) & 1
				outByteIdx := bitPos / 8
				outBitIdx := 7 - (bitPos % 8)
				out[outByteIdx] |= bitVal << uint(outBitIdx)
				bitPos++
			}
		}
	}
	return out
}

// VacuumOptions configures tombstone deletion.
type VacuumOptions struct {
	Retention time.Duration // default 7 days if zero
}

// DefaultRetention is the default tombstone retention window (§4.9).
const DefaultRetention = 7 * 24 * time.Hour

// Vacuum permanently deletes data files tombstoned (via Remove) longer
// ago than opts.Retention, except any file still reachable from the live
// set at the newest checkpoint — a concurrent reader holding that
// snapshot (or anything replaying forward from it) must never have a
// file disappear out from under it.
func Vacuum(ctx context.Context, store storage.Storage, basePath string, opts VacuumOptions, now time.Time) (*Result, error) {
	retention := opts.Retention
	if retention <= 0 {
		retention = DefaultRetention
	}
	cutoff := now.Add(-retention).UnixMilli()

	log := txlog.NewLog(store, basePath)
	current, err := log.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	if current < 0 {
		return &Result{}, nil
	}

	protected := map[string]bool{}
	if lc, err := checkpoint.ReadLastCheckpoint(ctx, store, basePath); err == nil && lc != nil {
		cpSnap, err := snapshot.At(ctx, store, basePath, lc.Version)
		if err == nil {
			for path := range cpSnap.LiveFiles {
				protected[path] = true
			}
		}
	}
	currentSnap, err := snapshot.At(ctx, store, basePath, current)
	if err != nil {
		return nil, err
	}
	for path := range currentSnap.LiveFiles {
		protected[path] = true
	}

	deleted := 0
	for v := int64(0); v <= current; v++ {
		actions, err := log.ReadVersion(ctx, v)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			if a.Remove == nil {
				continue
			}
			if a.Remove.DeletionTimestamp > cutoff {
				continue
			}
			if protected[a.Remove.Path] {
				continue
			}
			if err := store.Delete(ctx, joinPath(basePath, a.Remove.Path)); err != nil {
				return nil, fmt.Errorf("maintenance: vacuum delete %s: %w", a.Remove.Path, err)
			}
			deleted++
		}
	}

	return &Result{FilesRemoved: deleted}, nil
}
