package table

import (
	"context"
	"fmt"
	"time"

	"github.com/deltakit/deltakit/internal/filter"
	"github.com/deltakit/deltakit/internal/txlog"
)

// rewriteCandidateFiles returns the Adds that cannot be proven not to
// match f, i.e. the set a mutating scan must actually open. Partition
// pruning is the only pruning applied here: each candidate is then read
// in full and every row is tested against f, with no zone-map pruning.
func rewriteCandidateFiles(snap interface {
	SortedFiles() []*txlog.Add
}, f filter.Filter) []*txlog.Add {
	var out []*txlog.Add
	for _, add := range snap.SortedFiles() {
		if filter.PartitionPrune(f, add.PartitionValues) {
			continue
		}
		out = append(out, add)
	}
	return out
}

// Delete removes every row matching f, rewriting each affected file
// without those rows (or tombstoning it outright if every row matched)
// and committing one Add/Remove transaction.
func (t *Table) Delete(ctx context.Context, f filter.Filter) (*CommitSummary, error) {
	return t.rewriteMatching(ctx, "DELETE", f, func(row filter.Row, matched bool) (filter.Row, bool, []ChangeRow) {
		if !matched {
			return row, true, nil
		}
		return nil, false, []ChangeRow{{Type: ChangeDelete, Data: row}}
	})
}

// UpdateFunc transforms a matched row into its replacement.
type UpdateFunc func(filter.Row) filter.Row

// Update applies fn to every row matching f, rewriting affected files in
// place (as new immutable files) and committing one Add/Remove
// transaction. Non-matching rows are carried over unchanged.
func (t *Table) Update(ctx context.Context, f filter.Filter, fn UpdateFunc) (*CommitSummary, error) {
	return t.rewriteMatching(ctx, "UPDATE", f, func(row filter.Row, matched bool) (filter.Row, bool, []ChangeRow) {
		if !matched {
			return row, true, nil
		}
		next := fn(row)
		return next, true, []ChangeRow{
			{Type: ChangeUpdatePreimage, Data: row},
			{Type: ChangeUpdatePostimage, Data: next},
		}
	})
}

// decide maps one scanned row (and whether it matched f) to its
// replacement (if kept) and the change rows it produced.
type decideFunc func(row filter.Row, matched bool) (replacement filter.Row, keep bool, changes []ChangeRow)

func (t *Table) rewriteMatching(ctx context.Context, operation string, f filter.Filter, decide decideFunc) (*CommitSummary, error) {
	snap, err := t.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	candidates := rewriteCandidateFiles(snap, f)

	var removes []txlog.Remove
	var keptRows []filter.Row
	var changes []ChangeRow
	touchedAny := false

	for _, add := range candidates {
		rows, err := t.readLiveFile(ctx, add.Path)
		if err != nil {
			return nil, fmt.Errorf("table: read %s: %w", add.Path, err)
		}
		fileTouched := false
		var keep []filter.Row
		for _, row := range rows {
			matched := filter.Matches(f, row)
			next, keepRow, rowChanges := decide(row, matched)
			if matched {
				fileTouched = true
			}
			if keepRow {
				keep = append(keep, next)
			}
			changes = append(changes, rowChanges...)
		}
		if !fileTouched {
			continue
		}
		touchedAny = true
		removes = append(removes, txlog.Remove{
			Path:              add.Path,
			DeletionTimestamp: time.Now().UnixMilli(),
			DataChange:        true,
			PartitionValues:   add.PartitionValues,
			Size:              add.Size,
		})
		keptRows = append(keptRows, keep...)
	}

	if !touchedAny {
		return &CommitSummary{}, nil
	}

	adds, err := t.writeDataFiles(ctx, keptRows)
	if err != nil {
		return nil, err
	}

	return t.commitWithChanges(ctx, operation, adds, removes, changes, nil)
}

// MergeKeyFunc extracts the join key from a row.
type MergeKeyFunc func(filter.Row) any

// MergeOptions configures Merge's upsert behavior.
type MergeOptions struct {
	// Key extracts the join key from both target and source rows.
	Key MergeKeyFunc
	// WhenMatched replaces a target row with the matching source row.
	// If nil, matched target rows are left unchanged. A non-nil
	// WhenMatched that returns nil deletes the target row.
	WhenMatched func(target, source filter.Row) filter.Row
	// WhenNotMatched transforms a source row with no matching target row
	// before it is inserted. If nil, unmatched source rows are inserted
	// verbatim. A non-nil WhenNotMatched that returns nil skips the row.
	WhenNotMatched func(source filter.Row) filter.Row
}

// Merge applies an upsert of source rows into the table keyed by
// opts.Key: matched target rows are replaced via opts.WhenMatched (or
// left as-is if nil; a nil return deletes the row), and unmatched source
// rows are transformed via opts.WhenNotMatched (or inserted verbatim if
// nil; a nil return skips the row). Every live file is a merge
// candidate, since the join key is not generally a partition column.
func (t *Table) Merge(ctx context.Context, source []filter.Row, opts MergeOptions) (*CommitSummary, error) {
	if opts.Key == nil {
		return nil, fmt.Errorf("table: merge requires a key function")
	}

	bySourceKey := make(map[any]filter.Row, len(source))
	for _, row := range source {
		bySourceKey[opts.Key(row)] = row
	}
	matchedKeys := make(map[any]bool, len(source))

	snap, err := t.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	var removes []txlog.Remove
	var keptRows []filter.Row
	var changes []ChangeRow
	touchedAny := false

	for _, add := range snap.SortedFiles() {
		rows, err := t.readLiveFile(ctx, add.Path)
		if err != nil {
			return nil, fmt.Errorf("table: read %s: %w", add.Path, err)
		}
		fileTouched := false
		var keep []filter.Row
		for _, row := range rows {
			key := opts.Key(row)
			src, ok := bySourceKey[key]
			if !ok {
				keep = append(keep, row)
				continue
			}
			matchedKeys[key] = true
			fileTouched = true
			if opts.WhenMatched == nil {
				keep = append(keep, row)
				continue
			}
			next := opts.WhenMatched(row, src)
			if next == nil {
				changes = append(changes, ChangeRow{Type: ChangeDelete, Data: row})
				continue
			}
			changes = append(changes, ChangeRow{Type: ChangeUpdatePreimage, Data: row}, ChangeRow{Type: ChangeUpdatePostimage, Data: next})
			keep = append(keep, next)
		}
		if !fileTouched {
			continue
		}
		touchedAny = true
		removes = append(removes, txlog.Remove{
			Path:              add.Path,
			DeletionTimestamp: time.Now().UnixMilli(),
			DataChange:        true,
			PartitionValues:   add.PartitionValues,
			Size:              add.Size,
		})
		keptRows = append(keptRows, keep...)
	}

	var inserted []filter.Row
	for key, row := range bySourceKey {
		if matchedKeys[key] {
			continue
		}
		next := row
		if opts.WhenNotMatched != nil {
			next = opts.WhenNotMatched(row)
			if next == nil {
				continue
			}
		}
		inserted = append(inserted, next)
		changes = append(changes, ChangeRow{Type: ChangeInsert, Data: next})
	}

	if !touchedAny && len(inserted) == 0 {
		return &CommitSummary{}, nil
	}

	adds, err := t.writeDataFiles(ctx, append(keptRows, inserted...))
	if err != nil {
		return nil, err
	}

	return t.commitWithChanges(ctx, "MERGE", adds, removes, changes, nil)
}
