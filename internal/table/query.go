package table

import (
	"context"
	"fmt"

	"github.com/deltakit/deltakit/internal/codec"
	"github.com/deltakit/deltakit/internal/filter"
)

func cacheKeyFor(f filter.Filter, projection []string) string {
	return fmt.Sprintf("%+v|%v", f, projection)
}

// Query evaluates f against every live row, after pruning files by
// partition value and row groups by zone-map statistics (§4.3's pushdown
// order), and projects the surviving rows to projection (nil/empty means
// every column).
func (t *Table) Query(ctx context.Context, f filter.Filter, projection []string) ([]filter.Row, error) {
	snap, err := t.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	cf := t.filterCache.Compile(cacheKeyFor(f, projection), f, projection)

	skippedFiles := 0
	var out []filter.Row

	for _, add := range snap.SortedFiles() {
		if filter.PartitionPrune(cf.Filter, add.PartitionValues) {
			skippedFiles++
			continue
		}
		path := joinPath(t.basePath, add.Path)
		data, err := t.store.Read(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("table: read %s: %w", add.Path, err)
		}
		r, err := codec.NewReader(data)
		if err != nil {
			return nil, fmt.Errorf("table: parse %s: %w", add.Path, err)
		}

		anyGroupRead := false
		for g := range r.Footer.RowGroups {
			if rowGroupSkippable(r, g, cf.ZonePreds) {
				continue
			}
			anyGroupRead = true
			rows, err := r.ReadRowGroup(g)
			if err != nil {
				return nil, fmt.Errorf("table: decode %s row group %d: %w", add.Path, g, err)
			}
			for _, cr := range rows {
				row := make(filter.Row, len(cr))
				for k, v := range cr {
					row[k] = codec.ToAny(v)
				}
				if !filter.Matches(cf.Filter, row) {
					continue
				}
				out = append(out, projectRow(row, projection))
			}
		}
		if !anyGroupRead {
			skippedFiles++
		}
	}

	t.mu.Lock()
	t.lastQuerySkippedFiles = skippedFiles
	t.lastQueryProjectionColumns = append([]string(nil), cf.Columns...)
	t.mu.Unlock()

	return out, nil
}

func projectRow(row filter.Row, columns []string) filter.Row {
	if len(columns) == 0 {
		return row
	}
	return filter.Project(row, columns)
}

func rowGroupSkippable(r *codec.Reader, idx int, preds []filter.ColumnPredicate) bool {
	for _, p := range preds {
		if r.CanSkipRowGroup(idx, p.Column, p.Predicate) {
			return true
		}
	}
	return false
}

// readLiveFile reads and decodes every row of a live Add's data file,
// used by the rewrite-on-mutation paths (Update/Delete/Merge) that need
// the whole file rather than a pruned scan.
func (t *Table) readLiveFile(ctx context.Context, path string) ([]filter.Row, error) {
	data, err := t.store.Read(ctx, joinPath(t.basePath, path))
	if err != nil {
		return nil, err
	}
	return decodeRows(data)
}
