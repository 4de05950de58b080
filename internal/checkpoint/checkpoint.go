// Package checkpoint implements the periodic, opportunistic compaction of
// a table's transaction log into Parquet-shaped "live action" snapshots
// (§4.5): the checkpoint file(s) themselves, the `_last_checkpoint`
// pointer, and age-gated log cleanup.
package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/deltakit/deltakit/internal/codec"
	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/txlog"
)

// Policy decides when a checkpoint should opportunistically be written.
// A checkpoint is due once either threshold is crossed since the last
// one; callers trigger it as a best-effort side task of a commit, never
// blocking the commit itself on checkpoint success.
type Policy struct {
	CommitInterval int   // write a checkpoint every N commits (0 disables)
	MaxLogBytes    int64 // or once the uncompacted log exceeds this many bytes (0 disables)
}

// DefaultPolicy checkpoints every 10 commits, matching the interval most
// Delta-style implementations default to.
func DefaultPolicy() Policy {
	return Policy{CommitInterval: 10}
}

// Due reports whether a checkpoint should be written given how many
// commits and bytes have accumulated since the last one.
func (p Policy) Due(commitsSinceLast int, logBytesSinceLast int64) bool {
	if p.CommitInterval > 0 && commitsSinceLast >= p.CommitInterval {
		return true
	}
	if p.MaxLogBytes > 0 && logBytesSinceLast >= p.MaxLogBytes {
		return true
	}
	return false
}

// LastCheckpoint mirrors the `_last_checkpoint` pointer file: the
// version the checkpoint covers, its total uncompressed size, and (for
// multi-part checkpoints) how many parts it was split across.
type LastCheckpoint struct {
	Version int64 `json:"version"`
	Size    int64 `json:"size"`
	Parts   *int  `json:"parts,omitempty"`
}

func logDir(basePath string) string { return joinPath(basePath, "_delta_log") }

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

// checkpointFileName renders the single-part or multi-part checkpoint
// file name for version: "{20-digit version}.checkpoint.parquet" or
// "{20-digit version}.checkpoint.{part}.{total}.parquet" with part/total
// themselves 10-digit zero-padded per the Delta convention.
func checkpointFileName(version int64, part, total int) (string, error) {
	v, err := codec.FormatVersion(version)
	if err != nil {
		return "", err
	}
	if total <= 1 {
		return v + ".checkpoint.parquet", nil
	}
	return fmt.Sprintf("%s.checkpoint.%010d.%010d.parquet", v, part, total), nil
}

// actionRow renders a single Action as a one-column Row whose value is
// the VARIANT encoding of its JSON representation, so the reader does
// not need a side-channel schema to recover the original sum type.
func actionRow(a txlog.Action) (codec.Row, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var generic map[string]any
	if err := json.Unmarshal(body, &generic); err != nil {
		return nil, err
	}
	return codec.Row{"action": codec.FromAny(generic)}, nil
}

func rowToAction(r codec.Row) (txlog.Action, error) {
	v, ok := r["action"]
	if !ok {
		return txlog.Action{}, fmt.Errorf("checkpoint: row missing action column")
	}
	body, err := json.Marshal(codec.ToAny(v))
	if err != nil {
		return txlog.Action{}, err
	}
	var a txlog.Action
	if err := json.Unmarshal(body, &a); err != nil {
		return txlog.Action{}, err
	}
	return a, nil
}

// Write splits actions across n equally-sized parts (n computed from
// maxActionsPerPart, at least 1) and writes each as an independent
// Parquet-shaped row-group file, returning the LastCheckpoint pointer to
// persist via WriteLastCheckpoint. Actions are the live state only
// (Protocol, Metadata, and one Add per live file) — Remove/CommitInfo
// actions carry no forward state and are never checkpointed.
func Write(ctx context.Context, store storage.Storage, basePath string, version int64, actions []txlog.Action, maxActionsPerPart int) (*LastCheckpoint, error) {
	if maxActionsPerPart <= 0 {
		maxActionsPerPart = len(actions)
		if maxActionsPerPart == 0 {
			maxActionsPerPart = 1
		}
	}
	total := (len(actions) + maxActionsPerPart - 1) / maxActionsPerPart
	if total < 1 {
		total = 1
	}

	var totalSize int64
	for part := 0; part < total; part++ {
		lo := part * maxActionsPerPart
		hi := lo + maxActionsPerPart
		if hi > len(actions) {
			hi = len(actions)
		}
		data, err := encodePart(actions[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("checkpoint: encode part %d/%d: %w", part+1, total, err)
		}
		name, err := checkpointFileName(version, part+1, total)
		if err != nil {
			return nil, err
		}
		path := joinPath(logDir(basePath), name)
		if err := store.Write(ctx, path, data); err != nil {
			return nil, fmt.Errorf("checkpoint: write part %d/%d: %w", part+1, total, err)
		}
		totalSize += int64(len(data))
	}

	lc := &LastCheckpoint{Version: version, Size: totalSize}
	if total > 1 {
		lc.Parts = &total
	}
	return lc, nil
}

func encodePart(actions []txlog.Action) ([]byte, error) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf, []string{"action"}, codec.WriterOptions{})
	for _, a := range actions {
		row, err := actionRow(a)
		if err != nil {
			w.Abort()
			return nil, err
		}
		if err := w.Write(row); err != nil {
			w.Abort()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Read loads every action from the checkpoint at version, reading all
// `total` parts (total must be 1 for a single-part checkpoint).
func Read(ctx context.Context, store storage.Storage, basePath string, version int64, total int) ([]txlog.Action, error) {
	if total < 1 {
		total = 1
	}
	var out []txlog.Action
	for part := 1; part <= total; part++ {
		name, err := checkpointFileName(version, part, total)
		if err != nil {
			return nil, err
		}
		path := joinPath(logDir(basePath), name)
		data, err := store.Read(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read part %d/%d: %w", part, total, err)
		}
		r, err := codec.NewReader(data)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: parse part %d/%d: %w", part, total, err)
		}
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("checkpoint: decode part %d/%d: %w", part, total, err)
		}
		for _, row := range rows {
			a, err := rowToAction(row)
			if err != nil {
				return nil, err
			}
			out = append(out, a)
		}
	}
	return out, nil
}

func lastCheckpointPath(basePath string) string {
	return joinPath(logDir(basePath), "_last_checkpoint")
}

// WriteLastCheckpoint overwrites the `_last_checkpoint` pointer. It is
// not written conditionally: losing a race to publish a later pointer is
// harmless, since snapshot reconstruction falls back to a list-scan when
// the pointer is stale or absent.
func WriteLastCheckpoint(ctx context.Context, store storage.Storage, basePath string, lc *LastCheckpoint) error {
	body, err := json.Marshal(lc)
	if err != nil {
		return err
	}
	return store.Write(ctx, lastCheckpointPath(basePath), body)
}

// ReadLastCheckpoint reads the `_last_checkpoint` pointer, returning
// (nil, nil) if it does not exist (the caller should fall back to a
// list-scan of the log directory).
func ReadLastCheckpoint(ctx context.Context, store storage.Storage, basePath string) (*LastCheckpoint, error) {
	exists, err := store.Exists(ctx, lastCheckpointPath(basePath))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	data, err := store.Read(ctx, lastCheckpointPath(basePath))
	if err != nil {
		return nil, err
	}
	var lc LastCheckpoint
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, err
	}
	return &lc, nil
}

// CleanupResult reports what log cleanup actually did, so that a
// concurrent reader still mid-replay against a now-deleted version is a
// visible fact rather than a silently swallowed error.
type CleanupResult struct {
	Deleted []int64
	Errors  map[int64]error
}

// Cleanup deletes committed log versions strictly below checkpointVersion
// whose last-modified time is older than now.Add(-minAge), in ascending
// version order (oldest first, so a reader mid-replay loses the tail of
// its range last). Versions are never deleted at or above
// checkpointVersion: that would destroy the only copy of live state a
// snapshot at exactly checkpointVersion depends on.
func Cleanup(ctx context.Context, store storage.Storage, basePath string, checkpointVersion int64, minAge time.Duration, now time.Time) (*CleanupResult, error) {
	names, err := store.List(ctx, logDir(basePath)+"/")
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-minAge).UnixMilli()

	var candidates []int64
	for _, name := range names {
		base := baseName(name)
		if len(base) < 20 || base[20:] != ".json" {
			continue
		}
		v, err := codec.ParseVersion(base[:20])
		if err != nil {
			continue
		}
		if v < checkpointVersion {
			candidates = append(candidates, v)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	result := &CleanupResult{Errors: map[int64]error{}}
	for _, v := range candidates {
		name, err := codec.FormatVersion(v)
		if err != nil {
			result.Errors[v] = err
			continue
		}
		path := joinPath(logDir(basePath), name+".json")
		st, err := store.Stat(ctx, path)
		if err != nil {
			result.Errors[v] = err
			continue
		}
		if st == nil || st.LastModified > cutoff {
			continue // not old enough yet
		}
		if err := store.Delete(ctx, path); err != nil {
			result.Errors[v] = err
			continue
		}
		result.Deleted = append(result.Deleted, v)
	}
	if len(result.Errors) == 0 {
		result.Errors = nil
	}
	return result, nil
}

func baseName(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	return path[i+1:]
}
