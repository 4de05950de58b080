// Package cdc implements the change-data-feed engine (§4.8): the
// `delta.enableChangeDataFeed` config flag and its `_cdc_config.json`
// mirror, the `{_change_type, _commit_version, _commit_timestamp, data}`
// record shape, dual flat + date-partitioned file writes, and the
// version/timestamp readers plus the async subscriber dispatch.
package cdc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/deltakit/deltakit/internal/codec"
	"github.com/deltakit/deltakit/internal/logging"
	"github.com/deltakit/deltakit/internal/storage"
	"github.com/deltakit/deltakit/internal/table"
	"github.com/deltakit/deltakit/internal/txlog"
)

// Record is one change-data-feed row.
type Record struct {
	ChangeType      string         `json:"_change_type"`
	CommitVersion   int64          `json:"_commit_version"`
	CommitTimestamp int64          `json:"_commit_timestamp"`
	Data            map[string]any `json:"data"`
}

// config mirrors `_cdc_config.json`, kept in lockstep with the
// `delta.enableChangeDataFeed` table property so a reader never needs to
// load a full snapshot just to know whether CDC is on.
type config struct {
	Enabled bool `json:"enabled"`
}

func configPath(basePath string) string { return joinPath(basePath, "_cdc_config.json") }
func changeDataDir(basePath string) string { return joinPath(basePath, "_change_data") }

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

// Engine is the per-table CDC state: it implements table.Recorder and
// doubles as the read/subscribe API.
type Engine struct {
	store    storage.Storage
	basePath string

	mu          sync.Mutex
	subscribers map[int]Handler
	nextSubID   int
	maxInFlight int
}

// Handler processes one commit's worth of change records. Handler
// errors are isolated per-subscriber and logged, never propagated back
// to the commit that produced the records.
type Handler func(ctx context.Context, version int64, records []Record) error

// New binds a CDC engine to a table's storage location. maxInFlight
// bounds concurrent handler dispatch across all subscribers (<=0 means
// 4).
func New(store storage.Storage, basePath string, maxInFlight int) *Engine {
	if maxInFlight <= 0 {
		maxInFlight = 4
	}
	return &Engine{
		store:       store,
		basePath:    basePath,
		subscribers: map[int]Handler{},
		maxInFlight: maxInFlight,
	}
}

// SetEnabled writes the `_cdc_config.json` mirror. Callers also update
// `delta.enableChangeDataFeed` in table Metadata via
// table.Table.UpdateMetadata — the two are meant to move together, but
// this mirror is the cheap check a reader makes without an full snapshot.
func (e *Engine) SetEnabled(ctx context.Context, enabled bool) error {
	body, err := json.Marshal(config{Enabled: enabled})
	if err != nil {
		return err
	}
	return e.store.Write(ctx, configPath(e.basePath), body)
}

// Enabled reads the `_cdc_config.json` mirror, defaulting to false if it
// has never been written.
func (e *Engine) Enabled(ctx context.Context) (bool, error) {
	exists, err := e.store.Exists(ctx, configPath(e.basePath))
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	data, err := e.store.Read(ctx, configPath(e.basePath))
	if err != nil {
		return false, err
	}
	var cfg config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return false, err
	}
	return cfg.Enabled, nil
}

// RecordChanges implements table.Recorder: it builds Records from one
// commit's ChangeRows per §4.8's per-operation-kind emission rules (the
// rows are already delivered in commit order with update preimage before
// postimage, since table.go emits them that way), writes the flat file,
// mirrors it into a date-partitioned directory, and dispatches to
// subscribers. If CDC is disabled, it is a no-op.
func (e *Engine) RecordChanges(ctx context.Context, version int64, timestamp int64, changes []table.ChangeRow) error {
	enabled, err := e.Enabled(ctx)
	if err != nil {
		return err
	}
	if !enabled || len(changes) == 0 {
		return nil
	}

	records := make([]Record, len(changes))
	for i, c := range changes {
		records[i] = Record{
			ChangeType:      string(c.Type),
			CommitVersion:   version,
			CommitTimestamp: timestamp,
			Data:            c.Data,
		}
	}

	if err := e.writeFiles(ctx, version, timestamp, records); err != nil {
		return err
	}

	e.dispatch(ctx, version, records)
	return nil
}

func (e *Engine) flatPath(version int64) (string, error) {
	v, err := codec.FormatVersion(version)
	if err != nil {
		return "", err
	}
	return joinPath(changeDataDir(e.basePath), "cdc-"+v+".parquet"), nil
}

func (e *Engine) partitionedPath(version, timestamp int64) (string, error) {
	v, err := codec.FormatVersion(version)
	if err != nil {
		return "", err
	}
	date := time.UnixMilli(timestamp).UTC().Format("2006-01-02")
	return joinPath(changeDataDir(e.basePath), codec.EncodePartitionSegment("date", date), "cdc-"+v+".parquet"), nil
}

// writeFiles writes the flat file then its date-partitioned mirror. If
// the partitioned write fails, the flat file is deleted so neither copy
// survives: a reader must never see the flat file without its mirror
// counted (all-or-nothing across the pair).
func (e *Engine) writeFiles(ctx context.Context, version, timestamp int64, records []Record) error {
	data, err := encodeRecords(records)
	if err != nil {
		return fmt.Errorf("cdc: encode version %d: %w", version, err)
	}

	flatPath, err := e.flatPath(version)
	if err != nil {
		return err
	}
	if err := e.store.Write(ctx, flatPath, data); err != nil {
		return fmt.Errorf("cdc: write flat file: %w", err)
	}

	partPath, err := e.partitionedPath(version, timestamp)
	if err != nil {
		_ = e.store.Delete(ctx, flatPath)
		return err
	}
	if err := e.store.Write(ctx, partPath, data); err != nil {
		_ = e.store.Delete(ctx, flatPath)
		return fmt.Errorf("cdc: write date-partitioned mirror: %w", err)
	}
	return nil
}

func encodeRecords(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := codec.NewWriter(&buf, []string{"_change_type", "_commit_version", "_commit_timestamp", "data"}, codec.WriterOptions{})
	for _, r := range records {
		row := codec.Row{
			"_change_type":      codec.String(r.ChangeType),
			"_commit_version":   codec.Int(r.CommitVersion),
			"_commit_timestamp": codec.Int(r.CommitTimestamp),
			"data":              codec.FromAny(map[string]any(r.Data)),
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

func decodeRecords(data []byte) ([]Record, error) {
	if !codec.IsParquetFile(data) {
		return nil, &Error{Code: CodeUnsupportedFormat, Err: fmt.Errorf("missing PAR1 magic")}
	}
	r, err := codec.NewReader(data)
	if err != nil {
		return nil, &Error{Code: CodeCorruptFile, Err: err}
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, &Error{Code: CodeCorruptFile, Err: err}
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		rec := Record{}
		if v, ok := row["_change_type"]; ok {
			rec.ChangeType, _ = codec.ToAny(v).(string)
		}
		if v, ok := row["_commit_version"]; ok {
			if n, ok := codec.ToAny(v).(int64); ok {
				rec.CommitVersion = n
			}
		}
		if v, ok := row["_commit_timestamp"]; ok {
			if n, ok := codec.ToAny(v).(int64); ok {
				rec.CommitTimestamp = n
			}
		}
		if v, ok := row["data"]; ok {
			rec.Data, _ = codec.ToAny(v).(map[string]any)
		}
		out[i] = rec
	}
	return out, nil
}

// ReadByVersion returns the change records committed at exactly version.
func (e *Engine) ReadByVersion(ctx context.Context, version int64) ([]Record, error) {
	path, err := e.flatPath(version)
	if err != nil {
		return nil, err
	}
	exists, err := e.store.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	data, err := e.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return decodeRecords(data)
}

// ReadByTimestamp returns the change records for the highest committed
// version whose commit timestamp is <= ts.
func (e *Engine) ReadByTimestamp(ctx context.Context, ts int64) ([]Record, error) {
	log := txlog.NewLog(e.store, e.basePath)
	current, err := log.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	target := int64(-1)
	for v := int64(0); v <= current; v++ {
		actions, err := log.ReadVersion(ctx, v)
		if err != nil {
			return nil, err
		}
		for _, a := range actions {
			if a.CommitInfo != nil && a.CommitInfo.Timestamp <= ts {
				target = v
			}
		}
	}
	if target < 0 {
		return nil, &Error{Code: CodeVersionNotFound, Err: fmt.Errorf("no commit at or before timestamp %d", ts)}
	}
	return e.ReadByVersion(ctx, target)
}

// Subscribe registers handler for every future commit's change records,
// delivered in commit order. The returned func unsubscribes.
func (e *Engine) Subscribe(handler Handler) func() {
	e.mu.Lock()
	id := e.nextSubID
	e.nextSubID++
	e.subscribers[id] = handler
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subscribers, id)
		e.mu.Unlock()
	}
}

// dispatch fans the commit's records out to every subscriber, bounding
// concurrency across the whole fan-out via a fixed-size semaphore —
// the same bounded-worker shape as the teacher's ParallelIterator.ForEach,
// generalized from "process N items" to "notify N independent
// subscribers" with per-subscriber error isolation instead of
// first-error-wins.
func (e *Engine) dispatch(ctx context.Context, version int64, records []Record) {
	e.mu.Lock()
	handlers := make([]Handler, 0, len(e.subscribers))
	for _, h := range e.subscribers {
		handlers = append(handlers, h)
	}
	e.mu.Unlock()
	if len(handlers) == 0 {
		return
	}

	sem := make(chan struct{}, e.maxInFlight)
	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		sem <- struct{}{}
		go func(h Handler) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := h(ctx, version, records); err != nil {
				logging.Get().Warn("cdc subscriber failed", "version", version, "err", err)
			}
		}(h)
	}
	wg.Wait()
}
