package txlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/deltakit/deltakit/internal/codec"
	"github.com/deltakit/deltakit/internal/storage"
)

// Log drives the optimistic commit protocol (§4.4) against a Storage
// backend rooted at a table's base path.
type Log struct {
	store    storage.Storage
	basePath string

	mu            sync.Mutex
	cachedVersion atomic.Int64 // -2 means "not yet read"
}

const versionNotCached = -2

// NewLog creates a Log for the table rooted at basePath.
func NewLog(store storage.Storage, basePath string) *Log {
	l := &Log{store: store, basePath: basePath}
	l.cachedVersion.Store(versionNotCached)
	return l
}

func (l *Log) logPath(version int64) (string, error) {
	s, err := codec.FormatVersion(version)
	if err != nil {
		return "", err
	}
	return joinPath(l.basePath, "_delta_log", s+".json"), nil
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

// CurrentVersion returns the highest committed version, or -1 if the
// table does not yet exist, using the cached value when present.
func (l *Log) CurrentVersion(ctx context.Context) (int64, error) {
	if v := l.cachedVersion.Load(); v != versionNotCached {
		return v, nil
	}
	return l.RefreshVersion(ctx)
}

// RefreshVersion invalidates the cache and re-reads the current version
// from storage by scanning the log directory. Callers must invoke this
// after catching ConcurrencyError, per §4.4.
func (l *Log) RefreshVersion(ctx context.Context) (int64, error) {
	names, err := l.store.List(ctx, joinPath(l.basePath, "_delta_log")+"/")
	if err != nil {
		return 0, err
	}
	best := int64(-1)
	for _, name := range names {
		base := baseName(name)
		if len(base) < 20 || base[20:] != ".json" {
			continue
		}
		v, err := codec.ParseVersion(base[:20])
		if err != nil {
			continue
		}
		if v > best {
			best = v
		}
	}
	l.cachedVersion.Store(best)
	return best, nil
}

func baseName(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	return path[i+1:]
}

// CommitResult reports the outcome of a successful commit.
type CommitResult struct {
	Version int64
}

// Commit runs the optimistic commit protocol for actions: read the
// current version, serialize, and attempt a conditional create of the
// next version file. On VersionMismatch it's classified as
// ConcurrencyError and returned for the caller's retry policy (see
// CommitWithRetry for the wrapped version); on success the cache is
// updated to the new version.
func (l *Log) Commit(ctx context.Context, actions []Action) (*CommitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	version, err := l.CurrentVersion(ctx)
	if err != nil {
		return nil, err
	}
	next := version + 1

	if next == 0 {
		if err := validateFirstCommit(actions); err != nil {
			return nil, err
		}
	}

	body, err := EncodeActions(actions)
	if err != nil {
		return nil, err
	}
	path, err := l.logPath(next)
	if err != nil {
		return nil, err
	}

	_, err = l.store.WriteConditional(ctx, path, body, nil)
	if err != nil {
		if vm, ok := err.(*storage.VersionMismatch); ok {
			l.cachedVersion.Store(versionNotCached)
			return nil, &ConcurrencyError{Path: path, ExpectedVersion: vm.ExpectedVersion, ActualVersion: vm.ActualVersion}
		}
		return nil, err
	}

	l.cachedVersion.Store(next)
	return &CommitResult{Version: next}, nil
}

// CommitWithRetry runs Commit under policy, calling RefreshVersion and
// rebuilding actions via buildActions after every ConcurrencyError, up
// to policy.MaxRetries attempts.
func (l *Log) CommitWithRetry(ctx context.Context, policy RetryPolicy, buildActions func(currentVersion int64) ([]Action, error)) (*CommitResult, error) {
	var result *CommitResult
	err := Retry(ctx, policy, func() error {
		version, err := l.CurrentVersion(ctx)
		if err != nil {
			return err
		}
		actions, err := buildActions(version)
		if err != nil {
			return err
		}
		res, err := l.Commit(ctx, actions)
		if err != nil {
			if _, ok := err.(*ConcurrencyError); ok {
				if _, rerr := l.RefreshVersion(ctx); rerr != nil {
					return rerr
				}
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func validateFirstCommit(actions []Action) error {
	protocolCount, metaCount := 0, 0
	for _, a := range actions {
		if a.Protocol != nil {
			protocolCount++
		}
		if a.MetaData != nil {
			metaCount++
		}
	}
	if protocolCount != 1 || metaCount != 1 {
		return fmt.Errorf("txlog: version 0 must contain exactly one Protocol and one Metadata action (got %d, %d)", protocolCount, metaCount)
	}
	return nil
}

// ReadVersion reads and decodes the action log for exactly one version.
func (l *Log) ReadVersion(ctx context.Context, version int64) ([]Action, error) {
	path, err := l.logPath(version)
	if err != nil {
		return nil, err
	}
	data, err := l.store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	return DecodeActions(data)
}
