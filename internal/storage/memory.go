package storage

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryBackend keeps every blob in an in-process map, guarded by a single
// RWMutex. The version token is an incrementing per-key counter rendered
// as a decimal string; tokens carry no cross-key ordering, matching the
// contract in §4.1.
//
// Modeled on the teacher's backend_memory.go: that backend deliberately
// does nothing because persistence was someone else's job. Here the "do
// nothing" backend becomes the reference implementation other backends
// are tested against, so it owns real bytes and real CAS semantics.
type MemoryBackend struct {
	mu  sync.RWMutex
	obj map[string]*memObject
}

type memObject struct {
	data    []byte
	version uint64
	modTime int64
}

// NewMemoryBackend returns an empty in-memory Storage.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{obj: make(map[string]*memObject)}
}

func (m *MemoryBackend) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.obj[path]
	if !ok {
		return nil, &FileNotFound{Path: path}
	}
	out := make([]byte, len(o.data))
	copy(out, o.data)
	return out, nil
}

func (m *MemoryBackend) Write(_ context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(path, data)
	return nil
}

func (m *MemoryBackend) putLocked(path string, data []byte) *memObject {
	cp := make([]byte, len(data))
	copy(cp, data)
	o, ok := m.obj[path]
	if !ok {
		o = &memObject{}
		m.obj[path] = o
	}
	o.data = cp
	o.version++
	o.modTime = time.Now().UnixMilli()
	return o
}

func (m *MemoryBackend) ReadRange(_ context.Context, path string, start, end int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.obj[path]
	if !ok {
		return nil, &FileNotFound{Path: path}
	}
	n := int64(len(o.data))
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start >= end {
		return []byte{}, nil
	}
	out := make([]byte, end-start)
	copy(out, o.data[start:end])
	return out, nil
}

func (m *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for p := range m.obj {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *MemoryBackend) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.obj, path)
	return nil
}

func (m *MemoryBackend) Stat(_ context.Context, path string) (*Stat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.obj[path]
	if !ok {
		return nil, nil
	}
	return &Stat{Size: int64(len(o.data)), LastModified: o.modTime, ETag: strconv.FormatUint(o.version, 10)}, nil
}

func (m *MemoryBackend) Exists(_ context.Context, path string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.obj[path]
	return ok, nil
}

func (m *MemoryBackend) GetVersion(_ context.Context, path string) (*string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.obj[path]
	if !ok {
		return nil, nil
	}
	v := strconv.FormatUint(o.version, 10)
	return &v, nil
}

func (m *MemoryBackend) WriteConditional(_ context.Context, path string, data []byte, expectedVersion *string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, exists := m.obj[path]
	switch {
	case expectedVersion == nil && exists:
		actual := strconv.FormatUint(o.version, 10)
		return "", &VersionMismatch{Path: path, ExpectedVersion: nil, ActualVersion: &actual}
	case expectedVersion != nil:
		if !exists {
			return "", &VersionMismatch{Path: path, ExpectedVersion: expectedVersion, ActualVersion: nil}
		}
		actual := strconv.FormatUint(o.version, 10)
		if actual != *expectedVersion {
			return "", &VersionMismatch{Path: path, ExpectedVersion: expectedVersion, ActualVersion: &actual}
		}
	}
	newObj := m.putLocked(path, data)
	return strconv.FormatUint(newObj.version, 10), nil
}
