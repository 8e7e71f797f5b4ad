package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-process Store used by tests and local development. It
// implements the same path layout and notification semantics as RedisStore
// without any I/O, so unit tests never need a running Redis.
type MemStore struct {
	mu       sync.Mutex
	vals     map[string][]byte
	children map[string]map[string]struct{}
	subs     []*memSub
	cleanups map[string][]string
	beats    map[string]time.Time
	seq      uint64
}

type memSub struct {
	path string
	ch   chan Event
	done <-chan struct{}
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		vals:     make(map[string][]byte),
		children: make(map[string]map[string]struct{}),
		cleanups: make(map[string][]string),
		beats:    make(map[string]time.Time),
	}
}

func (m *MemStore) Read(_ context.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vals[path]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemStore) Write(_ context.Context, path string, value []byte) error {
	m.mu.Lock()
	m.writeLocked(path, value)
	m.mu.Unlock()
	return nil
}

func (m *MemStore) writeLocked(path string, value []byte) {
	v := make([]byte, len(value))
	copy(v, value)
	m.vals[path] = v

	if parent, leaf, ok := splitPath(path); ok {
		if m.children[parent] == nil {
			m.children[parent] = make(map[string]struct{})
		}
		m.children[parent][leaf] = struct{}{}
	}
	m.notifyLocked(path, v)
}

func (m *MemStore) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(path)
	return nil
}

func (m *MemStore) deleteLocked(path string) {
	for leaf := range m.children[path] {
		m.deleteLocked(path + "/" + leaf)
	}
	delete(m.children, path)
	if _, ok := m.vals[path]; ok {
		delete(m.vals, path)
	}
	if parent, leaf, ok := splitPath(path); ok {
		if kids := m.children[parent]; kids != nil {
			delete(kids, leaf)
		}
	}
	m.notifyLocked(path, nil)
}

func (m *MemStore) Push(_ context.Context, path string, value []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	key := pushKey(time.Now(), m.seq)
	m.writeLocked(path+"/"+key, value)
	return key, nil
}

func (m *MemStore) List(_ context.Context, path string) (map[string][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]byte, len(m.children[path]))
	for leaf := range m.children[path] {
		if v, ok := m.vals[path+"/"+leaf]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[leaf] = cp
		}
	}
	return out, nil
}

func (m *MemStore) AtomicUpdate(_ context.Context, path string, fn TxnFn) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ok := fn(m.vals[path])
	if !ok {
		return nil, ErrAborted
	}
	m.writeLocked(path, next)
	return next, nil
}

func (m *MemStore) Subscribe(ctx context.Context, path string) (<-chan Event, error) {
	sub := &memSub{
		path: path,
		ch:   make(chan Event, 64),
		done: ctx.Done(),
	}

	m.mu.Lock()
	m.subs = append(m.subs, sub)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for i, s := range m.subs {
			if s == sub {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

func (m *MemStore) RegisterOnDisconnect(_ context.Context, ownerID, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups[ownerID] = append(m.cleanups[ownerID], path)
	m.beats[ownerID] = time.Now()
	return nil
}

func (m *MemStore) Heartbeat(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[ownerID] = time.Now()
	return nil
}

func (m *MemStore) Disconnect(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked(ownerID)
	return nil
}

func (m *MemStore) disconnectLocked(ownerID string) {
	for _, path := range m.cleanups[ownerID] {
		m.deleteLocked(path)
	}
	delete(m.cleanups, ownerID)
	delete(m.beats, ownerID)
}

// ReapExpired fires the cleanup rules of every owner whose last heartbeat is
// older than the liveness lease, judged against now. It is the in-process
// counterpart of the RedisStore reaper sweep.
func (m *MemStore) ReapExpired(_ context.Context, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for owner, beat := range m.beats {
		if now.Sub(beat) > heartbeatTTL {
			m.disconnectLocked(owner)
		}
	}
	return nil
}

func (m *MemStore) notifyLocked(path string, value []byte) {
	for _, sub := range m.subs {
		if !pathCovers(sub.path, path) {
			continue
		}
		select {
		case sub.ch <- Event{Path: path, Value: value}:
		case <-sub.done:
		default:
			// Slow subscriber; drop rather than block the writer.
		}
	}
}

// Keys returns every stored scalar path, sorted. Test helper.
func (m *MemStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.vals))
	for k := range m.vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func splitPath(path string) (parent, leaf string, ok bool) {
	i := strings.LastIndex(path, "/")
	if i <= 0 {
		return "", "", false
	}
	return path[:i], path[i+1:], true
}

// pathCovers reports whether a subscription at sub should see a change at
// path (the path itself or any descendant).
func pathCovers(sub, path string) bool {
	return path == sub || strings.HasPrefix(path, sub+"/")
}

// pushKey builds a chronologically sortable collection key.
func pushKey(now time.Time, seq uint64) string {
	return fmt.Sprintf("%016x-%08x", now.UnixNano(), seq)
}
