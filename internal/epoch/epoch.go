// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package epoch implements the epoch-based reclamation scheme spec §5
// requires for ART node deletion: each thread binds a ThreadInfo to a
// global epoch table, brackets every ART mutation with Enter/Exit, and
// retired nodes sit in a per-epoch free set until every thread has moved
// past the epoch they were retired in.
//
// Grounded on TomTonic-multimap's use of github.com/TomTonic/Set3 as a
// generic ordered set: here it backs each epoch's retire set, so a node
// retired twice by racing restarts (harmless under lock coupling, since
// retirement only happens once a node is made obsolete under its own write
// lock, but cheap to guard against) is deduplicated instead of double-freed.
package epoch

import (
	"sync"
	"sync/atomic"

	set3 "github.com/TomTonic/Set3"
	"go.uber.org/zap"
)

// numEpochs is the size of the epoch ring. Three is the minimum that lets
// reclamation always have one fully-quiescent epoch behind the globally
// observed minimum while threads are entering/exiting the other two.
const numEpochs = 3

// Retirable is anything that can be parked in a retire set and freed once
// safe. ART nodes implement this by clearing their own child pointers
// (dropping references so the GC can collect them) inside Free.
type Retirable interface {
	Free()
}

// ThreadInfo binds one goroutine (or, more precisely, one logical access
// path — callers typically keep one per goroutine in a sync.Pool or
// goroutine-local slot) to the global epoch table. Before any ART mutation
// or traversal that dereferences node pointers, call Enter; call Exit when
// done. Enter/Exit must not be held across a caller-level Restart loop's
// sleep/yield — only across the pointer-chasing itself.
type ThreadInfo struct {
	mgr   *Manager
	epoch atomic.Int64 // -1 means "not in a critical section"
}

// Enter marks the thread as active in the current global epoch.
func (t *ThreadInfo) Enter() {
	t.epoch.Store(t.mgr.current.Load())
}

// Exit marks the thread as quiescent. Safe to call even if nested calls to
// Enter happened without intervening Exit (idempotent).
func (t *ThreadInfo) Exit() {
	t.epoch.Store(-1)
}

// Manager owns the global epoch counter, the per-thread registry, and the
// per-epoch retire sets. Process-wide and constructed once per Index, per
// spec §9 ("the epoch table ... [is] process-wide; construct once at index
// creation and dismantle only at teardown").
type Manager struct {
	current atomic.Int64

	mu      sync.Mutex // guards threads and retire together
	threads []*ThreadInfo
	retire  [numEpochs]*set3.Set3[Retirable]

	log *zap.Logger
}

// New creates a fresh epoch manager at epoch 0 with empty retire sets.
func New(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{log: log}
	for i := range m.retire {
		m.retire[i] = set3.Empty[Retirable]()
	}
	return m
}

// Register creates and registers a new ThreadInfo bound to this manager.
// Callers keep the returned handle for the lifetime of the logical access
// path (typically: one per goroutine that calls into the index).
func (m *Manager) Register() *ThreadInfo {
	t := &ThreadInfo{mgr: m}
	t.epoch.Store(-1)

	m.mu.Lock()
	m.threads = append(m.threads, t)
	m.mu.Unlock()

	return t
}

// Retire parks n in the current epoch's retire set. n must already be
// unreachable from any live traversal root (the caller obsoleted it under
// its own write lock per spec §4.2 before calling Retire).
func (m *Manager) Retire(n Retirable) {
	e := m.current.Load() % numEpochs

	m.mu.Lock()
	m.retire[e].Add(n)
	m.mu.Unlock()
}

// TryAdvance attempts to bump the global epoch and reclaim the oldest
// retire set, if and only if every registered thread is either quiescent
// or has already observed the current epoch. It is safe, cheap, and
// non-blocking to call opportunistically (e.g. after every Nth mutation);
// it never blocks a caller waiting for stragglers — it simply does nothing
// if the advance isn't yet safe.
func (m *Manager) TryAdvance() {
	cur := m.current.Load()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range m.threads {
		e := t.epoch.Load()
		if e != -1 && e != cur {
			// a thread is still working in a stale epoch relative to a
			// prior advance; nothing to do until it catches up.
			return
		}
	}

	next := cur + 1
	if !m.current.CompareAndSwap(cur, next) {
		return // someone else advanced concurrently
	}

	// The epoch two behind `next` is now guaranteed quiescent: every
	// thread has been at `cur` or later since before this CAS.
	reclaimSlot := int(next+1) % numEpochs
	dying := m.retire[reclaimSlot]
	m.retire[reclaimSlot] = set3.Empty[Retirable]()

	m.log.Debug("epoch advanced", zap.Int64("epoch", next), zap.Uint32("reclaimed", dying.Len()))

	dying.ForEach(func(r Retirable) { r.Free() })
}

// Deregister removes a thread from the registry, e.g. when a goroutine
// exits for good. Any objects it never helped reclaim remain reclaimable
// by the remaining threads' future TryAdvance calls.
func (m *Manager) Deregister(t *ThreadInfo) {
	t.Exit()

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, th := range m.threads {
		if th == t {
			m.threads = append(m.threads[:i], m.threads[i+1:]...)
			return
		}
	}
}

// Close reclaims everything outstanding regardless of quiescence: safe only
// once the caller guarantees no concurrent access remains (index teardown).
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.retire {
		m.retire[i].ForEach(func(r Retirable) { r.Free() })
		m.retire[i] = set3.Empty[Retirable]()
	}
	m.threads = nil
}
