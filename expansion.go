// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// maybeInstallExpansion implements spec §4.4's trigger and build steps.
// The atomic allocatingExpansion flag ensures only the inserter that flips
// it false->true builds and publishes the expansion; every other concurrent
// inserter that also crossed the num_inserts > num_items threshold simply
// returns and its own afterInsert will observe the published expansion on
// its next check.
func (s *segment[K, V]) maybeInstallExpansion() {
	if !s.allocatingExpansion.CompareAndSwap(false, true) {
		return
	}

	newNumItems := int(float64(s.plan.numItems) * s.opts.GrowthFactor)
	if newNumItems <= s.plan.numItems {
		newNumItems = s.plan.numItems + 1
	}

	// Slope scaled by the same growth factor as capacity, intercept
	// recomputed so predict(first_key) == 0, per spec §4.4.
	a := s.plan.a * s.opts.GrowthFactor
	b := -a * float64(s.plan.firstKey)

	expPlan := segmentPlan[K]{
		firstKey: s.plan.firstKey,
		numItems: newNumItems,
		a:        a,
		b:        b,
	}

	exp := newSegment[K, V](expPlan, int(s.fpIndex.Load()), s.tree, s.opts)
	exp.owner = s.owner // propagate so a deeper re-expansion can still publish/sentinel through the index
	s.expansion.Store(exp)

	s.log.Info("segment expansion published",
		zap.Int("old_num_items", s.plan.numItems),
		zap.Int("new_num_items", newNumItems),
	)

	if s.owner != nil && s.owner.isLastSegment(s) {
		s.owner.appendTrailingSentinel(s.plan)
	}
}

// maybeEagerDrain implements spec §4.4's eager-drain threshold
// (num_inserts > 2·num_items): every still-occupied parent slot is evicted
// into the expansion, after which the expansion replaces this segment in
// the index's segment slice. Readers already holding a reference to this
// segment are unaffected: the optimistic-lock protocol means any reader
// mid-traversal here either finishes against a torn-but-detectably-stale
// view and restarts, or completes against data that is also present,
// unchanged, in the expansion (drain only ever copies forward, never
// mutates a slot's final resting value).
func (s *segment[K, V]) maybeEagerDrain() {
	exp := s.expansion.Load()
	if exp == nil {
		// No expansion exists yet to drain into; maybeInstallExpansion will
		// run first on a subsequent insert and pick this back up.
		return
	}

	if !s.draining.CompareAndSwap(false, true) {
		return
	}

	drained := 0
	for idx := range s.slots {
		sl := &s.slots[idx]

		version, err := sl.ReadLockOrRestart()
		if err != nil {
			continue
		}
		if s.presence.Test(idx) {
			continue // empty slot, nothing to evict
		}
		key, value := sl.key, sl.value
		if sl.CheckOrRestart(version) != nil {
			continue
		}

		exp.Insert(key, value)
		drained++
	}

	s.log.Warn("segment eagerly drained",
		zap.Int("num_items", s.plan.numItems),
		zap.Int("drained", drained),
	)

	if s.owner != nil {
		s.owner.publish(s, exp)
	}
}

// isLastSegment reports whether s is currently the last entry in the
// index's segment slice, used by maybeInstallExpansion to decide whether a
// trailing sentinel needs to be appended (spec §4.4: "if the expanding
// segment is the last one ...").
func (idx *Index[K, V]) isLastSegment(s *segment[K, V]) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.segments) == 0 {
		return false
	}
	return idx.segments[len(idx.segments)-1].Load() == s
}

// appendTrailingSentinel appends a new last segment carrying the
// expanding parent's original model, per spec §4.4, so keys beyond the
// expansion's own coverage still map somewhere. Idempotent against a
// racing concurrent installer: if another goroutine already appended the
// sentinel for this same parent, this call is a no-op.
func (idx *Index[K, V]) appendTrailingSentinel(parentPlan segmentPlan[K]) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	sentinelFirstKey := parentPlan.firstKey + K(parentPlan.numItems)

	if len(idx.starts) > 0 && idx.starts[len(idx.starts)-1] >= sentinelFirstKey {
		return // a concurrent installer already appended this sentinel
	}

	sentinelPlan := segmentPlan[K]{
		firstKey: sentinelFirstKey,
		numItems: parentPlan.numItems,
		a:        parentPlan.a,
		b:        parentPlan.b,
	}

	fpIdx := idx.tree.FastPointerFor(sentinelFirstKey, ^K(0))

	sentinel := newSegment[K, V](sentinelPlan, fpIdx, idx.tree, &idx.opts)
	sentinel.owner = idx

	p := new(atomic.Pointer[segment[K, V]])
	p.Store(sentinel)

	idx.segments = append(idx.segments, p)
	idx.starts = append(idx.starts, sentinelPlan.firstKey)

	idx.log.Info("trailing sentinel segment appended", zap.Uint64("first_key", uint64(sentinelPlan.firstKey)))
}

// publish implements spec §4.4's drain publication: replace wherever old
// is currently referenced — either directly as a segments[] entry, or as
// some ancestor's expansion pointer a few links down an expansion chain
// (a segment that has itself expanded more than once) — with drained.
// Readers that already loaded old keep a consistent, if now-unreachable,
// view; they rely on the slot/ART version protocol, not on old remaining
// reachable, for correctness.
func (idx *Index[K, V]) publish(old, drained *segment[K, V]) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, p := range idx.segments {
		if p.Load() == old {
			p.Store(drained)
			return
		}
		for cur := p.Load(); cur != nil; cur = cur.expansion.Load() {
			if cur.expansion.Load() == old {
				cur.expansion.Store(drained)
				return
			}
		}
	}
}
