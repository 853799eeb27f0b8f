// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/gaissmai/segart/internal/art"
	"github.com/gaissmai/segart/internal/epoch"
	"github.com/gaissmai/segart/internal/fastptr"
	"github.com/gaissmai/segart/internal/keycodec"
)

// KV is one input pair to BulkLoad/BulkLoadUnsorted and one result pair of
// RangeScan.
type KV[K keycodec.Uint, V any] struct {
	Key   K
	Value V
}

// Index is the segmented learned index façade: a single entry point over
// {BulkLoad, Insert, Find, Update, Remove, RangeScan}.
type Index[K keycodec.Uint, V any] struct {
	// mu guards only the segments/starts slices' length and identity — the
	// "single-writer reconfiguration boundary" spec §5 calls for around
	// bulk-load and trailing-segment append. Point operations never take
	// more than the read side; a segment's own slot locks (segment.go) and
	// the tree's node locks (internal/art) handle everything else.
	mu sync.RWMutex

	segments []*atomic.Pointer[segment[K, V]]
	starts   []K

	tree *art.Tree[K, V]
	fp   *fastptr.Buffer
	em   *epoch.Manager

	opts Options
	log  *zap.Logger
}

// New constructs an empty index, ready for BulkLoad.
func New[K keycodec.Uint, V any](opts ...Option) *Index[K, V] {
	o := buildOptions(opts...)

	fp := fastptr.New()
	em := epoch.New(o.Logger)
	tree := art.New[K, V](fp, em, o.Logger)

	return &Index[K, V]{
		tree: tree,
		fp:   fp,
		em:   em,
		opts: o,
		log:  o.Logger,
	}
}

// NewIndex is an alias for New. Generic type inference on a bare New call
// often needs explicit type arguments anyway; this name reads a little
// better than segart.New[uint64, string]() at call sites that prefer it.
func NewIndex[K keycodec.Uint, V any](opts ...Option) *Index[K, V] {
	return New[K, V](opts...)
}

// BulkLoad implements spec §4's bulk_load: pairs must already be strictly
// increasing by key. The first out-of-order pair fails the whole call with
// an *InvariantError (wrapping ErrInvariantViolation) rather than the
// spec's literal "terminate the process" — see DESIGN.md's Open Question
// resolution: a library has no business calling os.Exit on its caller's
// behalf; MustBulkLoad below recovers the spec's fail-fast posture for
// callers that want it.
func (idx *Index[K, V]) BulkLoad(pairs []KV[K, V]) error {
	if len(pairs) == 0 {
		return nil
	}

	keys := make([]K, len(pairs))
	keys[0] = pairs[0].Key
	for i := 1; i < len(pairs); i++ {
		if pairs[i-1].Key >= pairs[i].Key {
			return newNonMonotoneError(uint64(pairs[i].Key), i)
		}
		keys[i] = pairs[i].Key
	}

	eps := resolveEpsilon(len(keys), idx.opts.Epsilon)
	plans := planSegments(keys, eps)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	segments := make([]*atomic.Pointer[segment[K, V]], len(plans))
	starts := make([]K, len(plans))

	pos := 0
	for i, plan := range plans {
		upper := ^K(0)
		if i+1 < len(plans) {
			upper = plans[i+1].firstKey - 1
		}
		fpIdx := idx.tree.FastPointerFor(plan.firstKey, upper)

		seg := newSegment[K, V](plan, fpIdx, idx.tree, &idx.opts)
		seg.owner = idx

		for j := 0; j < plan.numItems; j++ {
			seg.Insert(pairs[pos+j].Key, pairs[pos+j].Value)
		}
		pos += plan.numItems

		p := new(atomic.Pointer[segment[K, V]])
		p.Store(seg)
		segments[i] = p
		starts[i] = plan.firstKey
	}

	idx.segments = segments
	idx.starts = starts

	idx.log.Info("bulk load complete", zap.Int("num_keys", len(pairs)), zap.Int("num_segments", len(plans)), zap.Int("epsilon", eps))
	return nil
}

// MustBulkLoad panics on a non-monotone input, recovering spec §4.6's
// "hard assertion violations ... terminate" posture for callers who want
// bulk-load failures to be unrecoverable rather than a returned error.
func (idx *Index[K, V]) MustBulkLoad(pairs []KV[K, V]) {
	if err := idx.BulkLoad(pairs); err != nil {
		panic(err)
	}
}

// BulkLoadUnsorted sorts a copy of pairs by key and delegates to BulkLoad.
// Not part of the original spec (§6's bulk_load takes "strictly increasing
// keys" as a precondition); supplemented per SPEC_FULL §4 for callers that
// can't guarantee their input is pre-sorted. Duplicate keys after sorting
// still fail BulkLoad's monotonicity check.
func (idx *Index[K, V]) BulkLoadUnsorted(pairs []KV[K, V]) error {
	sorted := make([]KV[K, V], len(pairs))
	copy(sorted, pairs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return idx.BulkLoad(sorted)
}

// locate implements spec §4.3's "binary-search segment-start keys ...
// clamp to last segment if k >= all starts" (and, symmetrically, to the
// first segment if k is below every start — the spec only calls out the
// high clamp, but an index never holds a segment for keys below its own
// minimum, so the same clamp applies at the low end).
func (idx *Index[K, V]) locate(key K) *segment[K, V] {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.starts) == 0 {
		return nil
	}

	i := sort.Search(len(idx.starts), func(i int) bool { return idx.starts[i] > key })
	i--
	if i < 0 {
		i = 0
	}
	return idx.segments[i].Load()
}

// Insert implements spec §6's insert(k, v).
func (idx *Index[K, V]) Insert(key K, value V) (existed bool) {
	seg := idx.locate(key)
	if seg == nil {
		return false
	}
	return seg.Insert(key, value)
}

// Find implements spec §6's find(k).
func (idx *Index[K, V]) Find(key K) (value V, found bool) {
	seg := idx.locate(key)
	if seg == nil {
		return value, false
	}
	return seg.Find(key)
}

// Update implements spec §6's update(k, v): never creates a new entry.
func (idx *Index[K, V]) Update(key K, value V) (updated bool) {
	seg := idx.locate(key)
	if seg == nil {
		return false
	}
	return seg.Update(key, value)
}

// Remove implements spec §6's remove(k).
func (idx *Index[K, V]) Remove(key K) (removed bool) {
	seg := idx.locate(key)
	if seg == nil {
		return false
	}
	return seg.Remove(key)
}

// RangeScan implements spec §4.5's range scan, extended with SPEC_FULL §4's
// resumable-cursor supplement: results are collected across segment slots,
// any expansion chain, and the ART spill buffer in ascending key order,
// starting at the smallest key >= start, until maxLen results have been
// collected or the index is exhausted. When the scan stops early because it
// hit maxLen, contOk is true and cont is the key to pass as the next call's
// start.
func (idx *Index[K, V]) RangeScan(start K, maxLen int) (results []KV[K, V], cont K, contOk bool) {
	if maxLen <= 0 {
		return nil, cont, false
	}

	idx.mu.RLock()
	segs := make([]*segment[K, V], len(idx.segments))
	starts := make([]K, len(idx.starts))
	for i, p := range idx.segments {
		segs[i] = p.Load()
	}
	copy(starts, idx.starts)
	idx.mu.RUnlock()

	if len(segs) == 0 {
		return nil, cont, false
	}

	i := sort.Search(len(starts), func(i int) bool { return starts[i] > start })
	i--
	if i < 0 {
		i = 0
	}

	for i < len(segs) {
		segEnd := ^K(0)
		if i+1 < len(starts) {
			segEnd = starts[i+1] - 1
		}

		want := maxLen - len(results)
		segResults, segCont, segContOk := segs[i].rangeScan(start, segEnd, max(want, 1))
		if want == 0 {
			// results is full: the first key found here is the cursor.
			if len(segResults) > 0 {
				return results, segResults[0].Key, true
			}
		} else {
			results = append(results, segResults...)
			if segContOk {
				return results, segCont, true
			}
		}

		i++
		if i < len(starts) {
			start = starts[i]
		}
	}

	return results, cont, false
}

// Len reports an approximate count of live keys: the sum of each live
// segment's occupied-slot count (including its expansion chain). It does
// not walk the ART spill buffer, so it undercounts by however many keys
// have overflowed into it — an O(segment count) diagnostic rather than an
// exact size, per SPEC_FULL §4's "approximate Index.Len" supplement.
func (idx *Index[K, V]) Len() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var n int64
	for _, p := range idx.segments {
		if seg := p.Load(); seg != nil {
			n += seg.approxCount()
		}
	}
	return n
}

// Close tears down the index's process-wide collaborators (the epoch
// manager's outstanding retire sets; spec §9's "construct once ... dismantle
// only at teardown"). Safe only once the caller guarantees no concurrent
// access remains. Errors from each teardown step are aggregated with
// go.uber.org/multierr rather than stopping at the first failure.
func (idx *Index[K, V]) Close() error {
	var err error
	err = multierr.Append(err, safeTeardown(idx.em.Close))

	idx.mu.Lock()
	idx.segments = nil
	idx.starts = nil
	idx.mu.Unlock()

	idx.log.Info("index closed", zap.Int("fastptr_len", idx.fp.Len()))
	return err
}

func safeTeardown(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("segart: panic during teardown: %v", r)
		}
	}()
	fn()
	return nil
}
