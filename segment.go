// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import (
	"slices"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gaissmai/segart/internal/art"
	"github.com/gaissmai/segart/internal/bitset"
	"github.com/gaissmai/segart/internal/keycodec"
	"github.com/gaissmai/segart/internal/olock"
)

// slot is one cell of a segment's array (spec §3's Item): at most one
// (key, value) pair plus the version word shared by both Items and ART
// nodes (internal/olock), locked at slot granularity per spec §5. Unlike
// ART nodes, a slot never sets the version word's type-tag bits — there is
// only one slot "kind".
type slot[K keycodec.Uint, V any] struct {
	olock.Word
	key   K
	value V
}

// segment is one piecewise-linear partition of the sorted key domain (spec
// §3's Segment). Occupancy is tracked solely by presence: the spec's own
// Design Notes (§9, "Slot tombstone ambiguity") call the dual bitmap+key==0
// encoding a source of bugs and recommend a single source of truth; this
// implementation takes that recommendation and uses the presence bitmap
// alone, dropping the key==0 tombstone convention entirely (see DESIGN.md).
type segment[K keycodec.Uint, V any] struct {
	plan segmentPlan[K]

	slots    []slot[K, V]
	presence *bitset.BitSet

	numInserts atomic.Int64
	fpIndex    atomic.Int64

	// expansion is non-nil once this segment starts the Stable->Expanding
	// transition (spec §9's two-phase state machine); see expansion.go.
	expansion           atomic.Pointer[segment[K, V]]
	allocatingExpansion atomic.Bool
	draining            atomic.Bool

	tree *art.Tree[K, V]
	opts *Options
	log  *zap.Logger

	// owner lets the Stable->Expanding->Drained state machine (expansion.go)
	// reach back into the index to publish a drained expansion in place of
	// this segment and, for the trailing segment, append a sentinel. Nil in
	// standalone tests that construct a segment without an owning Index.
	owner *Index[K, V]
}

func newSegment[K keycodec.Uint, V any](plan segmentPlan[K], fpIndex int, tree *art.Tree[K, V], opts *Options) *segment[K, V] {
	s := &segment[K, V]{
		plan:     plan,
		slots:    make([]slot[K, V], plan.numItems),
		presence: bitset.New(plan.numItems),
		tree:     tree,
		opts:     opts,
		log:      opts.Logger,
	}
	s.presence.SetAll(plan.numItems) // spec §3: 1 = empty
	s.fpIndex.Store(int64(fpIndex))
	return s
}

// Insert implements spec §4.3's insert cascade. A slot occupied by a
// different key falls through to the ART spill buffer; a slot already
// holding this exact key is overwritten in place rather than spilling — a
// case the original §4.3 text doesn't spell out explicitly, but which S3's
// duplicate-handling scenario and testable property 2 both require:
// otherwise Insert(k, v') on an already-occupied slot would silently create
// a second, ART-resident copy of k that Find would never reach.
func (s *segment[K, V]) Insert(key K, value V) (existed bool) {
	if exp := s.expansion.Load(); exp != nil {
		existed = exp.Insert(key, value)
		s.logInsert(existed)
		return existed
	}

	idx := s.plan.predict(key)
	sl := &s.slots[idx]

	for {
		version, err := sl.ReadLockOrRestart()
		if err != nil {
			continue
		}

		if s.presence.Test(idx) {
			if err := sl.UpgradeToWriteLockOrRestart(version); err != nil {
				continue
			}
			sl.key, sl.value = key, value
			s.presence.Clear(idx)
			sl.WriteUnlock()
			existed = false
			break
		}

		if sl.key == key {
			if err := sl.UpgradeToWriteLockOrRestart(version); err != nil {
				continue
			}
			sl.value = value
			sl.WriteUnlock()
			existed = true
			break
		}

		if sl.CheckOrRestart(version) != nil {
			continue
		}
		s.log.Debug("segment slot collision, spilling to ART", zap.Uint64("key", uint64(key)))
		existed = s.tree.Insert(key, value)
		break
	}

	s.afterInsert()
	return existed
}

func (s *segment[K, V]) logInsert(existed bool) {
	s.log.Debug("insert routed to expansion", zap.Bool("existed", existed))
}

// afterInsert implements spec §4.3 step 7 and §4.4's trigger conditions.
func (s *segment[K, V]) afterInsert() {
	n := s.numInserts.Add(1)
	items := int64(s.plan.numItems)

	if n > items && s.expansion.Load() == nil {
		s.maybeInstallExpansion()
	}
	if n > 2*items {
		s.maybeEagerDrain()
	}
}

// Find implements spec §4.3's find cascade.
func (s *segment[K, V]) Find(key K) (value V, found bool) {
	idx := s.plan.predict(key)
	sl := &s.slots[idx]

	for {
		version, err := sl.ReadLockOrRestart()
		if err != nil {
			continue
		}

		if s.presence.Test(idx) {
			if exp := s.expansion.Load(); exp != nil {
				return exp.Find(key)
			}
			if sl.CheckOrRestart(version) != nil {
				continue
			}
			// An empty slot does not rule out an ART-resident key: Remove
			// empties a slot whose colliders stay in the tree, and keys
			// spilled before an expansion existed are not in its slots.
			return s.tree.Get(int(s.fpIndex.Load()), key)
		}

		if sl.key == key {
			value = sl.value
			if sl.CheckOrRestart(version) != nil {
				continue
			}
			return value, true
		}

		if exp := s.expansion.Load(); exp != nil {
			if sl.CheckOrRestart(version) != nil {
				continue
			}
			return exp.Find(key)
		}

		if sl.CheckOrRestart(version) != nil {
			continue
		}
		s.log.Debug("segment lookup falling through to ART", zap.Uint64("key", uint64(key)))
		return s.tree.Get(int(s.fpIndex.Load()), key)
	}
}

// Update implements spec §4.3's update cascade. Unlike Insert, it never
// creates a new entry: a miss that reaches the ART layer is resolved via a
// Get-then-Insert pair rather than a plain Insert, so a key absent from
// every layer correctly reports updated=false instead of being created.
func (s *segment[K, V]) Update(key K, value V) (updated bool) {
	idx := s.plan.predict(key)
	sl := &s.slots[idx]

	for {
		version, err := sl.ReadLockOrRestart()
		if err != nil {
			continue
		}

		if !s.presence.Test(idx) && sl.key == key {
			if err := sl.UpgradeToWriteLockOrRestart(version); err != nil {
				continue
			}
			sl.value = value
			sl.WriteUnlock()
			return true
		}

		if exp := s.expansion.Load(); exp != nil {
			if sl.CheckOrRestart(version) != nil {
				continue
			}
			return exp.Update(key, value)
		}

		if sl.CheckOrRestart(version) != nil {
			continue
		}
		return s.updateInTree(key, value)
	}
}

func (s *segment[K, V]) updateInTree(key K, value V) bool {
	if _, found := s.tree.Get(int(s.fpIndex.Load()), key); !found {
		return false
	}
	s.tree.Insert(key, value)
	return true
}

// Remove implements spec §4.3's remove cascade, extended to also check for
// an installed expansion (the original text omits this, but a remove that
// skipped the expansion would be unable to delete a key that only ever
// landed there after expansion was published).
func (s *segment[K, V]) Remove(key K) (removed bool) {
	idx := s.plan.predict(key)
	sl := &s.slots[idx]

	for {
		version, err := sl.ReadLockOrRestart()
		if err != nil {
			continue
		}

		if !s.presence.Test(idx) && sl.key == key {
			if err := sl.UpgradeToWriteLockOrRestart(version); err != nil {
				continue
			}
			var zero V
			sl.value = zero
			s.presence.Set(idx)
			sl.WriteUnlock()
			return true
		}

		if exp := s.expansion.Load(); exp != nil {
			if sl.CheckOrRestart(version) != nil {
				continue
			}
			return exp.Remove(key)
		}

		if sl.CheckOrRestart(version) != nil {
			continue
		}
		return s.tree.Delete(key)
	}
}

// rangeScan collects this segment's contribution to an Index.RangeScan:
// its own occupied slots, its expansion chain (if any), and the ART spill
// buffer (scanned from the tree root), all restricted to [start, end] and
// merged in ascending key order with duplicate keys dropped. This is necessarily an approximation of a true
// snapshot scan (spec §5: "range scans are not snapshot-consistent"): the
// slot pass and the tree pass are not taken atomically with respect to
// each other.
func (s *segment[K, V]) rangeScan(start, end K, limit int) (results []KV[K, V], cont K, contOk bool) {
	var out []KV[K, V]

	for idx := range s.slots {
		sl := &s.slots[idx]

		version, err := sl.ReadLockOrRestart()
		if err != nil {
			continue
		}
		if s.presence.Test(idx) {
			continue
		}
		key, value := sl.key, sl.value
		if sl.CheckOrRestart(version) != nil {
			continue
		}
		if key >= start && key <= end {
			out = append(out, KV[K, V]{Key: key, Value: value})
		}
	}

	// limit+1 from each source, so a key past limit is seen as the cursor.
	treeResults, _, _ := s.tree.Scan(start, end, limit+1)
	for _, p := range treeResults {
		out = append(out, KV[K, V]{Key: p.Key, Value: p.Value})
	}

	if exp := s.expansion.Load(); exp != nil {
		expResults, _, _ := exp.rangeScan(start, end, limit+1)
		out = append(out, expResults...)
	}

	// The expansion rescans the shared tree and a drain copies slots
	// forward, so a key can arrive twice; the first (this segment's) wins.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	out = slices.CompactFunc(out, func(a, b KV[K, V]) bool { return a.Key == b.Key })

	if len(out) > limit {
		return out[:limit], out[limit].Key, true
	}
	return out, cont, false
}

// approxCount is Index.Len's per-segment contribution: occupied slots in
// this segment plus its expansion chain. It does not account for keys that
// spilled into the ART buffer.
func (s *segment[K, V]) approxCount() int64 {
	n := int64(s.plan.numItems - s.presence.Count())
	if exp := s.expansion.Load(); exp != nil {
		n += exp.approxCount()
	}
	return n
}

// SegmentStats is the read-only diagnostic surface from SPEC_FULL §4's
// "Per-segment statistics", mirroring the instrumentation counters the
// original C++ implementation used to decide when retraining pays off.
// segart never consults these internally, and no exported method returns
// them: Stats is a method of the unexported segment type.
type SegmentStats struct {
	NumInserts     int64
	SlotLoadFactor float64
	ExpansionDepth int
}

func (s *segment[K, V]) Stats() SegmentStats {
	occupied := s.plan.numItems - s.presence.Count()

	depth := 0
	for cur := s.expansion.Load(); cur != nil; cur = cur.expansion.Load() {
		depth++
	}

	return SegmentStats{
		NumInserts:     s.numInserts.Load(),
		SlotLoadFactor: float64(occupied) / float64(s.plan.numItems),
		ExpansionDepth: depth,
	}
}
