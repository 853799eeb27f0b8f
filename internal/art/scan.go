// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package art

import (
	"bytes"

	"github.com/gaissmai/segart/internal/keycodec"
)

// Pair is one (key, value) result of a Scan.
type Pair[K keycodec.Uint, V any] struct {
	Key   K
	Value V
}

// Scan collects up to limit key/value pairs in [start, end] in ascending
// key order, per spec §4.5's "Range scan": descend recording the split
// point where start and end first diverge, then enumerate children below
// it in order, collecting leaves until the limit is reached. A partial
// result pages by returning the first leaf not returned as a continuation
// key, per SPEC_FULL §4's resumable-cursor supplement; contOk is false once
// the scan reaches end without hitting limit.
func (t *Tree[K, V]) Scan(start, end K, limit int) (results []Pair[K, V], cont K, contOk bool) {
	ti := t.enter()
	defer t.exit(ti)

	for {
		results, cont, contOk, restart := t.tryScan(start, end, limit)
		if restart {
			continue
		}
		return results, cont, contOk
	}
}

func (t *Tree[K, V]) tryScan(start, end K, limit int) (results []Pair[K, V], cont K, contOk bool, restart bool) {
	startBytes := t.encode(start)
	endBytes := t.encode(end)

	splitNode := t.root()
	level := splitNode.matchLevel
	splitVersion, err := splitNode.ReadLockOrRestart()
	if err != nil {
		return nil, cont, false, true
	}

	for {
		matched, _ := splitNode.matchPrefix(startBytes, level, func() []byte { return firstDescendantKeyBytes(splitNode) })
		if matched != splitNode.prefixLen {
			break
		}
		level += matched
		if splitNode.kind == kindLeaf || level >= len(startBytes) {
			break
		}

		bs, be := startBytes[level], endBytes[level]
		if bs != be {
			// start and end diverge at this depth: splitNode is the
			// lowest node whose subtree can contain the whole range.
			break
		}

		child := splitNode.findChild(bs)
		if child == nil {
			break
		}
		childVersion, err := child.ReadLockOrRestart()
		if err != nil {
			return nil, cont, false, true
		}
		if splitNode.CheckOrRestart(splitVersion) != nil {
			return nil, cont, false, true
		}
		splitNode, splitVersion = child, childVersion
		level++
	}

	var out []Pair[K, V]
	stopped := false
	var stopKey K

	var walk func(n *node[K, V], nVersion uint64) bool
	walk = func(n *node[K, V], nVersion uint64) bool {
		if n.kind == kindLeaf {
			kb := keycodec.Bytes(n.leafKey)
			if bytes.Compare(kb, startBytes) >= 0 && bytes.Compare(kb, endBytes) <= 0 {
				if len(out) >= limit {
					stopped = true
					stopKey = n.leafKey
					return false
				}
				out = append(out, Pair[K, V]{Key: n.leafKey, Value: n.leafValue})
			}
			return n.CheckOrRestart(nVersion) == nil
		}

		ok := true
		n.eachChild(func(b byte, child *node[K, V]) {
			if !ok || stopped {
				return
			}
			cv, err := child.ReadLockOrRestart()
			if err != nil {
				ok = false
				return
			}
			if !walk(child, cv) && !stopped {
				ok = false
			}
		})
		if !ok {
			return false
		}
		return n.CheckOrRestart(nVersion) == nil
	}

	ok := walk(splitNode, splitVersion)
	if !ok && !stopped {
		return nil, cont, false, true
	}
	if stopped {
		return out, stopKey, true, false
	}
	return out, cont, false, false
}
