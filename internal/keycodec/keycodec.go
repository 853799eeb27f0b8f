// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package keycodec provides the big-endian byte encoding for fixed-width
// unsigned integer keys, the collaborator spec §6 calls "a byte-reversal
// primitive on keys so that integer order equals lexicographic byte order
// inside ART". Grounded on TomTonic-multimap's Key constructors
// (FromUint64/FromUint32), which use the same big-endian-for-order-preserving
// trick, minus their cross-width offset (this index never mixes key widths:
// K is fixed at construction, and is unsigned so no sign offset is needed).
package keycodec

import (
	"encoding/binary"
	"unsafe"
)

// Uint is the set of fixed-width unsigned integers the index accepts as
// keys, per spec §3: "the design assumes 32 or 64 bits".
type Uint interface {
	~uint32 | ~uint64
}

// Len returns sizeof(K) in bytes: 4 or 8.
func Len[K Uint]() int {
	var k K
	return int(unsafe.Sizeof(k))
}

// Encode writes k into buf[:Len[K]()] in big-endian order, so that
// byte-wise lexicographic comparison of the encoded form agrees with K's
// natural numeric ordering. buf must have length >= Len[K]().
func Encode[K Uint](buf []byte, k K) {
	if unsafe.Sizeof(k) == 4 {
		binary.BigEndian.PutUint32(buf, uint32(k))
		return
	}
	binary.BigEndian.PutUint64(buf, uint64(k))
}

// Decode reads a big-endian key of width Len[K]() back out of buf.
func Decode[K Uint](buf []byte) K {
	var k K
	if unsafe.Sizeof(k) == 4 {
		return K(binary.BigEndian.Uint32(buf))
	}
	return K(binary.BigEndian.Uint64(buf))
}

// Bytes is a convenience wrapper returning a freshly allocated encoding.
func Bytes[K Uint](k K) []byte {
	buf := make([]byte, Len[K]())
	Encode(buf, k)
	return buf
}
