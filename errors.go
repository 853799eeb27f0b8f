// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation is the sentinel wrapped by every *InvariantError.
// Callers that only care whether bulk-load input was well-formed can test
// for it with errors.Is rather than type-asserting *InvariantError.
//
// Of the three error kinds in the failure model, only this one is ever a
// real Go error value: a version-mismatch restart is an internal control
// path (never surfaced), and a missed lookup is reported as a boolean
// result, not an error.
var ErrInvariantViolation = errors.New("segart: invariant violation")

// InvariantError reports a hard assertion failure during bulk-load: the
// input was not strictly increasing by key. It wraps ErrInvariantViolation
// so callers can match on the sentinel while still recovering the
// offending key and its position for diagnostics.
type InvariantError struct {
	Key      uint64 // the offending key, widened for both K=uint32 and K=uint64
	Position int    // index into the input slice where the violation was detected
	Reason   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("segart: %s at position %d (key %d)", e.Reason, e.Position, e.Key)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

func newNonMonotoneError(key uint64, pos int) *InvariantError {
	return &InvariantError{Key: key, Position: pos, Reason: "bulk-load input is not strictly increasing"}
}
