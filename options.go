// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package segart

import "go.uber.org/zap"

// Default tunables, per spec §4.1 and §4.4.
const (
	// DefaultGrowthFactor is g, the multiplier an expansion applies to its
	// parent's num_items and model slope (spec §4.4's doubling). Bulk-loaded
	// segments are sized to exactly their key count; g is not applied there.
	DefaultGrowthFactor = 2.0

	// DefaultFastPointerCapacity is the default Options.FastPointerCapacity.
	// The fast-pointer buffer does not read it: internal/fastptr.Buffer
	// starts empty and grows one entry at a time.
	DefaultFastPointerCapacity = 1024

	// autoEpsilon signals Options.Epsilon to use spec §4.1's
	// ε = ⌈n/1000⌉ default rather than an explicit caller-supplied bound.
	autoEpsilon = 0
)

// Options configures a New index. The zero value is not ready to use;
// construct with Default() and layer With... functions on top, mirroring
// iamNilotpal-ignite's pkg/options: an exported struct plus functional
// setters, rather than bart's option-free zero-value API — this index has
// real tunables the zero-value approach can't express.
type Options struct {
	// Epsilon is the segmenter's error bound (spec §4.1). Zero means "use
	// ⌈n/1000⌉ at bulk-load time", the spec's default; a positive value
	// overrides it for every BulkLoad call on the resulting index.
	Epsilon int

	// GrowthFactor is g: an expansion's capacity is GrowthFactor times its
	// parent's num_items (spec §4.4: "capacity = 2 · num_items").
	GrowthFactor float64

	// FastPointerCapacity is stored but not consulted: New builds the
	// fast-pointer buffer empty whatever this holds, and the buffer grows
	// as entries are added.
	FastPointerCapacity int

	// Logger receives structured diagnostic events (bulk load, segment
	// expansion, drain and sentinel append, ART fall-through, epoch
	// advance, close); the ART tree is handed it but logs nothing. Nil
	// means a no-op
	// logger (zap.NewNop()), per spec §1's "packaging, telemetry, logging"
	// being out of the core's scope but still carried as ambient stack.
	Logger *zap.Logger
}

// Default returns the baseline Options every New index starts from.
func Default() Options {
	return Options{
		Epsilon:             autoEpsilon,
		GrowthFactor:        DefaultGrowthFactor,
		FastPointerCapacity: DefaultFastPointerCapacity,
		Logger:              nil,
	}
}

// Option mutates an Options value under construction.
type Option func(*Options)

// WithEpsilon overrides the segmenter's error bound. Non-positive values
// are ignored, falling back to the ⌈n/1000⌉ default at bulk-load.
func WithEpsilon(epsilon int) Option {
	return func(o *Options) {
		if epsilon > 0 {
			o.Epsilon = epsilon
		}
	}
}

// WithGrowthFactor overrides g, the expansion capacity multiplier. Values
// at or below 1.0 are ignored: an expansion that isn't strictly larger than
// its parent can never drain it.
func WithGrowthFactor(g float64) Option {
	return func(o *Options) {
		if g > 1.0 {
			o.GrowthFactor = g
		}
	}
}

// WithFastPointerCapacity sets Options.FastPointerCapacity, which the
// fast-pointer buffer does not consult. Non-positive values are ignored.
func WithFastPointerCapacity(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.FastPointerCapacity = n
		}
	}
}

// WithLogger attaches a structured logger. A nil logger is ignored (the
// default nop logger is kept).
func WithLogger(log *zap.Logger) Option {
	return func(o *Options) {
		if log != nil {
			o.Logger = log
		}
	}
}

func buildOptions(opts ...Option) Options {
	o := Default()
	for _, apply := range opts {
		apply(&o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}
