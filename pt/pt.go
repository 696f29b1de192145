// Package pt is the public entry point for reconstructing edge coverage
// from Intel Processor Trace. Decoder wraps the internal packet/walk state
// machine the same way ptm.Decoder wraps CoreSight decoding: a plain
// struct, configured directly through Config, with Coverage as the single
// operation that matters.
package pt

import (
	"context"

	"ptcov/common"
	"ptcov/internal/cpuid"
	"ptcov/internal/image"
	"ptcov/internal/ptengine"
)

// Image is one binary region of the traced program's address space, as it
// appeared at runtime.
type Image = image.Image

// CPU identifies the traced processor for errata lookups. A nil *CPU in
// Config disables errata consultation entirely.
type CPU = cpuid.CPU

// Vendor and its values let callers build a CPU without importing the
// internal cpuid package.
type Vendor = cpuid.Vendor

const (
	VendorUnknown = cpuid.VendorUnknown
	VendorIntel   = cpuid.VendorIntel
)

// CoverageMap is the accumulator Coverage records edges into: "how many
// buckets" plus "add one at index i". Uint32Coverage satisfies it for the
// common case of a flat bucket slice.
type CoverageMap = ptengine.CoverageMap

// Metrics is the observability seam Coverage calls into; see ptmetrics for
// a Prometheus-backed implementation. A nil Metrics in Config disables
// metrics entirely.
type Metrics = ptengine.Metrics

// Uint32Coverage adapts a flat []uint32 bucket slice to CoverageMap, the
// simplest coverage representation: one saturating-free counter per edge
// bucket.
type Uint32Coverage []uint32

func (c Uint32Coverage) Len() int       { return len(c) }
func (c Uint32Coverage) Add(bucket int) { c[bucket]++ }

// Config configures a Decoder. Images is the only field most callers need
// to set; everything else defaults to off.
type Config struct {
	// CPU enables errata-aware PSB+ recovery when set.
	CPU *CPU
	// FilterVMXNonRoot restricts coverage recording to spans where the
	// most recent PIP packet indicated a VMX non-root guest.
	FilterVMXNonRoot bool
	// IgnoreCoverageUntil suppresses coverage recording until the packet
	// cursor has advanced past this byte offset into the trace.
	IgnoreCoverageUntil int
	// Images backs every instruction walk. Required for any trace that
	// reaches a decision point.
	Images []Image
	// Logger receives debug/warning output; defaults to a no-op.
	Logger common.Logger
	// Metrics receives packet/walk/cache/coverage counters; defaults to
	// disabled.
	Metrics Metrics
	// ReturnCompression enables the optional mode where near-returns are
	// resolved by a TNT bit against a shadow return-address stack
	// instead of a deferred TIP.
	ReturnCompression bool
}

// Decoder reconstructs edge coverage from Intel PT traces against a fixed
// image set. Not safe for concurrent use: build one Decoder per goroutine,
// mirroring ptm.Decoder's single-owner model. Independent Decoders over
// disjoint (trace, coverage) pairs share no state.
type Decoder struct {
	engine *ptengine.Engine
}

// NewDecoder builds a Decoder from cfg.
func NewDecoder(cfg Config) *Decoder {
	images := image.NewSet(cfg.Images...)
	return &Decoder{engine: ptengine.New(ptengine.Config{
		CPU:                 cfg.CPU,
		FilterVMXNonRoot:    cfg.FilterVMXNonRoot,
		IgnoreCoverageUntil: cfg.IgnoreCoverageUntil,
		Images:              images,
		Logger:              cfg.Logger,
		Metrics:             cfg.Metrics,
		ReturnCompression:   cfg.ReturnCompression,
	})}
}

// NewDecoderWithLogger builds a Decoder from cfg, overriding cfg.Logger
// with logger, mirroring ptm.NewDecoderWithLogger's convenience
// constructor pair.
func NewDecoderWithLogger(cfg Config, logger common.Logger) *Decoder {
	cfg.Logger = logger
	return NewDecoder(cfg)
}

// Coverage decodes trace packet-by-packet, single-stepping through Images
// as needed, and accumulates edge coverage into cov until the trace is
// exhausted, ctx is cancelled, or an unrecoverable *pterr.Error occurs.
func (d *Decoder) Coverage(ctx context.Context, trace []byte, cov CoverageMap) error {
	return d.engine.Coverage(ctx, trace, cov)
}

// LastSyncPosition reports the byte offset of the most recently decoded
// Psb packet, so a caller recovering from an error can re-synchronize a
// retry there instead of from the start of the buffer.
func (d *Decoder) LastSyncPosition() int {
	return d.engine.LastSyncPosition()
}
