// Package ptengine implements the joint packet/instruction-walk state
// machine: the reconstruction engine that turns an Intel PT packet stream
// plus a set of binary images into edge-level coverage. See walk.go for the
// synchronous instruction walk, dispatch.go for the per-packet handlers,
// and psbplus.go for PSB+ resynchronization recovery.
package ptengine

import (
	"context"

	"ptcov/common"
	"ptcov/internal/bitmix"
	"ptcov/internal/cpuid"
	"ptcov/internal/image"
	"ptcov/internal/ptpacket"
	"ptcov/pterr"
)

// CoverageMap is the caller-provided accumulator the engine records edges
// into. The engine only ever needs "how many buckets" and "add one at
// index i" - any integer-backed counter slice can satisfy this.
type CoverageMap interface {
	Len() int
	Add(bucket int)
}

// Config configures an Engine; see pt.Config and pt.NewDecoder for the
// public-facing constructor that callers outside this module actually use.
type Config struct {
	CPU                 *cpuid.CPU
	FilterVMXNonRoot    bool
	IgnoreCoverageUntil int
	Images              *image.Set
	Logger              common.Logger
	Metrics             Metrics
	ReturnCompression   bool
}

// Engine owns the execution state and drives the packet/walk state
// machine for a single trace. It is not safe for concurrent use, but
// independent Engines over disjoint (trace, coverage) pairs share no
// mutable state (§5).
type Engine struct {
	cfg     Config
	logger  common.Logger
	metrics Metrics

	state executionState
	cache map[uint64]cacheEntry

	dec *ptpacket.Decoder
	cov CoverageMap
}

// New builds an Engine from cfg, defaulting Logger to a no-op and Metrics
// to NoopMetrics when unset.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = common.NewNoOpLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NoopMetrics
	}
	return &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		state:   newExecutionState(),
		cache:   make(map[uint64]cacheEntry),
	}
}

// pos reports the packet cursor's current byte offset, for error context;
// zero before a Coverage() call has started.
func (e *Engine) pos() int {
	if e.dec == nil {
		return 0
	}
	return e.dec.Position()
}

// LastSyncPosition reports where the most recently decoded Psb packet
// started, so a caller recovering from an error can resynchronize there.
func (e *Engine) LastSyncPosition() int {
	if e.dec == nil {
		return 0
	}
	return e.dec.LastSyncPosition()
}

// Coverage decodes trace packet-by-packet, single-stepping through images
// as needed, and accumulates edge coverage into cov until the trace is
// exhausted (a clean Eof), ctx is cancelled, or an unrecoverable error
// occurs.
func (e *Engine) Coverage(ctx context.Context, trace []byte, cov CoverageMap) error {
	if cov == nil || cov.Len() == 0 {
		return pterr.New(pterr.InvalidArgument, 0, "coverage map must be non-empty")
	}
	if e.cfg.Images == nil {
		return pterr.New(pterr.InvalidArgument, 0, "no images configured")
	}

	dec, err := ptpacket.NewDecoder(trace)
	if err != nil {
		return err
	}
	e.dec = dec
	e.cov = cov
	e.state = newExecutionState()
	e.cache = make(map[uint64]cacheEntry)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.step(); err != nil {
			if pterr.IsKind(err, pterr.Eof) {
				return nil
			}
			if pe, ok := err.(*pterr.Error); ok {
				e.metrics.Error(pe.Kind.String())
			}
			return err
		}
	}
}

// addCoverageEntry records an edge (state.ip -> to) if coverage is
// currently being saved and the packet cursor has advanced past the
// configured warm-up cutoff.
func (e *Engine) addCoverageEntry(to uint64) {
	if !e.state.saveCoverage {
		return
	}
	if e.pos() < e.cfg.IgnoreCoverageUntil {
		return
	}
	bucket := bitmix.EdgeBucket(e.state.ip, to, e.cov.Len())
	e.cov.Add(bucket)
	e.metrics.CoverageEdge()
}
