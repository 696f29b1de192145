package ptengine

import (
	"golang.org/x/arch/x86/x86asm"

	"ptcov/internal/iclass"
	"ptcov/pterr"
)

// maxWalkSteps bounds a single walkUntil call, the same defensive shape the
// teacher's codefollower/ptm waypoint loops use: a malformed image or a
// decode bug must fail loudly rather than spin forever.
const maxWalkSteps = 4096

// stopKind is the closed set of reasons a synchronous instruction walk
// halts.
type stopKind int

const (
	stopCondBranch stopKind = iota
	stopIndirect
	stopFarIndirect
	stopReturn
	stopMovCr3
	stopUntilIPReached
)

func (k stopKind) String() string {
	switch k {
	case stopCondBranch:
		return "CondBranch"
	case stopIndirect:
		return "Indirect"
	case stopFarIndirect:
		return "FarIndirect"
	case stopReturn:
		return "Return"
	case stopMovCr3:
		return "MovCr3"
	case stopUntilIPReached:
		return "UntilIPReached"
	default:
		return "Unknown"
	}
}

// stopReason is the outcome of a walkUntil call. to is only meaningful for
// stopCondBranch (the statically-known taken target).
type stopReason struct {
	kind stopKind
	to   uint64
	// instLen is the encoded length of the decision-point instruction
	// itself. Only a not-taken CondBranch needs it (to step past the
	// instruction the packet stream declined to take); every other
	// decision kind resolves by jumping, not falling through.
	instLen int
}

// cacheEntry is one memoized until-less walk, keyed in Engine.cache by the
// IP the walk started from. The key is the IP alone: CR3, VMCS and the
// addressing mode are not part of it, and a Pip or Vmcs packet does not
// flush it. The cache is reset only at PSB+ recovery and at the start of
// each Coverage call, and callers have no way to disable or flush it.
type cacheEntry struct {
	nextIP uint64
	reason stopReason
}

// walkUntil single-steps the instruction decoder starting at state.ip,
// positioned against whichever image contains it, until either stopIP is
// reached (if non-nil) or a decision point is hit that the packet stream
// must resolve. It never advances past the decision-point instruction: the
// caller resumes exactly there once it has consumed whatever packet the
// decision needs.
func (e *Engine) walkUntil(stopIP *uint64) (stopReason, error) {
	if !e.state.packetEn {
		return stopReason{}, pterr.New(pterr.IncoherentState, e.pos(), "walk requested while packetEn is false")
	}

	if stopIP == nil {
		if entry, ok := e.cache[e.state.ip]; ok {
			e.metrics.CacheHit()
			e.state.ip = entry.nextIP
			return entry.reason, nil
		}
		e.metrics.CacheMiss()
	}

	from := e.state.ip
	img, ok := e.cfg.Images.Find(e.state.ip)
	if !ok {
		return stopReason{}, pterr.NewMissingImage(e.pos(), e.state.ip)
	}

	mode := addrModeBits(e.state.modeExec.AddrMode)

	for step := 0; ; step++ {
		if step >= maxWalkSteps {
			return stopReason{}, pterr.New(pterr.MalformedInstruction, e.pos(), "walk exceeded step bound")
		}
		if stopIP != nil && e.state.ip == *stopIP {
			return stopReason{kind: stopUntilIPReached}, nil
		}

		if !img.Contains(e.state.ip) {
			var found bool
			img, found = e.cfg.Images.Find(e.state.ip)
			if !found {
				return stopReason{}, pterr.NewMissingImage(e.pos(), e.state.ip)
			}
		}

		off := e.state.ip - img.BaseVA
		if off >= uint64(len(img.Bytes)) {
			return stopReason{}, pterr.NewMissingImage(e.pos(), e.state.ip)
		}

		inst, err := x86asm.Decode(img.Bytes[off:], mode)
		if err != nil {
			return stopReason{}, pterr.Wrap(pterr.MalformedInstruction, e.pos(), err, "x86asm.Decode failed")
		}
		e.metrics.WalkStep()

		class := iclass.Classify(inst)
		switch class {
		case iclass.Other:
			e.state.ip += uint64(inst.Len)
			continue
		case iclass.JumpDirect, iclass.CallDirect:
			target, ok := iclass.BranchTarget(inst, e.state.ip)
			if !ok {
				return stopReason{}, pterr.New(pterr.MalformedInstruction, e.pos(), "direct branch missing target")
			}
			e.state.ip = target
			continue
		case iclass.CondBranch:
			target, ok := iclass.BranchTarget(inst, e.state.ip)
			if !ok {
				return stopReason{}, pterr.New(pterr.MalformedInstruction, e.pos(), "conditional branch missing target")
			}
			return e.cacheAndReturn(from, stopIP, stopReason{kind: stopCondBranch, to: target, instLen: inst.Len})
		case iclass.Return:
			return e.cacheAndReturn(from, stopIP, stopReason{kind: stopReturn, instLen: inst.Len})
		case iclass.JumpIndirect, iclass.CallIndirect:
			return e.cacheAndReturn(from, stopIP, stopReason{kind: stopIndirect, instLen: inst.Len})
		case iclass.FarCall, iclass.FarJump, iclass.FarReturn:
			return e.cacheAndReturn(from, stopIP, stopReason{kind: stopFarIndirect, instLen: inst.Len})
		case iclass.MovCr3:
			return e.cacheAndReturn(from, stopIP, stopReason{kind: stopMovCr3, instLen: inst.Len})
		default:
			return stopReason{}, pterr.New(pterr.MalformedInstruction, e.pos(), "unclassified instruction")
		}
	}
}

// cacheAndReturn memoizes (from -> state.ip, reason) when the walk was
// unconditional (stopIP == nil), per §4.8: the cache is only sound for
// until-less walks, since an until-bounded walk's outcome depends on the
// caller-supplied stop address.
func (e *Engine) cacheAndReturn(from uint64, stopIP *uint64, reason stopReason) (stopReason, error) {
	if stopIP == nil {
		e.cache[from] = cacheEntry{nextIP: e.state.ip, reason: reason}
	}
	return reason, nil
}
