package ptengine

import (
	"ptcov/internal/ptpacket"
	"ptcov/pterr"
)

// recoverPsbPlus rebuilds execution state from scratch by reading the PSB+
// island that follows a Psb packet: an unordered run of status packets
// (Pip, Vmcs, ModeTsx, ModeExec, Fup), timing packets (Tsc, Mtc, Tma, Cyc),
// and a possible Ovf, terminated by PsbEnd. Any other packet inside the
// island is malformed - PSB+ only ever carries the decoder's current status
// and timing context, never trace events.
func (e *Engine) recoverPsbPlus() (executionState, error) {
	state := newExecutionState()

	for {
		pkt, err := e.dec.Next()
		if err != nil {
			return executionState{}, err
		}

		switch pkt.Kind {
		case ptpacket.KindPsbEnd:
			return state, nil
		case ptpacket.KindPip:
			state.pip = pkt
			if e.cfg.FilterVMXNonRoot {
				state.saveCoverage = pkt.NonRootVMX()
			}
		case ptpacket.KindVmcs:
			v := pkt
			state.vmcs = &v
		case ptpacket.KindModeTsx:
			state.modeTsx = pkt
		case ptpacket.KindModeExec:
			state.modeExec = pkt
		case ptpacket.KindFup:
			// BDM70: a PSB+ island on an affected CPU may incorrectly
			// include this Fup. No workaround is applied here beyond
			// recognizing the condition; see cpuid.Errata.BDM70.
			if e.cfg.CPU != nil {
				_ = e.cfg.CPU.Errata().BDM70
			}
			if ip, ok := pkt.IP(state.tipLastIP); ok {
				state.packetEn = true
				state.tipLastIP = ip
				state.ip = ip
			} else {
				state.packetEn = false
			}
		case ptpacket.KindTsc, ptpacket.KindMtc, ptpacket.KindTma, ptpacket.KindCyc:
			// Timing packets are recognized inside PSB+ but their value
			// extraction is a future task, per SPEC_FULL.md §4.6 - the
			// engine has no timestamp model yet.
		case ptpacket.KindOvf:
			// An Ovf straddling a PSB+ island indicates the upstream
			// trace had an overflow during resynchronization; handling
			// it is a future task, per SPEC_FULL.md §4.6.
		default:
			return executionState{}, pterr.New(pterr.MalformedPsbPlus, e.pos(), "unexpected "+pkt.Kind.String()+" inside PSB+")
		}
	}
}
