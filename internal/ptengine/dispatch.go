package ptengine

import (
	"ptcov/internal/ptpacket"
	"ptcov/pterr"
)

// step consumes exactly one top-level packet and dispatches it, possibly
// consuming further packets itself (compound Fup, deferred TIP after a TNT
// indirect, Ovf lookahead, PSB+ recovery). Returns the packet decoder's
// Eof error, unwrapped, when the trace is exhausted.
func (e *Engine) step() error {
	pkt, err := e.dec.Next()
	if err != nil {
		return err
	}
	e.metrics.PacketProcessed(pkt.Kind.String())

	switch pkt.Kind {
	case ptpacket.KindTntShort, ptpacket.KindTntLong:
		return e.handleTNT(pkt.TNT())
	case ptpacket.KindTip:
		return e.handleTip(pkt)
	case ptpacket.KindTipPge:
		return e.handleTipPge(pkt)
	case ptpacket.KindTipPgd:
		return e.handleTipPgd(pkt)
	case ptpacket.KindFup:
		return e.handleFup(pkt)
	case ptpacket.KindPip:
		return e.handlePip(pkt)
	case ptpacket.KindModeExec:
		return e.handleModeExec(pkt)
	case ptpacket.KindModeTsx:
		return e.handleModeTsx(pkt)
	case ptpacket.KindOvf:
		return e.handleOvf()
	case ptpacket.KindPsb:
		return e.handlePsb()
	case ptpacket.KindPsbEnd:
		return pterr.InvalidSequence(e.pos(), pkt.Kind.String())
	case ptpacket.KindTraceStop, ptpacket.KindVmcs:
		e.logger.Debug("recognized but not yet acted upon: " + pkt.Kind.String())
		return nil
	default:
		// Tsc, Mtc, Tma, Cyc, Ptw, Pwre/Pwrx/Exstop/Mwait,
		// Bbp/Bep/Cfe/Evd, Mnt, Trig - recognized and ignored.
		e.logger.Debug("ignored: " + pkt.Kind.String())
		return nil
	}
}

// handleTNT iterates a TNT bitvector's taken/not-taken outcomes. Each bit
// resolves exactly one CondBranch (or, with return compression, one
// Return) decision point; an Indirect/FarIndirect/Return-without-the-
// feature decision point consumes a deferred Tip instead, without
// advancing the iterator.
func (e *Engine) handleTNT(it ptpacket.TNTIterator) error {
	for {
		taken, ok := it.Next()
		if !ok {
			return nil
		}

		for {
			reason, err := e.walkUntil(nil)
			if err != nil {
				return err
			}

			switch reason.kind {
			case stopCondBranch:
				if taken {
					e.addCoverageEntry(reason.to)
					e.state.ip = reason.to
				} else {
					e.state.ip += uint64(reason.instLen)
				}
				goto nextBit

			case stopReturn:
				if !e.cfg.ReturnCompression {
					if err := e.deferredTip(); err != nil {
						return err
					}
					continue
				}
				if !taken {
					return pterr.New(pterr.MalformedPacket, e.pos(), "broken return compression")
				}
				n := len(e.state.retCompStack)
				if n == 0 {
					return pterr.New(pterr.IncoherentState, e.pos(), "return-compression stack empty")
				}
				to := e.state.retCompStack[n-1]
				e.state.retCompStack = e.state.retCompStack[:n-1]
				e.addCoverageEntry(to)
				e.state.ip = to
				goto nextBit

			case stopIndirect, stopFarIndirect:
				if err := e.deferredTip(); err != nil {
					return err
				}
				continue

			case stopMovCr3:
				return pterr.New(pterr.IncoherentImage, e.pos(), "MovCr3 during TNT region")

			default:
				return pterr.New(pterr.IncoherentState, e.pos(), "walkUntil(nil) returned UntilIPReached")
			}
		}
	nextBit:
	}
}

// deferredTip reads the packet immediately following an Indirect or
// FarIndirect decision point reached mid-TNT; it must be a Tip carrying a
// target address.
func (e *Engine) deferredTip() error {
	p, err := e.dec.Next()
	if err != nil {
		return err
	}
	if p.Kind != ptpacket.KindTip {
		return pterr.InvalidSequence(e.pos(), p.Kind.String())
	}
	ip, ok := p.IP(e.state.tipLastIP)
	if !ok {
		return pterr.New(pterr.MalformedPacket, e.pos(), "deferred Tip carries no target IP")
	}
	e.state.tipLastIP = ip
	e.addCoverageEntry(ip)
	e.state.ip = ip
	return nil
}

// handleTip applies a standalone Tip packet to the decision point reached
// by the instruction walk it immediately follows.
func (e *Engine) handleTip(pkt ptpacket.Packet) error {
	reason, err := e.walkUntil(nil)
	if err != nil {
		return err
	}
	switch reason.kind {
	case stopIndirect, stopFarIndirect, stopReturn:
		ip, ok := pkt.IP(e.state.tipLastIP)
		if !ok {
			return pterr.New(pterr.MalformedPacket, e.pos(), "Tip carries no target IP")
		}
		e.state.tipLastIP = ip
		e.addCoverageEntry(ip)
		e.state.ip = ip
		return nil
	default:
		return pterr.New(pterr.IncoherentImage, e.pos(), "Tip at "+reason.kind.String()+" decision point")
	}
}

func (e *Engine) handleTipPge(pkt ptpacket.Packet) error {
	ip, ok := pkt.IP(e.state.tipLastIP)
	if !ok {
		return pterr.New(pterr.MalformedPacket, e.pos(), "TipPge carries no target IP")
	}
	e.state.tipLastIP = ip
	e.state.packetEn = true
	e.state.ip = ip
	return nil
}

func (e *Engine) handleTipPgd(pkt ptpacket.Packet) error {
	ip, ok := pkt.IP(e.state.tipLastIP)
	var err error
	if ok {
		e.state.tipLastIP = ip
		var reason stopReason
		reason, err = e.walkUntil(&ip)
		if err == nil && reason.kind == stopMovCr3 {
			err = pterr.New(pterr.IncoherentImage, e.pos(), "MovCr3 during TipPgd")
		}
	} else {
		var reason stopReason
		reason, err = e.walkUntil(nil)
		if err == nil && reason.kind == stopUntilIPReached {
			err = pterr.New(pterr.IncoherentState, e.pos(), "walkUntil(nil) returned UntilIPReached")
		}
	}
	e.state.packetEn = false
	return err
}

// handleFup applies a standalone Fup (walk to its IP, which must land
// exactly there) and then absorbs whatever follow-up packet(s) close out
// the asynchronous event it announced.
func (e *Engine) handleFup(pkt ptpacket.Packet) error {
	if err := e.standaloneFup(pkt); err != nil {
		return err
	}
	for {
		p, err := e.dec.Next()
		if err != nil {
			return err
		}
		switch p.Kind {
		case ptpacket.KindPip:
			e.applyAsyncPip(p)
			continue
		case ptpacket.KindVmcs, ptpacket.KindModeExec:
			e.logger.Debug("recognized but not yet acted upon inside compound Fup: " + p.Kind.String())
			continue
		case ptpacket.KindTip:
			ip, ok := p.IP(e.state.tipLastIP)
			if !ok {
				return pterr.InvalidSequence(e.pos(), pkt.Kind.String(), p.Kind.String())
			}
			e.state.tipLastIP = ip
			e.state.ip = ip
			return nil
		case ptpacket.KindTipPgd:
			e.state.packetEn = false
			if ip, ok := p.IP(e.state.tipLastIP); ok {
				e.state.tipLastIP = ip
				e.state.ip = ip
			}
			return nil
		default:
			return pterr.InvalidSequence(e.pos(), pkt.Kind.String(), p.Kind.String())
		}
	}
}

// standaloneFup decodes a Fup's IP and walks there; the walk must land
// exactly on it, since a Fup announces the instruction boundary at which
// an asynchronous event occurred, not a decision the trace resolved.
func (e *Engine) standaloneFup(pkt ptpacket.Packet) error {
	ip, ok := pkt.IP(e.state.tipLastIP)
	if !ok {
		return pterr.New(pterr.MalformedPacket, e.pos(), "Fup carries no target IP")
	}
	e.state.tipLastIP = ip
	reason, err := e.walkUntil(&ip)
	if err != nil {
		return err
	}
	if reason.kind != stopUntilIPReached {
		return pterr.New(pterr.IncoherentImage, e.pos(), "standalone Fup walk did not reach its IP")
	}
	return nil
}

func (e *Engine) applyAsyncPip(pkt ptpacket.Packet) {
	if e.cfg.FilterVMXNonRoot {
		e.state.saveCoverage = pkt.NonRootVMX()
	}
	e.state.pip = pkt
}

func (e *Engine) handlePip(pkt ptpacket.Packet) error {
	if e.state.packetEn {
		reason, err := e.walkUntil(nil)
		if err != nil {
			return err
		}
		switch reason.kind {
		case stopMovCr3, stopFarIndirect:
		default:
			return pterr.New(pterr.IncoherentImage, e.pos(), "Pip at "+reason.kind.String()+" decision point")
		}
	}
	e.applyAsyncPip(pkt)
	return nil
}

func (e *Engine) handleModeExec(pkt ptpacket.Packet) error {
	p, err := e.dec.Next()
	if err != nil {
		return err
	}
	switch p.Kind {
	case ptpacket.KindTip:
		if err := e.handleTip(p); err != nil {
			return err
		}
	case ptpacket.KindTipPge:
		if err := e.handleTipPge(p); err != nil {
			return err
		}
	case ptpacket.KindFup:
		if err := e.standaloneFup(p); err != nil {
			return err
		}
	default:
		return pterr.InvalidSequence(e.pos(), pkt.Kind.String(), p.Kind.String())
	}
	e.state.modeExec = pkt
	return nil
}

func (e *Engine) handleModeTsx(pkt ptpacket.Packet) error {
	if e.state.packetEn {
		p, err := e.dec.Next()
		if err != nil {
			return err
		}
		if p.Kind != ptpacket.KindFup {
			return pterr.InvalidSequence(e.pos(), pkt.Kind.String(), p.Kind.String())
		}
		if err := e.standaloneFup(p); err != nil {
			return err
		}

		if pkt.TxState == ptpacket.TransactionAbort {
			p2, err := e.dec.Next()
			if err != nil {
				return err
			}
			switch p2.Kind {
			case ptpacket.KindTip:
				err = e.handleTip(p2)
			case ptpacket.KindTipPge:
				err = e.handleTipPge(p2)
			case ptpacket.KindTipPgd:
				err = e.handleTipPgd(p2)
			default:
				err = pterr.InvalidSequence(e.pos(), pkt.Kind.String(), p.Kind.String(), p2.Kind.String())
			}
			if err != nil {
				return err
			}
		}
	}
	e.state.modeTsx = pkt
	return nil
}

func (e *Engine) handleOvf() error {
	if e.cfg.ReturnCompression {
		e.state.retCompStack = e.state.retCompStack[:0]
	}

	p, err := e.dec.Next()
	if err != nil {
		return err
	}
	if p.Kind == ptpacket.KindFup {
		ip, ok := p.IP(e.state.tipLastIP)
		if !ok {
			return pterr.New(pterr.MalformedPacket, e.pos(), "post-Ovf Fup carries no target IP")
		}
		e.state.packetEn = true
		e.state.tipLastIP = ip
		e.state.ip = ip
		return nil
	}
	e.state.packetEn = false
	e.dec.Rollback(p)
	return nil
}

func (e *Engine) handlePsb() error {
	state, err := e.recoverPsbPlus()
	if err != nil {
		return err
	}
	e.state = state
	e.cache = make(map[uint64]cacheEntry)
	return nil
}
