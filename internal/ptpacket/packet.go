// Package ptpacket implements the Intel Processor Trace wire format: a
// byte-buffer cursor that recognizes the next packet by header-byte
// dispatch, parses its payload, and advances. See decoder.go for the
// cursor, tip.go for TIP-family address decompression, and tnt.go for
// Taken/Not-taken bitvector iteration.
package ptpacket

// Kind discriminates the packet variants the engine needs to recognize.
// Every kind the decoder surfaces is represented, even the ones the engine
// only logs and ignores (Tsc, Mtc, Ptw, the PEBS/power-event family, ...) -
// recognizing them is what lets the decoder skip cleanly past them instead
// of treating them as malformed input. Pad and Cbr have no Kind: the
// decoder consumes them internally and never returns them.
type Kind int

const (
	KindTntShort Kind = iota
	KindTntLong
	KindTip
	KindTipPge
	KindTipPgd
	KindFup
	KindModeExec
	KindModeTsx
	KindPsb
	KindPsbEnd
	KindOvf
	KindTraceStop
	KindVmcs
	KindPip
	KindTma
	KindTsc
	KindMtc
	KindCyc
	KindMnt
	KindTrig
	KindPtw
	KindMwait
	KindPwre
	KindPwrx
	KindExstop
	KindCfe
	KindEvd
	KindBbp
	KindBep
)

func (k Kind) String() string {
	switch k {
	case KindTntShort:
		return "TntShort"
	case KindTntLong:
		return "TntLong"
	case KindTip:
		return "Tip"
	case KindTipPge:
		return "TipPge"
	case KindTipPgd:
		return "TipPgd"
	case KindFup:
		return "Fup"
	case KindModeExec:
		return "ModeExec"
	case KindModeTsx:
		return "ModeTsx"
	case KindPsb:
		return "Psb"
	case KindPsbEnd:
		return "PsbEnd"
	case KindOvf:
		return "Ovf"
	case KindTraceStop:
		return "TraceStop"
	case KindVmcs:
		return "Vmcs"
	case KindPip:
		return "Pip"
	case KindTma:
		return "Tma"
	case KindTsc:
		return "Tsc"
	case KindMtc:
		return "Mtc"
	case KindCyc:
		return "Cyc"
	case KindMnt:
		return "Mnt"
	case KindTrig:
		return "Trig"
	case KindPtw:
		return "Ptw"
	case KindMwait:
		return "Mwait"
	case KindPwre:
		return "Pwre"
	case KindPwrx:
		return "Pwrx"
	case KindExstop:
		return "Exstop"
	case KindCfe:
		return "Cfe"
	case KindEvd:
		return "Evd"
	case KindBbp:
		return "Bbp"
	case KindBep:
		return "Bep"
	default:
		return "Unknown"
	}
}

// IPBytes tags how many bits of a TIP-family payload are present, and how
// they combine with the running last-IP to produce a full address. See
// Packet.IP in tip.go.
type IPBytes int

const (
	IPBytesNone IPBytes = iota
	IPBytes16
	IPBytes32
	IPBytesSignExtend48
	IPBytes48
	IPBytes64
)

// AddressingMode is the addressing width carried by a ModeExec packet.
type AddressingMode int

const (
	AddressingMode16 AddressingMode = iota
	AddressingMode32
	AddressingMode64
)

// TransactionState is the transactional-execution state carried by a
// ModeTsx packet.
type TransactionState int

const (
	TransactionCommit TransactionState = iota
	TransactionBegin
	TransactionAbort
)

// Packet is every trace packet the core decodes, represented as one struct
// with a Kind discriminant and the union of per-kind fields - the same
// shape the teacher's own internal/ptm.Packet uses for its (unrelated) ARM
// packet set, rather than a Go interface per variant.
type Packet struct {
	Kind Kind
	size int

	// TIP-family (Tip, TipPge, TipPgd, Fup).
	IPBytes  IPBytes
	TargetIP uint64 // raw payload bits, pre-decompression

	// ModeExec.
	AddrMode  AddressingMode
	IF        bool
	TxState   TransactionState // ModeTsx

	// TntShort / TntLong raw payload.
	tntShortRaw byte
	tntLongRaw  [6]byte

	// Pip.
	PipRaw [6]byte

	// Vmcs.
	VmcsRaw [5]byte

	// Tma.
	TmaCTC         uint16
	TmaFastCounter uint16

	// Mtc.
	MtcRaw byte

	// Tsc.
	TscRaw [7]byte

	// Mnt.
	MntRaw [8]byte

	// Trig.
	TrigRaw [2]byte

	// Cyc - variable length, up to 15 bytes including header.
	CycRaw []byte
}

// Size is the packet's encoded length in the trace buffer, header included.
func (p Packet) Size() int { return p.size }

// NonRootVMX reports whether a Pip packet's payload indicates the traced
// CPU was executing inside a VMX non-root guest.
func (p Packet) NonRootVMX() bool {
	return p.PipRaw[0]&0x01 != 0
}
