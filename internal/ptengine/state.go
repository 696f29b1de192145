package ptengine

import "ptcov/internal/ptpacket"

// executionState is the mutable state the engine carries across packets.
// It is replaced wholesale by PSB+ recovery and otherwise mutated in place
// by the per-packet handlers in dispatch.go.
type executionState struct {
	packetEn bool
	tipLastIP uint64
	ip        uint64

	pip  ptpacket.Packet // zero value: NonRootVMX() == false
	vmcs *ptpacket.Packet

	modeExec ptpacket.Packet
	modeTsx  ptpacket.Packet

	saveCoverage bool

	// retCompStack backs the optional return-compression feature: a
	// shadow stack of return addresses consulted when a Return decision
	// point is satisfied by a TNT bit instead of a TIP.
	retCompStack []uint64
}

func newExecutionState() executionState {
	return executionState{
		saveCoverage: true,
		modeExec:     ptpacket.Packet{Kind: ptpacket.KindModeExec, AddrMode: ptpacket.AddressingMode16},
		modeTsx:      ptpacket.Packet{Kind: ptpacket.KindModeTsx, TxState: ptpacket.TransactionCommit},
	}
}

// addrModeBits maps the packet layer's AddressingMode onto the processor
// mode x86asm.Decode expects (16, 32, or 64).
func addrModeBits(m ptpacket.AddressingMode) int {
	switch m {
	case ptpacket.AddressingMode16:
		return 16
	case ptpacket.AddressingMode32:
		return 32
	case ptpacket.AddressingMode64:
		return 64
	default:
		return 64
	}
}
