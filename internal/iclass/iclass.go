// Package iclass classifies a decoded x86-64 instruction into the closed
// set of control-flow shapes the reconstruction engine needs to drive its
// walk: whether the instruction falls through, branches statically, or is a
// decision point that can only be resolved by consuming a trace packet.
package iclass

import "golang.org/x/arch/x86/x86asm"

// Class is the closed set of control-flow shapes walkUntil distinguishes.
type Class int

const (
	Other Class = iota
	CallDirect
	CallIndirect
	CondBranch
	FarCall
	FarJump
	FarReturn
	JumpDirect
	JumpIndirect
	MovCr3
	Return
)

func (c Class) String() string {
	switch c {
	case Other:
		return "Other"
	case CallDirect:
		return "CallDirect"
	case CallIndirect:
		return "CallIndirect"
	case CondBranch:
		return "CondBranch"
	case FarCall:
		return "FarCall"
	case FarJump:
		return "FarJump"
	case FarReturn:
		return "FarReturn"
	case JumpDirect:
		return "JumpDirect"
	case JumpIndirect:
		return "JumpIndirect"
	case MovCr3:
		return "MovCr3"
	case Return:
		return "Return"
	default:
		return "Unknown"
	}
}

// condJumps is the set of conditional branch mnemonics x86asm decodes,
// including the JrCXZ family and the (rarely traced) LOOP family.
var condJumps = map[x86asm.Op]bool{
	x86asm.JA: true, x86asm.JAE: true, x86asm.JB: true, x86asm.JBE: true,
	x86asm.JCXZ: true, x86asm.JE: true, x86asm.JECXZ: true, x86asm.JRCXZ: true,
	x86asm.JG: true, x86asm.JGE: true, x86asm.JL: true, x86asm.JLE: true,
	x86asm.JNE: true, x86asm.JNO: true, x86asm.JNP: true, x86asm.JNS: true,
	x86asm.JO: true, x86asm.JP: true, x86asm.JS: true,
	x86asm.LOOP: true, x86asm.LOOPE: true, x86asm.LOOPNE: true,
}

// Classify maps a decoded instruction onto Class, following the same
// flow-control derivation the source decoder applies to iced_x86's
// FlowControl enum, adapted to what x86asm exposes: an Op mnemonic plus,
// for indirect branches, the kind of the first argument (Rel = direct,
// Reg/Mem = indirect).
func Classify(inst x86asm.Inst) Class {
	if condJumps[inst.Op] {
		return CondBranch
	}

	switch inst.Op {
	case x86asm.MOV:
		if len(inst.Args) > 0 && inst.Args[0] == x86asm.CR3 {
			return MovCr3
		}
		return Other

	case x86asm.JMP:
		if isDirectArg(inst) {
			return JumpDirect
		}
		return JumpIndirect
	case x86asm.LJMP:
		return FarJump

	case x86asm.CALL:
		if isDirectArg(inst) {
			return CallDirect
		}
		return CallIndirect
	case x86asm.LCALL:
		return FarCall

	case x86asm.RET:
		return Return
	case x86asm.LRET, x86asm.IRET, x86asm.IRETD, x86asm.IRETQ,
		x86asm.SYSRET, x86asm.SYSEXIT:
		return FarReturn

	case x86asm.INT, x86asm.INT3, x86asm.INTO, x86asm.UD2, x86asm.UD0, x86asm.UD1,
		x86asm.SYSCALL, x86asm.SYSENTER:
		return FarCall

	default:
		return Other
	}
}

// isDirectArg reports whether a CALL/JMP instruction's target is a static
// relative offset (direct) rather than a register/memory operand
// (indirect).
func isDirectArg(inst x86asm.Inst) bool {
	if len(inst.Args) == 0 {
		return false
	}
	switch inst.Args[0].(type) {
	case x86asm.Rel:
		return true
	default:
		return false
	}
}

// BranchTarget returns the absolute target address of a direct CALL/JMP
// decoded at addr, given the instruction's encoded length. x86asm's Rel is
// relative to the address of the instruction immediately following.
func BranchTarget(inst x86asm.Inst, addr uint64) (uint64, bool) {
	if len(inst.Args) == 0 {
		return 0, false
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if !ok {
		return 0, false
	}
	return addr + uint64(inst.Len) + uint64(int64(rel)), true
}
