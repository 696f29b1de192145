package iclass

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// oracle is a hand-written, independent restatement of which opcodes fall
// into which class, grounded on the opcode groupings in the original
// decoder's raw match table (libipt-style PTI_INST_* groups). JMP, CALL,
// and MOV are excluded here because their class depends on the argument
// shape, not the opcode alone; they get their own tests below.
var oracle = map[x86asm.Op]Class{
	x86asm.JA: CondBranch, x86asm.JAE: CondBranch, x86asm.JB: CondBranch,
	x86asm.JBE: CondBranch, x86asm.JCXZ: CondBranch, x86asm.JE: CondBranch,
	x86asm.JECXZ: CondBranch, x86asm.JRCXZ: CondBranch, x86asm.JG: CondBranch,
	x86asm.JGE: CondBranch, x86asm.JL: CondBranch, x86asm.JLE: CondBranch,
	x86asm.JNE: CondBranch, x86asm.JNO: CondBranch, x86asm.JNP: CondBranch,
	x86asm.JNS: CondBranch, x86asm.JO: CondBranch, x86asm.JP: CondBranch,
	x86asm.JS: CondBranch, x86asm.LOOP: CondBranch, x86asm.LOOPE: CondBranch,
	x86asm.LOOPNE: CondBranch,

	x86asm.LJMP: FarJump,
	x86asm.LCALL: FarCall,

	x86asm.RET:     Return,
	x86asm.LRET:    FarReturn,
	x86asm.IRET:    FarReturn,
	x86asm.IRETD:   FarReturn,
	x86asm.IRETQ:   FarReturn,
	x86asm.SYSRET:  FarReturn,
	x86asm.SYSEXIT: FarReturn,

	x86asm.INT:      FarCall,
	x86asm.INT3:     FarCall,
	x86asm.INTO:     FarCall,
	x86asm.UD2:      FarCall,
	x86asm.UD0:      FarCall,
	x86asm.UD1:      FarCall,
	x86asm.SYSCALL:  FarCall,
	x86asm.SYSENTER: FarCall,
}

// TestClassifyOracle walks every opcode x86asm exports and checks it
// against the hand-written table above; any opcode outside the table
// (ordinary ALU ops, SSE/AVX, etc.) must classify as Other, since none of
// them are flow-control instructions.
func TestClassifyOracle(t *testing.T) {
	for op := x86asm.Op(1); op <= x86asm.XTEST; op++ {
		if op == x86asm.JMP || op == x86asm.CALL || op == x86asm.MOV {
			continue
		}
		want, known := oracle[op]
		if !known {
			want = Other
		}
		got := Classify(x86asm.Inst{Op: op})
		assert.Equal(t, want, got, "opcode %v (%d)", op, op)
	}
}

func TestClassifyMovCr3(t *testing.T) {
	inst := x86asm.Inst{Op: x86asm.MOV, Args: x86asm.Args{x86asm.CR3, x86asm.RAX}}
	require.Equal(t, MovCr3, Classify(inst))

	inst = x86asm.Inst{Op: x86asm.MOV, Args: x86asm.Args{x86asm.RAX, x86asm.RBX}}
	require.Equal(t, Other, Classify(inst))
}

func TestClassifyJmpDirectVsIndirect(t *testing.T) {
	direct := x86asm.Inst{Op: x86asm.JMP, Args: x86asm.Args{x86asm.Rel(16)}, Len: 2}
	require.Equal(t, JumpDirect, Classify(direct))

	indirectReg := x86asm.Inst{Op: x86asm.JMP, Args: x86asm.Args{x86asm.RAX}}
	require.Equal(t, JumpIndirect, Classify(indirectReg))

	indirectMem := x86asm.Inst{Op: x86asm.JMP, Args: x86asm.Args{x86asm.Mem{Base: x86asm.RAX}}}
	require.Equal(t, JumpIndirect, Classify(indirectMem))
}

func TestClassifyCallDirectVsIndirect(t *testing.T) {
	direct := x86asm.Inst{Op: x86asm.CALL, Args: x86asm.Args{x86asm.Rel(5)}, Len: 5}
	require.Equal(t, CallDirect, Classify(direct))

	indirect := x86asm.Inst{Op: x86asm.CALL, Args: x86asm.Args{x86asm.RCX}}
	require.Equal(t, CallIndirect, Classify(indirect))
}

func TestBranchTarget(t *testing.T) {
	inst := x86asm.Inst{Op: x86asm.JMP, Args: x86asm.Args{x86asm.Rel(10)}, Len: 2}
	to, ok := BranchTarget(inst, 0x1000)
	require.True(t, ok)
	assert.Equal(t, uint64(0x1000+2+10), to)

	_, ok = BranchTarget(x86asm.Inst{Op: x86asm.JMP, Args: x86asm.Args{x86asm.RAX}}, 0x1000)
	require.False(t, ok)
}
