package vm

import (
	"fmt"
	"strings"
)

// Opcode is a single tagged byte: one tag per *encoded form*, not per
// mnemonic. A mnemonic that accepts several operand shapes (MOV, ADD, JMP...)
// gets one Opcode constant per shape it can be encoded as.
type Opcode byte

const (
	OpNOP Opcode = 0x00
	OpHLT Opcode = 0x01

	OpMovRR Opcode = 0x10 // MOV Rd, Rs
	OpMovRI Opcode = 0x11 // MOV Rd, imm16
	OpMovRM Opcode = 0x12 // MOV Rd, [Rs]
	OpMovAR Opcode = 0x13 // MOV [imm16], Rs
	OpMovAI Opcode = 0x14 // MOV [imm16], imm16
	OpMovMR Opcode = 0x15 // MOV [Rd], Rs
	OpMovMI Opcode = 0x16 // MOV [Rd], imm16
	OpPhr   Opcode = 0x17 // PHR Rs
	OpPlr   Opcode = 0x18 // PLR Rd

	OpAddR Opcode = 0x20
	OpAddI Opcode = 0x21
	OpSubR Opcode = 0x22
	OpSubI Opcode = 0x23
	OpMulR Opcode = 0x24
	OpMulI Opcode = 0x25
	OpDivR Opcode = 0x26
	OpDivI Opcode = 0x27
	OpModR Opcode = 0x28
	OpModI Opcode = 0x29
	OpInc  Opcode = 0x2A
	OpDec  Opcode = 0x2B

	OpAndR Opcode = 0x30
	OpAndI Opcode = 0x31
	OpOrR  Opcode = 0x32
	OpOrI  Opcode = 0x33
	OpXorR Opcode = 0x34
	OpXorI Opcode = 0x35
	OpNot  Opcode = 0x36

	OpCmpR Opcode = 0x40
	OpCmpI Opcode = 0x41

	OpJmpI Opcode = 0x50
	OpJmpR Opcode = 0x51
	OpJzI  Opcode = 0x52
	OpJzR  Opcode = 0x53
	OpJnzI Opcode = 0x54
	OpJnzR Opcode = 0x55
	OpJnI  Opcode = 0x56
	OpJnR  Opcode = 0x57
	OpJnnI Opcode = 0x58
	OpJnnR Opcode = 0x59
	OpJcI  Opcode = 0x5A
	OpJcR  Opcode = 0x5B
	OpJncI Opcode = 0x5C
	OpJncR Opcode = 0x5D
	OpJsb  Opcode = 0x5E
	OpRsb  Opcode = 0x5F

	OpCli Opcode = 0x60
	OpSei Opcode = 0x61
	OpRsi Opcode = 0x62
)

// ReducedKind is the operand shape an assembler operand reduces to once any
// alias chain has been followed to its base. It is the only thing Select
// needs to know about an operand.
type ReducedKind int

const (
	RKNone ReducedKind = iota
	RKReg              // Rn
	RKRegIndirect      // Rn*  ([Rn] in the opcode table)
	RKMemDirect        // [literal] or [label]  (direct memory address operand)
	RKImmediate        // bare literal or label
)

func (k ReducedKind) String() string {
	switch k {
	case RKNone:
		return "none"
	case RKReg:
		return "register"
	case RKRegIndirect:
		return "register-indirect"
	case RKMemDirect:
		return "memory-direct"
	case RKImmediate:
		return "immediate"
	default:
		return "unknown"
	}
}

type form struct {
	mnemonic string
	op1      ReducedKind
	op2      ReducedKind
	opcode   Opcode
	size     int
}

// forms is the single source of truth for (mnemonic, operand kinds) -> (opcode, size).
// Both assembler passes and the CPU decoder derive everything they need from this table,
// per the shared-helper guidance: avoid duplicating sizing logic between passes.
var forms = []form{
	{"NOP", RKNone, RKNone, OpNOP, 1},
	{"HLT", RKNone, RKNone, OpHLT, 1},

	{"MOV", RKReg, RKReg, OpMovRR, 3},
	{"MOV", RKReg, RKImmediate, OpMovRI, 4},
	{"MOV", RKReg, RKRegIndirect, OpMovRM, 3},
	{"MOV", RKMemDirect, RKReg, OpMovAR, 4},
	{"MOV", RKMemDirect, RKImmediate, OpMovAI, 5},
	{"MOV", RKRegIndirect, RKReg, OpMovMR, 3},
	{"MOV", RKRegIndirect, RKImmediate, OpMovMI, 4},

	{"PHR", RKReg, RKNone, OpPhr, 2},
	{"PLR", RKReg, RKNone, OpPlr, 2},

	{"ADD", RKReg, RKReg, OpAddR, 3},
	{"ADD", RKReg, RKImmediate, OpAddI, 4},
	{"SUB", RKReg, RKReg, OpSubR, 3},
	{"SUB", RKReg, RKImmediate, OpSubI, 4},
	{"MUL", RKReg, RKReg, OpMulR, 3},
	{"MUL", RKReg, RKImmediate, OpMulI, 4},
	{"DIV", RKReg, RKReg, OpDivR, 3},
	{"DIV", RKReg, RKImmediate, OpDivI, 4},
	{"MOD", RKReg, RKReg, OpModR, 3},
	{"MOD", RKReg, RKImmediate, OpModI, 4},
	{"INC", RKReg, RKNone, OpInc, 2},
	{"DEC", RKReg, RKNone, OpDec, 2},

	{"AND", RKReg, RKReg, OpAndR, 3},
	{"AND", RKReg, RKImmediate, OpAndI, 4},
	{"OR", RKReg, RKReg, OpOrR, 3},
	{"OR", RKReg, RKImmediate, OpOrI, 4},
	{"XOR", RKReg, RKReg, OpXorR, 3},
	{"XOR", RKReg, RKImmediate, OpXorI, 4},
	{"NOT", RKReg, RKNone, OpNot, 2},

	{"CMP", RKReg, RKReg, OpCmpR, 3},
	{"CMP", RKReg, RKImmediate, OpCmpI, 4},

	{"JMP", RKImmediate, RKNone, OpJmpI, 3},
	{"JMP", RKReg, RKNone, OpJmpR, 2},
	{"JZ", RKImmediate, RKNone, OpJzI, 3},
	{"JZ", RKReg, RKNone, OpJzR, 2},
	{"JNZ", RKImmediate, RKNone, OpJnzI, 3},
	{"JNZ", RKReg, RKNone, OpJnzR, 2},
	{"JN", RKImmediate, RKNone, OpJnI, 3},
	{"JN", RKReg, RKNone, OpJnR, 2},
	{"JNN", RKImmediate, RKNone, OpJnnI, 3},
	{"JNN", RKReg, RKNone, OpJnnR, 2},
	{"JC", RKImmediate, RKNone, OpJcI, 3},
	{"JC", RKReg, RKNone, OpJcR, 2},
	{"JNC", RKImmediate, RKNone, OpJncI, 3},
	{"JNC", RKReg, RKNone, OpJncR, 2},

	{"JSB", RKImmediate, RKNone, OpJsb, 3},
	{"RSB", RKNone, RKNone, OpRsb, 1},

	{"CLI", RKNone, RKNone, OpCli, 1},
	{"SEI", RKNone, RKNone, OpSei, 1},
	{"RSI", RKNone, RKNone, OpRsi, 1},
}

var mnemonicSet = func() map[string]bool {
	m := make(map[string]bool, len(forms))
	for _, f := range forms {
		m[f.mnemonic] = true
	}
	return m
}()

// IsMnemonic reports whether name (case-insensitive) names an instruction
// mnemonic, used by the assembler lexer to distinguish mnemonics from plain
// identifiers.
func IsMnemonic(name string) bool {
	return mnemonicSet[strings.ToUpper(name)]
}

var opcodeInfoByByte = func() map[Opcode]form {
	m := make(map[Opcode]form, len(forms))
	for _, f := range forms {
		m[f.opcode] = f
	}
	return m
}()

// Select resolves a mnemonic plus its (already alias-reduced) operand kinds to
// the opcode variant and total encoded size (opcode byte included). Used by
// both assembler passes so sizing can never drift from emission.
func Select(mnemonic string, op1, op2 ReducedKind) (Opcode, int, error) {
	for _, f := range forms {
		if f.mnemonic == mnemonic && f.op1 == op1 && f.op2 == op2 {
			return f.opcode, f.size, nil
		}
	}
	return 0, 0, fmt.Errorf("unsupported operand combination for %s: (%s, %s)", mnemonic, op1, op2)
}

// SizeOf returns the total instruction length (including the opcode byte)
// for a decoded opcode. Used by the CPU to advance PC past an instruction.
func SizeOf(op Opcode) (int, bool) {
	f, ok := opcodeInfoByByte[op]
	if !ok {
		return 0, false
	}
	return f.size, true
}

// String returns the mnemonic string for a decoded opcode, for tracing and
// error messages.
func (op Opcode) String() string {
	if f, ok := opcodeInfoByByte[op]; ok {
		return f.mnemonic
	}
	return fmt.Sprintf("0x%02X", byte(op))
}
