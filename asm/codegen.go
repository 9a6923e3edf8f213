package asm

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/alovictor/cupana/vm"
)

const maxAliasDepth = 10

// Assemble runs both codegen passes over prog and returns the flattened
// image: a contiguous byte slice sized to the highest emitted address plus
// one. prog.Labels is populated as a side effect of pass 1.
func Assemble(prog *Program) ([]byte, error) {
	for _, stmt := range prog.Statements {
		if stmt.Kind == StmtAlias {
			prog.Aliases[stmt.Name] = stmt.Operand
		}
	}

	if err := resolvePass1(prog); err != nil {
		return nil, err
	}

	image, err := resolvePass2(prog)
	if err != nil {
		return nil, err
	}
	return image, nil
}

// resolvePass1 walks the statement list tracking a cursor, fixing every
// label's address and validating that every instruction/directive can be
// sized. It never emits bytes.
func resolvePass1(prog *Program) error {
	var cursor uint16

	for _, stmt := range prog.Statements {
		switch stmt.Kind {
		case StmtLabel:
			if _, dup := prog.Labels[stmt.Name]; dup {
				return newSourceError(ErrDuplicateLabel, stmt.Line, stmt.Name)
			}
			prog.Labels[stmt.Name] = cursor

		case StmtAlias:
			// recorded up-front; nothing to size.

		case StmtDirective:
			size, err := directiveSize(prog, stmt)
			if err != nil {
				return err
			}
			if stmt.Directive == "org" {
				lit, err := literalOperand(prog, stmt.Operand, stmt.Line)
				if err != nil {
					return err
				}
				cursor = lit
				continue
			}
			cursor += uint16(size)

		case StmtInstruction:
			size, err := instructionSize(prog, stmt.Instruction)
			if err != nil {
				return err
			}
			cursor += uint16(size)
		}
	}
	return nil
}

// resolvePass2 re-walks the statement list with a fresh cursor, emitting
// resolved bytes into a sparse address-keyed map (so .org may jump anywhere,
// including backwards, with later writes winning), then flattens the map
// into a contiguous slice.
func resolvePass2(prog *Program) ([]byte, error) {
	var cursor uint16
	buf := make(map[uint16]byte)
	var highest uint16

	put := func(addr uint16, b byte) {
		buf[addr] = b
		if addr >= highest {
			highest = addr
		}
	}

	for _, stmt := range prog.Statements {
		switch stmt.Kind {
		case StmtLabel, StmtAlias:
			continue

		case StmtDirective:
			if stmt.Directive == "org" {
				lit, err := literalOperand(prog, stmt.Operand, stmt.Line)
				if err != nil {
					return nil, err
				}
				cursor = lit
				continue
			}
			bytes, err := directiveBytes(prog, stmt)
			if err != nil {
				return nil, err
			}
			for _, b := range bytes {
				put(cursor, b)
				cursor++
			}

		case StmtInstruction:
			bytes, err := encodeInstruction(prog, stmt.Instruction)
			if err != nil {
				return nil, err
			}
			for _, b := range bytes {
				put(cursor, b)
				cursor++
			}
		}
	}

	if len(buf) == 0 {
		return nil, nil
	}
	image := make([]byte, int(highest)+1)
	for addr, b := range buf {
		image[addr] = b
	}
	return image, nil
}

// resolveAlias follows an Alias operand chain to its non-alias base,
// erroring past maxAliasDepth (a cycle).
func resolveAlias(prog *Program, op Operand, line int) (Operand, error) {
	depth := 0
	for op.Kind == OperandAlias {
		depth++
		if depth > maxAliasDepth {
			return Operand{}, newSourceError(ErrAliasCycle, line, op.Name)
		}
		target, ok := prog.Aliases[op.Name]
		if !ok {
			return Operand{}, newSourceError(ErrUnknownAlias, line, op.Name)
		}
		indirect := op.Indirect
		op = target
		if indirect {
			op.Indirect = true
		}
	}
	return op, nil
}

// reducedKind maps a resolved (non-alias) operand to the ReducedKind vm.Select
// needs. RKMemDirect means a 2-byte literal/label address slot; it has no
// form that means "register, but indirect", so an Indirect-flagged register
// operand (only reachable by bracketing an alias that resolves to a bare
// register, e.g. "!r1 R1" then "MOV [!r1], R2") is rejected by the caller
// rather than silently mapped here.
func reducedKind(op Operand) (vm.ReducedKind, error) {
	switch op.Kind {
	case OperandRegister:
		if op.Indirect {
			return 0, fmt.Errorf("register operand cannot be bracketed as a memory address")
		}
		return vm.RKReg, nil
	case OperandRegisterIndirect:
		if op.Indirect {
			return 0, fmt.Errorf("register-indirect operand cannot itself be bracketed")
		}
		return vm.RKRegIndirect, nil
	case OperandLiteral, OperandLabelRef:
		if op.Indirect {
			return vm.RKMemDirect, nil
		}
		return vm.RKImmediate, nil
	default:
		return vm.RKNone, nil
	}
}

func operandKinds(prog *Program, instr Instruction) (vm.ReducedKind, vm.ReducedKind, error) {
	op1, op2 := vm.RKNone, vm.RKNone
	if len(instr.Operands) > 0 {
		resolved, err := resolveAlias(prog, instr.Operands[0], instr.Line)
		if err != nil {
			return 0, 0, err
		}
		op1, err = reducedKind(resolved)
		if err != nil {
			return 0, 0, newSourceError(ErrUnsupportedForm, instr.Line, err.Error())
		}
	}
	if len(instr.Operands) > 1 {
		resolved, err := resolveAlias(prog, instr.Operands[1], instr.Line)
		if err != nil {
			return 0, 0, err
		}
		op2, err = reducedKind(resolved)
		if err != nil {
			return 0, 0, newSourceError(ErrUnsupportedForm, instr.Line, err.Error())
		}
	}
	return op1, op2, nil
}

func instructionSize(prog *Program, instr Instruction) (int, error) {
	op1, op2, err := operandKinds(prog, instr)
	if err != nil {
		return 0, err
	}
	_, size, err := vm.Select(instr.Mnemonic, op1, op2)
	if err != nil {
		return 0, newSourceError(ErrUnsupportedForm, instr.Line, err.Error())
	}
	return size, nil
}

// literalOperand resolves op (through aliases) to a concrete 16-bit value,
// looking up labels in prog.Labels. Used for .org and other directive
// operands that must be a plain number by pass 2.
func literalOperand(prog *Program, op Operand, line int) (uint16, error) {
	resolved, err := resolveAlias(prog, op, line)
	if err != nil {
		return 0, err
	}
	switch resolved.Kind {
	case OperandLiteral:
		return resolved.Literal, nil
	case OperandLabelRef:
		addr, ok := prog.Labels[resolved.Name]
		if !ok {
			return 0, newSourceError(ErrUnknownLabel, line, resolved.Name)
		}
		return addr, nil
	default:
		return 0, newSourceError(ErrStringNotAllowed, line, "expected a literal or label")
	}
}

func directiveSize(prog *Program, stmt Statement) (int, error) {
	switch stmt.Directive {
	case "org":
		return 0, nil
	case "word":
		if stmt.Operand.Kind == OperandCharString {
			return 2 * len(stmt.Operand.Str), nil
		}
		return 2, nil
	case "byte":
		return 1, nil
	case "ascii":
		return len(stmt.Operand.Str), nil
	default:
		return 0, newSourceError(ErrUnknownDirective, stmt.Line, stmt.Directive)
	}
}

func directiveBytes(prog *Program, stmt Statement) ([]byte, error) {
	switch stmt.Directive {
	case "word":
		if stmt.Operand.Kind == OperandCharString {
			out := make([]byte, 0, 2*len(stmt.Operand.Str))
			for _, r := range stmt.Operand.Str {
				var w [2]byte
				binary.LittleEndian.PutUint16(w[:], uint16(r))
				out = append(out, w[:]...)
			}
			return out, nil
		}
		v, err := literalOperand(prog, stmt.Operand, stmt.Line)
		if err != nil {
			return nil, err
		}
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], v)
		return w[:], nil

	case "byte":
		v, err := literalOperand(prog, stmt.Operand, stmt.Line)
		if err != nil {
			return nil, err
		}
		if v > 0xFF {
			return nil, newSourceError(ErrLiteralOutOfRange, stmt.Line, fmt.Sprintf("%d", v))
		}
		return []byte{byte(v)}, nil

	case "ascii":
		if stmt.Operand.Kind != OperandCharString {
			return nil, newSourceError(ErrStringNotAllowed, stmt.Line, ".ascii requires a string operand")
		}
		return []byte(stmt.Operand.Str), nil

	default:
		return nil, newSourceError(ErrUnknownDirective, stmt.Line, stmt.Directive)
	}
}

// encodeInstruction resolves operands to final values and emits opcode byte
// plus operand bytes (registers as one byte each, literals/addresses
// little-endian 16-bit), in source operand order.
func encodeInstruction(prog *Program, instr Instruction) ([]byte, error) {
	op1, op2, err := operandKinds(prog, instr)
	if err != nil {
		return nil, err
	}
	opcode, _, err := vm.Select(instr.Mnemonic, op1, op2)
	if err != nil {
		return nil, newSourceError(ErrUnsupportedForm, instr.Line, err.Error())
	}

	out := []byte{byte(opcode)}
	for _, raw := range instr.Operands {
		resolved, err := resolveAlias(prog, raw, instr.Line)
		if err != nil {
			return nil, err
		}
		bytes, err := encodeOperand(prog, resolved, instr.Line)
		if err != nil {
			return nil, err
		}
		out = append(out, bytes...)
	}
	return out, nil
}

func encodeOperand(prog *Program, op Operand, line int) ([]byte, error) {
	switch op.Kind {
	case OperandRegister, OperandRegisterIndirect:
		if op.Reg > 15 {
			return nil, newSourceError(ErrRegisterOutOfRange, line, fmt.Sprintf("R%d", op.Reg))
		}
		return []byte{op.Reg}, nil

	case OperandLiteral:
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], op.Literal)
		return w[:], nil

	case OperandLabelRef:
		addr, ok := prog.Labels[op.Name]
		if !ok {
			return nil, newSourceError(ErrUnknownLabel, line, op.Name)
		}
		var w [2]byte
		binary.LittleEndian.PutUint16(w[:], addr)
		return w[:], nil

	default:
		return nil, newSourceError(ErrStringNotAllowed, line, "string operand not valid in an instruction")
	}
}

// SortedLabels returns prog's label names ordered by address, for CLI
// symbol-table dumps.
func SortedLabels(prog *Program) []string {
	names := make([]string, 0, len(prog.Labels))
	for name := range prog.Labels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return prog.Labels[names[i]] < prog.Labels[names[j]] })
	return names
}
