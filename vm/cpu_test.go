package vm

import "testing"

func newTestMachine(t *testing.T) (*Bus, *CPU) {
	t.Helper()
	bus := NewBus()
	rom := make([]byte, 0x8000)
	// reset vector -> 0x0000
	rom[VectorReset] = 0x00
	rom[VectorReset+1] = 0x00
	bus.LoadROM(rom)
	cpu := NewCPU(bus)
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return bus, cpu
}

func loadProgram(t *testing.T, bus *Bus, code []byte) {
	t.Helper()
	rom := make([]byte, 0x8000)
	copy(rom, code)
	rom[VectorReset] = 0x00
	rom[VectorReset+1] = 0x00
	bus.LoadROM(rom)
}

func TestMovRegImmediateAndHalt(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x00, 0x34, 0x12, // MOV R0, 0x1234
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	got, _ := cpu.Regs.get(0)
	if got != 0x1234 {
		t.Fatalf("R0 = 0x%04X, want 0x1234", got)
	}
}

func TestAddSetsCarryOnOverflow(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x00, 0xFF, 0xFF, // MOV R0, 0xFFFF
		byte(OpMovRI), 0x01, 0x02, 0x00, // MOV R1, 2
		byte(OpAddR), 0x00, 0x01, // ADD R0, R1
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	got, _ := cpu.Regs.get(0)
	if got != 0x0001 {
		t.Fatalf("R0 = 0x%04X, want 0x0001", got)
	}
	if !cpu.Flags.has(FlagCarry) {
		t.Fatalf("expected carry flag set")
	}
}

func TestBitwiseClearsCarryRegardlessOfInput(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x00, 0xFF, 0xFF,
		byte(OpMovRI), 0x01, 0x02, 0x00,
		byte(OpAddR), 0x00, 0x01, // sets carry
		byte(OpAndI), 0x00, 0xFF, 0x00, // AND R0, 0x00FF -- bitwise, must clear carry
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if cpu.Flags.has(FlagCarry) {
		t.Fatalf("expected carry flag cleared after bitwise op")
	}
}

func TestDivideByZeroLeavesStateUntouched(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x00, 0x0A, 0x00, // MOV R0, 10
		byte(OpMovRI), 0x01, 0x00, 0x00, // MOV R1, 0
		byte(OpDivR), 0x00, 0x01, // DIV R0, R1
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	before, _ := cpu.Regs.get(0)
	beforeFlags := cpu.Flags

	err := cpu.Step()
	if err == nil {
		t.Fatalf("expected divide-by-zero error")
	}

	after, _ := cpu.Regs.get(0)
	if after != before {
		t.Fatalf("R0 changed on divide-by-zero: before=%d after=%d", before, after)
	}
	if cpu.Flags != beforeFlags {
		t.Fatalf("flags changed on divide-by-zero")
	}
}

func TestJsbRsbSymmetry(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpJsb), 0x08, 0x00, // JSB 0x0008
		byte(OpMovRI), 0x01, 0xAA, 0x00, // MOV R1, 0xAA (runs after RSB returns)
		byte(OpHLT),
		byte(OpNOP), // subroutine entry at 0x0008
		byte(OpMovRI), 0x00, 0x42, 0x00, // MOV R0, 0x42 (at 0x0009)
		byte(OpRsb),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}

	r0, _ := cpu.Regs.get(0)
	r1, _ := cpu.Regs.get(1)
	if r0 != 0x42 {
		t.Fatalf("R0 = 0x%04X, want 0x42", r0)
	}
	if r1 != 0xAA {
		t.Fatalf("R1 = 0x%04X, want 0xAA (RSB must return to the instruction after JSB)", r1)
	}
}

func TestStackPushPopRoundTrip(t *testing.T) {
	_, cpu := newTestMachine(t)
	if err := cpu.pushU16(0xBEEF); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := cpu.popU16()
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got != 0xBEEF {
		t.Fatalf("got 0x%04X, want 0xBEEF", got)
	}
}

func TestStackOverflowAndUnderflow(t *testing.T) {
	_, cpu := newTestMachine(t)
	cpu.SP = StackBase
	if err := cpu.pushU8(1); err != nil {
		t.Fatalf("unexpected push error: %v", err)
	}
	if err := cpu.pushU8(2); err == nil {
		t.Fatalf("expected stack overflow")
	}

	cpu.SP = StackEnd - 1
	if _, err := cpu.popU8(); err == nil {
		t.Fatalf("expected stack underflow")
	}
}

func TestConditionalJumpAlwaysConsumesOperand(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x00, 0x01, 0x00, // MOV R0, 1 (non-zero, so JZ below is not taken)
		byte(OpCmpI), 0x00, 0x00, 0x00, // CMP R0, 0 -> sets zero flag false
		byte(OpJzI), 0xFF, 0xFF, // JZ 0xFFFF (not taken, but operand bytes must still be skipped)
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
}

func TestMovRegisterIndirectLoad(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x01, 0x00, 0x90, // MOV R1, 0x9000 (RAM address of the word below)
		byte(OpMovRM), 0x00, 0x01, // MOV R0, [R1]
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := bus.WriteU16(0x9000, 0xCAFE); err != nil {
		t.Fatalf("seed memory: %v", err)
	}
	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	got, _ := cpu.Regs.get(0)
	if got != 0xCAFE {
		t.Fatalf("R0 = 0x%04X, want 0xCAFE", got)
	}
}

func TestMovDirectAddressFromRegister(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x00, 0x34, 0x12, // MOV R0, 0x1234
		byte(OpMovAR), 0x00, 0x90, 0x00, // MOV [0x9000], R0
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	got, err := bus.ReadU16(0x9000)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0x1234 {
		t.Fatalf("mem[0x9000] = 0x%04X, want 0x1234", got)
	}
}

func TestMovDirectAddressFromImmediate(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovAI), 0x00, 0x90, 0xBE, 0xEF, // MOV [0x9000], 0xEFBE
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	got, err := bus.ReadU16(0x9000)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xEFBE {
		t.Fatalf("mem[0x9000] = 0x%04X, want 0xEFBE", got)
	}
}

func TestMovRegisterIndirectStoreFromRegister(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x00, 0x00, 0x91, // MOV R0, 0x9100 (destination address)
		byte(OpMovRI), 0x01, 0xBE, 0xBA, // MOV R1, 0xBABE
		byte(OpMovMR), 0x00, 0x01, // MOV [R0], R1
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	got, err := bus.ReadU16(0x9100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xBABE {
		t.Fatalf("mem[0x9100] = 0x%04X, want 0xBABE", got)
	}
}

func TestMovRegisterIndirectStoreFromImmediate(t *testing.T) {
	bus, cpu := newTestMachine(t)
	loadProgram(t, bus, []byte{
		byte(OpMovRI), 0x00, 0x00, 0x92, // MOV R0, 0x9200 (destination address)
		byte(OpMovMI), 0x00, 0x0D, 0xF0, // MOV [R0], 0xF00D
		byte(OpHLT),
	})
	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for !cpu.Halted() {
		if err := cpu.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	got, err := bus.ReadU16(0x9200)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != 0xF00D {
		t.Fatalf("mem[0x9200] = 0x%04X, want 0xF00D", got)
	}
}

func TestIRQEntryAndRSISymmetry(t *testing.T) {
	bus, cpu := newTestMachine(t)
	rom := make([]byte, 0x8000)
	rom[VectorReset] = 0x00
	rom[VectorReset+1] = 0x00
	rom[VectorIRQ] = 0x10
	rom[VectorIRQ+1] = 0x00

	// main: CLI; NOP forever (but we'll only step twice before raising IRQ)
	rom[0x0000] = byte(OpCli)
	rom[0x0001] = byte(OpNOP)
	rom[0x0002] = byte(OpNOP)
	// isr at 0x0010: RSI
	rom[0x0010] = byte(OpRsi)
	bus.LoadROM(rom)

	if err := cpu.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := cpu.Step(); err != nil { // CLI
		t.Fatalf("step: %v", err)
	}
	cpu.RequestIRQ()

	pcBeforeIRQ := cpu.PC
	if err := cpu.Step(); err != nil { // enters ISR
		t.Fatalf("irq entry: %v", err)
	}
	if cpu.PC != 0x0010 {
		t.Fatalf("PC = 0x%04X after IRQ entry, want 0x0010", cpu.PC)
	}
	if !cpu.Flags.has(FlagInterruptDisabled) {
		t.Fatalf("expected interrupts disabled during ISR")
	}

	if err := cpu.Step(); err != nil { // RSI
		t.Fatalf("rsi: %v", err)
	}
	if cpu.PC != pcBeforeIRQ {
		t.Fatalf("PC = 0x%04X after RSI, want 0x%04X", cpu.PC, pcBeforeIRQ)
	}
}
