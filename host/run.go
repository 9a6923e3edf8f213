// Package host drives a vm.CPU/vm.Bus pair to completion: reset, step until
// halted, poll devices for interrupts every step, and optionally trace each
// fetched instruction.
package host

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/alovictor/cupana/vm"
)

// Machine bundles a CPU with its bus for the lifetime of one run.
type Machine struct {
	CPU *vm.CPU
	Bus *vm.Bus
}

// NewMachine wires a fresh CPU to bus. Call Reset before Run.
func NewMachine(bus *vm.Bus) *Machine {
	return &Machine{CPU: vm.NewCPU(bus), Bus: bus}
}

// Reset resets the CPU to its power-on state (PC from the reset vector, SP
// at the top of the stack region, registers cleared).
func (m *Machine) Reset() error {
	return m.CPU.Reset()
}

// Options configures a Run call.
type Options struct {
	// Trace, when non-nil, receives one line per fetched instruction before
	// it executes.
	Trace io.Writer
}

// Run steps the machine until it halts, the context is cancelled, or a
// non-halt error occurs. It disables the garbage collector for the duration
// of the run, restoring the prior setting on return.
func Run(ctx context.Context, m *Machine, opts Options) (err error) {
	prevGC := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(prevGC)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic at PC=0x%04X: %v", m.CPU.PC, r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// Polling before Step (rather than after) only matters for the very
		// first iteration, and Reset leaves FlagInterruptDisabled set, so the
		// extra early poll can never fire an IRQ a poll-after-step ordering
		// wouldn't also have delivered one step later; every device here is
		// level-triggered, so an assertion persists until serviced either way.
		if m.Bus.PollDevices() {
			m.CPU.RequestIRQ()
		}

		if opts.Trace != nil {
			traceStep(opts.Trace, m)
		}

		if err := m.CPU.Step(); err != nil {
			return err
		}

		if m.CPU.Halted() {
			return nil
		}
	}
}

func traceStep(w io.Writer, m *Machine) {
	pc := m.CPU.PC
	opcode, err := m.Bus.ReadU8(pc)
	if err != nil {
		fmt.Fprintf(w, "PC=0x%04X <fault reading opcode: %v>\n", pc, err)
		return
	}
	fmt.Fprintf(w, "PC=0x%04X op=%s flags=0x%02X sp=0x%04X\n", pc, vm.Opcode(opcode), byte(m.CPU.Flags), m.CPU.SP)
}
