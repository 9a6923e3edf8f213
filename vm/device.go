package vm

import "sync"

// Device is the uniform contract every MMIO peripheral implements. All
// addresses passed in are already device-relative (addr - base).
//
// PollInterrupt is called exactly once per CPU step, after the instruction
// (or IRQ entry) executes, in registration order. A device may use the call
// as its only opportunity to pump internal state (drain a background queue,
// check a timer) even if it has nothing to report.
type Device interface {
	Range() (base, end uint16)
	ReadU8(offset uint16) (byte, error)
	WriteU8(offset uint16, v byte) error
	ReadU16(offset uint16) (uint16, error)
	WriteU16(offset uint16, v uint16) error
	PollInterrupt() bool
}

// ComposeReadU16 and ComposeWriteU16 build 16-bit device register access out
// of a device's ReadU8/WriteU8 in little-endian order, so a concrete device
// only has to implement the 8-bit path once.
func ComposeReadU16(d Device, offset uint16) (uint16, error) {
	lo, err := d.ReadU8(offset)
	if err != nil {
		return 0, err
	}
	hi, err := d.ReadU8(offset + 1)
	if err != nil {
		return 0, err
	}
	return uint16(lo) | uint16(hi)<<8, nil
}

func ComposeWriteU16(d Device, offset uint16, v uint16) error {
	if err := d.WriteU8(offset, byte(v)); err != nil {
		return err
	}
	return d.WriteU8(offset+1, byte(v>>8))
}

// deviceRegistry is the bus's interior-mutability container for its device
// list: a mutex-guarded slice so the host loop can poll devices for
// interrupts while the CPU goroutine concurrently issues reads/writes
// through the same Bus value.
type deviceRegistry struct {
	mu      sync.Mutex
	devices []Device
}

func (r *deviceRegistry) register(d Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	base, end := d.Range()
	for _, existing := range r.devices {
		eb, ee := existing.Range()
		if base <= ee && eb <= end {
			return ErrDeviceRangeOverlap
		}
	}
	r.devices = append(r.devices, d)
	return nil
}

// find returns the device owning addr, or nil if none does.
func (r *deviceRegistry) find(addr uint16) Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.devices {
		base, end := d.Range()
		if addr >= base && addr <= end {
			return d
		}
	}
	return nil
}

// pollAll polls every device in registration order and reports whether any
// asserted an interrupt this step.
func (r *deviceRegistry) pollAll() bool {
	r.mu.Lock()
	devices := append([]Device(nil), r.devices...)
	r.mu.Unlock()

	asserted := false
	for _, d := range devices {
		if d.PollInterrupt() {
			asserted = true
		}
	}
	return asserted
}
