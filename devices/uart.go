// Package devices holds reference MMIO peripherals implementing vm.Device.
package devices

import (
	"sync"

	"github.com/alovictor/cupana/vm"
)

// Register offsets, relative to a UART's base address.
const (
	uartData    = 0x00
	uartStatus  = 0x01
	uartControl = 0x02
	uartSize    = 3
)

// Status bits.
const (
	uartRxReady byte = 0x01
	uartTxReady byte = 0x02
)

// Control bits.
const (
	uartRxInterruptEnable byte = 0x01
	uartTxInterruptEnable byte = 0x02
)

var (
	errBadOffset   = errBadOffsetFn()
	errWriteStatus = errWriteStatusFn()
)

func errBadOffsetFn() error   { return errOffset{"offset out of range for this device"} }
func errWriteStatusFn() error { return errOffset{"write to STATUS register is not permitted"} }

type errOffset struct{ msg string }

func (e errOffset) Error() string { return e.msg }

// UART is an in-memory reference MMIO device: DATA/STATUS/CONTROL registers,
// an RX queue the host can feed (simulating an external data source), and a
// TX path with no backpressure. There is no background goroutine here — this
// device has no real asynchronous source, unlike Serial.
type UART struct {
	mu sync.Mutex

	base, end uint16

	rxQueue []byte
	control byte

	txLog []byte // bytes written to DATA, for host inspection/tests
}

// NewUART returns a UART-style device with its three-register window
// starting at base.
func NewUART(base uint16) *UART {
	return &UART{base: base, end: base + uartSize - 1}
}

func (u *UART) Range() (uint16, uint16) { return u.base, u.end }

// EnqueueRX appends a byte to the RX queue, as if it arrived from an
// external source. Returns false if the queue is at capacity.
func (u *UART) EnqueueRX(b byte) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	const maxQueue = 256
	if len(u.rxQueue) >= maxQueue {
		return false
	}
	u.rxQueue = append(u.rxQueue, b)
	return true
}

// TXBytes returns a copy of every byte written to DATA so far.
func (u *UART) TXBytes() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]byte, len(u.txLog))
	copy(out, u.txLog)
	return out
}

func (u *UART) statusLocked() byte {
	var status byte
	if len(u.rxQueue) > 0 {
		status |= uartRxReady
	}
	status |= uartTxReady
	return status
}

func (u *UART) ReadU8(offset uint16) (byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case uartData:
		if len(u.rxQueue) == 0 {
			return 0, nil
		}
		b := u.rxQueue[0]
		u.rxQueue = u.rxQueue[1:]
		return b, nil
	case uartStatus:
		return u.statusLocked(), nil
	case uartControl:
		return u.control, nil
	default:
		return 0, errBadOffset
	}
}

func (u *UART) WriteU8(offset uint16, v byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch offset {
	case uartData:
		u.txLog = append(u.txLog, v)
		return nil
	case uartControl:
		u.control = v
		return nil
	case uartStatus:
		return errWriteStatus
	default:
		return errBadOffset
	}
}

func (u *UART) ReadU16(offset uint16) (uint16, error) {
	return vm.ComposeReadU16(u, offset)
}

func (u *UART) WriteU16(offset uint16, v uint16) error {
	return vm.ComposeWriteU16(u, offset, v)
}

// PollInterrupt reports true iff any enabled interrupt condition currently
// holds: RX_READY while RX interrupts are enabled, or TX_READY while TX
// interrupts are enabled (always true here, since TX never blocks).
func (u *UART) PollInterrupt() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	status := u.statusLocked()
	if u.control&uartRxInterruptEnable != 0 && status&uartRxReady != 0 {
		return true
	}
	if u.control&uartTxInterruptEnable != 0 && status&uartTxReady != 0 {
		return true
	}
	return false
}
