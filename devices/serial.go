package devices

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alovictor/cupana/vm"
)

// Register offsets and bits mirror UART; Serial is the TCP-backed sibling
// device, the one the background-task rules in the concurrency model are
// actually written for.
const (
	serialData    = 0x00
	serialStatus  = 0x01
	serialControl = 0x02
	serialSize    = 3
)

const (
	serialRxReady           byte = 0x01
	serialTxReady           byte = 0x02
	serialClientConnected   byte = 0x04
	serialRxInterruptEnable byte = 0x01
)

// Serial accepts a single TCP client at a time on a background goroutine,
// feeds accepted bytes into a bounded non-blocking RX queue, and writes TX
// bytes straight to the connection. It tolerates the connection being
// dropped or reset at any time: a write/read failure just clears the
// connection and waits for the next accept.
type Serial struct {
	base, end uint16

	mu      sync.Mutex
	conn    net.Conn
	control byte

	rx     *nonBlockingChan[byte]
	closed atomic.Bool

	listener net.Listener
}

// NewSerial starts listening on listenAddr (e.g. "127.0.0.1:7333") and
// returns a device whose three-register window starts at base. The accept/read loop runs on a
// background goroutine for the lifetime of the device; call Close to stop
// it.
func NewSerial(base uint16, listenAddr string) (*Serial, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}

	s := &Serial{
		base:     base,
		end:      base + serialSize - 1,
		rx:       newNonBlockingChan[byte](256),
		listener: ln,
	}

	go s.acceptLoop()
	return s, nil
}

func (s *Serial) Range() (uint16, uint16) { return s.base, s.end }

// Close tears down the listener and any active connection, and stops the
// background goroutine. Safe to call more than once.
func (s *Serial) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.listener.Close()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
		s.rx.close()
	}
	return nil
}

func (s *Serial) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Listener closed (Close was called) or otherwise unrecoverable.
			return
		}
		s.mu.Lock()
		if s.conn != nil {
			// Only one client at a time, like a real serial port.
			conn.Close()
			s.mu.Unlock()
			continue
		}
		s.conn = conn
		s.mu.Unlock()

		go s.readLoop(conn)
	}
}

// readLoop reads bytes off conn and forwards them to the RX queue until the
// connection errors out (including a clean close by the peer), then clears
// the active connection so the accept loop can take a new one.
func (s *Serial) readLoop(conn net.Conn) {
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		for i := 0; i < n && !s.closed.Load(); i++ {
			if !s.rx.send(buf[i]) {
				break // RX queue full: drop the byte rather than block.
			}
		}
		if err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			conn.Close()
			return
		}
	}
}

// pendingRX reports whether at least one byte is queued without consuming
// it, used for the STATUS register.
func (s *Serial) pendingRX() bool {
	return s.rx.count.Load() > 0
}

func (s *Serial) statusLocked() byte {
	var status byte
	if s.pendingRX() {
		status |= serialRxReady
	}
	if s.conn != nil {
		status |= serialTxReady
		status |= serialClientConnected
	}
	return status
}

func (s *Serial) ReadU8(offset uint16) (byte, error) {
	switch offset {
	case serialData:
		b, ok := s.rx.tryReceive()
		if !ok {
			return 0, nil
		}
		return b, nil
	case serialStatus:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.statusLocked(), nil
	case serialControl:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.control, nil
	default:
		return 0, errBadOffset
	}
}

func (s *Serial) WriteU8(offset uint16, v byte) error {
	switch offset {
	case serialData:
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return nil // no client attached: byte is dropped, matching the reference device
		}
		conn.SetWriteDeadline(time.Now().Add(50 * time.Millisecond))
		if _, err := conn.Write([]byte{v}); err != nil {
			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
			}
			s.mu.Unlock()
			conn.Close()
		}
		return nil
	case serialControl:
		s.mu.Lock()
		s.control = v
		s.mu.Unlock()
		return nil
	case serialStatus:
		return errWriteStatus
	default:
		return errBadOffset
	}
}

func (s *Serial) ReadU16(offset uint16) (uint16, error) {
	return vm.ComposeReadU16(s, offset)
}

func (s *Serial) WriteU16(offset uint16, v uint16) error {
	return vm.ComposeWriteU16(s, offset, v)
}

// PollInterrupt reports RX_READY while RX interrupts are enabled. The
// accept/read goroutine runs independently of this call; PollInterrupt only
// observes state it already forwarded.
func (s *Serial) PollInterrupt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.control&serialRxInterruptEnable != 0 && s.pendingRX()
}
