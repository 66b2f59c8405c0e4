// Package sockettest provides an in-memory socket for tests that drive the
// discovery engine without touching the network.
package sockettest

import (
	"net"
	"sync"

	"github.com/muurk/discovery/internal/socket"
)

type inbound struct {
	data []byte
	from net.Addr
	err  error
}

// MemSocket implements socket.Sender and socket.Receiver over channels
type MemSocket struct {
	inbox     chan inbound
	closed    chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	sent [][]byte

	// SendFunc, if set, is called by SendTo and its error returned
	SendFunc func(payload []byte, addr *net.UDPAddr) error
}

// New returns an open MemSocket
func New() *MemSocket {
	return &MemSocket{
		inbox:  make(chan inbound, 64),
		closed: make(chan struct{}),
	}
}

// Deliver queues a datagram for the next ReceiveFrom call
func (m *MemSocket) Deliver(data []byte, from net.Addr) {
	m.inbox <- inbound{data: append([]byte(nil), data...), from: from}
}

// DeliverString is Deliver for text datagrams
func (m *MemSocket) DeliverString(data string, from net.Addr) {
	m.Deliver([]byte(data), from)
}

// Fail makes the next ReceiveFrom call return err
func (m *MemSocket) Fail(err error) {
	m.inbox <- inbound{err: err}
}

// SendTo records the payload
func (m *MemSocket) SendTo(payload []byte, addr *net.UDPAddr) error {
	select {
	case <-m.closed:
		return &socket.Error{Op: socket.OpSend, Err: socket.ErrClosed}
	default:
	}

	m.mu.Lock()
	m.sent = append(m.sent, append([]byte(nil), payload...))
	fn := m.SendFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(payload, addr)
	}
	return nil
}

// ReceiveFrom returns queued datagrams in order, blocking until one is
// delivered or the socket is closed. Truncation follows the real socket.
func (m *MemSocket) ReceiveFrom(buf []byte) (int, net.Addr, error) {
	select {
	case <-m.closed:
		return 0, nil, socket.ErrClosed
	default:
	}

	select {
	case <-m.closed:
		return 0, nil, socket.ErrClosed
	case in := <-m.inbox:
		if in.err != nil {
			return 0, nil, in.err
		}
		n := copy(buf, in.data)
		return n, in.from, nil
	}
}

// Close unblocks pending ReceiveFrom calls. It is idempotent.
func (m *MemSocket) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// Closed reports whether Close has been called
func (m *MemSocket) Closed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Sent returns a copy of every payload passed to SendTo
func (m *MemSocket) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([][]byte, len(m.sent))
	copy(out, m.sent)
	return out
}

var (
	_ socket.Sender   = (*MemSocket)(nil)
	_ socket.Receiver = (*MemSocket)(nil)
)
