package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"

	"golang.org/x/net/ipv4"
)

// Option is a boolean socket option enabled with SetOption
type Option int

const (
	// OptionBroadcast enables SO_BROADCAST
	OptionBroadcast Option = iota + 1
	// OptionReuseAddr enables SO_REUSEADDR so several listeners can share a port
	OptionReuseAddr
)

// String returns the OS name of the option
func (o Option) String() string {
	switch o {
	case OptionBroadcast:
		return "SO_BROADCAST"
	case OptionReuseAddr:
		return "SO_REUSEADDR"
	default:
		return fmt.Sprintf("Option(%d)", int(o))
	}
}

// Sender is the sending half of a datagram socket
type Sender interface {
	SendTo(payload []byte, addr *net.UDPAddr) error
	Close() error
}

// Receiver is the receiving half of a datagram socket.
// ReceiveFrom must return ErrClosed once Close has been called.
type Receiver interface {
	ReceiveFrom(buf []byte) (int, net.Addr, error)
	Close() error
}

// Socket is an IPv4 UDP socket.
// The zero value is not usable; create sockets with Open.
type Socket struct {
	network string

	mu      sync.Mutex
	options []Option // applied before bind
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	closed  bool
}

// Open creates a socket for the given network. Only "udp4" is supported.
//
// The OS descriptor is created when the socket is bound (explicitly with Bind,
// or implicitly by the first SendTo), so that options set with SetOption are
// in place before the bind happens.
func Open(network string) (*Socket, error) {
	if network != "udp4" {
		return nil, newError(OpOpen, "", fmt.Errorf("unsupported network %q", network))
	}
	return &Socket{network: network}, nil
}

// SetOption enables a boolean socket option.
// Before Bind the option is queued and applied to the descriptor ahead of the
// bind call; after Bind it is applied immediately.
func (s *Socket) SetOption(opt Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newError(OpOption, "", ErrClosed)
	}
	if opt != OptionBroadcast && opt != OptionReuseAddr {
		return newError(OpOption, "", fmt.Errorf("unknown option %v", opt))
	}

	if s.conn == nil {
		s.options = append(s.options, opt)
		return nil
	}

	raw, err := s.conn.SyscallConn()
	if err != nil {
		return newError(OpOption, s.conn.LocalAddr().String(), err)
	}
	var optErr error
	if err := raw.Control(func(fd uintptr) {
		optErr = setSockopt(fd, opt)
	}); err != nil {
		return newError(OpOption, s.conn.LocalAddr().String(), err)
	}
	if optErr != nil {
		return newError(OpOption, s.conn.LocalAddr().String(), &optionError{opt: opt, err: optErr})
	}
	return nil
}

// Bind creates the descriptor, applies queued options and binds it to addr
// (host:port; an empty host means any local interface).
func (s *Socket) Bind(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newError(OpBind, addr, ErrClosed)
	}
	if s.conn != nil {
		return newError(OpBind, addr, fmt.Errorf("already bound to %s", s.conn.LocalAddr()))
	}
	return s.bindLocked(addr)
}

func (s *Socket) bindLocked(addr string) error {
	options := append([]Option(nil), s.options...)
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var optErr error
			if err := c.Control(func(fd uintptr) {
				for _, opt := range options {
					if err := setSockopt(fd, opt); err != nil {
						optErr = &optionError{opt: opt, err: err}
						return
					}
				}
			}); err != nil {
				return err
			}
			return optErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), s.network, addr)
	if err != nil {
		return classifyListenError(addr, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return newError(OpBind, addr, fmt.Errorf("unexpected connection type %T", pc))
	}

	s.conn = conn
	s.pconn = ipv4.NewPacketConn(conn)
	return nil
}

// classifyListenError splits a ListenPacket failure into the socket step that
// actually failed: the socket call, an option, or the bind itself.
func classifyListenError(addr string, err error) *Error {
	var oe *optionError
	if errors.As(err, &oe) {
		return newError(OpOption, addr, err)
	}
	var se *os.SyscallError
	if errors.As(err, &se) && se.Syscall == "socket" {
		return newError(OpOpen, addr, err)
	}
	return newError(OpBind, addr, err)
}

// JoinGroup adds the socket to an IPv4 multicast group (IP_ADD_MEMBERSHIP)
// on the system-chosen interface, the equivalent of INADDR_ANY.
// The socket must be bound.
func (s *Socket) JoinGroup(group net.IP) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newError(OpOption, group.String(), ErrClosed)
	}
	if s.pconn == nil {
		return newError(OpOption, group.String(), errors.New("socket is not bound"))
	}
	if group.To4() == nil || !group.IsMulticast() {
		return newError(OpOption, group.String(), errors.New("not an IPv4 multicast group"))
	}
	if err := s.pconn.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
		return newError(OpOption, group.String(), err)
	}
	return nil
}

// SendTo sends one datagram to addr. There is no retry.
// An unbound socket is bound to an ephemeral port first, as the OS would do.
func (s *Socket) SendTo(payload []byte, addr *net.UDPAddr) error {
	if addr == nil {
		return newError(OpSend, "", errors.New("missing destination address"))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return newError(OpSend, addr.String(), ErrClosed)
	}
	if s.conn == nil {
		if err := s.bindLocked("0.0.0.0:0"); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	conn := s.conn
	s.mu.Unlock()

	if _, err := conn.WriteToUDP(payload, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return newError(OpSend, addr.String(), ErrClosed)
		}
		return newError(OpSend, addr.String(), err)
	}
	return nil
}

// ReceiveFrom blocks until a datagram arrives and copies it into buf.
// Datagrams longer than buf are truncated without error.
// Once the socket is closed, ReceiveFrom returns ErrClosed.
func (s *Socket) ReceiveFrom(buf []byte) (int, net.Addr, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil, ErrClosed
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return 0, nil, newError(OpReceive, "", errors.New("socket is not bound"))
	}

	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return 0, nil, ErrClosed
		}
		if isTruncated(err) {
			return n, from, nil
		}
		return 0, nil, newError(OpReceive, conn.LocalAddr().String(), err)
	}
	return n, from, nil
}

// LocalAddr returns the bound local address, or nil before Bind
func (s *Socket) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	addr, _ := s.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Close releases the descriptor. It is safe to call more than once and from
// any goroutine; a ReceiveFrom blocked on the socket returns ErrClosed.
func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return newError(OpClose, s.conn.LocalAddr().String(), err)
	}
	return nil
}

// NewSender opens a broadcast-capable socket bound to an ephemeral port
func NewSender() (*Socket, error) {
	s, err := Open("udp4")
	if err != nil {
		return nil, err
	}
	if err := s.SetOption(OptionBroadcast); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Bind("0.0.0.0:0"); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewMulticastListener opens a socket bound to port on every local interface,
// with address reuse enabled, and joins it to group.
func NewMulticastListener(group net.IP, port int) (*Socket, error) {
	s, err := Open("udp4")
	if err != nil {
		return nil, err
	}
	if err := s.SetOption(OptionReuseAddr); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Bind(fmt.Sprintf("0.0.0.0:%d", port)); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.JoinGroup(group); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}
