// Package socket wraps a single IPv4 UDP datagram socket.
//
// A Socket goes through the same steps a raw BSD socket would: it is opened,
// configured with options, bound, optionally joined to a multicast group, and
// then used for SendTo and ReceiveFrom until it is closed. The package has no
// knowledge of any protocol carried over the socket.
//
// # Usage Example
//
//	s, err := socket.Open("udp4")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if err := s.SetOption(socket.OptionReuseAddr); err != nil {
//	    return err
//	}
//	if err := s.Bind("0.0.0.0:1900"); err != nil {
//	    return err
//	}
//	if err := s.JoinGroup(net.IPv4(239, 255, 255, 250)); err != nil {
//	    return err
//	}
//
//	buf := make([]byte, 512)
//	n, from, err := s.ReceiveFrom(buf)
//
// # Errors
//
// Every failure is reported as *Error, carrying the step that failed (Op) and,
// when the OS reported one, the errno (Code). Closing a socket while another
// goroutine is blocked in ReceiveFrom is not a failure: the blocked call
// returns ErrClosed.
//
// # Thread Safety
//
// Close may be called from any goroutine, any number of times, including while
// ReceiveFrom is blocked. SendTo and ReceiveFrom may run concurrently with each
// other; callers that share a Socket between several senders should serialize
// their SendTo calls.
package socket
