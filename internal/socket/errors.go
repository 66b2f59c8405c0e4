package socket

import (
	"errors"
	"fmt"
	"syscall"
)

// Op identifies the socket step that failed
type Op string

const (
	// OpOpen indicates the OS could not create the socket descriptor
	OpOpen Op = "open"
	// OpOption indicates a socket option (or group membership) could not be set
	OpOption Op = "setsockopt"
	// OpBind indicates the socket could not be bound to the local address
	OpBind Op = "bind"
	// OpSend indicates a datagram could not be sent
	OpSend Op = "sendto"
	// OpReceive indicates a datagram could not be received
	OpReceive Op = "recvfrom"
	// OpClose indicates the descriptor could not be released
	OpClose Op = "close"
)

// ErrClosed is returned by ReceiveFrom (and SendTo) once the socket has been
// closed. It marks a deliberate cancellation, not a transport failure.
var ErrClosed = errors.New("socket closed")

// Error is a transport failure on a socket operation
type Error struct {
	Op   Op            // Step that failed
	Addr string        // Local or remote address involved, if any
	Code syscall.Errno // OS error code (0 if the failure did not come from the OS)
	Err  error         // Underlying error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("socket %s", e.Op)
	if e.Addr != "" {
		msg += " " + e.Addr
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s: %v (errno %d)", msg, e.Err, int(e.Code))
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *Error) Unwrap() error {
	return e.Err
}

// newError builds an *Error, capturing the errno from err when there is one
func newError(op Op, addr string, err error) *Error {
	e := &Error{Op: op, Addr: addr, Err: err}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		e.Code = errno
	}
	return e
}

// IsClosed reports whether err is the cancellation outcome of a closed socket
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// optionError marks failures raised while applying options inside the
// listen control hook, so Bind can report them as OpOption.
type optionError struct {
	opt Option
	err error
}

func (e *optionError) Error() string {
	return fmt.Sprintf("%s: %v", e.opt, e.err)
}

func (e *optionError) Unwrap() error {
	return e.err
}
