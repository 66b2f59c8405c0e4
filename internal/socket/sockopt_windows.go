//go:build windows

package socket

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

func setSockopt(fd uintptr, opt Option) error {
	switch opt {
	case OptionBroadcast:
		return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, 1)
	case OptionReuseAddr:
		return windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_REUSEADDR, 1)
	default:
		return fmt.Errorf("unknown option %v", opt)
	}
}

// Winsock reports WSAEMSGSIZE for a datagram larger than the buffer; the
// buffer still holds the leading bytes.
func isTruncated(err error) bool {
	return errors.Is(err, windows.WSAEMSGSIZE)
}
