//go:build unix

package socket

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func setSockopt(fd uintptr, opt Option) error {
	switch opt {
	case OptionBroadcast:
		return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	case OptionReuseAddr:
		return unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	default:
		return fmt.Errorf("unknown option %v", opt)
	}
}

// Unix datagram sockets silently truncate oversized datagrams
func isTruncated(err error) bool {
	return false
}
