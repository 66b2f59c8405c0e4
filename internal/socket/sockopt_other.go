//go:build !unix && !windows

package socket

import "errors"

func setSockopt(fd uintptr, opt Option) error {
	return errors.ErrUnsupported
}

func isTruncated(err error) bool {
	return false
}
