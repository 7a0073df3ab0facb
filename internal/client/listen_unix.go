//go:build unix

package client

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl sets SO_REUSEADDR and, where available, SO_REUSEPORT on the
// result listener so consecutive phases can rebind the same port at once.
func reuseControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if sockErr != nil {
			return
		}
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			log.Debug("SO_REUSEPORT unavailable on %s: %v", address, err)
		}
	})
	if err != nil {
		return err
	}
	return sockErr
}
