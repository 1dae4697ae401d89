//go:build linux

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func controlFunc(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		// Allow multiple processes/sockets to bind the same port, mirroring
		// the teacher's server/sys_linux.go.
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
			ctrlErr = err
			return
		}
		// Raise socket priority so retransmit-sensitive TFTP traffic isn't
		// starved under load. Priority range is [1-7].
		if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, syscall.SO_PRIORITY, 7); err != nil {
			ctrlErr = err
		}
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
