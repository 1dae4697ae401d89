//go:build darwin

package netutil

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func controlFunc(_, _ string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		// Darwin lacks SO_PRIORITY, so only SO_REUSEADDR carries over from
		// the teacher's server/sys_darwin.go.
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
