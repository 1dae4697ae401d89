// Package netutil opens the server's main listening socket with the
// platform socket tuning the teacher library applied per-OS
// (server/sys_linux.go, server/sys_darwin.go): SO_REUSEADDR on Linux and
// Darwin, and on Linux a raised SO_PRIORITY since TFTP's UDP traffic
// otherwise competes poorly under load. Other platforms get no tuning.
package netutil

import (
	"context"
	"net"
)

// Listen opens a UDP socket at address, applying platform-specific socket
// options via controlFunc (defined per-OS in sys_linux.go, sys_darwin.go,
// sys_other.go).
func Listen(ctx context.Context, network, address string) (*net.UDPConn, error) {
	cfg := net.ListenConfig{Control: controlFunc}
	pc, err := cfg.ListenPacket(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}
