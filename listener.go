package tftpd

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"github.com/brevane/tftpd/internal/tlog"
	"github.com/brevane/tftpd/internal/wire"
)

// listener binds the main TFTP socket and demultiplexes incoming RRQ/WRQ
// packets into per-transfer tasks, per spec.md §4.F. It never handles a
// packet belonging to an in-progress transfer; those arrive on a
// transfer's own ephemeral socket (conn.go).
type listener struct {
	sock    *net.UDPConn
	handler Handler
	cfg     Config
	log     *tlog.Logger
}

func newListener(sock *net.UDPConn, handler Handler, cfg Config) *listener {
	return &listener{sock: sock, handler: handler, cfg: cfg, log: cfg.Logger}
}

// serve reads datagrams off the main socket until ctx is cancelled or the
// socket returns a fatal error.
func (l *listener) serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.sock.Close()
	}()

	buf := make([]byte, 65536)
	for {
		n, from, err := l.sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		datagram := append([]byte(nil), buf[:n]...)
		go l.dispatch(ctx, datagram, from)
	}
}

// dispatch decodes one initial datagram and, if it is a valid RRQ/WRQ,
// spawns a transfer task on a fresh ephemeral socket. Any other outcome is
// handled inline and does not spawn anything (spec.md §4.F, §7).
func (l *listener) dispatch(ctx context.Context, datagram []byte, from netip.AddrPort) {
	p, err := Decode(datagram)
	if err != nil {
		// Malformed junk on the main port: ignore silently to avoid
		// becoming an amplification vector (spec.md §7).
		l.log.Verbose("listener: decode from %s: %v", from, err)
		return
	}

	req, ok := p.(*RequestPacket)
	if !ok {
		l.log.Verbose("listener: unexpected %s from %s on main socket", p.Opcode(), from)
		l.replyError(from, NewError(ErrIllegalOperation, "unexpected opcode %s", p.Opcode()))
		return
	}

	l.log.Verbose("listener: %s", wire.Dump(fmt.Sprintf("request from %s", from), req))

	if req.Mode == ModeNetASCII || req.Mode == ModeMail {
		l.replyError(from, NewError(ErrNotDefined, "netascii mode not supported, use octet"))
		return
	}

	sock, err := listenEphemeral(localUDPAddr(l.sock))
	if err != nil {
		l.log.Error("listener: spawn ephemeral socket for %s: %v", from, err)
		l.replyError(from, NewError(ErrNotDefined, "server error: could not allocate transfer socket"))
		return
	}

	conn := newTransferConn(sock)
	conn.pin(from)

	switch req.Op {
	case OpRRQ:
		l.startRead(ctx, conn, req, from)
	case OpWRQ:
		l.startWrite(ctx, conn, req, from)
	}
}

func (l *listener) startRead(ctx context.Context, conn *transferConn, req *RequestPacket, peer netip.AddrPort) {
	reader, size, err := l.handler.OpenRead(ctx, req.Filename, peer)
	if err != nil {
		code, msg := errorCodeOf(err)
		l.log.Info("rrq %s %q: %s", peer, req.Filename, msg)
		l.replyError(peer, NewError(code, "%s", msg))
		conn.close()
		return
	}

	limits := Limits{
		BlockSizeLimit:   uint16(l.cfg.BlockSizeLimit),
		Timeout:          l.cfg.Timeout,
		IgnoreBlockSize:  l.cfg.IgnoreBlockSizeOption,
		IgnoreTimeout:    l.cfg.IgnoreTimeoutOption,
		IgnoreWindowSize: l.cfg.IgnoreWindowSizeOption,
	}
	opts, survived := Negotiate(req.Options, limits, asUint64(size))

	l.log.Info("rrq %s %q: starting, blksize=%d windowsize=%d", peer, req.Filename, opts.BlockSize, opts.WindowSize)
	defer conn.close()
	runRead(conn, reader, opts, survived, peer, l.cfg, l.log)
}

func (l *listener) startWrite(ctx context.Context, conn *transferConn, req *RequestPacket, peer netip.AddrPort) {
	writer, err := l.handler.OpenWrite(ctx, req.Filename, peer)
	if err != nil {
		code, msg := errorCodeOf(err)
		l.log.Info("wrq %s %q: %s", peer, req.Filename, msg)
		l.replyError(peer, NewError(code, "%s", msg))
		conn.close()
		return
	}

	limits := Limits{
		BlockSizeLimit:   uint16(l.cfg.BlockSizeLimit),
		Timeout:          l.cfg.Timeout,
		IgnoreBlockSize:  l.cfg.IgnoreBlockSizeOption,
		IgnoreTimeout:    l.cfg.IgnoreTimeoutOption,
		IgnoreWindowSize: l.cfg.IgnoreWindowSizeOption,
	}
	opts, survived := Negotiate(req.Options, limits, nil)

	l.log.Info("wrq %s %q: starting, blksize=%d windowsize=%d", peer, req.Filename, opts.BlockSize, opts.WindowSize)
	defer conn.close()
	runWrite(conn, writer, opts, survived, peer, l.cfg, l.log)
}

// replyError sends an ERROR packet from the main listener socket directly
// to addr, used for requests that never reach a per-transfer socket.
func (l *listener) replyError(addr netip.AddrPort, e *ErrorPacket) {
	b := Encode(e)
	if _, err := l.sock.WriteToUDPAddrPort(b, addr); err != nil {
		l.log.Error("listener: reply error to %s: %v", addr, err)
	}
}

// asUint64 converts a Handler's *int64 length (as returned by OpenRead) to
// the *uint64 Negotiate expects; a negative length (which a well-behaved
// Handler never reports) is treated as unknown.
func asUint64(n *int64) *uint64 {
	if n == nil || *n < 0 {
		return nil
	}
	u := uint64(*n)
	return &u
}

func localUDPAddr(sock *net.UDPConn) *net.UDPAddr {
	if a, ok := sock.LocalAddr().(*net.UDPAddr); ok {
		return a
	}
	return &net.UDPAddr{}
}
