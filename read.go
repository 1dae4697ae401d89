package tftpd

import (
	"errors"
	"io"
	"net"
	"net/netip"

	"github.com/brevane/tftpd/internal/tlog"
	"github.com/brevane/tftpd/internal/wire"
)

// windowSlot holds one in-flight DATA block's payload, buffered so it can be
// retransmitted without seeking the underlying reader (spec.md §9: "Window
// buffer vs rewinding reader" — handler readers are not required to be
// seekable). This generalizes the teacher's single-block FileBuffer
// retransmission buffer (filebuffer.go) to an arbitrary-sized window.
type windowSlot struct {
	block   uint64
	payload []byte
	final   bool // payload is shorter than blksize: last block of the transfer
}

// readTransfer drives one RRQ from Negotiating through Done or Failed.
type readTransfer struct {
	conn   *transferConn
	reader io.ReadCloser
	opts   Options
	peer   netip.AddrPort
	cfg    Config
	log    *tlog.Logger

	window   []windowSlot // in-flight, unacked blocks, oldest first
	nextRead uint64       // block index of the next byte range to pull from reader
	eof      bool         // reader has been fully drained
}

// runRead executes the read-transfer state machine. It never returns an
// error to its caller: every failure is logged and, where appropriate,
// reported to the peer with an ERROR packet, per spec.md §7. The reader is
// owned by the transfer for its whole lifetime and is always closed before
// returning (spec.md §4.C), whether the transfer finished, failed, or was
// rejected during negotiation.
func runRead(conn *transferConn, reader io.ReadCloser, opts Options, survived RawOptions, peer netip.AddrPort, cfg Config, log *tlog.Logger) {
	rt := &readTransfer{conn: conn, reader: reader, opts: opts, peer: peer, cfg: cfg, log: log, nextRead: 1}
	defer func() {
		if err := rt.reader.Close(); err != nil {
			rt.log.Error("rrq %s: close reader: %v", rt.peer, err)
		}
	}()

	if NeedsOAck(survived) {
		if !rt.negotiate(survived) {
			return
		}
	}

	rt.stream()
}

// negotiate sends the OACK and waits for ACK(block=0), retransmitting on
// timeout up to cfg.MaxRetries times (spec.md §4.D).
func (rt *readTransfer) negotiate(survived RawOptions) bool {
	oack := &OAckPacket{Options: survived}
	buf := make([]byte, 65536)

	for attempt := 0; attempt <= rt.cfg.MaxRetries; attempt++ {
		if err := rt.conn.send(oack); err != nil {
			rt.log.Error("rrq %s: send OACK: %v", rt.peer, err)
			return false
		}
		rt.log.Verbose("rrq %s: %s", rt.peer, wire.Dump("sent", oack))

		if err := rt.conn.setDeadline(rt.opts.Timeout); err != nil {
			rt.log.Error("rrq %s: set deadline: %v", rt.peer, err)
			return false
		}

		p, err := rt.conn.recv(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			rt.log.Verbose("rrq %s: recv during OACK wait: %v", rt.peer, err)
			return false
		}

		switch ack := p.(type) {
		case *AckPacket:
			if ack.Block == 0 {
				return true
			}
			// A client replying with a non-zero ACK before the transfer has
			// started is a protocol violation; abort without a window to
			// reason about.
			rt.sendError(NewError(ErrIllegalOperation, "expected ACK(0), got ACK(%d)", ack.Block))
			return false
		case *ErrorPacket:
			rt.log.Info("rrq %s: client rejected options: %s", rt.peer, ack.Message)
			return false
		default:
			rt.sendError(NewError(ErrIllegalOperation, "unexpected %s while awaiting OACK ack", p.Opcode()))
			return false
		}
	}

	rt.log.Info("rrq %s: abandoned after %d OACK retransmits", rt.peer, rt.cfg.MaxRetries)
	return false
}

// stream runs the windowed DATA/ACK loop until the transfer is Done or
// Failed (spec.md §4.D).
func (rt *readTransfer) stream() {
	buf := make([]byte, 65536)

	for {
		if err := rt.fillWindow(); err != nil {
			rt.log.Error("rrq %s: read: %v", rt.peer, err)
			rt.sendError(NewError(ErrNotDefined, "read error: %v", err))
			return
		}
		if len(rt.window) == 0 {
			// Nothing left to send and nothing outstanding: the final block
			// was already acked in a previous iteration.
			return
		}

		if ok := rt.sendWindow(); !ok {
			return
		}

		done, ok := rt.awaitAck(buf)
		if !ok {
			return
		}
		if done {
			rt.log.Info("rrq %s: transfer complete", rt.peer)
			return
		}
	}
}

// fillWindow tops the window up to opts.WindowSize blocks, reading fresh
// data from the reader for each new slot. It stops early once a short
// (final) block has been produced.
func (rt *readTransfer) fillWindow() error {
	if rt.eof {
		return nil
	}
	for len(rt.window) < int(rt.opts.WindowSize) {
		payload := make([]byte, rt.opts.BlockSize)
		n, err := io.ReadFull(rt.reader, payload)
		switch {
		case err == nil:
			rt.window = append(rt.window, windowSlot{block: rt.nextRead, payload: payload})
		case errors.Is(err, io.ErrUnexpectedEOF):
			rt.window = append(rt.window, windowSlot{block: rt.nextRead, payload: payload[:n], final: true})
			rt.eof = true
		case errors.Is(err, io.EOF):
			// The previous block landed exactly on a blksize boundary; emit
			// the mandatory trailing zero-length DATA (spec.md §8 invariant 2).
			rt.window = append(rt.window, windowSlot{block: rt.nextRead, payload: nil, final: true})
			rt.eof = true
		default:
			return err
		}
		rt.nextRead++
		if rt.eof {
			break
		}
	}
	return nil
}

// sendWindow transmits every buffered slot back-to-back and arms the
// retransmit deadline.
func (rt *readTransfer) sendWindow() bool {
	for _, slot := range rt.window {
		d := &DataPacket{Block: uint16(slot.block), Payload: slot.payload}
		if err := rt.conn.send(d); err != nil {
			rt.log.Error("rrq %s: send DATA(%d): %v", rt.peer, slot.block, err)
			return false
		}
		rt.log.Verbose("rrq %s: %s", rt.peer, wire.Dump("sent", d))
	}
	return rt.conn.setDeadline(rt.opts.Timeout) == nil
}

// awaitAck waits for the client's ACK for the current window, retransmitting
// the whole window on timeout. It returns (done, ok): done means the final
// block was acked; ok is false on unrecoverable failure (already reported).
func (rt *readTransfer) awaitAck(buf []byte) (done, ok bool) {
	for attempt := 0; attempt <= rt.cfg.MaxRetries; attempt++ {
		p, err := rt.conn.recv(buf)
		if err != nil {
			if isTimeout(err) {
				if attempt == rt.cfg.MaxRetries {
					break
				}
				if !rt.retransmitWindow() {
					return false, false
				}
				continue
			}
			rt.log.Verbose("rrq %s: recv: %v", rt.peer, err)
			return false, false
		}

		switch ack := p.(type) {
		case *AckPacket:
			switch rt.classifyAck(ack.Block) {
			case ackStale:
				continue
			case ackFuture:
				rt.sendError(NewError(ErrIllegalOperation, "ACK(%d) acknowledges a block not yet sent", ack.Block))
				return false, false
			case ackInWindow:
				return rt.slideWindow(ack.Block), true
			}
		case *ErrorPacket:
			rt.log.Info("rrq %s: client aborted: %s", rt.peer, ack.Message)
			return false, false
		default:
			rt.sendError(NewError(ErrIllegalOperation, "unexpected %s during transfer", p.Opcode()))
			return false, false
		}
	}

	rt.log.Info("rrq %s: abandoned after %d retransmits", rt.peer, rt.cfg.MaxRetries)
	return false, false
}

type ackClass int

const (
	ackStale ackClass = iota
	ackInWindow
	ackFuture
)

// classifyAck places a received ACK's block number relative to the current
// window, resolving u16 wraparound with the 32768-midpoint rule from
// spec.md §4.D/§8 invariant 4.
func (rt *readTransfer) classifyAck(block uint16) ackClass {
	if len(rt.window) == 0 {
		return ackFuture
	}
	base := rt.window[0].block

	for _, slot := range rt.window {
		if uint16(slot.block) == block {
			return ackInWindow
		}
	}

	// Not in window: decide stale vs future by distance from the base,
	// using the signed 16-bit difference (RFC 1982-style serial comparison,
	// i.e. the 32768-midpoint rule).
	diff := int16(block) - int16(uint16(base))
	if diff < 0 {
		return ackStale
	}
	return ackFuture
}

// slideWindow drops every slot up to and including the acked block and
// reports whether the acked slot was the final one.
func (rt *readTransfer) slideWindow(block uint16) bool {
	for i, slot := range rt.window {
		if uint16(slot.block) == block {
			final := slot.final
			rt.window = rt.window[i+1:]
			return final
		}
	}
	return false
}

// retransmitWindow resends every currently buffered (unacked) slot.
func (rt *readTransfer) retransmitWindow() bool {
	rt.log.Verbose("rrq %s: timeout, retransmitting %d block(s)", rt.peer, len(rt.window))
	return rt.sendWindow()
}

func (rt *readTransfer) sendError(e *ErrorPacket) {
	if err := rt.conn.send(e); err != nil {
		rt.log.Error("rrq %s: send ERROR: %v", rt.peer, err)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
