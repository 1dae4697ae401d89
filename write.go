package tftpd

import (
	"io"
	"net/netip"

	"github.com/brevane/tftpd/internal/tlog"
	"github.com/brevane/tftpd/internal/wire"
)

// writeTransfer drives one WRQ from Negotiating through Done or Failed.
type writeTransfer struct {
	conn   *transferConn
	writer io.WriteCloser
	opts   Options
	peer   netip.AddrPort
	cfg    Config
	log    *tlog.Logger

	expected     uint64 // block index expected next
	sinceLastAck int    // consecutive in-order blocks written since the last ACK
	lastAcked    uint16 // most recently ACKed block, for timeout resends
}

// runWrite executes the write-transfer state machine (spec.md §4.E). It
// never returns an error: failures are logged and, where appropriate,
// reported to the peer with an ERROR packet.
func runWrite(conn *transferConn, writer io.WriteCloser, opts Options, survived RawOptions, peer netip.AddrPort, cfg Config, log *tlog.Logger) {
	wt := &writeTransfer{conn: conn, writer: writer, opts: opts, peer: peer, cfg: cfg, log: log, expected: 1}

	// enter drives the handshake through to completion, including the full
	// receive loop for the first DATA packet it observes (see enter's doc).
	if !wt.enter(survived) {
		_ = writer.Close()
		return
	}

	if err := writer.Close(); err != nil {
		wt.log.Error("wrq %s: close: %v", wt.peer, err)
		wt.sendError(NewError(ErrDiskFull, "close failed: %v", err))
		return
	}

	wt.log.Info("wrq %s: transfer complete", wt.peer)
}

// enter sends the initial OACK or ACK(0) and waits for the first DATA,
// retransmitting on timeout up to cfg.MaxRetries times. Once the first DATA
// arrives it hands off to handleData, which processes that block and then
// runs the rest of the Receiving loop itself — so a true return from enter
// means the whole transfer (not just the handshake) finished successfully.
func (wt *writeTransfer) enter(survived RawOptions) bool {
	var first Packet = &AckPacket{Block: 0}
	if NeedsOAck(survived) {
		first = &OAckPacket{Options: survived}
	}

	buf := make([]byte, 65536)
	for attempt := 0; attempt <= wt.cfg.MaxRetries; attempt++ {
		if err := wt.conn.send(first); err != nil {
			wt.log.Error("wrq %s: send %s: %v", wt.peer, first.Opcode(), err)
			return false
		}
		wt.log.Verbose("wrq %s: %s", wt.peer, wire.Dump("sent", first))

		if err := wt.conn.setDeadline(wt.opts.Timeout); err != nil {
			wt.log.Error("wrq %s: set deadline: %v", wt.peer, err)
			return false
		}

		p, err := wt.conn.recv(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			wt.log.Verbose("wrq %s: recv during handshake: %v", wt.peer, err)
			return false
		}

		switch pkt := p.(type) {
		case *DataPacket:
			return wt.handleData(pkt)
		case *ErrorPacket:
			wt.log.Info("wrq %s: client aborted: %s", wt.peer, pkt.Message)
			return false
		default:
			wt.sendError(NewError(ErrIllegalOperation, "unexpected %s during handshake", p.Opcode()))
			return false
		}
	}

	wt.log.Info("wrq %s: abandoned after %d handshake retransmits", wt.peer, wt.cfg.MaxRetries)
	return false
}

// receive runs the steady-state DATA/ACK loop until the final (short) block
// is written, per spec.md §4.E. A silent client is abandoned (no ERROR sent,
// per spec.md §7 "Peer timeout") after cfg.MaxRetries consecutive unanswered
// ACK resends, mirroring read.go's awaitAck retry budget.
func (wt *writeTransfer) receive() bool {
	buf := make([]byte, 65536)
	retries := 0
	for {
		if err := wt.conn.setDeadline(wt.opts.Timeout); err != nil {
			wt.log.Error("wrq %s: set deadline: %v", wt.peer, err)
			return false
		}

		p, err := wt.conn.recv(buf)
		if err != nil {
			if isTimeout(err) {
				retries++
				if retries > wt.cfg.MaxRetries {
					wt.log.Info("wrq %s: abandoned after %d retransmits", wt.peer, wt.cfg.MaxRetries)
					return false
				}
				if !wt.resendLastAck() {
					return false
				}
				continue
			}
			wt.log.Verbose("wrq %s: recv: %v", wt.peer, err)
			return false
		}
		retries = 0

		switch pkt := p.(type) {
		case *DataPacket:
			done, ok := wt.handleDataReturningDone(pkt)
			if !ok {
				return false
			}
			if done {
				return true
			}
		case *ErrorPacket:
			wt.log.Info("wrq %s: client aborted: %s", wt.peer, pkt.Message)
			return false
		default:
			wt.sendError(NewError(ErrIllegalOperation, "unexpected %s during transfer", p.Opcode()))
			return false
		}
	}
}

// handleData processes the very first DATA packet observed during enter.
// If that block was the final one it returns true at once; otherwise it
// continues in Receiving via receive and returns receive's result. False
// means the transfer failed.
func (wt *writeTransfer) handleData(p *DataPacket) bool {
	done, ok := wt.handleDataReturningDone(p)
	if !ok {
		return false
	}
	if done {
		return true
	}
	return wt.receive()
}

// handleDataReturningDone applies the duplicate-suppression and windowed
// ACK rules of spec.md §4.E to one DATA packet.
func (wt *writeTransfer) handleDataReturningDone(p *DataPacket) (done, ok bool) {
	want := uint16(wt.expected)
	switch {
	case p.Block == want:
		if _, err := wt.writer.Write(p.Payload); err != nil {
			wt.log.Error("wrq %s: write: %v", wt.peer, err)
			wt.sendError(NewError(ErrDiskFull, "write failed: %v", err))
			return false, false
		}

		final := len(p.Payload) < int(wt.opts.BlockSize)
		wt.sinceLastAck++
		wt.expected++

		if final || wt.sinceLastAck >= int(wt.opts.WindowSize) {
			if err := wt.ack(p.Block); err != nil {
				wt.log.Error("wrq %s: send ACK(%d): %v", wt.peer, p.Block, err)
				return false, false
			}
			wt.sinceLastAck = 0
		}
		return final, true

	case p.Block == want-1:
		// Duplicate of the last written block: resend its ACK, don't write.
		wt.log.Verbose("wrq %s: duplicate DATA(%d), resending ACK", wt.peer, p.Block)
		if err := wt.ack(p.Block); err != nil {
			wt.log.Error("wrq %s: send ACK(%d): %v", wt.peer, p.Block, err)
			return false, false
		}
		return false, true

	default:
		wt.sendError(NewError(ErrIllegalOperation, "expected DATA(%d), got DATA(%d)", want, p.Block))
		return false, false
	}
}

func (wt *writeTransfer) ack(block uint16) error {
	wt.lastAcked = block
	a := &AckPacket{Block: block}
	if err := wt.conn.send(a); err != nil {
		return err
	}
	wt.log.Verbose("wrq %s: %s", wt.peer, wire.Dump("sent", a))
	return nil
}

// resendLastAck retransmits the most recent ACK after a recv timeout, per
// spec.md §4.E's "resend last ACK and continue".
func (wt *writeTransfer) resendLastAck() bool {
	wt.log.Verbose("wrq %s: timeout, resending ACK(%d)", wt.peer, wt.lastAcked)
	a := &AckPacket{Block: wt.lastAcked}
	return wt.conn.send(a) == nil
}

func (wt *writeTransfer) sendError(e *ErrorPacket) {
	if err := wt.conn.send(e); err != nil {
		wt.log.Error("wrq %s: send ERROR: %v", wt.peer, err)
	}
}
