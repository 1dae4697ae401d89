package tftpd

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// transferConn wraps the ephemeral UDP socket bound for exactly one
// transfer. It pins the client's transfer ID (TID) after the first
// datagram and, per spec.md §4.F / §8 invariant 6, answers any datagram
// from a different peer with ERROR(5) and otherwise ignores it without
// disturbing the ongoing transfer.
//
// This generalizes the teacher's Conn.Read/Accept TID-pinning logic
// (conn.go, dit.go) into a type owned by a single transfer rather than one
// that also knows how to Accept new connections.
type transferConn struct {
	sock *net.UDPConn
	peer netip.AddrPort // zero until pinned
}

func newTransferConn(sock *net.UDPConn) *transferConn {
	return &transferConn{sock: sock}
}

// pin fixes the transfer's peer, called once the first datagram related to
// this transfer is observed.
func (c *transferConn) pin(addr netip.AddrPort) {
	c.peer = addr
}

func (c *transferConn) localAddr() net.Addr { return c.sock.LocalAddr() }

func (c *transferConn) close() error { return c.sock.Close() }

func (c *transferConn) setDeadline(d time.Duration) error {
	return c.sock.SetDeadline(time.Now().Add(d))
}

// send writes a packet to the pinned peer. It must not be called before
// the peer is pinned.
func (c *transferConn) send(p Packet) error {
	if !c.peer.IsValid() {
		return fmt.Errorf("tftpd: send before peer TID is pinned")
	}
	b := Encode(p)
	_, err := c.sock.WriteToUDPAddrPort(b, c.peer)
	return err
}

// sendTo writes a packet to an arbitrary address, used only to answer
// stray datagrams from an unrecognized TID.
func (c *transferConn) sendTo(p Packet, addr netip.AddrPort) error {
	b := Encode(p)
	_, err := c.sock.WriteToUDPAddrPort(b, addr)
	return err
}

// recv waits for the next packet belonging to this transfer. Datagrams
// from any address other than the pinned peer elicit ERROR(5) and are
// dropped; recv keeps looping (within the deadline already armed on the
// socket) until it sees a packet from the pinned peer, a read error
// (typically a timeout), or pins the peer itself on the very first call.
func (c *transferConn) recv(buf []byte) (Packet, error) {
	for {
		n, from, err := c.sock.ReadFromUDPAddrPort(buf)
		if err != nil {
			return nil, err
		}

		if !c.peer.IsValid() {
			c.pin(from)
		} else if from != c.peer {
			_ = c.sendTo(NewError(ErrUnknownTID, "unknown transfer ID"), from)
			continue
		}

		p, err := Decode(buf[:n])
		if err != nil {
			// Malformed packet from our own peer: treat as a protocol
			// violation rather than silently retrying forever.
			return nil, fmt.Errorf("tftpd: decode from peer %s: %w", from, err)
		}
		return p, nil
	}
}

// listenEphemeral opens a fresh UDP socket on the same IP as localAddr,
// letting the OS assign the port, as required by spec.md §2 ("a new
// ephemeral UDP socket bound to the same local address family and IP as
// the listener").
func listenEphemeral(localAddr *net.UDPAddr) (*net.UDPConn, error) {
	addr := &net.UDPAddr{IP: localAddr.IP, Port: 0, Zone: localAddr.Zone}
	return net.ListenUDP(udpNetwork(localAddr), addr)
}

func udpNetwork(addr *net.UDPAddr) string {
	if addr.IP != nil && addr.IP.To4() == nil {
		return "udp6"
	}
	return "udp4"
}
