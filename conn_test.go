package tftpd

import (
	"net"
	"testing"
	"time"
)

func TestTransferConnPinsFirstPeerAndRejectsStrays(t *testing.T) {
	server, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen server: %v", err)
	}
	defer server.Close()

	a, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen A: %v", err)
	}
	defer a.Close()
	c, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen C: %v", err)
	}
	defer c.Close()

	if err := a.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set A deadline: %v", err)
	}
	if err := c.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set C deadline: %v", err)
	}

	tc := newTransferConn(server)
	if err := tc.setDeadline(5 * time.Second); err != nil {
		t.Fatalf("set server deadline: %v", err)
	}

	serverAddr := server.LocalAddr().(*net.UDPAddr).AddrPort()

	// A sends the first packet: this pins the transfer's peer to A.
	if _, err := a.WriteToUDPAddrPort(Encode(&AckPacket{Block: 1}), serverAddr); err != nil {
		t.Fatalf("A send: %v", err)
	}

	p, err := tc.recv(make([]byte, 1024))
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	ack, ok := p.(*AckPacket)
	if !ok || ack.Block != 1 {
		t.Fatalf("first recv = %#v, want AckPacket{Block:1}", p)
	}
	if tc.peer != a.LocalAddr().(*net.UDPAddr).AddrPort() {
		t.Fatalf("peer pinned to %v, want A's address", tc.peer)
	}

	// C (a stray source) now sends a packet at the same ephemeral socket.
	// It must be answered with ERROR(5) to C, and not disturb the transfer.
	if _, err := c.WriteToUDPAddrPort(Encode(&AckPacket{Block: 99}), serverAddr); err != nil {
		t.Fatalf("C send: %v", err)
	}
	// A follows up with the real next packet so recv can return past the stray.
	go func() {
		time.Sleep(50 * time.Millisecond)
		a.WriteToUDPAddrPort(Encode(&AckPacket{Block: 2}), serverAddr)
	}()

	type recvResult struct {
		p   Packet
		err error
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		p, err := tc.recv(make([]byte, 1024))
		recvCh <- recvResult{p, err}
	}()

	buf := make([]byte, 1024)
	n, _, err := c.ReadFromUDPAddrPort(buf)
	if err != nil {
		t.Fatalf("C recv error reply: %v", err)
	}
	errPkt, err := Decode(buf[:n])
	if err != nil {
		t.Fatalf("decode error reply: %v", err)
	}
	e, ok := errPkt.(*ErrorPacket)
	if !ok {
		t.Fatalf("C received %T, want *ErrorPacket", errPkt)
	}
	if e.Code != ErrUnknownTID {
		t.Errorf("error code = %v, want UnknownTID", e.Code)
	}

	result := <-recvCh
	if result.err != nil {
		t.Fatalf("recv after stray: %v", result.err)
	}
	if ack2, ok := result.p.(*AckPacket); !ok || ack2.Block != 2 {
		t.Fatalf("recv after stray = %#v, want AckPacket{Block:2}", result.p)
	}
}
