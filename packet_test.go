package tftpd

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  Packet
	}{
		{
			name: "read request no options",
			pkt:  &RequestPacket{Op: OpRRQ, Filename: "testfile.txt", Mode: ModeOctet},
		},
		{
			name: "write request with options",
			pkt: &RequestPacket{
				Op: OpWRQ, Filename: "outfile.bin", Mode: ModeOctet,
				Options: RawOptions{"blksize": "1024", "timeout": "5"},
			},
		},
		{
			name: "data packet with payload",
			pkt:  &DataPacket{Block: 42, Payload: []byte("tftp data packet test data")},
		},
		{
			name: "empty data packet",
			pkt:  &DataPacket{Block: 1},
		},
		{
			name: "ack packet",
			pkt:  &AckPacket{Block: 65535},
		},
		{
			name: "error packet",
			pkt:  &ErrorPacket{Code: ErrFileNotFound, Message: "no such file"},
		},
		{
			name: "oack packet",
			pkt:  &OAckPacket{Options: RawOptions{"blksize": "1024", "windowsize": "4"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := Encode(tt.pkt)

			decoded, err := Decode(wire)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if decoded.Opcode() != tt.pkt.Opcode() {
				t.Fatalf("opcode mismatch: got %s, want %s", decoded.Opcode(), tt.pkt.Opcode())
			}

			again := Encode(decoded)
			if !bytes.Equal(again, wire) {
				t.Errorf("round trip mismatch:\ngot  %v\nwant %v", again, wire)
			}
		})
	}
}

func TestDecodeRequestFilenameAndMode(t *testing.T) {
	b := Encode(&RequestPacket{Op: OpRRQ, Filename: "helloworld.txt", Mode: ModeOctet})

	p, err := Decode(b)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	req, ok := p.(*RequestPacket)
	if !ok {
		t.Fatalf("decoded packet is %T, not *RequestPacket", p)
	}
	if req.Filename != "helloworld.txt" {
		t.Errorf("filename = %q, want %q", req.Filename, "helloworld.txt")
	}
	if req.Mode != ModeOctet {
		t.Errorf("mode = %v, want octet", req.Mode)
	}
}

func TestDecodeRequestOptionsCaseInsensitive(t *testing.T) {
	b := Encode(&RequestPacket{
		Op: OpRRQ, Filename: "f", Mode: ModeOctet,
		Options: RawOptions{"BLKSIZE": "1024"},
	})

	p, err := Decode(b)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	req := p.(*RequestPacket)
	if v, ok := req.Options.Get("blksize"); !ok || v != "1024" {
		t.Errorf("Options.Get(blksize) = %q, %v, want 1024, true", v, ok)
	}
}

func TestDecodeShortPacketsError(t *testing.T) {
	tests := []struct {
		name string
		b    []byte
	}{
		{"empty", nil},
		{"opcode only", []byte{0, 3}},
		{"data missing block", []byte{0, 3, 0}},
		{"ack missing block", []byte{0, 4, 0}},
		{"unknown opcode", []byte{0, 99, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.b); err == nil {
				t.Errorf("Decode(%v) = nil error, want error", tt.b)
			}
		})
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	b := Encode(NewError(ErrDiskFull, "no space left"))

	p, err := Decode(b)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	e := p.(*ErrorPacket)
	if e.Code != ErrDiskFull {
		t.Errorf("code = %v, want DiskFull", e.Code)
	}
	if e.Message != "no space left" {
		t.Errorf("message = %q, want %q", e.Message, "no space left")
	}
}

func TestOpcodeString(t *testing.T) {
	if got := OpRRQ.String(); got != "RRQ" {
		t.Errorf("OpRRQ.String() = %q, want RRQ", got)
	}
	if got := Opcode(99).String(); got == "" {
		t.Errorf("unknown opcode String() should not be empty")
	}
}
