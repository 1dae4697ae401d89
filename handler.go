package tftpd

import (
	"context"
	"io"
	"net/netip"
)

// Handler abstracts the file-like byte sources and sinks a TFTP server
// streams to and from clients. It is the single collaborator the core
// protocol engine depends on; directory-serving, tar.gz, or in-memory
// handlers all satisfy this interface without the engines knowing which.
//
// Implementations must be safe for concurrent use: every active transfer
// calls OpenRead or OpenWrite once, and transfers run concurrently with no
// shared state beyond the Handler itself (spec.md §5).
type Handler interface {
	// OpenRead opens filename for reading on behalf of peer, returning a
	// Reader positioned at the start of the stream and, if known, the
	// stream's total length (used to fill in the tsize option). EOF is
	// signalled by io.EOF, per io.Reader; short Reads are fine, since the
	// engine fills each block with io.ReadFull. The engine
	// closes the returned Reader once the transfer ends, successfully or
	// not, so the Reader is owned by the transfer for its whole lifetime
	// (spec.md §4.C).
	OpenRead(ctx context.Context, filename string, peer netip.AddrPort) (io.ReadCloser, *int64, error)

	// OpenWrite opens filename for writing on behalf of peer, returning a
	// Writer that must be Closed once the transfer completes successfully
	// so buffered data is flushed. If the transfer fails partway, the
	// engine still calls Close; handlers that need to distinguish a
	// partial write from a complete one should do so via their own
	// bookkeeping (e.g. renaming a temp file into place only from Close).
	OpenWrite(ctx context.Context, filename string, peer netip.AddrPort) (io.WriteCloser, error)
}
