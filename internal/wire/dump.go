// Package wire provides verbose packet introspection for diagnostics,
// generalizing the teacher library's snoop.go (Conn.Snoop/SnoopWithPacket),
// which used go-spew to dump decoded packets while poking at a live
// server. Here it's wired into the server's -verbose logging path instead
// of a standalone debug client.
package wire

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"
)

var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
}

// Dump renders a decoded packet as a multi-line structural dump, prefixed
// with a short label (e.g. the peer address or transfer direction), for
// use behind a verbose/debug logging flag.
func Dump(label string, p any) string {
	return fmt.Sprintf("%s:\n%s", label, dumper.Sdump(p))
}
