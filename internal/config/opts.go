// Package config parses cmd/tftpd's command-line flags, generalizing the
// teacher library's server/opts.go go-getoptions flag surface to the
// options a tftpd.Server builder actually recognises (spec.md §4.G).
package config

import (
	"io"
	"strings"
	"time"

	"github.com/DavidGamba/go-getoptions"
)

// Opts are the tftpd command-line flags.
type Opts struct {
	Address string // --address|-a [host][:port]
	Root    string // --secure|-s path/to/dir

	BlockSizeLimit int    // --blocksize|-B max-block-size
	Timeout        int    // --timeout|-t seconds
	MaxRetries     int    // --retransmit|-T max retries
	Refuse         string // --refuse|-r comma separated: blksize,timeout,windowsize

	Create  bool // --create|-c
	Verbose bool // --verbose|-v
	Version bool // --version|-V

	Out, Err io.Writer
}

// NewOpts builds the getoptions parser bound to a fresh Opts value,
// bundling short flags exactly as the teacher's server/opts.go does.
func NewOpts() (*Opts, *getoptions.GetOpt) {
	var o Opts
	opt := getoptions.New()
	opt.SetMode(getoptions.Bundling)

	opt.Bool("help", false, opt.Alias("h", "?"))

	opt.StringVar(&o.Address, "address", ":69", opt.Alias("a"),
		opt.Description("address[:port] to listen on"))
	opt.StringVar(&o.Root, "secure", ".", opt.Alias("s"),
		opt.Description("serve/write files only from this directory"))
	opt.StringVar(&o.Refuse, "refuse", "", opt.Alias("r"),
		opt.Description("comma separated TFTP options to refuse negotiating: blksize, timeout, windowsize"))

	opt.IntVar(&o.BlockSizeLimit, "blocksize", 65464, opt.Alias("B"),
		opt.Description("maximum permitted block size, 8-65464"))
	opt.IntVar(&o.Timeout, "timeout", 3, opt.Alias("t"),
		opt.Description("seconds to wait before retransmitting"))
	opt.IntVar(&o.MaxRetries, "retransmit", 100, opt.Alias("T"),
		opt.Description("number of retransmits before abandoning a transfer"))

	opt.BoolVar(&o.Create, "create", false, opt.Alias("c"),
		opt.Description("allow new files to be created on write requests"))
	opt.BoolVar(&o.Verbose, "verbose", false, opt.Alias("v"),
		opt.Description("verbose logging"))
	opt.BoolVar(&o.Version, "version", false, opt.Alias("V"),
		opt.Description("print version and exit"))

	return &o, opt
}

// ListenTimeout returns the configured per-retransmit timeout as a
// time.Duration.
func (o *Opts) ListenTimeout() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}

// refused reports whether name (one of "blksize", "timeout", "windowsize")
// appears in the comma-separated --refuse flag.
func (o *Opts) refused(name string) bool {
	for _, r := range strings.Split(o.Refuse, ",") {
		if strings.TrimSpace(r) == name {
			return true
		}
	}
	return false
}

// IgnoreBlockSizeOption reports whether blksize negotiation was refused.
func (o *Opts) IgnoreBlockSizeOption() bool { return o.refused("blksize") }

// IgnoreTimeoutOption reports whether timeout negotiation was refused.
func (o *Opts) IgnoreTimeoutOption() bool { return o.refused("timeout") }

// IgnoreWindowSizeOption reports whether windowsize negotiation was refused.
func (o *Opts) IgnoreWindowSizeOption() bool { return o.refused("windowsize") }
