package tftpd

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/brevane/tftpd/internal/netutil"
	"github.com/brevane/tftpd/internal/tlog"
)

// Config collects the builder-recognised parameters of spec.md §4.G,
// generalizing the teacher's ad hoc server.Opts/newServer pair (server/server.go,
// server/smain.go) into a reusable, dependency-injected builder that never
// depends on CLI parsing.
type Config struct {
	// BindAddr is the local address the listener binds, e.g. ":69" or
	// "0.0.0.0:69". Ignored if Socket is set. Defaults to ":69".
	BindAddr string

	// Socket, if non-nil, is used as the listening socket instead of
	// binding BindAddr. Lets a caller supply a privileged or pre-tuned
	// socket (e.g. one passed down by a supervisor via socket activation).
	Socket *net.UDPConn

	// Timeout is the server-preferred per-retransmit deadline, used unless
	// the client negotiates a shorter one via RFC 2349 (default 3s).
	Timeout time.Duration

	// BlockSizeLimit clamps the blksize a client may negotiate (default
	// MaxBlockSize, 65464).
	BlockSizeLimit int

	// MaxRetries is the number of consecutive unanswered retransmits
	// tolerated before a transfer aborts (default 100).
	MaxRetries int

	IgnoreTimeoutOption    bool // refuse to negotiate "timeout"
	IgnoreBlockSizeOption  bool // refuse to negotiate "blksize"
	IgnoreWindowSizeOption bool // refuse to negotiate "windowsize"

	// Logger receives one line per transfer start/end/retransmit/abort.
	// Defaults to a non-verbose logger writing to os.Stderr.
	Logger *tlog.Logger
}

// Option configures a Config during New.
type Option func(*Config)

// WithBindAddr sets the local address the listener binds.
func WithBindAddr(addr string) Option {
	return func(c *Config) { c.BindAddr = addr }
}

// WithSocket supplies an already-bound listening socket, bypassing BindAddr.
func WithSocket(sock *net.UDPConn) Option {
	return func(c *Config) { c.Socket = sock }
}

// WithTimeout sets the server-preferred retransmit timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithBlockSizeLimit clamps the blksize a client may negotiate.
func WithBlockSizeLimit(n int) Option {
	return func(c *Config) { c.BlockSizeLimit = n }
}

// WithMaxRetries sets the retransmit budget per transfer.
func WithMaxRetries(n int) Option {
	return func(c *Config) { c.MaxRetries = n }
}

// WithIgnoreTimeoutOption disables "timeout" negotiation when refuse is true.
func WithIgnoreTimeoutOption(refuse bool) Option {
	return func(c *Config) { c.IgnoreTimeoutOption = refuse }
}

// WithIgnoreBlockSizeOption disables "blksize" negotiation when refuse is true.
func WithIgnoreBlockSizeOption(refuse bool) Option {
	return func(c *Config) { c.IgnoreBlockSizeOption = refuse }
}

// WithIgnoreWindowSizeOption disables "windowsize" negotiation when refuse is true.
func WithIgnoreWindowSizeOption(refuse bool) Option {
	return func(c *Config) { c.IgnoreWindowSizeOption = refuse }
}

// WithLogger overrides the default logger.
func WithLogger(l *tlog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() Config {
	return Config{
		BindAddr:       ":69",
		Timeout:        3 * time.Second,
		BlockSizeLimit: MaxBlockSize,
		MaxRetries:     100,
		Logger:         tlog.Default(false),
	}
}

// Server is a ready-to-serve TFTP core: a handler plus negotiated
// configuration. Build one with New, then call Serve.
type Server struct {
	handler Handler
	cfg     Config
}

// New assembles a Server from a Handler and any number of Options. It
// performs no I/O; binding happens in Serve.
func New(handler Handler, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{handler: handler, cfg: cfg}
}

// Serve runs the listener until ctx is cancelled, spawning a transfer task
// per incoming RRQ/WRQ (spec.md §4.F). It returns nil on graceful
// cancellation and a non-nil error only on a fatal bind or listener-recv
// failure (spec.md §6 "Exit/termination"); per-transfer failures never
// surface here.
func (s *Server) Serve(ctx context.Context) error {
	sock := s.cfg.Socket
	if sock == nil {
		bound, err := netutil.Listen(ctx, "udp", s.cfg.BindAddr)
		if err != nil {
			return fmt.Errorf("tftpd: listen %s: %w", s.cfg.BindAddr, err)
		}
		sock = bound
	}
	defer sock.Close()

	l := newListener(sock, s.handler, s.cfg)
	return l.serve(ctx)
}
