// Command tftpd runs a standalone TFTP server, wiring internal/config's
// CLI flags into a dirhandler-backed tftpd.Server, generalizing the teacher
// library's cmd/tftpd/{main.go,server.go} and server/smain.go entrypoint.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/brevane/tftpd"
	"github.com/brevane/tftpd/dirhandler"
	"github.com/brevane/tftpd/internal/config"
	"github.com/brevane/tftpd/internal/tlog"
)

const version = "tftpd 0.1.0"

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr *os.File) error {
	opts, opt := config.NewOpts()
	opts.Out, opts.Err = stdout, stderr

	if _, err := opt.Parse(args); err != nil {
		return fmt.Errorf("tftpd: %w", err)
	}
	if opt.Called("help") {
		fmt.Fprintln(stderr, opt.Help())
		return nil
	}
	if opts.Version {
		fmt.Fprintln(stdout, version)
		return nil
	}

	log := tlog.New(stderr, opts.Verbose)

	handler, err := dirhandler.New(opts.Root, dirhandler.WithCreate(opts.Create))
	if err != nil {
		return fmt.Errorf("tftpd: %w", err)
	}

	srv := tftpd.New(handler,
		tftpd.WithBindAddr(opts.Address),
		tftpd.WithTimeout(opts.ListenTimeout()),
		tftpd.WithBlockSizeLimit(opts.BlockSizeLimit),
		tftpd.WithMaxRetries(opts.MaxRetries),
		tftpd.WithIgnoreTimeoutOption(opts.IgnoreTimeoutOption()),
		tftpd.WithIgnoreBlockSizeOption(opts.IgnoreBlockSizeOption()),
		tftpd.WithIgnoreWindowSizeOption(opts.IgnoreWindowSizeOption()),
		tftpd.WithLogger(log),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("listening on %s, serving %s", opts.Address, opts.Root)
	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("tftpd: %w", err)
	}
	return nil
}
