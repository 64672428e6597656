// Command parity-server runs the single-threaded UDP session ledger
// described in spec §4.9: session bootstrap, inventory delta relay, and
// periodic snapshot persistence.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/abyssonym/parity/server"
	"github.com/abyssonym/parity/shared"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parity-server:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.StringP("ini", "i", "parity.ini", "INI configuration file")
		overlayPath = flag.String("config", "", "optional JSON-with-comments overlay file")
		port        = flag.Int("port", 0, "override listen port")
		snapshotDir = flag.String("snapshot-dir", "snapshots", "directory for periodic backup files")
	)
	flag.Parse()

	cfg, err := shared.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *overlayPath != "" {
		raw, err := os.ReadFile(*overlayPath)
		if err != nil {
			return &shared.ConfigError{Err: err}
		}
		if err := shared.ApplyJSONOverlay(&cfg, raw); err != nil {
			return err
		}
	}
	if *port != 0 {
		cfg.ServerPort = *port
	}

	log := shared.NewLogger(cfg.Debug)

	ledger, err := server.LoadLatestSnapshot(*snapshotDir)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	loop, err := server.NewLoop(cfg, log, ledger, *snapshotDir)
	if err != nil {
		return err
	}
	defer loop.Close()

	log.WithField("port", cfg.ServerPort).Info("parity-server listening")

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	return loop.Run(stop)
}
