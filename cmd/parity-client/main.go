// Command parity-client runs the per-save inventory sync client: it
// polls a local RetroArch instance over UDP and exchanges deltas with a
// parity-server peer (spec §4, §5).
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/abyssonym/parity/client"
	"github.com/abyssonym/parity/emulator"
	"github.com/abyssonym/parity/shared"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "parity-client:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.StringP("ini", "i", "parity.ini", "INI configuration file")
		overlayPath = flag.String("config", "", "optional JSON-with-comments overlay file")
		server      = flag.String("server", "", "override server hostname")
		port        = flag.Int("port", 0, "override server port")
		session     = flag.String("session", "", "session name")
		mode        = flag.String("mode", "", "new or join")
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
	if *server != "" {
		cfg.ServerHostname = *server
	}
	if *port != 0 {
		cfg.ServerPort = *port
	}
	if *session != "" {
		cfg.JoinSessionName = *session
	}

	log := shared.NewLogger(cfg.Debug)

	ch, err := emulator.Dial(cfg.RetroarchPort, cfg.PollInterval/5)
	if err != nil {
		return fmt.Errorf("dial emulator: %w", err)
	}
	defer ch.Close()

	if err := ch.SelfTest(cfg.ButtonMapAddress); err != nil {
		return fmt.Errorf("emulator self-test failed: %w", err)
	}

	peerAddr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", cfg.ServerHostname, cfg.ServerPort))
	if err != nil {
		return fmt.Errorf("resolve server address: %w", err)
	}
	peer, err := net.DialUDP("udp", nil, peerAddr)
	if err != nil {
		return fmt.Errorf("dial server: %w", err)
	}
	defer peer.Close()

	series := time.Now().Unix()
	loop := client.NewLoop(cfg, log, ch, peer, series)

	switch mode := *mode; mode {
	case "new":
		if err := loop.NewSession(cfg.JoinSessionName, 5*time.Second); err != nil {
			return fmt.Errorf("create session %q: %w", cfg.JoinSessionName, err)
		}
	case "join":
		if err := loop.JoinSession(cfg.JoinSessionName, 5*time.Second); err != nil {
			return fmt.Errorf("join session %q: %w", cfg.JoinSessionName, err)
		}
	default:
		return fmt.Errorf("--mode must be \"new\" or \"join\", got %q", mode)
	}

	log.WithField("session", cfg.JoinSessionName).Info("session bootstrap complete, starting poll loop")

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		close(stop)
	}()

	loop.Run(stop)
	return nil
}
