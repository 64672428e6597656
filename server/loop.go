package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abyssonym/parity/shared"
)

// maintenanceTick is how often Run checks for GC and backup work,
// independent of the configured retention/backup intervals themselves.
const maintenanceTick = 5 * time.Second

// Loop owns the UDP socket and the ledger it mutates. Unlike the
// reference three-goroutine server (network / maintenance / metrics each
// touching shared state under a mutex), Run is the ledger's only writer:
// spec §5 requires the ledger be mutated only by the server's own loop,
// so GC and snapshot maintenance run as plain time checks inside the
// same read/dispatch iteration rather than as separate goroutines.
type Loop struct {
	conn       *net.UDPConn
	ledger     *Ledger
	dispatcher *Dispatcher
	cfg        shared.Config
	log        *logrus.Logger
	suppr      *shared.Suppressor

	snapshotDir  string
	lastGC       time.Time
	lastSnapshot time.Time
}

// NewLoop binds a UDP listener on cfg.ServerPort and wires a Dispatcher
// around ledger.
func NewLoop(cfg shared.Config, log *logrus.Logger, ledger *Ledger, snapshotDir string) (*Loop, error) {
	addr := &net.UDPAddr{Port: cfg.ServerPort}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", cfg.ServerPort, err)
	}

	now := time.Now()
	return &Loop{
		conn:         conn,
		ledger:       ledger,
		dispatcher:   NewDispatcher(ledger, log),
		cfg:          cfg,
		log:          log,
		suppr:        shared.NewSuppressor(),
		snapshotDir:  snapshotDir,
		lastGC:       now,
		lastSnapshot: now,
	}, nil
}

// Close releases the listening socket.
func (l *Loop) Close() error {
	return l.conn.Close()
}

// Run services inbound datagrams until stop is closed. Each iteration
// reads with a short deadline so maintenance work and shutdown are
// checked promptly even when idle.
func (l *Loop) Run(stop <-chan struct{}) error {
	buf := make([]byte, shared.MaxWireSize+1)

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(maintenanceTick))
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				l.runMaintenance()
				continue
			}
			return fmt.Errorf("read udp: %w", err)
		}

		l.handlePacket(addr, buf[:n])
		l.runMaintenance()
	}
}

func (l *Loop) handlePacket(addr *net.UDPAddr, raw []byte) {
	payload, err := shared.Unframe(raw)
	if err != nil {
		l.logAllow(fmt.Sprintf("unframe error from %s: %v", addr, err))
		return
	}

	member, err := parseMember(addr.IP.String(), string(payload))
	if err != nil {
		l.logAllow(fmt.Sprintf("malformed message from %s: %v", addr, err))
		return
	}

	replies, err := l.dispatcher.Handle(member, string(payload))
	if err != nil {
		l.logAllow(fmt.Sprintf("dispatch error for %s: %v", member, err))
		return
	}

	for _, reply := range replies {
		if err := l.send(addr, reply); err != nil {
			l.logAllow(fmt.Sprintf("send error to %s: %v", member, err))
		}
	}
}

func (l *Loop) send(addr *net.UDPAddr, msg string) error {
	framed, err := shared.Frame([]byte(msg))
	if err != nil {
		return err
	}
	if len(framed) > shared.MaxWireSize {
		return fmt.Errorf("framed reply of %d bytes exceeds max wire size", len(framed))
	}
	_, err = l.conn.WriteToUDP(framed, addr)
	return err
}

func (l *Loop) runMaintenance() {
	now := time.Now()

	if now.Sub(l.lastGC) >= l.cfg.LogRetention {
		l.ledger.GC(l.cfg.LogRetention, now)
		l.lastGC = now
	}

	if l.snapshotDir != "" && now.Sub(l.lastSnapshot) >= l.cfg.BackupInterval {
		if err := WriteSnapshot(l.snapshotDir, l.ledger, now); err != nil {
			l.log.WithError(err).Warn("snapshot write failed")
		}
		l.lastSnapshot = now
	}
}

func (l *Loop) logAllow(msg string) {
	if l.suppr.Allow(msg) {
		l.log.Warn(msg)
	}
}

// parseMember builds the sender's Member key from its source IP and the
// series number embedded in raw. Series sits at a different field
// position depending on directive (spec §4.9's wire table: NEW/JOIN
// carry "<name> <series>"; every other directive carries "<series> ..."
// as its first field).
func parseMember(ip, raw string) (shared.Member, error) {
	verb, rest := shared.SplitDirective(raw)
	fields := strings.Fields(rest)

	var seriesField string
	switch verb {
	case shared.DirNew, shared.DirJoin:
		if len(fields) < 2 {
			return shared.Member{}, fmt.Errorf("%s: missing series", verb)
		}
		seriesField = fields[1]
	default:
		if len(fields) < 1 {
			return shared.Member{}, fmt.Errorf("%s: missing series", verb)
		}
		seriesField = fields[0]
	}

	series, err := strconv.ParseInt(seriesField, 10, 64)
	if err != nil {
		return shared.Member{}, fmt.Errorf("%s: bad series %q: %w", verb, seriesField, err)
	}
	return shared.Member{IP: ip, Series: series}, nil
}
