package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abyssonym/parity/shared"
)

// Dispatcher implements the message table in spec §4.9. It is not
// goroutine-safe by design: spec §5 requires the ledger be mutated only
// by the server's own single loop, so every call must come from the one
// goroutine running Loop.Run.
type Dispatcher struct {
	ledger *Ledger
	log    *logrus.Logger
}

// NewDispatcher builds a Dispatcher over an existing ledger.
func NewDispatcher(ledger *Ledger, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{ledger: ledger, log: log}
}

// Handle decodes one inbound datagram from member and returns the
// reply datagrams to send back, in order, as separate packets. NEW's
// table entry carries two ("Success" then "REPORT {}"); most directives
// carry at most one; REPORT and STATUS_ON/OFF carry none.
func (d *Dispatcher) Handle(member shared.Member, raw string) (replies []string, err error) {
	verb, rest := shared.SplitDirective(raw)

	switch verb {
	case shared.DirNew:
		return d.handleNew(member, rest)
	case shared.DirJoin:
		return d.handleJoin(member, rest)
	case shared.DirReport:
		return nil, d.handleReport(member, rest)
	case shared.DirLog:
		return d.handleLog(member, rest)
	case shared.DirSync:
		return d.handleSync(member, rest)
	case shared.DirChest:
		return d.handleChest(member, rest)
	case shared.DirStatusOn, shared.DirStatusOff:
		return nil, d.handleStatus(member, verb, rest)
	default:
		return nil, &shared.PeerProtocolError{Raw: raw, Err: fmt.Errorf("unknown directive %q", verb)}
	}
}

// handleNew creates a session, rejecting if one already exists by that
// name, registers the creator, and schedules the creator's REPORT.
func (d *Dispatcher) handleNew(member shared.Member, rest string) ([]string, error) {
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return nil, &shared.PeerProtocolError{Raw: rest, Err: fmt.Errorf("malformed NEW")}
	}
	name := parts[0]

	if _, exists := d.ledger.Sessions[name]; exists {
		return []string{fmt.Sprintf("%s: Session %q already exists.", shared.DirError, name)}, nil
	}

	d.ledger.Sessions[name] = newSession(name)
	d.ledger.Members[member.String()] = name

	return []string{shared.DirSuccess, shared.DirReport + " {}"}, nil
}

// handleJoin registers member into an existing session, rejecting if
// absent.
func (d *Dispatcher) handleJoin(member shared.Member, rest string) ([]string, error) {
	parts := strings.Fields(rest)
	if len(parts) != 2 {
		return nil, &shared.PeerProtocolError{Raw: rest, Err: fmt.Errorf("malformed JOIN")}
	}
	name := parts[0]

	if _, exists := d.ledger.Sessions[name]; !exists {
		return []string{fmt.Sprintf("%s: Session %q does not exist.", shared.DirError, name)}, nil
	}

	d.ledger.Members[member.String()] = name
	return []string{shared.DirSuccess}, nil
}

// handleReport seeds the session's ledger once, from the client's
// reported non-zero inventory, zero-padded across all 256 item IDs, and
// marks every current member pending so they each get a fresh SYNC.
func (d *Dispatcher) handleReport(member shared.Member, rest string) error {
	i := strings.IndexByte(rest, ' ')
	if i < 0 {
		return &shared.PeerProtocolError{Raw: rest, Err: fmt.Errorf("malformed REPORT")}
	}
	payload := rest[i+1:]

	session, err := d.sessionFor(member)
	if err != nil {
		return err
	}
	if session.Ledger != nil {
		return nil
	}

	reported, err := shared.UnmarshalInventory([]byte(payload))
	if err != nil {
		return &shared.PeerProtocolError{Raw: payload, Err: err}
	}

	ledger := make(shared.Inventory, shared.SlotCount)
	for id := 0; id < shared.SlotCount; id++ {
		ledger[uint8(id)] = reported[uint8(id)]
	}
	session.Ledger = ledger
	session.markAllPending(d.ledger.membersOf(session.Name))
	return nil
}

// handleLog applies each unseen (index, item, delta) entry exactly once
// to the session ledger and acknowledges every index in the batch
// (including already-seen ones, matching the reference implementation's
// replay-safe ack).
func (d *Dispatcher) handleLog(member shared.Member, rest string) ([]string, error) {
	i := strings.IndexByte(rest, ' ')
	if i < 0 {
		return nil, &shared.PeerProtocolError{Raw: rest, Err: fmt.Errorf("malformed LOG")}
	}
	payload := rest[i+1:]

	session, err := d.sessionFor(member)
	if err != nil {
		return nil, err
	}

	entries, err := shared.UnmarshalLogEntries([]byte(payload))
	if err != nil {
		return nil, &shared.PeerProtocolError{Raw: payload, Err: err}
	}

	done := make([]int, 0, len(entries))
	now := time.Now()
	for _, e := range entries {
		done = append(done, e.Index)

		key := member.LogIdentifier(e.Index)
		if _, seen := d.ledger.ProcessedLogs[key]; seen {
			continue
		}
		d.ledger.ProcessedLogs[key] = now

		if session.Ledger != nil {
			session.Ledger[e.Item] += e.Delta
		}
	}

	for _, other := range d.ledger.membersOf(session.Name) {
		if other != member.String() {
			session.Pending[other] = true
		}
	}

	return []string{fmt.Sprintf("%s %s", shared.DirLog, ackIndicesJSON(done))}, nil
}

// handleSync replies REPORT {} for an unseeded session, otherwise the
// zero-stripped ledger when the member is pending (or the request forces
// it with a trailing "!"), clearing its pending flag.
func (d *Dispatcher) handleSync(member shared.Member, rest string) ([]string, error) {
	parts := strings.Fields(rest)
	if len(parts) == 0 {
		return nil, &shared.PeerProtocolError{Raw: rest, Err: fmt.Errorf("malformed SYNC")}
	}
	force := len(parts) >= 2 && parts[1] == "!"

	session, err := d.sessionFor(member)
	if err != nil {
		return nil, err
	}

	if session.Ledger == nil {
		return []string{shared.DirReport + " {}"}, nil
	}

	memberKey := member.String()
	if !force && !session.Pending[memberKey] {
		return nil, nil
	}
	delete(session.Pending, memberKey)

	payload, err := shared.MarshalInventory(shared.NonZero(session.Ledger))
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("%s %s", shared.DirSync, payload)}, nil
}

// handleChest merges an incoming mask into the session's mask and
// replies with the full merged mask so the sender converges immediately
// (spec §4.6: monotonic OR, "trivial merge semantics").
func (d *Dispatcher) handleChest(member shared.Member, rest string) ([]string, error) {
	i := strings.IndexByte(rest, ' ')
	if i < 0 {
		return nil, &shared.PeerProtocolError{Raw: rest, Err: fmt.Errorf("malformed CHEST")}
	}
	hexPayload := rest[i+1:]

	session, err := d.sessionFor(member)
	if err != nil {
		return nil, err
	}

	incoming, err := shared.DecodeChestMask(hexPayload)
	if err != nil {
		return nil, &shared.PeerProtocolError{Raw: hexPayload, Err: err}
	}
	session.ChestMask.Merge(incoming)

	return []string{shared.EncodeChest(0, session.ChestMask)}, nil
}

// handleStatus applies a STATUS_ON/OFF delta to the session's merged
// status words. No reply is defined (spec §4.9's "—" column): both OR
// and AND-NOT are idempotent, so redelivery is harmless.
func (d *Dispatcher) handleStatus(member shared.Member, verb, rest string) error {
	_, character, bits, err := shared.DecodeStatusDelta(rest)
	if err != nil {
		return &shared.PeerProtocolError{Raw: rest, Err: err}
	}

	session, err := d.sessionFor(member)
	if err != nil {
		return err
	}
	if character < 0 || character > 3 {
		return &shared.PeerProtocolError{Raw: rest, Err: fmt.Errorf("character index %d out of range", character)}
	}
	if verb == shared.DirStatusOn {
		session.Status[character] |= bits
	} else {
		session.Status[character] &^= bits
	}
	return nil
}

func (d *Dispatcher) sessionFor(member shared.Member) (*Session, error) {
	name, ok := d.ledger.Members[member.String()]
	if !ok {
		return nil, &shared.PeerProtocolError{Raw: member.String(), Err: fmt.Errorf("unknown member")}
	}
	session, ok := d.ledger.Sessions[name]
	if !ok {
		return nil, &shared.PeerProtocolError{Raw: name, Err: fmt.Errorf("unknown session")}
	}
	return session, nil
}

func ackIndicesJSON(indices []int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, idx := range indices {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(idx))
	}
	b.WriteByte(']')
	return b.String()
}
