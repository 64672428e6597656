package client

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abyssonym/parity/emulator"
	"github.com/abyssonym/parity/shared"
)

// Loop drives the per-tick poll cycle described in spec §4.8: one
// non-blocking receive, a full RAM sample, combat detection,
// reconciliation, pending-change transmission, and guarded commits.
type Loop struct {
	cfg    shared.Config
	log    *logrus.Logger
	suppr  *shared.Suppressor
	peer   *net.UDPConn
	ch     *emulator.Channel
	sample *Sampler
	recon  *Reconciler
	commit *Committer
	state  *State

	forceSync bool
}

// NewLoop wires a sampler, reconciler, and committer around an emulator
// channel and a connected peer socket.
func NewLoop(cfg shared.Config, log *logrus.Logger, ch *emulator.Channel, peer *net.UDPConn, series int64) *Loop {
	return &Loop{
		cfg:    cfg,
		log:    log,
		suppr:  shared.NewSuppressor(),
		peer:   peer,
		ch:     ch,
		sample: NewSampler(ch, cfg),
		recon:  NewReconciler(cfg.MinSaneInventory),
		commit: NewCommitter(ch, cfg, log),
		state:  NewState(series, cfg.SyncInterval),
	}
}

// NewSession sends a NEW directive to create a session, blocking for the
// server's Success/ERROR reply (spec §4.9). Mirrors the reference
// implementation's create_new_session, minus the interactive prompt
// (spec §1 Non-goals: interactive bootstrap is out of scope).
func (l *Loop) NewSession(name string, timeout time.Duration) error {
	return l.bootstrap(shared.EncodeNew(name, l.state.SeriesNumber), timeout)
}

// JoinSession sends a JOIN directive to an existing session, blocking
// for the server's Success/ERROR reply.
func (l *Loop) JoinSession(name string, timeout time.Duration) error {
	return l.bootstrap(shared.EncodeJoin(name, l.state.SeriesNumber), timeout)
}

func (l *Loop) bootstrap(msg string, timeout time.Duration) error {
	if err := l.send(msg); err != nil {
		return err
	}

	l.peer.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, shared.MaxWireSize+1)
	n, err := l.peer.Read(buf)
	if err != nil {
		return &shared.PeerUnreachable{Err: err}
	}

	raw, err := shared.Unframe(buf[:n])
	if err != nil {
		return &shared.PeerProtocolError{Raw: string(buf[:n]), Err: err}
	}

	reply := string(raw)
	if strings.HasPrefix(reply, shared.DirError) {
		return &shared.PeerProtocolError{Raw: reply, Err: fmt.Errorf("server rejected session request")}
	}
	return nil
}

// Run executes the tick loop until stop is closed, mirroring spec §5's
// single-threaded cooperative scheduling: a fixed poll period, with the
// loop never sleeping when it is already behind schedule.
func (l *Loop) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.Tick(); err != nil {
				l.logTick(err)
			}
		}
	}
}

// Tick performs exactly one poll cycle. Exported so tests and cmd/
// wiring can drive ticks explicitly without a ticker.
func (l *Loop) Tick() error {
	verb, rest, ok := l.receiveDirective()

	if ok {
		l.state.SyncBackoff = l.cfg.SyncInterval
	} else {
		l.state.SyncBackoff = time.Duration(float64(l.state.SyncBackoff) * 1.5)
		if max := l.cfg.SyncInterval * 10; l.state.SyncBackoff > max {
			l.state.SyncBackoff = max
		}
	}

	sample, err := l.sample.Sample()
	if err != nil {
		l.forceSync = true
		return err
	}

	playedFrames := sample.PlayedTime.TotalFrames()

	fieldSlots, err := shared.ParseFieldItems(sample.FieldRaw)
	if err != nil {
		l.forceSync = true
		return err
	}
	battleSlots, err := shared.ParseBattleItems(sample.BattleRaw)
	if err != nil {
		l.forceSync = true
		return err
	}
	similarity := shared.SimilarityScore(fieldSlots, battleSlots)

	var view View
	if similarity > l.cfg.SimilarityThreshold {
		order, inv := shared.ItemsToDict(battleSlots)
		view = View{InBattle: true, Order: order, Inventory: inv, RawData: sample.BattleRaw}
	} else {
		order, inv := shared.ItemsToDict(fieldSlots)
		view = View{InBattle: false, Order: order, Inventory: inv, RawData: sample.FieldRaw}
	}

	if fieldWrite, eager := EagerCopyBattleToField(view, similarity); eager {
		if err := l.ch.Write(l.cfg.FieldItemAddress, fieldWrite); err != nil {
			l.log.WithError(err).Debug("eager battle-to-field copy failed")
		}
	}

	var syncPayload SyncPayload
	var ackedIndices []int
	var statusDelta *statusDirective
	var chestReply *shared.ChestMask

	if ok {
		switch verb {
		case shared.DirSync:
			inv, err := shared.UnmarshalInventory([]byte(rest))
			if err != nil {
				return &shared.PeerProtocolError{Raw: rest, Err: err}
			}
			syncPayload = inv
		case shared.DirReport:
			if err := l.sendReport(view.Inventory); err != nil {
				l.log.WithError(err).Debug("report send failed")
			}
		case shared.DirLog:
			indices, err := decodeAckedIndices(rest)
			if err != nil {
				return &shared.PeerProtocolError{Raw: rest, Err: err}
			}
			ackedIndices = indices
		case shared.DirStatusOn, shared.DirStatusOff:
			_, character, bits, err := shared.DecodeStatusDelta(rest)
			if err != nil {
				return &shared.PeerProtocolError{Raw: rest, Err: err}
			}
			statusDelta = &statusDirective{on: verb == shared.DirStatusOn, character: character, bits: bits}
		case shared.DirChest:
			// Server's CHEST reply echoes the session's fully merged mask
			// as "<series> <hex>"; reuse SplitDirective to drop the series.
			_, hexPayload := shared.SplitDirective(rest)
			mask, err := shared.DecodeChestMask(hexPayload)
			if err != nil {
				return &shared.PeerProtocolError{Raw: rest, Err: err}
			}
			chestReply = &mask
		}
	}

	merged := l.recon.Tick(l.state, playedFrames, view.Inventory, syncPayload)
	l.recon.TrimAcked(l.state, ackedIndices)

	if l.cfg.SyncStatus && view.InBattle {
		DetectStatusDeltas(l.state, shared.ParseStatusWords(sample.StatusLow, sample.StatusHigh), sample.BattlePresence)
	}

	if l.cfg.SyncChests {
		localChanged := MergeChests(l.state, sample.ChestMask)
		remoteChanged := false
		if chestReply != nil {
			before := l.state.PreviousChestMask
			ApplyIncomingChestMask(l.state, *chestReply)
			remoteChanged = !l.state.PreviousChestMask.Equal(before)
		}
		if localChanged {
			l.sendChest()
		}
		if remoteChanged {
			// A peer opened a chest we haven't: push the merged mask into
			// this ROM's RAM so it shows up as open here too (spec §4.6).
			if err := l.ch.Write(l.cfg.ChestAddress, l.state.PreviousChestMask[:]); err != nil {
				l.log.WithError(err).Debug("chest RAM write failed")
			}
		}
	}

	if len(l.state.ChangeQueue) > 0 {
		if err := l.sendChangeQueue(); err != nil {
			l.log.WithError(err).Debug("change queue send failed")
		}
	}

	for _, pending := range DrainPendingStatus(l.state) {
		l.sendStatusDelta(pending)
	}

	if merged != nil {
		committed, err := l.commit.Commit(view, merged)
		if err != nil {
			l.forceSync = true
		} else if committed {
			l.state.PreviousInventory = merged
		}
	}

	if view.InBattle && statusDelta != nil {
		words := shared.ParseStatusWords(sample.StatusLow, sample.StatusHigh)
		words = ApplyStatusDelta(words, statusDelta.on, statusDelta.character, statusDelta.bits)
		low, high := words.Bytes()
		if err := l.ch.Write(l.cfg.Status1Address, low[:]); err != nil {
			l.log.WithError(err).Debug("status low write failed")
		}
		if err := l.ch.Write(l.cfg.Status2Address, high[:]); err != nil {
			l.log.WithError(err).Debug("status high write failed")
		}
	}

	l.maybeSendSyncRequest()
	return nil
}

type statusDirective struct {
	on        bool
	character int
	bits      shared.CharacterStatus
}

// maybeSendSyncRequest applies spec §4.8's backoff schedule: a SYNC
// request is sent only when the backoff window has elapsed. Tick grows
// the window by a factor of 1.5 on every tick without a directive,
// capped at 10x SyncInterval; poisoned state or a force-resync demands
// an immediate reply via the "!" suffix.
func (l *Loop) maybeSendSyncRequest() {
	now := time.Now()
	if now.Sub(l.state.LastSyncRequest) <= l.state.SyncBackoff {
		return
	}

	force := l.state.IsPoisoned() || l.forceSync
	msg := shared.EncodeSync(l.state.SeriesNumber, force)
	if err := l.send(msg); err != nil {
		l.logTick(&shared.PeerUnreachable{Err: err})
	}
	l.state.LastSyncRequest = now
	l.forceSync = false
}

func (l *Loop) sendReport(inv shared.Inventory) error {
	msg, err := shared.EncodeReport(l.state.SeriesNumber, inv)
	if err != nil {
		return err
	}
	return l.send(msg)
}

func (l *Loop) sendChangeQueue() error {
	entries := l.state.ChangeQueue
	for {
		msg, err := shared.EncodeLog(l.state.SeriesNumber, entries)
		if err != nil {
			return err
		}
		if len(msg) <= shared.MaxWireSize {
			return l.send(msg)
		}
		entries = entries[:len(entries)/2]
		if len(entries) == 0 {
			return fmt.Errorf("change queue entry too large to fit under max wire size")
		}
	}
}

func (l *Loop) sendChest() {
	msg := shared.EncodeChest(l.state.SeriesNumber, l.state.PreviousChestMask)
	if err := l.send(msg); err != nil {
		l.log.WithError(err).Debug("chest send failed")
	}
}

func (l *Loop) sendStatusDelta(d statusChange) {
	msg := shared.EncodeStatusDelta(l.state.SeriesNumber, d.On, d.Character, d.Bits)
	if err := l.send(msg); err != nil {
		l.log.WithError(err).Debug("status delta send failed")
	}
}

func (l *Loop) send(msg string) error {
	framed, err := shared.Frame([]byte(msg))
	if err != nil {
		return err
	}
	if len(framed) > shared.MaxWireSize {
		return fmt.Errorf("framed message of %d bytes exceeds max wire size", len(framed))
	}
	_, err = l.peer.Write(framed)
	if err != nil {
		return &shared.PeerUnreachable{Err: err}
	}
	return nil
}

// receiveDirective performs the tick's single non-blocking receive
// attempt (spec §4.8). A timeout is not an error; it just means no
// directive arrived this tick.
func (l *Loop) receiveDirective() (verb, rest string, ok bool) {
	l.peer.SetReadDeadline(time.Now().Add(l.cfg.PollInterval))
	buf := make([]byte, shared.MaxWireSize+1)
	n, err := l.peer.Read(buf)
	if err != nil {
		return "", "", false
	}

	raw, err := shared.Unframe(buf[:n])
	if err != nil {
		l.logTick(&shared.PeerProtocolError{Raw: string(buf[:n]), Err: err})
		return "", "", false
	}

	verb, rest = shared.SplitDirective(string(raw))
	l.log.WithField("directive", verb).Debug("received from server")
	return verb, rest, true
}

// decodeAckedIndices parses a LOG ack payload, a plain JSON array of
// acknowledged indices (e.g. "[1,4,7]").
func decodeAckedIndices(rest string) ([]int, error) {
	var indices []int
	if err := json.Unmarshal([]byte(rest), &indices); err != nil {
		return nil, err
	}
	return indices, nil
}

func (l *Loop) logTick(err error) {
	msg := err.Error()
	if !l.suppr.Allow(msg) {
		return
	}
	l.log.WithError(err).Warn("tick error")
}
