package client

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abyssonym/parity/emulator"
	"github.com/abyssonym/parity/shared"
)

// Committer writes a merged target inventory back into live emulator RAM
// under the race-detecting guard described in spec §4.5.
type Committer struct {
	ch                 *emulator.Channel
	cfg                shared.Config
	log                *logrus.Logger
	pauseDelayInterval time.Duration
}

// NewCommitter builds a Committer bound to an emulator channel.
func NewCommitter(ch *emulator.Channel, cfg shared.Config, log *logrus.Logger) *Committer {
	return &Committer{ch: ch, cfg: cfg, log: log, pauseDelayInterval: cfg.PauseDelayInterval}
}

// Commit attempts to write target into the view's region (field or
// battle, per view.InBattle). It returns true if the write was issued
// (idempotent no-ops count as success), false if a race aborted it.
func (c *Committer) Commit(view View, target shared.Inventory) (bool, error) {
	if nonZeroEqual(view.Inventory, target) {
		return true, nil
	}

	order := shared.BuildOrderArray(view.Order, target)

	if !c.sameAsSnapshot(view) {
		return false, &shared.RaceCondition{Stage: 1}
	}

	if c.pauseDelayInterval > 0 {
		if err := c.ch.FrameAdvance(); err != nil {
			return false, &shared.PeerUnreachable{Err: err}
		}
		time.Sleep(c.pauseDelayInterval)
	}

	if !c.sameAsSnapshot(view) {
		if c.pauseDelayInterval > 0 {
			c.ch.PauseToggle()
		}
		return false, &shared.RaceCondition{Stage: 2}
	}

	var battleBytes []byte
	if view.InBattle {
		freshBattle, err := c.ch.Read(c.cfg.BattleItemAddress, shared.BattleItemsSize)
		if err != nil {
			if c.pauseDelayInterval > 0 {
				c.ch.PauseToggle()
			}
			return false, err
		}
		battleBytes = shared.BuildBattleBytes(freshBattle, order, target)
	}

	fieldBytes := shared.BuildFieldBytes(order, target)

	if view.InBattle {
		if err := c.ch.Write(c.cfg.BattleItemAddress, battleBytes); err != nil {
			if c.pauseDelayInterval > 0 {
				c.ch.PauseToggle()
			}
			return false, err
		}
	}
	if err := c.ch.Write(c.cfg.FieldItemAddress, fieldBytes); err != nil {
		if c.pauseDelayInterval > 0 {
			c.ch.PauseToggle()
		}
		return false, err
	}

	if c.pauseDelayInterval > 0 {
		if err := c.ch.PauseToggle(); err != nil {
			return false, &shared.PeerUnreachable{Err: err}
		}
	}

	if c.cfg.Debug {
		if readBack, ok := c.verifyField(order, target); !ok {
			c.log.WithField("readback", readBack).Warn("post-commit field RAM verification mismatch")
		}
	}

	return true, nil
}

// sameAsSnapshot re-reads the view's live region and compares it against
// the raw bytes the target was computed from (spec §4.5 steps 1 and 4).
func (c *Committer) sameAsSnapshot(view View) bool {
	var fresh []byte
	var err error
	if view.InBattle {
		fresh, err = c.ch.Read(c.cfg.BattleItemAddress, shared.BattleItemsSize)
	} else {
		fresh, err = c.ch.Read(c.cfg.FieldItemAddress, shared.FieldItemsSize)
	}
	if err != nil {
		return false
	}
	return bytesEqual(fresh, view.RawData)
}

// verifyField re-reads field RAM after a commit and reports whether it
// matches the intended write, per spec §4.5 step 7's DEBUG re-read. The
// caller logs any mismatch.
func (c *Committer) verifyField(order []uint8, target shared.Inventory) ([]byte, bool) {
	readBack, err := c.ch.Read(c.cfg.FieldItemAddress, shared.FieldItemsSize)
	if err != nil {
		return nil, false
	}
	want := shared.BuildFieldBytes(order, target)
	return readBack, bytesEqual(readBack, want)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// nonZeroEqual compares two inventories ignoring zero-valued and
// EmptySlot entries, matching spec §4.5's idempotence rule.
func nonZeroEqual(a, b shared.Inventory) bool {
	na, nb := shared.NonZero(a), shared.NonZero(b)
	if len(na) != len(nb) {
		return false
	}
	for id, n := range na {
		if nb[id] != n {
			return false
		}
	}
	return true
}
