// Package client implements the RAM sampler, combat detector, delta
// reconciler, and guarded write committer described in spec §4.2–§4.8,
// wired together by Loop's per-tick poll cycle.
package client

import (
	"time"

	"github.com/abyssonym/parity/shared"
)

// State is the explicit, per-client session value threaded through
// every tick of Loop, replacing the reference implementation's module-
// level globals (previous_inventory, change_queue, message_index, ...;
// see SPEC_FULL.md §9, Design Notes).
type State struct {
	SeriesNumber int64

	MessageIndex  int
	ChangeQueue   []shared.LogEntry
	PendingStatus []statusChange

	PreviousInventory  shared.Inventory
	PreviousPlayedTime int64
	HavePrevious       bool

	PreviousChestMask shared.ChestMask
	PreviousStatus    shared.StatusWords
	HavePrevStatus    bool

	LastSyncRequest time.Time
	SyncBackoff     time.Duration

	ForceSync bool
}

// statusChange is one pending STATUS_ON/OFF entry awaiting transmission;
// spec §4.4 step 4 says these are purged after a single send regardless
// of acknowledgement.
type statusChange struct {
	On        bool
	Character int
	Bits      shared.CharacterStatus
}

// poisonedPlayedTime is the sentinel previous_played_time value spec §3
// calls the "poison sentinel": effectively +∞, suppressing delta
// emission until the next authoritative SYNC.
const poisonedPlayedTime = int64(1) << 62

// NewState creates a fresh per-client State for a given series number
// (spec §3: the client's wall-clock startup second).
func NewState(series int64, syncInterval time.Duration) *State {
	return &State{
		SeriesNumber: series,
		SyncBackoff:  syncInterval,
	}
}

// IsPoisoned reports whether previous played time is the poison
// sentinel, suppressing delta emission (spec §4.4 step 2).
func (s *State) IsPoisoned() bool {
	return s.HavePrevious && s.PreviousPlayedTime == poisonedPlayedTime
}
