package client

import (
	"sort"

	"github.com/abyssonym/parity/shared"
)

// SyncPayload is a decoded incoming SYNC directive's inventory, nullable
// to mirror the Python original's `synced_inventory = None` default.
type SyncPayload = shared.Inventory

// Reconciler folds the sampled inventory, any incoming SYNC payload, and
// the local change queue into a merged target (spec §4.4).
type Reconciler struct {
	minSaneInventory int
}

// NewReconciler builds a Reconciler for the configured save-reset
// heuristic threshold.
func NewReconciler(minSaneInventory int) *Reconciler {
	return &Reconciler{minSaneInventory: minSaneInventory}
}

// Tick runs one reconciliation pass. playedFrames is the current sample's
// total frame count; current is this tick's reduced inventory (field or
// battle, per combat detection). It mutates st in place and returns the
// merged SYNC target, or nil if no SYNC directive arrived this tick.
func (r *Reconciler) Tick(st *State, playedFrames int64, current shared.Inventory, syncPayload SyncPayload) shared.Inventory {
	hadPrevious := st.HavePrevious

	r.detectDeltas(st, playedFrames, current)
	if hadPrevious {
		r.detectSaveReload(st, playedFrames, current)
	}
	st.HavePrevious = true

	st.PreviousInventory = current
	if st.PreviousPlayedTime <= playedFrames {
		st.PreviousPlayedTime = playedFrames
	} else {
		st.PreviousPlayedTime = poisonedPlayedTime
	}

	if syncPayload == nil {
		return nil
	}
	return r.mergeSync(st, playedFrames, syncPayload)
}

// detectDeltas emits one change-log entry per item whose count changed
// since the previous tick, provided played time actually advanced (spec
// §4.4 step 1).
func (r *Reconciler) detectDeltas(st *State, playedFrames int64, current shared.Inventory) {
	if !st.HavePrevious {
		return
	}
	if st.IsPoisoned() {
		return
	}
	if playedFrames <= st.PreviousPlayedTime {
		return
	}
	if inventoriesEqual(st.PreviousInventory, current) {
		return
	}

	for _, item := range unionKeys(st.PreviousInventory, current) {
		prev := st.PreviousInventory[item]
		next := current[item]
		if prev != next {
			st.MessageIndex++
			st.ChangeQueue = append(st.ChangeQueue, shared.LogEntry{
				Index: st.MessageIndex,
				Item:  item,
				Delta: next - prev,
			})
		}
	}
}

// detectSaveReload poisons previous played time when a save was reloaded
// (played time went backward) or a reset is underway (a previously
// substantial inventory collapsed to nothing) — spec §4.4 step 2.
func (r *Reconciler) detectSaveReload(st *State, playedFrames int64, current shared.Inventory) {
	if !st.HavePrevious {
		return
	}
	reloaded := playedFrames < st.PreviousPlayedTime
	resetting := distinctNonZero(st.PreviousInventory) >= r.minSaneInventory && distinctNonZero(current) == 0
	if reloaded || resetting {
		st.PreviousPlayedTime = poisonedPlayedTime
	}
}

// mergeSync folds an incoming SYNC payload with every still-unacknowledged
// local delta (spec §4.4 step 3).
func (r *Reconciler) mergeSync(st *State, playedFrames int64, payload SyncPayload) shared.Inventory {
	if st.PreviousPlayedTime > playedFrames {
		st.PreviousPlayedTime = playedFrames
	}

	merged := make(shared.Inventory, shared.SlotCount)
	for i := 0; i < shared.SlotCount; i++ {
		merged[uint8(i)] = payload[uint8(i)]
	}
	for id, n := range payload {
		merged[id] = n
	}

	for _, e := range st.ChangeQueue {
		merged[e.Item] += e.Delta
	}
	return merged
}

// TrimAcked removes change-queue entries the server has acknowledged via
// a LOG reply (spec §4.4 step 4).
func (r *Reconciler) TrimAcked(st *State, ackedIndices []int) {
	if len(ackedIndices) == 0 {
		return
	}
	acked := make(map[int]bool, len(ackedIndices))
	for _, i := range ackedIndices {
		acked[i] = true
	}
	kept := st.ChangeQueue[:0]
	for _, e := range st.ChangeQueue {
		if !acked[e.Index] {
			kept = append(kept, e)
		}
	}
	st.ChangeQueue = kept
}

func inventoriesEqual(a, b shared.Inventory) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func unionKeys(a, b shared.Inventory) []uint8 {
	seen := make(map[uint8]bool, len(a)+len(b))
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	keys := make([]uint8, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func distinctNonZero(inv shared.Inventory) int {
	n := 0
	for id, v := range inv {
		if v > 0 && id != shared.EmptySlot {
			n++
		}
	}
	return n
}
