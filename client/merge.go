package client

import "github.com/abyssonym/parity/shared"

// MergeChests applies the monotonic chest-open rule (spec §4.6) and
// reports whether the local mask changed, which gates whether a CHEST
// wire message is sent this tick.
func MergeChests(st *State, current shared.ChestMask) (changed bool) {
	merged := current
	merged.Merge(st.PreviousChestMask)
	changed = !merged.Equal(st.PreviousChestMask)
	st.PreviousChestMask = merged
	return changed
}

// ApplyIncomingChestMask ORs an incoming peer mask into the local one
// (spec §4.6: a chest, once opened by anyone, stays open everywhere).
func ApplyIncomingChestMask(st *State, incoming shared.ChestMask) {
	st.PreviousChestMask.Merge(incoming)
}

// DetectStatusDeltas diffs current vs previous status words for every
// character present this tick, queuing STATUS_ON/OFF changes (spec
// §4.7). Only meaningful in combat; callers must not invoke this outside
// a battle tick.
func DetectStatusDeltas(st *State, current shared.StatusWords, presence shared.BattlePresence) {
	if !st.HavePrevStatus {
		st.PreviousStatus = current
		st.HavePrevStatus = true
		return
	}

	for c := 0; c < 4; c++ {
		if !presence[c] {
			continue
		}
		prev, next := st.PreviousStatus[c], current[c]
		if prev == next {
			continue
		}
		if added := next &^ prev; added != 0 {
			st.PendingStatus = append(st.PendingStatus, statusChange{On: true, Character: c, Bits: added})
		}
		if removed := prev &^ next; removed != 0 {
			st.PendingStatus = append(st.PendingStatus, statusChange{On: false, Character: c, Bits: removed})
		}
	}
	st.PreviousStatus = current
}

// DrainPendingStatus returns and clears the queued status changes; spec
// §4.4 step 4 says status entries are retained only across one
// transmission and purged after send regardless of acknowledgement.
func DrainPendingStatus(st *State) []statusChange {
	pending := st.PendingStatus
	st.PendingStatus = nil
	return pending
}

// ApplyStatusDelta sets or clears bits on one character's status word
// within a StatusWords value, per an incoming STATUS_ON/OFF directive
// (spec §4.7).
func ApplyStatusDelta(words shared.StatusWords, on bool, character int, bits shared.CharacterStatus) shared.StatusWords {
	if character < 0 || character > 3 {
		return words
	}
	if on {
		words[character] |= bits
	} else {
		words[character] &^= bits
	}
	return words
}
