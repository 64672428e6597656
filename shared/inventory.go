package shared

import "sort"

// Slot-level data model for the game's inventory RAM layout. Two physical
// encodings share one logical shape: the field view (order array + amount
// array, 256 bytes each) and the battle view (256 five-byte records). Both
// are reduced to the same ItemSlot/Inventory shape before reconciliation.

const (
	// EmptySlot is the sentinel item ID meaning "no item in this slot."
	EmptySlot uint8 = 0xFF

	// SlotCount is the number of slots in either inventory view.
	SlotCount = 256

	// MinItemCount and MaxItemCount bound a clamped item count.
	MinItemCount = 0
	MaxItemCount = 99

	// FieldItemsSize is the byte length of the field inventory region.
	FieldItemsSize = 2 * SlotCount

	// BattleItemsSize is the byte length of the battle inventory region.
	BattleItemsSize = 5 * SlotCount

	// BattleRecordSize is the byte width of one battle inventory record.
	BattleRecordSize = 5
)

// ItemSlot is one (id, amount) pair read from either inventory view, in
// slot order.
type ItemSlot struct {
	ID     uint8
	Amount uint8
}

// Inventory is a dense item-id -> count mapping. EmptySlot's count is
// always 0.
type Inventory map[uint8]int

// ParseFieldItems splits a 512-byte field region into slot-ordered pairs.
func ParseFieldItems(data []byte) ([]ItemSlot, error) {
	if len(data) != FieldItemsSize {
		return nil, &EmulatorReadError{Want: FieldItemsSize, Got: len(data)}
	}
	ids, amounts := data[:SlotCount], data[SlotCount:]
	slots := make([]ItemSlot, SlotCount)
	for i := range slots {
		slots[i] = ItemSlot{ID: ids[i], Amount: amounts[i]}
	}
	return slots, nil
}

// ParseBattleItems splits a 1280-byte battle region into slot-ordered
// pairs, taking byte 0 (id) and byte 3 (amount) of each 5-byte record.
func ParseBattleItems(data []byte) ([]ItemSlot, error) {
	if len(data) != BattleItemsSize {
		return nil, &EmulatorReadError{Want: BattleItemsSize, Got: len(data)}
	}
	slots := make([]ItemSlot, SlotCount)
	for i := range slots {
		rec := data[i*BattleRecordSize : (i+1)*BattleRecordSize]
		slots[i] = ItemSlot{ID: rec[0], Amount: rec[3]}
	}
	return slots, nil
}

// ItemsToDict reduces slot-ordered pairs into an order array (a
// permutation of item IDs, duplicates collapsed to EmptySlot after the
// first occurrence) and a dense inventory. Matches the reference
// implementation's items_to_dict: on a duplicate ID the later slot
// becomes EmptySlot, and the count kept for a given ID is the maximum
// seen across its occurrences.
func ItemsToDict(slots []ItemSlot) ([]uint8, Inventory) {
	order := make([]uint8, 0, len(slots))
	inventory := make(Inventory, SlotCount)
	for i := 0; i < SlotCount; i++ {
		inventory[uint8(i)] = 0
	}

	seen := make(map[uint8]bool, SlotCount)
	for _, s := range slots {
		id := s.ID
		if seen[id] && id != EmptySlot {
			order = append(order, EmptySlot)
			if int(s.Amount) > inventory[id] {
				inventory[id] = int(s.Amount)
			}
			continue
		}
		seen[id] = true
		order = append(order, id)

		if id == EmptySlot {
			inventory[id] = 0
			continue
		}
		if int(s.Amount) > inventory[id] {
			inventory[id] = int(s.Amount)
		}
	}

	return order, inventory
}

// SimilarityScore computes the field/battle similarity score described in
// spec §4.3: two points per slot (ID match, amount match given ID match),
// over a denominator of 512.
func SimilarityScore(field, battle []ItemSlot) float64 {
	numer, denom := 0, 0
	n := len(field)
	if len(battle) < n {
		n = len(battle)
	}
	for i := 0; i < n; i++ {
		denom += 2
		if field[i].ID == battle[i].ID {
			numer++
			if field[i].Amount == battle[i].Amount {
				numer++
			}
		}
	}
	return float64(numer) / float64(denom)
}

// ClampCount clamps an item count to [MinItemCount, MaxItemCount].
func ClampCount(n int) int {
	if n < MinItemCount {
		return MinItemCount
	}
	if n > MaxItemCount {
		return MaxItemCount
	}
	return n
}

// BuildOrderArray reconstructs a slot order array for the target
// inventory from a previous order, per spec §4.5 step 5: slots whose
// item now has count 0 are freed to EmptySlot, then every newly
// non-zero item is inserted into the first free slot. The result always
// satisfies the order-array invariants (each non-EmptySlot ID appears
// at most once; amount==0 iff order slot is EmptySlot).
func BuildOrderArray(previous []uint8, target Inventory) []uint8 {
	order := make([]uint8, len(previous))
	copy(order, previous)

	// Free slots whose item dropped to zero first, so insertion below can
	// see every slot a new item might land in.
	for i, id := range order {
		if id == EmptySlot {
			continue
		}
		if target[id] <= 0 {
			order[i] = EmptySlot
		}
	}

	present := make(map[uint8]int, SlotCount)
	for i, id := range order {
		if id != EmptySlot {
			present[id] = i
		}
	}

	for _, id := range sortedItemIDs(target) {
		if target[id] <= 0 {
			continue
		}
		if idx, ok := present[id]; ok {
			_ = idx
			continue
		}
		freeIdx := -1
		for i, v := range order {
			if v == EmptySlot {
				freeIdx = i
				break
			}
		}
		if freeIdx == -1 {
			continue
		}
		order[freeIdx] = id
		present[id] = freeIdx
	}

	return order
}

func sortedItemIDs(inv Inventory) []uint8 {
	ids := make([]uint8, 0, len(inv))
	for id := range inv {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// BuildFieldBytes assembles the 512-byte field-region write payload from
// an order array and target inventory, clamping every count.
func BuildFieldBytes(order []uint8, target Inventory) []byte {
	out := make([]byte, FieldItemsSize)
	for i, id := range order {
		out[i] = id
		if id == EmptySlot {
			out[SlotCount+i] = 0
			continue
		}
		out[SlotCount+i] = byte(ClampCount(target[id]))
	}
	return out
}

// BuildBattleBytes splices a fresh order array and amounts into a
// previously-read 1280-byte battle region, preserving bytes 1, 2, and 4
// of every record.
func BuildBattleBytes(rawBattle []byte, order []uint8, target Inventory) []byte {
	out := make([]byte, BattleItemsSize)
	copy(out, rawBattle)
	for i, id := range order {
		rec := out[i*BattleRecordSize : (i+1)*BattleRecordSize]
		rec[0] = id
		if id == EmptySlot {
			rec[3] = 0
			continue
		}
		rec[3] = byte(ClampCount(target[id]))
	}
	return out
}

// CopyBattleToField builds the field-region write payload that mirrors a
// battle view back into field RAM, per spec §4.3's eager-copy behavior.
func CopyBattleToField(order []uint8, battleInventory Inventory) []byte {
	out := make([]byte, FieldItemsSize)
	for i, id := range order {
		out[i] = id
		if id == EmptySlot {
			out[SlotCount+i] = 0
			continue
		}
		out[SlotCount+i] = byte(battleInventory[id])
	}
	return out
}

// NonZero returns the subset of inv with a strictly positive count,
// EmptySlot always excluded — used for wire payloads and for satisfying
// the "stripped of zeros" SYNC response format in spec §4.9.
func NonZero(inv Inventory) Inventory {
	out := make(Inventory, len(inv))
	for id, n := range inv {
		if n > 0 && id != EmptySlot {
			out[id] = n
		}
	}
	return out
}

// ChestMask is the 64-byte treasure chest open/closed bitmask.
type ChestMask [64]byte

// Merge applies the monotonic chest-open rule: a chest, once opened
// anywhere, stays open everywhere.
func (m *ChestMask) Merge(other ChestMask) {
	for i := range m {
		m[i] |= other[i]
	}
}

// Equal reports whether two masks are byte-identical.
func (m ChestMask) Equal(other ChestMask) bool {
	return m == other
}

// CharacterStatus is a 32-bit status-flag word for one combatant.
type CharacterStatus uint32

// StatusWords holds the four combatants' status flag words, as split in
// RAM across a low-16 region and a high-16 region (8 bytes each).
type StatusWords [4]CharacterStatus

// ParseStatusWords reassembles the four 32-bit status words from the two
// 8-byte RAM regions.
func ParseStatusWords(low, high [8]byte) StatusWords {
	var words StatusWords
	for c := 0; c < 4; c++ {
		lo := uint32(low[c*2]) | uint32(low[c*2+1])<<8
		hi := uint32(high[c*2]) | uint32(high[c*2+1])<<8
		words[c] = CharacterStatus(lo | hi<<16)
	}
	return words
}

// Bytes splits the four status words back into the two 8-byte RAM
// regions.
func (w StatusWords) Bytes() (low, high [8]byte) {
	for c := 0; c < 4; c++ {
		v := uint32(w[c])
		low[c*2] = byte(v)
		low[c*2+1] = byte(v >> 8)
		high[c*2] = byte(v >> 16)
		high[c*2+1] = byte(v >> 24)
	}
	return low, high
}

// BattlePresence reports, per character slot, whether a combatant is
// present this tick. An absent slot is encoded in RAM as 0xFF 0xFF.
type BattlePresence [4]bool

// ParseBattlePresence reads the 8-byte battle-character presence region
// (2 bytes per character slot).
func ParseBattlePresence(data [8]byte) BattlePresence {
	var p BattlePresence
	for c := 0; c < 4; c++ {
		p[c] = !(data[c*2] == 0xFF && data[c*2+1] == 0xFF)
	}
	return p
}

// PlayedTime is the four RAM bytes (hours, minutes, seconds, frames)
// backing the save-game age proxy.
type PlayedTime struct {
	Hours, Minutes, Seconds, Frames uint8
}

// TotalFrames converts PlayedTime to a single monotone frame count,
// applying the display-vs-RAM off-by-one frame correction.
func (t PlayedTime) TotalFrames() int64 {
	frames := int64(t.Frames) - 1
	return frames +
		int64(t.Seconds)*60 +
		int64(t.Minutes)*3600 +
		int64(t.Hours)*216000
}

// GP is the 24-bit little-endian currency value.
type GP uint32

// ParseGP decodes a 3-byte little-endian GP value.
func ParseGP(data [3]byte) GP {
	return GP(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16)
}

// Bytes encodes GP back to its 3-byte little-endian wire form.
func (g GP) Bytes() [3]byte {
	return [3]byte{byte(g), byte(g >> 8), byte(g >> 16)}
}
