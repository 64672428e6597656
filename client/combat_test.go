package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abyssonym/parity/shared"
)

func buildField(pairs map[int][2]uint8) []byte {
	out := make([]byte, shared.FieldItemsSize)
	for slot, pair := range pairs {
		out[slot] = pair[0]
		out[shared.SlotCount+slot] = pair[1]
	}
	for i := 0; i < shared.SlotCount; i++ {
		if _, ok := pairs[i]; !ok {
			out[i] = shared.EmptySlot
		}
	}
	return out
}

func buildBattle(pairs map[int][2]uint8) []byte {
	out := make([]byte, shared.BattleItemsSize)
	for i := 0; i < shared.SlotCount; i++ {
		rec := out[i*shared.BattleRecordSize : (i+1)*shared.BattleRecordSize]
		if pair, ok := pairs[i]; ok {
			rec[0], rec[3] = pair[0], pair[1]
		} else {
			rec[0] = shared.EmptySlot
		}
	}
	return out
}

func TestDetectCombatBelowThresholdIsField(t *testing.T) {
	field := buildField(map[int][2]uint8{0: {1, 5}})
	// An all-zero battle region: no slot's ID matches the field view
	// (which holds item 1 and EmptySlot), so the similarity is 0.
	battle := make([]byte, shared.BattleItemsSize)

	view, similarity, err := DetectCombat(field, battle, 0.95)
	require.NoError(t, err)
	require.False(t, view.InBattle)
	require.Less(t, similarity, 0.95)
}

func TestDetectCombatAboveThresholdIsBattle(t *testing.T) {
	pairs := map[int][2]uint8{0: {1, 5}, 1: {2, 3}}
	field := buildField(pairs)
	battle := buildBattle(pairs)

	view, similarity, err := DetectCombat(field, battle, 0.95)
	require.NoError(t, err)
	require.True(t, view.InBattle)
	require.Equal(t, 1.0, similarity)
}

func TestEagerCopySkippedWhenSimilarityIsExactlyOne(t *testing.T) {
	view := View{InBattle: true}
	_, eager := EagerCopyBattleToField(view, 1.0)
	require.False(t, eager)
}

func TestEagerCopyAppliesWhileInBattleBelowPerfectSimilarity(t *testing.T) {
	pairs := map[int][2]uint8{0: {1, 5}}
	battle := buildBattle(pairs)
	_, battleInv := shared.ItemsToDict(mustBattleSlots(t, battle))
	order, _ := shared.ItemsToDict(mustBattleSlots(t, battle))

	view := View{InBattle: true, Order: order, Inventory: battleInv}
	fieldBytes, eager := EagerCopyBattleToField(view, 0.998)
	require.True(t, eager)
	require.Equal(t, uint8(1), fieldBytes[0])
	require.Equal(t, uint8(5), fieldBytes[shared.SlotCount])
}

func mustBattleSlots(t *testing.T, raw []byte) []shared.ItemSlot {
	t.Helper()
	slots, err := shared.ParseBattleItems(raw)
	require.NoError(t, err)
	return slots
}
