package client

import "github.com/abyssonym/parity/shared"

// View is one tick's reduced inventory view (field or battle), reduced
// from slot-ordered pairs via shared.ItemsToDict.
type View struct {
	InBattle  bool
	Order     []uint8
	Inventory shared.Inventory
	RawData   []byte
}

// DetectCombat computes the field/battle similarity score and picks the
// authoritative view for this tick (spec §4.3). When the score exceeds
// cfg.SimilarityThreshold the battle view is authoritative.
func DetectCombat(fieldRaw, battleRaw []byte, threshold float64) (View, float64, error) {
	fieldSlots, err := shared.ParseFieldItems(fieldRaw)
	if err != nil {
		return View{}, 0, err
	}
	battleSlots, err := shared.ParseBattleItems(battleRaw)
	if err != nil {
		return View{}, 0, err
	}

	similarity := shared.SimilarityScore(fieldSlots, battleSlots)

	if similarity > threshold {
		order, inv := shared.ItemsToDict(battleSlots)
		return View{InBattle: true, Order: order, Inventory: inv, RawData: battleRaw}, similarity, nil
	}

	order, inv := shared.ItemsToDict(fieldSlots)
	return View{InBattle: false, Order: order, Inventory: inv, RawData: fieldRaw}, similarity, nil
}

// EagerCopyBattleToField reports whether the battle-to-field eager copy
// (spec §4.3: while in battle and similarity < 1.0, mirror battle back
// into field RAM so a post-combat transition never loses items) applies
// this tick, and if so returns the field-region bytes to write.
func EagerCopyBattleToField(view View, similarity float64) ([]byte, bool) {
	if !view.InBattle || similarity >= 1.0 {
		return nil, false
	}
	return shared.CopyBattleToField(view.Order, view.Inventory), true
}
