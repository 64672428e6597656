package client

import (
	"github.com/abyssonym/parity/emulator"
	"github.com/abyssonym/parity/shared"
)

// Sample is one tick's raw RAM observation, read in the fixed order
// spec §4.2 requires: played-time, field-items, battle-items,
// battle-character presence, status low, status high, chest mask, GP.
// All reads complete before any derived computation.
type Sample struct {
	PlayedTime     shared.PlayedTime
	FieldRaw       []byte
	BattleRaw      []byte
	BattlePresence shared.BattlePresence
	StatusLow      [8]byte
	StatusHigh     [8]byte
	ChestMask      shared.ChestMask
	GP             shared.GP
}

// Sampler reads all synchronized regions from the emulator each tick.
type Sampler struct {
	ch  *emulator.Channel
	cfg shared.Config
}

// NewSampler builds a Sampler bound to an emulator channel and the
// configured RAM addresses.
func NewSampler(ch *emulator.Channel, cfg shared.Config) *Sampler {
	return &Sampler{ch: ch, cfg: cfg}
}

// Sample performs one full tick read. Any single read's error (timeout
// or byte-count mismatch) aborts the whole sample and propagates to the
// main loop per spec §4.2.
func (s *Sampler) Sample() (*Sample, error) {
	playedRaw, err := s.ch.Read(s.cfg.PlayedTimeAddress, 4)
	if err != nil {
		return nil, err
	}

	fieldRaw, err := s.ch.Read(s.cfg.FieldItemAddress, shared.FieldItemsSize)
	if err != nil {
		return nil, err
	}

	battleRaw, err := s.ch.Read(s.cfg.BattleItemAddress, shared.BattleItemsSize)
	if err != nil {
		return nil, err
	}

	battleCharRaw, err := s.ch.Read(s.cfg.BattleCharAddress, 8)
	if err != nil {
		return nil, err
	}

	statusLowRaw, err := s.ch.Read(s.cfg.Status1Address, 8)
	if err != nil {
		return nil, err
	}

	statusHighRaw, err := s.ch.Read(s.cfg.Status2Address, 8)
	if err != nil {
		return nil, err
	}

	chestRaw, err := s.ch.Read(s.cfg.ChestAddress, 64)
	if err != nil {
		return nil, err
	}

	gpRaw, err := s.ch.Read(s.cfg.GPAddress, 3)
	if err != nil {
		return nil, err
	}

	var battleChar8, statusLow8, statusHigh8 [8]byte
	copy(battleChar8[:], battleCharRaw)
	copy(statusLow8[:], statusLowRaw)
	copy(statusHigh8[:], statusHighRaw)

	var chestMask shared.ChestMask
	copy(chestMask[:], chestRaw)

	var gp3 [3]byte
	copy(gp3[:], gpRaw)

	return &Sample{
		PlayedTime:     shared.PlayedTime{Hours: playedRaw[0], Minutes: playedRaw[1], Seconds: playedRaw[2], Frames: playedRaw[3]},
		FieldRaw:       fieldRaw,
		BattleRaw:      battleRaw,
		BattlePresence: shared.ParseBattlePresence(battleChar8),
		StatusLow:      statusLow8,
		StatusHigh:     statusHigh8,
		ChestMask:      chestMask,
		GP:             shared.ParseGP(gp3),
	}, nil
}
