package shared

import (
	"fmt"
	"time"

	"github.com/tailscale/hujson"
	"gopkg.in/ini.v1"
)

// Config mirrors the INI "Settings" section described in spec §6. Timing
// fields are parsed from seconds into time.Duration; hex RAM offsets are
// parsed from hexadecimal strings into uint32 addresses.
type Config struct {
	// Feature toggles
	SyncInventory bool
	SyncChests    bool
	SyncStatus    bool
	SyncGP        bool
	Debug         bool
	TestLatency   time.Duration

	// Timings
	PollInterval        time.Duration
	SyncInterval        time.Duration
	PauseDelayInterval  time.Duration
	MinimumPlayedTime   int64
	MinSaneInventory    int

	// Tuning
	SimilarityThreshold float64

	// RAM offsets
	FieldItemAddress   uint32
	BattleItemAddress  uint32
	PlayedTimeAddress  uint32
	BattleCharAddress  uint32
	Status1Address     uint32
	Status2Address     uint32
	ChestAddress       uint32
	GPAddress          uint32
	ButtonMapAddress   uint32

	// Network
	RetroarchPort   int
	ServerHostname  string
	ServerPort      int
	JoinSessionName string

	// Server-only
	LogRetention   time.Duration
	BackupInterval time.Duration
}

// Default returns the spec §6 default configuration.
func Default() Config {
	return Config{
		SyncInventory: true,
		SyncChests:    true,
		SyncStatus:    true,
		SyncGP:        true,

		PollInterval:       time.Second,
		SyncInterval:       6 * time.Second,
		PauseDelayInterval: 50 * time.Millisecond,
		MinSaneInventory:   3,

		SimilarityThreshold: 0.95,

		FieldItemAddress:  0x7e1869,
		BattleItemAddress: 0x7e2686,
		PlayedTimeAddress: 0x7e021b,

		RetroarchPort: 55355,
		ServerPort:    55333,

		LogRetention:   600 * time.Second,
		BackupInterval: 900 * time.Second,
	}
}

// LoadConfig parses an INI file into a Config, starting from Default()
// and overriding any key present in the [Settings] section. A missing or
// unparsable file is a *ConfigError (spec §7, fatal at startup).
func LoadConfig(path string) (Config, error) {
	cfg := Default()

	f, err := ini.Load(path)
	if err != nil {
		return cfg, &ConfigError{Err: err}
	}

	sec := f.Section("Settings")

	boolKeys := map[string]*bool{
		"SYNC_INVENTORY": &cfg.SyncInventory,
		"SYNC_CHESTS":    &cfg.SyncChests,
		"SYNC_STATUS":    &cfg.SyncStatus,
		"SYNC_GP":        &cfg.SyncGP,
		"DEBUG":          &cfg.Debug,
	}
	for key, dst := range boolKeys {
		if k, err := sec.GetKey(key); err == nil {
			*dst, err = k.Bool()
			if err != nil {
				return cfg, &ConfigError{Err: fmt.Errorf("%s: %w", key, err)}
			}
		}
	}

	durationSecondsKeys := map[string]*time.Duration{
		"TEST_LATENCY":         &cfg.TestLatency,
		"POLL_INTERVAL":        &cfg.PollInterval,
		"SYNC_INTERVAL":        &cfg.SyncInterval,
		"PAUSE_DELAY_INTERVAL": &cfg.PauseDelayInterval,
		"LOG_RETENTION_DURATION": &cfg.LogRetention,
		"BACKUP_INTERVAL":      &cfg.BackupInterval,
	}
	for key, dst := range durationSecondsKeys {
		if k, err := sec.GetKey(key); err == nil {
			seconds, err := k.Float64()
			if err != nil {
				return cfg, &ConfigError{Err: fmt.Errorf("%s: %w", key, err)}
			}
			*dst = time.Duration(seconds * float64(time.Second))
		}
	}

	if k, err := sec.GetKey("MINIMUM_PLAYED_TIME"); err == nil {
		cfg.MinimumPlayedTime, err = k.Int64()
		if err != nil {
			return cfg, &ConfigError{Err: fmt.Errorf("MINIMUM_PLAYED_TIME: %w", err)}
		}
	}
	if k, err := sec.GetKey("MIN_SANE_INVENTORY"); err == nil {
		n, err := k.Int()
		if err != nil {
			return cfg, &ConfigError{Err: fmt.Errorf("MIN_SANE_INVENTORY: %w", err)}
		}
		cfg.MinSaneInventory = n
	}
	if k, err := sec.GetKey("SIMILARITY_THRESHOLD"); err == nil {
		cfg.SimilarityThreshold, err = k.Float64()
		if err != nil {
			return cfg, &ConfigError{Err: fmt.Errorf("SIMILARITY_THRESHOLD: %w", err)}
		}
	}

	hexKeys := map[string]*uint32{
		"FIELD_ITEM_ADDRESS":  &cfg.FieldItemAddress,
		"BATTLE_ITEM_ADDRESS": &cfg.BattleItemAddress,
		"PLAYED_TIME_ADDRESS": &cfg.PlayedTimeAddress,
		"BATTLE_CHAR_ADDRESS": &cfg.BattleCharAddress,
		"STATUS_1_ADDRESS":    &cfg.Status1Address,
		"STATUS_2_ADDRESS":    &cfg.Status2Address,
		"CHEST_ADDRESS":       &cfg.ChestAddress,
		"GP_ADDRESS":          &cfg.GPAddress,
		"BUTTON_MAP_ADDRESS":  &cfg.ButtonMapAddress,
	}
	for key, dst := range hexKeys {
		if k, err := sec.GetKey(key); err == nil {
			var v uint32
			if _, err := fmt.Sscanf(k.String(), "%x", &v); err != nil {
				return cfg, &ConfigError{Err: fmt.Errorf("%s: %w", key, err)}
			}
			*dst = v
		}
	}

	if k, err := sec.GetKey("RETROARCH_PORT"); err == nil {
		cfg.RetroarchPort, _ = k.Int()
	}
	if k, err := sec.GetKey("SERVER_HOSTNAME"); err == nil {
		cfg.ServerHostname = k.String()
	}
	if k, err := sec.GetKey("SERVER_PORT"); err == nil {
		cfg.ServerPort, _ = k.Int()
	}
	if k, err := sec.GetKey("JOIN_SESSION_NAME"); err == nil {
		cfg.JoinSessionName = k.String()
	}

	return cfg, nil
}

// ApplyJSONOverlay merges a hujson (JSON-with-comments) document over
// cfg's current values, for the optional --config overlay described in
// SPEC_FULL §10.1. Only fields present in overlay are changed.
func ApplyJSONOverlay(cfg *Config, raw []byte) error {
	std, err := hujson.Standardize(raw)
	if err != nil {
		return &ConfigError{Err: err}
	}

	var overlay map[string]any
	if err := jsonUnmarshalLoose(std, &overlay); err != nil {
		return &ConfigError{Err: err}
	}

	for key, val := range overlay {
		if err := applyOverlayField(cfg, key, val); err != nil {
			return &ConfigError{Err: err}
		}
	}
	return nil
}
