package shared

import (
	"encoding/json"
	"fmt"
	"time"
)

func jsonUnmarshalLoose(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// applyOverlayField patches a single JSON-overlay key onto cfg. Only the
// fields an operator would plausibly want to tweak per-host are
// supported; unknown keys are rejected rather than silently ignored, so
// a typo in the overlay surfaces as a ConfigError instead of a silent
// no-op.
func applyOverlayField(cfg *Config, key string, val any) error {
	asBool := func() (bool, error) {
		b, ok := val.(bool)
		if !ok {
			return false, fmt.Errorf("%s: expected bool", key)
		}
		return b, nil
	}
	asSeconds := func() (time.Duration, error) {
		n, ok := val.(float64)
		if !ok {
			return 0, fmt.Errorf("%s: expected number of seconds", key)
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	asString := func() (string, error) {
		s, ok := val.(string)
		if !ok {
			return "", fmt.Errorf("%s: expected string", key)
		}
		return s, nil
	}
	asInt := func() (int, error) {
		n, ok := val.(float64)
		if !ok {
			return 0, fmt.Errorf("%s: expected number", key)
		}
		return int(n), nil
	}

	switch key {
	case "SYNC_INVENTORY":
		b, err := asBool()
		cfg.SyncInventory = b
		return err
	case "SYNC_CHESTS":
		b, err := asBool()
		cfg.SyncChests = b
		return err
	case "SYNC_STATUS":
		b, err := asBool()
		cfg.SyncStatus = b
		return err
	case "SYNC_GP":
		b, err := asBool()
		cfg.SyncGP = b
		return err
	case "DEBUG":
		b, err := asBool()
		cfg.Debug = b
		return err
	case "POLL_INTERVAL":
		d, err := asSeconds()
		cfg.PollInterval = d
		return err
	case "SYNC_INTERVAL":
		d, err := asSeconds()
		cfg.SyncInterval = d
		return err
	case "PAUSE_DELAY_INTERVAL":
		d, err := asSeconds()
		cfg.PauseDelayInterval = d
		return err
	case "SERVER_HOSTNAME":
		s, err := asString()
		cfg.ServerHostname = s
		return err
	case "JOIN_SESSION_NAME":
		s, err := asString()
		cfg.JoinSessionName = s
		return err
	case "SERVER_PORT":
		n, err := asInt()
		cfg.ServerPort = n
		return err
	case "RETROARCH_PORT":
		n, err := asInt()
		cfg.RetroarchPort = n
		return err
	default:
		return fmt.Errorf("unknown config overlay key %q", key)
	}
}
