package shared

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleINI = `
[Settings]
SYNC_INVENTORY = yes
SYNC_CHESTS = no
POLL_INTERVAL = 1.0
SYNC_INTERVAL = 6
PAUSE_DELAY_INTERVAL = 0.05
MIN_SANE_INVENTORY = 3
SIMILARITY_THRESHOLD = 0.95
FIELD_ITEM_ADDRESS = 7e1869
BATTLE_ITEM_ADDRESS = 7e2686
RETROARCH_PORT = 55355
SERVER_HOSTNAME = localhost
SERVER_PORT = 55333
`

func writeTempINI(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "parity.ini")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigParsesSettings(t *testing.T) {
	path := writeTempINI(t, sampleINI)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.True(t, cfg.SyncInventory)
	require.False(t, cfg.SyncChests)
	require.Equal(t, time.Second, cfg.PollInterval)
	require.Equal(t, 50*time.Millisecond, cfg.PauseDelayInterval)
	require.Equal(t, uint32(0x7e1869), cfg.FieldItemAddress)
	require.Equal(t, uint32(0x7e2686), cfg.BattleItemAddress)
	require.Equal(t, "localhost", cfg.ServerHostname)
	require.Equal(t, 55333, cfg.ServerPort)
}

func TestLoadConfigMissingFileIsConfigError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.ini"))
	require.Error(t, err)

	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestApplyJSONOverlayPatchesSelectedFields(t *testing.T) {
	cfg := Default()
	overlay := []byte(`{
		// operator override for this host
		"SERVER_HOSTNAME": "10.0.0.5",
		"SYNC_CHESTS": false,
	}`)

	require.NoError(t, ApplyJSONOverlay(&cfg, overlay))
	require.Equal(t, "10.0.0.5", cfg.ServerHostname)
	require.False(t, cfg.SyncChests)
	require.True(t, cfg.SyncInventory, "unrelated fields must be untouched")
}

func TestApplyJSONOverlayRejectsUnknownKey(t *testing.T) {
	cfg := Default()
	err := ApplyJSONOverlay(&cfg, []byte(`{"NOT_A_REAL_KEY": 1}`))
	require.Error(t, err)
}
