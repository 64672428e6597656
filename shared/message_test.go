package shared

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameUnframeRoundTrip(t *testing.T) {
	payload := []byte(`SYNC 1700000000 {"1":5,"2":3}`)
	framed, err := Frame(payload)
	require.NoError(t, err)

	back, err := Unframe(framed)
	require.NoError(t, err)
	require.Equal(t, payload, back)
}

func TestFramePassesThroughWhenCompressionDoesNotHelp(t *testing.T) {
	// A short, already-dense payload compresses larger than itself due to
	// gzip header overhead, so Frame must return it unchanged.
	payload := []byte("LOG []")
	framed, err := Frame(payload)
	require.NoError(t, err)
	require.Equal(t, payload, framed)
	require.NotEqual(t, byte('!'), framed[0])
}

func TestSplitDirective(t *testing.T) {
	verb, rest := SplitDirective("SYNC 1700000000 !")
	require.Equal(t, "SYNC", verb)
	require.Equal(t, "1700000000 !", rest)

	verb, rest = SplitDirective("Success")
	require.Equal(t, "Success", verb)
	require.Equal(t, "", rest)
}

func TestLogEntryRoundTrip(t *testing.T) {
	entries := []LogEntry{{Index: 1, Item: 1, Delta: 2}, {Index: 2, Item: 5, Delta: -1}}
	data, err := MarshalLogEntries(entries)
	require.NoError(t, err)

	back, err := UnmarshalLogEntries(data)
	require.NoError(t, err)
	require.Equal(t, entries, back)
}

func TestInventoryJSONReparsesIntegerKeys(t *testing.T) {
	inv := Inventory{1: 5, 2: 3}
	data, err := MarshalInventory(inv)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), `"1"`), "wire keys must be strings")

	back, err := UnmarshalInventory(data)
	require.NoError(t, err)
	require.Equal(t, inv, back)
}

func TestEncodeSyncForceSuffix(t *testing.T) {
	require.Equal(t, "SYNC 42", EncodeSync(42, false))
	require.Equal(t, "SYNC 42 !", EncodeSync(42, true))
}

func TestChestHexRoundTrip(t *testing.T) {
	var mask ChestMask
	mask[0] = 0xAB
	mask[63] = 0xCD

	msg := EncodeChest(7, mask)
	_, rest := SplitDirective(msg)
	_, hexPayload := SplitDirective(rest)

	back, err := DecodeChestMask(hexPayload)
	require.NoError(t, err)
	require.Equal(t, mask, back)
}

func TestStatusDeltaRoundTrip(t *testing.T) {
	msg := EncodeStatusDelta(42, true, 2, 0xBEEF)
	verb, rest := SplitDirective(msg)
	require.Equal(t, DirStatusOn, verb)

	series, char, bits, err := DecodeStatusDelta(rest)
	require.NoError(t, err)
	require.Equal(t, int64(42), series)
	require.Equal(t, 2, char)
	require.Equal(t, CharacterStatus(0xBEEF), bits)
}
