package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewSessionStartsWithNullLedger(t *testing.T) {
	s := newSession("hearth")
	require.Nil(t, s.Ledger)
	require.Empty(t, s.Pending)
}

func TestMarkAllPendingFlagsEveryMember(t *testing.T) {
	s := newSession("hearth")
	s.markAllPending([]string{"1.2.3.4-1", "1.2.3.4-2"})
	require.True(t, s.Pending["1.2.3.4-1"])
	require.True(t, s.Pending["1.2.3.4-2"])
}

func TestLedgerMembersOf(t *testing.T) {
	l := NewLedger()
	l.Members["a-1"] = "hearth"
	l.Members["b-1"] = "hearth"
	l.Members["c-1"] = "other"

	members := l.membersOf("hearth")
	require.ElementsMatch(t, []string{"a-1", "b-1"}, members)
}

func TestLedgerGCDropsOnlyStaleEntries(t *testing.T) {
	l := NewLedger()
	now := time.Now()
	l.ProcessedLogs["fresh"] = now
	l.ProcessedLogs["stale"] = now.Add(-time.Hour)

	l.GC(10*time.Minute, now)

	_, freshExists := l.ProcessedLogs["fresh"]
	_, staleExists := l.ProcessedLogs["stale"]
	require.True(t, freshExists)
	require.False(t, staleExists)
}
