package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abyssonym/parity/shared"
)

func newDispatcher() *Dispatcher {
	return NewDispatcher(NewLedger(), shared.NewLogger(false))
}

func TestHandleNewCreatesSessionAndSchedulesReport(t *testing.T) {
	d := newDispatcher()
	member := shared.Member{IP: "1.2.3.4", Series: 100}

	replies, err := d.Handle(member, "NEW hearth 100")
	require.NoError(t, err)
	require.Equal(t, []string{shared.DirSuccess, shared.DirReport + " {}"}, replies)
	require.Equal(t, "hearth", d.ledger.Members[member.String()])
}

func TestHandleNewRejectsDuplicateSession(t *testing.T) {
	d := newDispatcher()
	member := shared.Member{IP: "1.2.3.4", Series: 100}
	_, err := d.Handle(member, "NEW hearth 100")
	require.NoError(t, err)

	other := shared.Member{IP: "5.6.7.8", Series: 200}
	replies, err := d.Handle(other, "NEW hearth 200")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Contains(t, replies[0], shared.DirError)
}

func TestHandleJoinRejectsUnknownSession(t *testing.T) {
	d := newDispatcher()
	member := shared.Member{IP: "1.2.3.4", Series: 100}
	replies, err := d.Handle(member, "JOIN nope 100")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	require.Contains(t, replies[0], shared.DirError)
}

func TestReportSeedsLedgerOnceAndMarksMembersPending(t *testing.T) {
	d := newDispatcher()
	creator := shared.Member{IP: "1.1.1.1", Series: 1}
	joiner := shared.Member{IP: "2.2.2.2", Series: 2}

	_, err := d.Handle(creator, "NEW hearth 1")
	require.NoError(t, err)
	_, err = d.Handle(joiner, "JOIN hearth 2")
	require.NoError(t, err)

	_, err = d.Handle(creator, `REPORT 1 {"1":5,"2":3}`)
	require.NoError(t, err)

	session := d.ledger.Sessions["hearth"]
	require.Equal(t, 5, session.Ledger[1])
	require.Equal(t, 3, session.Ledger[2])
	require.True(t, session.Pending[joiner.String()])
	require.True(t, session.Pending[creator.String()])

	// A second REPORT must not re-seed the ledger.
	_, err = d.Handle(creator, `REPORT 1 {"1":99}`)
	require.NoError(t, err)
	require.Equal(t, 5, session.Ledger[1])
}

func TestHandleLogAppliesDeltaOnceAndAcksEveryIndex(t *testing.T) {
	d := newDispatcher()
	creator := shared.Member{IP: "1.1.1.1", Series: 1}
	other := shared.Member{IP: "2.2.2.2", Series: 2}

	_, err := d.Handle(creator, "NEW hearth 1")
	require.NoError(t, err)
	_, err = d.Handle(other, "JOIN hearth 2")
	require.NoError(t, err)
	_, err = d.Handle(creator, "REPORT 1 {}")
	require.NoError(t, err)

	replies, err := d.Handle(creator, "LOG 1 [[0,1,5]]")
	require.NoError(t, err)
	require.Equal(t, []string{shared.DirLog + " [0]"}, replies)

	session := d.ledger.Sessions["hearth"]
	require.Equal(t, 5, session.Ledger[1])
	require.True(t, session.Pending[other.String()])

	// Replaying the same index must not double-apply the delta, but
	// still acks it (replay-safe redelivery).
	replies, err = d.Handle(creator, "LOG 1 [[0,1,5]]")
	require.NoError(t, err)
	require.Equal(t, []string{shared.DirLog + " [0]"}, replies)
	require.Equal(t, 5, session.Ledger[1])
}

func TestHandleSyncRepliesReportEmptyBeforeSeeded(t *testing.T) {
	d := newDispatcher()
	creator := shared.Member{IP: "1.1.1.1", Series: 1}
	_, err := d.Handle(creator, "NEW hearth 1")
	require.NoError(t, err)

	replies, err := d.Handle(creator, "SYNC 1")
	require.NoError(t, err)
	require.Equal(t, []string{shared.DirReport + " {}"}, replies)
}

func TestHandleSyncOnlyRepliesWhenPendingOrForced(t *testing.T) {
	d := newDispatcher()
	creator := shared.Member{IP: "1.1.1.1", Series: 1}
	other := shared.Member{IP: "2.2.2.2", Series: 2}

	_, err := d.Handle(creator, "NEW hearth 1")
	require.NoError(t, err)
	_, err = d.Handle(other, "JOIN hearth 2")
	require.NoError(t, err)
	_, err = d.Handle(creator, `REPORT 1 {"1":5}`)
	require.NoError(t, err)

	session := d.ledger.Sessions["hearth"]
	delete(session.Pending, creator.String())

	replies, err := d.Handle(creator, "SYNC 1")
	require.NoError(t, err)
	require.Nil(t, replies, "not pending, not forced: no reply")

	replies, err = d.Handle(creator, "SYNC 1 !")
	require.NoError(t, err)
	require.Equal(t, []string{shared.DirSync + ` {"1":5}`}, replies)

	replies, err = d.Handle(other, "SYNC 2")
	require.NoError(t, err)
	require.Equal(t, []string{shared.DirSync + ` {"1":5}`}, replies)
	require.False(t, session.Pending[other.String()], "pending cleared after reply")
}

func TestHandleChestMergesAndRepliesWithFullMask(t *testing.T) {
	d := newDispatcher()
	creator := shared.Member{IP: "1.1.1.1", Series: 1}
	_, err := d.Handle(creator, "NEW hearth 1")
	require.NoError(t, err)

	var mask shared.ChestMask
	mask[0] = 0b0001
	replies, err := d.Handle(creator, shared.EncodeChest(1, mask))
	require.NoError(t, err)
	require.Len(t, replies, 1)

	mask[0] = 0b0010
	replies, err = d.Handle(creator, shared.EncodeChest(1, mask))
	require.NoError(t, err)

	_, rest := shared.SplitDirective(replies[0])
	_, hexPayload := shared.SplitDirective(rest)
	got, err := shared.DecodeChestMask(hexPayload)
	require.NoError(t, err)
	require.Equal(t, byte(0b0011), got[0], "chest bits accumulate across merges")
}

func TestHandleStatusAppliesSetAndClearWithNoReply(t *testing.T) {
	d := newDispatcher()
	creator := shared.Member{IP: "1.1.1.1", Series: 1}
	_, err := d.Handle(creator, "NEW hearth 1")
	require.NoError(t, err)

	replies, err := d.Handle(creator, shared.EncodeStatusDelta(1, true, 0, 0b0001))
	require.NoError(t, err)
	require.Nil(t, replies)
	require.Equal(t, shared.CharacterStatus(0b0001), d.ledger.Sessions["hearth"].Status[0])

	_, err = d.Handle(creator, shared.EncodeStatusDelta(1, false, 0, 0b0001))
	require.NoError(t, err)
	require.Equal(t, shared.CharacterStatus(0), d.ledger.Sessions["hearth"].Status[0])
}
