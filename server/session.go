// Package server implements the single-threaded UDP ledger and session
// coordinator described in spec §4.9: member registration, per-session
// inventory ledgers, log dedup, and periodic snapshot persistence.
package server

import (
	"time"

	"github.com/abyssonym/parity/shared"
)

// Session is one named game-save group: a nullable ledger (nil until the
// first REPORT seeds it), the set of members owing a fresh SYNC reply,
// and the merged chest/status side-channels.
type Session struct {
	Name string

	Ledger  shared.Inventory // nil until first REPORT
	Pending map[string]bool  // member key -> owed a fresh SYNC

	ChestMask shared.ChestMask
	Status    shared.StatusWords
}

// newSession creates an empty session with a null ledger, per spec
// §4.9's NEW handler.
func newSession(name string) *Session {
	return &Session{Name: name, Pending: make(map[string]bool)}
}

// markAllPending flags every current member of the session as owing a
// fresh SYNC reply (used after REPORT seeds the ledger, and on snapshot
// restore, per spec §4.9's "Snapshot" paragraph).
func (s *Session) markAllPending(members []string) {
	for _, m := range members {
		s.Pending[m] = true
	}
}

// Ledger is the server's full in-memory state: which member belongs to
// which session, each session's data, and the cross-session log dedup
// set (spec §3's "processed_logs", keyed by "<member>-<index>").
type Ledger struct {
	Members  map[string]string // member key -> session name
	Sessions map[string]*Session

	ProcessedLogs map[string]time.Time
}

// NewLedger returns an empty server-side ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Members:       make(map[string]string),
		Sessions:      make(map[string]*Session),
		ProcessedLogs: make(map[string]time.Time),
	}
}

// membersOf lists every member key currently registered to a session.
func (l *Ledger) membersOf(sessionName string) []string {
	var out []string
	for member, session := range l.Members {
		if session == sessionName {
			out = append(out, member)
		}
	}
	return out
}

// GC drops processed-log entries older than retention (spec §4.9's
// "Dedup garbage collection").
func (l *Ledger) GC(retention time.Duration, now time.Time) {
	for key, seenAt := range l.ProcessedLogs {
		if now.Sub(seenAt) > retention {
			delete(l.ProcessedLogs, key)
		}
	}
}
