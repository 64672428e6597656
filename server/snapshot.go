package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/natefinch/atomic"

	"github.com/abyssonym/parity/shared"
)

// snapshotPrefix/snapshotSuffix bracket the timestamp in a backup's file
// name, so lexicographic and chronological ordering agree.
const (
	snapshotPrefix = "parity_backup_"
	snapshotSuffix = ".json"
	snapshotStamp  = "20060102-1504"
)

// snapshotSession is one session's JSON-serializable state.
type snapshotSession struct {
	Ledger    map[string]int `json:"ledger,omitempty"`
	ChestMask string         `json:"chest_mask,omitempty"`
	Status    [4]uint32      `json:"status,omitempty"`
}

// snapshotDoc is the full on-disk shape of a backup file (spec §4.9's
// "Snapshot" paragraph): member registry, per-session ledgers, and the
// log dedup set with its timestamps so GC can resume correctly.
type snapshotDoc struct {
	Members       map[string]string          `json:"members"`
	Sessions      map[string]snapshotSession `json:"sessions"`
	ProcessedLogs map[string]int64           `json:"processed_logs"`
}

// SnapshotPath builds the backup file name for a given instant.
func SnapshotPath(dir string, at time.Time) string {
	return filepath.Join(dir, snapshotPrefix+at.UTC().Format(snapshotStamp)+snapshotSuffix)
}

// WriteSnapshot atomically persists ledger to dir, timestamped at now.
func WriteSnapshot(dir string, ledger *Ledger, now time.Time) error {
	doc := snapshotDoc{
		Members:       ledger.Members,
		Sessions:      make(map[string]snapshotSession, len(ledger.Sessions)),
		ProcessedLogs: make(map[string]int64, len(ledger.ProcessedLogs)),
	}

	for name, session := range ledger.Sessions {
		s := snapshotSession{Status: [4]uint32{
			uint32(session.Status[0]), uint32(session.Status[1]),
			uint32(session.Status[2]), uint32(session.Status[3]),
		}}
		if session.Ledger != nil {
			s.Ledger = make(map[string]int, len(session.Ledger))
			for id, n := range session.Ledger {
				s.Ledger[strconv.Itoa(int(id))] = n
			}
		}
		s.ChestMask = fmt.Sprintf("%x", session.ChestMask[:])
		doc.Sessions[name] = s
	}
	for key, seenAt := range ledger.ProcessedLogs {
		doc.ProcessedLogs[key] = seenAt.Unix()
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return atomic.WriteFile(SnapshotPath(dir, now), bytes.NewReader(data))
}

// LoadLatestSnapshot restores the lexicographically greatest (and so
// chronologically latest, given snapshotStamp's format) backup file in
// dir. It returns a fresh, empty Ledger and no error if dir holds no
// backups. Every restored session has all its known members marked
// pending, per spec §4.9's "Snapshot" paragraph.
func LoadLatestSnapshot(dir string) (*Ledger, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return NewLedger(), nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && len(name) > len(snapshotPrefix)+len(snapshotSuffix) &&
			name[:len(snapshotPrefix)] == snapshotPrefix {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return NewLedger(), nil
	}
	sort.Strings(names)
	latest := names[len(names)-1]

	data, err := os.ReadFile(filepath.Join(dir, latest))
	if err != nil {
		return nil, err
	}

	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	ledger := NewLedger()
	ledger.Members = doc.Members
	if ledger.Members == nil {
		ledger.Members = make(map[string]string)
	}
	for key, unixSeconds := range doc.ProcessedLogs {
		ledger.ProcessedLogs[key] = time.Unix(unixSeconds, 0).UTC()
	}

	for name, s := range doc.Sessions {
		session := newSession(name)
		if s.Ledger != nil {
			session.Ledger = make(shared.Inventory, len(s.Ledger))
			for k, v := range s.Ledger {
				id, err := strconv.Atoi(k)
				if err != nil {
					return nil, fmt.Errorf("snapshot session %q: bad item key %q: %w", name, k, err)
				}
				session.Ledger[uint8(id)] = v
			}
		}
		if s.ChestMask != "" {
			mask, err := shared.DecodeChestMask(s.ChestMask)
			if err != nil {
				return nil, fmt.Errorf("snapshot session %q: %w", name, err)
			}
			session.ChestMask = mask
		}
		session.Status = shared.StatusWords{
			shared.CharacterStatus(s.Status[0]), shared.CharacterStatus(s.Status[1]),
			shared.CharacterStatus(s.Status[2]), shared.CharacterStatus(s.Status[3]),
		}
		ledger.Sessions[name] = session
	}

	for name, session := range ledger.Sessions {
		session.markAllPending(ledger.membersOf(name))
	}

	return ledger, nil
}
