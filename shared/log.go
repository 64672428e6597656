package shared

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the structured logger used by both client and server
// main loops.
func NewLogger(debug bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// Suppressor implements spec §7's log-flood guard: an identical
// consecutive message repeats at most twice within a 60-second window.
// Callers route any message that might repeat (emulator timeouts, peer
// errors) through Allow before logging it.
type Suppressor struct {
	mu         sync.Mutex
	maxRepeats int
	window     time.Duration
	seen       map[string]*suppressEntry
}

type suppressEntry struct {
	count    int
	lastSeen time.Time
}

// NewSuppressor returns a Suppressor with the spec default (repeat at
// most twice within 60 seconds).
func NewSuppressor() *Suppressor {
	return &Suppressor{
		maxRepeats: 2,
		window:     time.Minute,
		seen:       make(map[string]*suppressEntry),
	}
}

// Allow reports whether msg should be logged now. It returns true for the
// first maxRepeats occurrences of a message within the window (counting
// the first one); afterward it returns false until the window lapses
// without a repeat.
func (s *Suppressor) Allow(msg string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	e, ok := s.seen[msg]
	if !ok || now.Sub(e.lastSeen) > s.window {
		s.seen[msg] = &suppressEntry{count: 1, lastSeen: now}
		return true
	}

	e.lastSeen = now
	e.count++
	return e.count <= s.maxRepeats
}
