package shared

import "fmt"

// Member identifies one client process within a session: its source IP
// plus its series number (process-startup wall-clock second). This
// makes a member stable across reconnections from the same IP within
// one process lifetime, but distinct across restarts.
type Member struct {
	IP     string
	Series int64
}

// String renders the member key used everywhere as a map key and in
// dedup identifiers: "<ip>-<series>".
func (m Member) String() string {
	return fmt.Sprintf("%s-%d", m.IP, m.Series)
}

// LogIdentifier builds the "<member>-<index>" key the server uses to
// dedup a client's change-log entries (spec §3, §4.9).
func (m Member) LogIdentifier(index int) string {
	return fmt.Sprintf("%s-%d", m.String(), index)
}
