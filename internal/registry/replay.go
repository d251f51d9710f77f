package registry

import (
	"time"

	"github.com/canvakit/graphsync/pkg/schema"
)

// ReplayEntry is one applied message retained for catch-up queries.
type ReplayEntry struct {
	Msg       *schema.Envelope
	AppliedAt time.Time
}

// replayLog is the bounded per-resource history of applied messages.
// Bounded both by entry count and by age; entries that fall out move
// the truncation watermark forward so registrations older than the
// watermark know they must resnapshot.
type replayLog struct {
	entries []ReplayEntry
	// truncatedAt is the newest instant for which history may be
	// missing. Starts at load time: nothing before the load is known.
	truncatedAt time.Time

	maxEntries int
	maxAge     time.Duration
}

func newReplayLog(maxEntries int, maxAge time.Duration, loadedAt time.Time) *replayLog {
	return &replayLog{
		truncatedAt: loadedAt,
		maxEntries:  maxEntries,
		maxAge:      maxAge,
	}
}

// append records an applied message and enforces the count bound.
func (l *replayLog) append(msg *schema.Envelope, at time.Time) {
	l.entries = append(l.entries, ReplayEntry{Msg: msg, AppliedAt: at})
	if l.maxEntries > 0 && len(l.entries) > l.maxEntries {
		drop := len(l.entries) - l.maxEntries
		l.advance(l.entries[drop-1].AppliedAt)
		l.entries = append([]ReplayEntry(nil), l.entries[drop:]...)
	}
}

// prune enforces the age bound relative to now.
func (l *replayLog) prune(now time.Time) {
	if l.maxAge <= 0 || len(l.entries) == 0 {
		return
	}
	cutoff := now.Add(-l.maxAge)
	drop := 0
	for drop < len(l.entries) && !l.entries[drop].AppliedAt.After(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}
	l.advance(l.entries[drop-1].AppliedAt)
	l.entries = append([]ReplayEntry(nil), l.entries[drop:]...)
}

// since returns every retained message applied strictly after from,
// with transient flags stripped, and whether history before from was
// truncated (meaning the caller cannot rely on the returned messages
// alone and must resnapshot).
func (l *replayLog) since(from time.Time) (missing []*schema.Envelope, truncated bool) {
	truncated = from.Before(l.truncatedAt)
	for _, e := range l.entries {
		if e.AppliedAt.After(from) {
			missing = append(missing, e.Msg.StripTransient())
		}
	}
	return missing, truncated
}

func (l *replayLog) advance(t time.Time) {
	if t.After(l.truncatedAt) {
		l.truncatedAt = t
	}
}

func (l *replayLog) len() int { return len(l.entries) }
