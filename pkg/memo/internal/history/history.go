// Package history keeps a bounded log of the most recent events the engine processed, for display
// only. The engine writes from its consumer goroutine while readers snapshot from anywhere.
package history

import (
	"sync"
	"time"

	"github.com/open-xiv/memo-uploader/pkg/assert"
	"github.com/open-xiv/memo-uploader/pkg/memo/event"
)

const DefaultSize = 1000

// Entry is one logged event.
type Entry struct {
	At      time.Time `json:"at"`
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
}

// Log is a ring buffer of entries. Once full, each append evicts the oldest entry.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	// next is the slot the next entry is written to.
	next int
	full bool
}

func New(size int) *Log {
	assert.That(size > 0, "history size must be positive, got %d", size)
	if size < 1 {
		size = DefaultSize
	}
	return &Log{entries: make([]Entry, size)}
}

// Record appends e observed at the given time.
func (l *Log) Record(at time.Time, e event.Event) {
	l.Append(Entry{At: at, Kind: e.Kind().String(), Message: e.String()})
}

func (l *Log) Append(entry Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = entry
	l.next++
	if l.next == len(l.entries) {
		l.next = 0
		l.full = true
	}
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.entries)
	}
	return l.next
}

func (l *Log) Cap() int { return len(l.entries) }

// Snapshot copies up to limit of the newest entries, oldest first. A non-positive limit returns
// everything retained.
func (l *Log) Snapshot(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := l.next
	if l.full {
		n = len(l.entries)
	}
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]Entry, n)
	// Walk backwards from the newest entry.
	idx := l.next
	for i := n - 1; i >= 0; i-- {
		idx--
		if idx < 0 {
			idx = len(l.entries) - 1
		}
		out[i] = l.entries[idx]
	}
	return out
}
