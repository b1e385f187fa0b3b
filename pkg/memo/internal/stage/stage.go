// Package stage tracks the run stage of the engine.
package stage

import "sync/atomic"

type Stage string

const (
	Init         Stage = "init"          // Engine constructed, consumer not started
	Running      Stage = "running"       // Consumer goroutine is draining the queue
	ShuttingDown Stage = "shutting_down" // Stop was called, waiting on the consumer and uploads
	ShutDown     Stage = "shut_down"     // Consumer exited, posts are dropped
)

// Manager holds the current stage. The zero value is not usable, use NewManager.
type Manager struct {
	current atomic.Value
}

func NewManager() *Manager {
	m := &Manager{}
	m.current.Store(Init)
	return m
}

func (m *Manager) CompareAndSwap(oldStage, newStage Stage) (swapped bool) {
	return m.current.CompareAndSwap(oldStage, newStage)
}

func (m *Manager) Current() Stage {
	return m.current.Load().(Stage) //nolint:errcheck // only Stage values are stored
}

func (m *Manager) Store(val Stage) {
	m.current.Store(val)
}

// Accepting reports whether new events should still be queued.
func (m *Manager) Accepting() bool {
	switch m.Current() {
	case Init, Running:
		return true
	case ShuttingDown, ShutDown:
	}
	return false
}
