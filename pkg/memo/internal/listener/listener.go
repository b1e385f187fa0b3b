// Package listener indexes the triggers of the active phase for O(1) event dispatch.
package listener

import (
	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/event"
)

// Entry is one registered leaf trigger and the mechanic it fires.
type Entry struct {
	Mechanic *duty.Mechanic
	Trigger  *duty.Trigger
}

// Listener holds keyed buckets for event triggers and a flat list for stateful ones.
// It is owned by a single goroutine.
type Listener struct {
	buckets  map[event.Key][]Entry
	stateful []Entry
	count    int
}

func New() *Listener {
	return &Listener{buckets: make(map[event.Key][]Entry)}
}

// Clear drops every registration. Slices previously returned by FetchMatches and FetchStateful are
// left untouched.
func (l *Listener) Clear() {
	l.buckets = make(map[event.Key][]Entry)
	l.stateful = nil
	l.count = 0
}

// Register adds trigger for mechanic m. LOGICAL_OPERATOR triggers are flattened into their leaves,
// all tagged with m, so any child match counts as a match for the mechanic. Triggers of an
// unknown type are ignored.
func (l *Listener) Register(trigger *duty.Trigger, m *duty.Mechanic) {
	if trigger.Type == duty.TriggerLogical {
		for i := range trigger.Conditions {
			l.Register(&trigger.Conditions[i], m)
		}
		return
	}

	entry := Entry{Mechanic: m, Trigger: trigger}
	if trigger.Type.Stateful() {
		l.stateful = append(l.stateful, entry)
		l.count++
		return
	}

	category, ok := categoryOf(trigger.Type)
	if !ok {
		return
	}
	key := event.Key{Category: category, ID: trigger.DispatchID()}
	l.buckets[key] = append(l.buckets[key], entry)
	l.count++
}

// FetchMatches returns the bucket for the event's dispatch key. The result is shared with the
// listener and must not be modified.
func (l *Listener) FetchMatches(e event.Event) []Entry {
	key, ok := event.KeyOf(e)
	if !ok {
		return nil
	}
	return l.buckets[key]
}

// FetchStateful returns every registered stateful trigger.
func (l *Listener) FetchStateful() []Entry {
	return l.stateful
}

// Count is the number of registered leaf triggers.
func (l *Listener) Count() int {
	return l.count
}

func categoryOf(t duty.TriggerType) (event.Category, bool) {
	switch t {
	case duty.TriggerAction:
		return event.CategoryAction, true
	case duty.TriggerCombatant:
		return event.CategoryCombatant, true
	case duty.TriggerStatus:
		return event.CategoryStatus, true
	case duty.TriggerHPThreshold, duty.TriggerExpression, duty.TriggerMechanic, duty.TriggerTimeout,
		duty.TriggerLogical:
	}
	return event.CategoryNone, false
}
