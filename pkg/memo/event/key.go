package event

// Category groups the variants that share a registry bucket.
type Category uint8

const (
	CategoryNone Category = iota
	CategoryAction
	CategoryCombatant
	CategoryStatus
)

func (c Category) String() string {
	switch c {
	case CategoryAction:
		return "action"
	case CategoryCombatant:
		return "combatant"
	case CategoryStatus:
		return "status"
	case CategoryNone:
		return "none"
	}
	return "none"
}

// Key is the registry dispatch key of an event: its category plus the action, NPC or status id.
type Key struct {
	Category Category
	ID       uint32
}

// KeyOf maps an event to its dispatch key. Events that never match a keyed trigger report false.
func KeyOf(e Event) (Key, bool) {
	switch e := e.(type) {
	case ActionStart:
		return Key{CategoryAction, e.ActionID}, true
	case ActionComplete:
		return Key{CategoryAction, e.ActionID}, true
	case CombatantSpawn:
		return Key{CategoryCombatant, e.DataID}, true
	case CombatantDestroy:
		return Key{CategoryCombatant, e.DataID}, true
	case CombatantTargetable:
		return Key{CategoryCombatant, e.DataID}, true
	case StatusApplied:
		return Key{CategoryStatus, e.StatusID}, true
	case StatusRemoved:
		return Key{CategoryStatus, e.StatusID}, true
	default:
		return Key{}, false
	}
}
