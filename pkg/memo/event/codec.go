package event

import (
	"bytes"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

// ErrUnknownKind is returned when an envelope names no known variant.
var ErrUnknownKind = eris.New("unknown event kind")

// Envelope is the flat wire form used by external producers to post events over HTTP or stdin.
// Only the fields relevant to the named kind are read.
type Envelope struct {
	Kind       string   `json:"kind"`
	EntityID   uint32   `json:"entity_id,omitempty"`
	DataID     uint32   `json:"data_id,omitempty"`
	ActionID   uint32   `json:"action_id,omitempty"`
	StatusID   uint32   `json:"status_id,omitempty"`
	StackCount uint32   `json:"stack_count,omitempty"`
	Targetable bool     `json:"targetable,omitempty"`
	ZoneID     uint32   `json:"zone_id,omitempty"`
	CurrentHP  uint32   `json:"current_hp,omitempty"`
	MaxHP      uint32   `json:"max_hp,omitempty"`
	Members    []Member `json:"members,omitempty"`
}

var wireKinds = map[string]Kind{ //nolint:gochecknoglobals // lookup table
	"action_start":         KindActionStart,
	"action_complete":      KindActionComplete,
	"combatant_spawn":      KindCombatantSpawn,
	"combatant_destroy":    KindCombatantDestroy,
	"combatant_targetable": KindCombatantTargetable,
	"status_applied":       KindStatusApplied,
	"status_removed":       KindStatusRemoved,
	"death":                KindDeath,
	"zone_changed":         KindZoneChanged,
	"duty_started":         KindDutyStarted,
	"duty_completed":       KindDutyCompleted,
	"duty_wiped":           KindDutyWiped,
	"duty_recommenced":     KindDutyRecommenced,
	"combat_enter":         KindCombatEnter,
	"combat_exit":          KindCombatExit,
	"hp_updated":           KindHpUpdated,
	"party_updated":        KindPartyUpdated,
}

// WireName returns the envelope kind string of k, or "" for kinds that cannot be posted.
func WireName(k Kind) string {
	for name, kind := range wireKinds {
		if kind == k {
			return name
		}
	}
	return ""
}

// Event converts the envelope into its variant.
func (env Envelope) Event() (Event, error) {
	kind, ok := wireKinds[env.Kind]
	if !ok {
		return nil, eris.Wrapf(ErrUnknownKind, "kind %q", env.Kind)
	}

	switch kind {
	case KindActionStart:
		return ActionStart{EntityID: env.EntityID, ActionID: env.ActionID}, nil
	case KindActionComplete:
		return ActionComplete{EntityID: env.EntityID, ActionID: env.ActionID}, nil
	case KindCombatantSpawn:
		return CombatantSpawn{EntityID: env.EntityID, DataID: env.DataID}, nil
	case KindCombatantDestroy:
		return CombatantDestroy{EntityID: env.EntityID, DataID: env.DataID}, nil
	case KindCombatantTargetable:
		return CombatantTargetable{EntityID: env.EntityID, DataID: env.DataID, Targetable: env.Targetable}, nil
	case KindStatusApplied:
		return StatusApplied{
			EntityID: env.EntityID, DataID: env.DataID, StatusID: env.StatusID, StackCount: env.StackCount,
		}, nil
	case KindStatusRemoved:
		return StatusRemoved{EntityID: env.EntityID, DataID: env.DataID, StatusID: env.StatusID}, nil
	case KindDeath:
		return Death{EntityID: env.EntityID}, nil
	case KindZoneChanged:
		return ZoneChanged{ZoneID: env.ZoneID}, nil
	case KindDutyStarted:
		return DutyStarted{ZoneID: env.ZoneID}, nil
	case KindDutyCompleted:
		return DutyCompleted{ZoneID: env.ZoneID}, nil
	case KindDutyWiped:
		return DutyWiped{ZoneID: env.ZoneID}, nil
	case KindDutyRecommenced:
		return DutyRecommenced{ZoneID: env.ZoneID}, nil
	case KindCombatEnter:
		return CombatEnter{}, nil
	case KindCombatExit:
		return CombatExit{}, nil
	case KindHpUpdated:
		return HpUpdated{EntityID: env.EntityID, DataID: env.DataID, CurrentHP: env.CurrentHP, MaxHP: env.MaxHP}, nil
	case KindPartyUpdated:
		return PartyUpdated{Members: env.Members}, nil
	case KindUnknown, KindTick:
	}
	return nil, eris.Wrapf(ErrUnknownKind, "kind %q", env.Kind)
}

// EnvelopeOf is the inverse of Envelope.Event.
func EnvelopeOf(e Event) Envelope {
	env := Envelope{Kind: WireName(e.Kind())}
	switch e := e.(type) {
	case ActionStart:
		env.EntityID, env.ActionID = e.EntityID, e.ActionID
	case ActionComplete:
		env.EntityID, env.ActionID = e.EntityID, e.ActionID
	case CombatantSpawn:
		env.EntityID, env.DataID = e.EntityID, e.DataID
	case CombatantDestroy:
		env.EntityID, env.DataID = e.EntityID, e.DataID
	case CombatantTargetable:
		env.EntityID, env.DataID, env.Targetable = e.EntityID, e.DataID, e.Targetable
	case StatusApplied:
		env.EntityID, env.DataID, env.StatusID, env.StackCount = e.EntityID, e.DataID, e.StatusID, e.StackCount
	case StatusRemoved:
		env.EntityID, env.DataID, env.StatusID = e.EntityID, e.DataID, e.StatusID
	case Death:
		env.EntityID = e.EntityID
	case ZoneChanged:
		env.ZoneID = e.ZoneID
	case DutyStarted:
		env.ZoneID = e.ZoneID
	case DutyCompleted:
		env.ZoneID = e.ZoneID
	case DutyWiped:
		env.ZoneID = e.ZoneID
	case DutyRecommenced:
		env.ZoneID = e.ZoneID
	case HpUpdated:
		env.EntityID, env.DataID, env.CurrentHP, env.MaxHP = e.EntityID, e.DataID, e.CurrentHP, e.MaxHP
	case PartyUpdated:
		env.Members = e.Members
	case CombatEnter, CombatExit, Tick:
	}
	return env
}

// Decode parses either a single envelope object or an array of envelopes.
func Decode(data []byte) ([]Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, eris.New("empty event payload")
	}

	var envs []Envelope
	if data[0] == '[' {
		if err := json.Unmarshal(data, &envs); err != nil {
			return nil, eris.Wrap(err, "failed to decode event batch")
		}
	} else {
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, eris.Wrap(err, "failed to decode event")
		}
		envs = append(envs, env)
	}

	events := make([]Event, 0, len(envs))
	for i, env := range envs {
		e, err := env.Event()
		if err != nil {
			return nil, eris.Wrapf(err, "event %d", i)
		}
		events = append(events, e)
	}
	return events, nil
}
