// Package duty holds the declarative timeline document that drives progress tracking for one zone.
//
// A Config is decoded once per zone entry and treated as read-only afterwards: the state machine
// keeps pointers into it for the lifetime of an attempt.
package duty

import (
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
)

type TriggerType string

const (
	TriggerAction      TriggerType = "ACTION_EVENT"
	TriggerCombatant   TriggerType = "COMBATANT_EVENT"
	TriggerStatus      TriggerType = "STATUS_EVENT"
	TriggerHPThreshold TriggerType = "HP_THRESHOLD"
	TriggerExpression  TriggerType = "EXPRESSION"
	TriggerMechanic    TriggerType = "MECHANIC_TRIGGERED"
	TriggerTimeout     TriggerType = "TIMEOUT"
	TriggerLogical     TriggerType = "LOGICAL_OPERATOR"
)

// Stateful reports whether the trigger kind is evaluated against engine state instead of being
// keyed off an incoming event.
func (t TriggerType) Stateful() bool {
	switch t {
	case TriggerHPThreshold, TriggerExpression, TriggerMechanic, TriggerTimeout:
		return true
	case TriggerAction, TriggerCombatant, TriggerStatus, TriggerLogical:
		return false
	}
	return false
}

// Trigger statuses and conditions as they appear in documents.
const (
	ActionStatusStart    = "START"
	ActionStatusComplete = "COMPLETE"

	CombatantSpawn        = "SPAWN"
	CombatantDestroy      = "DESTROY"
	CombatantTargetable   = "TARGETABLE"
	CombatantUntargetable = "UNTARGETABLE"

	StatusApplied = "APPLIED"
	StatusRemoved = "REMOVED"
)

// Trigger is a matching rule. Which fields are meaningful depends on Type; optional identifiers are
// nil when absent.
type Trigger struct {
	Type         TriggerType `json:"type"`
	Status       string      `json:"status,omitempty"`
	ActionID     *uint32     `json:"action_id,omitempty"`
	NpcID        *uint32     `json:"npc_id,omitempty"`
	Value        *float64    `json:"value,omitempty"`
	Condition    string      `json:"condition,omitempty"`
	StatusID     *uint32     `json:"status_id,omitempty"`
	StackCount   *uint32     `json:"stack_count,omitempty"`
	Operator     string      `json:"operator,omitempty"`
	Conditions   []Trigger   `json:"conditions,omitempty"`
	Expression   string      `json:"expression,omitempty"`
	MechanicName string      `json:"mechanic_name,omitempty"`
}

// DispatchID is the numeric identity the trigger is keyed under: the action id, NPC id or status id
// for event triggers, and 0 when the field is absent or the kind is not keyed.
func (t *Trigger) DispatchID() uint32 {
	var id *uint32
	switch t.Type {
	case TriggerAction:
		id = t.ActionID
	case TriggerCombatant:
		id = t.NpcID
	case TriggerStatus:
		id = t.StatusID
	case TriggerHPThreshold, TriggerExpression, TriggerMechanic, TriggerTimeout, TriggerLogical:
	}
	if id == nil {
		return 0
	}
	return *id
}

type ActionType string

const (
	ActionIncrementVariable ActionType = "INCREMENT_VARIABLE"
	ActionSetVariable       ActionType = "SET_VARIABLE"
)

type Action struct {
	Type  ActionType `json:"type"`
	Name  string     `json:"name"`
	Value Value      `json:"value,omitempty"`
}

type Variable struct {
	Name    string `json:"name"`
	Initial Value  `json:"initial"`
}

type Mechanic struct {
	Name    string   `json:"name"`
	NameEn  string   `json:"name_en,omitempty"`
	Trigger Trigger  `json:"trigger"`
	Actions []Action `json:"actions,omitempty"`
}

// Transition moves the encounter to TargetPhase once every condition holds. An empty condition list
// never fires.
type Transition struct {
	TargetPhase string    `json:"target_phase"`
	Conditions  []Trigger `json:"conditions"`
}

type Phase struct {
	Name        string       `json:"name"`
	TargetID    uint32       `json:"target_id"`
	Checkpoints []string     `json:"checkpoints"`
	Transitions []Transition `json:"transitions"`
}

type Timeline struct {
	StartPhase string  `json:"start_phase,omitempty"`
	Phases     []Phase `json:"phases"`
}

// Config is the timeline document of one zone.
type Config struct {
	ZoneID    uint32     `json:"zone_id"`
	Name      string     `json:"name"`
	NameEn    string     `json:"name_en,omitempty"`
	Code      string     `json:"code,omitempty"`
	PartySize uint32     `json:"party_size,omitempty"`
	Variables []Variable `json:"variables,omitempty"`
	Mechanics []Mechanic `json:"mechanics"`
	Timeline  Timeline   `json:"timeline"`
}

// Mechanic returns the mechanic with the given name.
func (c *Config) Mechanic(name string) (*Mechanic, bool) {
	for i := range c.Mechanics {
		if c.Mechanics[i].Name == name {
			return &c.Mechanics[i], true
		}
	}
	return nil, false
}

// PhaseIndex resolves a phase name to its position in the timeline.
func (c *Config) PhaseIndex(name string) (int, bool) {
	for i := range c.Timeline.Phases {
		if c.Timeline.Phases[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

// Decode parses a Config document.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, eris.Wrap(err, "failed to decode duty config")
	}
	return &cfg, nil
}

// Encode serializes a Config document.
func Encode(cfg *Config) ([]byte, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, eris.Wrap(err, "failed to encode duty config")
	}
	return data, nil
}
