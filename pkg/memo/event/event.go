// Package event defines the closed set of combat events the engine consumes.
//
// Every variant is an immutable value. Producers construct them and hand them to the engine; the
// engine's single consumer reads each one exactly once.
package event

import (
	"fmt"
	"time"
)

// Kind identifies an event variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindActionStart
	KindActionComplete
	KindCombatantSpawn
	KindCombatantDestroy
	KindCombatantTargetable
	KindStatusApplied
	KindStatusRemoved
	KindDeath
	KindZoneChanged
	KindDutyStarted
	KindDutyCompleted
	KindDutyWiped
	KindDutyRecommenced
	KindCombatEnter
	KindCombatExit
	KindHpUpdated
	KindPartyUpdated
	KindTick
)

var kindNames = [...]string{ //nolint:gochecknoglobals // lookup table
	KindUnknown:             "Unknown",
	KindActionStart:         "ActionStart",
	KindActionComplete:      "ActionComplete",
	KindCombatantSpawn:      "CombatantSpawn",
	KindCombatantDestroy:    "CombatantDestroy",
	KindCombatantTargetable: "CombatantTargetable",
	KindStatusApplied:       "StatusApplied",
	KindStatusRemoved:       "StatusRemoved",
	KindDeath:               "Death",
	KindZoneChanged:         "ZoneChanged",
	KindDutyStarted:         "DutyStarted",
	KindDutyCompleted:       "DutyCompleted",
	KindDutyWiped:           "DutyWiped",
	KindDutyRecommenced:     "DutyRecommenced",
	KindCombatEnter:         "CombatEnter",
	KindCombatExit:          "CombatExit",
	KindHpUpdated:           "HpUpdated",
	KindPartyUpdated:        "PartyUpdated",
	KindTick:                "Tick",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// Event is implemented only by the variants in this package.
type Event interface {
	Kind() Kind
	// String renders the event for the diagnostic log.
	String() string
	sealed()
}

type ActionStart struct {
	EntityID uint32
	ActionID uint32
}

type ActionComplete struct {
	EntityID uint32
	ActionID uint32
}

type CombatantSpawn struct {
	EntityID uint32
	DataID   uint32
}

type CombatantDestroy struct {
	EntityID uint32
	DataID   uint32
}

// CombatantTargetable reports a targetability flip in either direction.
type CombatantTargetable struct {
	EntityID   uint32
	DataID     uint32
	Targetable bool
}

type StatusApplied struct {
	EntityID   uint32
	DataID     uint32
	StatusID   uint32
	StackCount uint32
}

type StatusRemoved struct {
	EntityID uint32
	DataID   uint32
	StatusID uint32
}

type Death struct {
	EntityID uint32
}

type ZoneChanged struct {
	ZoneID uint32
}

type DutyStarted struct {
	ZoneID uint32
}

type DutyCompleted struct {
	ZoneID uint32
}

type DutyWiped struct {
	ZoneID uint32
}

// DutyRecommenced is raised when the party restarts the duty after a wipe.
type DutyRecommenced struct {
	ZoneID uint32
}

type CombatEnter struct{}

type CombatExit struct{}

// HpUpdated carries a sampled HP reading for one combatant.
type HpUpdated struct {
	EntityID  uint32
	DataID    uint32
	CurrentHP uint32
	MaxHP     uint32
}

type Member struct {
	EntityID uint32 `json:"entity_id"`
	Name     string `json:"name"`
	Server   string `json:"server"`
	JobID    uint32 `json:"job_id"`
	Level    uint32 `json:"level"`
}

// PartyUpdated replaces the known party roster. Members must not be modified after posting.
type PartyUpdated struct {
	Members []Member
}

// Tick is posted by the engine's poll timer. It is never recorded in the history.
type Tick struct {
	At time.Time
}

func (ActionStart) Kind() Kind         { return KindActionStart }
func (ActionComplete) Kind() Kind      { return KindActionComplete }
func (CombatantSpawn) Kind() Kind      { return KindCombatantSpawn }
func (CombatantDestroy) Kind() Kind    { return KindCombatantDestroy }
func (CombatantTargetable) Kind() Kind { return KindCombatantTargetable }
func (StatusApplied) Kind() Kind       { return KindStatusApplied }
func (StatusRemoved) Kind() Kind       { return KindStatusRemoved }
func (Death) Kind() Kind               { return KindDeath }
func (ZoneChanged) Kind() Kind         { return KindZoneChanged }
func (DutyStarted) Kind() Kind         { return KindDutyStarted }
func (DutyCompleted) Kind() Kind       { return KindDutyCompleted }
func (DutyWiped) Kind() Kind           { return KindDutyWiped }
func (DutyRecommenced) Kind() Kind     { return KindDutyRecommenced }
func (CombatEnter) Kind() Kind         { return KindCombatEnter }
func (CombatExit) Kind() Kind          { return KindCombatExit }
func (HpUpdated) Kind() Kind           { return KindHpUpdated }
func (PartyUpdated) Kind() Kind        { return KindPartyUpdated }
func (Tick) Kind() Kind                { return KindTick }

func (ActionStart) sealed()         {}
func (ActionComplete) sealed()      {}
func (CombatantSpawn) sealed()      {}
func (CombatantDestroy) sealed()    {}
func (CombatantTargetable) sealed() {}
func (StatusApplied) sealed()       {}
func (StatusRemoved) sealed()       {}
func (Death) sealed()               {}
func (ZoneChanged) sealed()         {}
func (DutyStarted) sealed()         {}
func (DutyCompleted) sealed()       {}
func (DutyWiped) sealed()           {}
func (DutyRecommenced) sealed()     {}
func (CombatEnter) sealed()         {}
func (CombatExit) sealed()          {}
func (HpUpdated) sealed()           {}
func (PartyUpdated) sealed()        {}
func (Tick) sealed()                {}

func (e ActionStart) String() string {
	return fmt.Sprintf("entity 0x%X started action %d", e.EntityID, e.ActionID)
}

func (e ActionComplete) String() string {
	return fmt.Sprintf("entity 0x%X completed action %d", e.EntityID, e.ActionID)
}

func (e CombatantSpawn) String() string {
	return fmt.Sprintf("npc %d spawned as entity 0x%X", e.DataID, e.EntityID)
}

func (e CombatantDestroy) String() string {
	return fmt.Sprintf("npc %d (entity 0x%X) destroyed", e.DataID, e.EntityID)
}

func (e CombatantTargetable) String() string {
	if e.Targetable {
		return fmt.Sprintf("npc %d (entity 0x%X) became targetable", e.DataID, e.EntityID)
	}
	return fmt.Sprintf("npc %d (entity 0x%X) became untargetable", e.DataID, e.EntityID)
}

func (e StatusApplied) String() string {
	return fmt.Sprintf("status %d applied to entity 0x%X (stacks %d)", e.StatusID, e.EntityID, e.StackCount)
}

func (e StatusRemoved) String() string {
	return fmt.Sprintf("status %d removed from entity 0x%X", e.StatusID, e.EntityID)
}

func (e Death) String() string { return fmt.Sprintf("entity 0x%X died", e.EntityID) }

func (e ZoneChanged) String() string { return fmt.Sprintf("zone changed to %d", e.ZoneID) }

func (e DutyStarted) String() string { return fmt.Sprintf("duty %d started", e.ZoneID) }

func (e DutyCompleted) String() string { return fmt.Sprintf("duty %d completed", e.ZoneID) }

func (e DutyWiped) String() string { return fmt.Sprintf("duty %d wiped", e.ZoneID) }

func (e DutyRecommenced) String() string { return fmt.Sprintf("duty %d recommenced", e.ZoneID) }

func (CombatEnter) String() string { return "combat started" }

func (CombatExit) String() string { return "combat ended" }

func (e HpUpdated) String() string {
	return fmt.Sprintf("npc %d (entity 0x%X) hp %d/%d", e.DataID, e.EntityID, e.CurrentHP, e.MaxHP)
}

func (e PartyUpdated) String() string { return fmt.Sprintf("party roster has %d members", len(e.Members)) }

func (e Tick) String() string { return "tick " + e.At.Format(time.RFC3339Nano) }
