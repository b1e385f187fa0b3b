package memo

import (
	"fmt"

	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/expression"
)

// Problem is a structural issue in a duty document. The engine tolerates all of them; they only
// mean part of the timeline can never progress.
type Problem struct {
	// Where names the offending element, e.g. `phase "P1" transition 0`.
	Where   string `json:"where"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return p.Where + ": " + p.Message
}

// Lint reports structural problems in cfg, in document order.
func Lint(cfg *duty.Config) []Problem {
	var problems []Problem
	report := func(where, format string, args ...any) {
		problems = append(problems, Problem{Where: where, Message: fmt.Sprintf(format, args...)})
	}

	if len(cfg.Timeline.Phases) == 0 {
		report("timeline", "no phases")
	}
	if cfg.Timeline.StartPhase != "" {
		if _, ok := cfg.PhaseIndex(cfg.Timeline.StartPhase); !ok {
			report("timeline", "start phase %q does not exist, phase 0 is used", cfg.Timeline.StartPhase)
		}
	}

	mechanics := make(map[string]struct{}, len(cfg.Mechanics))
	for i := range cfg.Mechanics {
		m := &cfg.Mechanics[i]
		where := fmt.Sprintf("mechanic %q", m.Name)
		if _, dup := mechanics[m.Name]; dup {
			report(where, "declared more than once, the first declaration wins")
			continue
		}
		mechanics[m.Name] = struct{}{}
		lintTrigger(&m.Trigger, where+" trigger", report)
		for j, a := range m.Actions {
			if a.Type != duty.ActionSetVariable && a.Type != duty.ActionIncrementVariable {
				report(fmt.Sprintf("%s action %d", where, j), "unknown action type %q", a.Type)
			}
		}
	}

	seenPhases := make(map[string]struct{}, len(cfg.Timeline.Phases))
	for _, phase := range cfg.Timeline.Phases {
		where := fmt.Sprintf("phase %q", phase.Name)
		if _, dup := seenPhases[phase.Name]; dup {
			report(where, "declared more than once, transitions resolve to the first")
		}
		seenPhases[phase.Name] = struct{}{}

		for _, name := range phase.Checkpoints {
			if _, ok := mechanics[name]; !ok {
				report(where, "checkpoint %q has no mechanic", name)
			}
		}

		for i := range phase.Transitions {
			tr := &phase.Transitions[i]
			trWhere := fmt.Sprintf("%s transition %d", where, i)
			if _, ok := cfg.PhaseIndex(tr.TargetPhase); !ok {
				report(trWhere, "target phase %q does not exist", tr.TargetPhase)
			}
			if len(tr.Conditions) == 0 {
				report(trWhere, "no conditions, it never fires")
			}
			for j := range tr.Conditions {
				c := &tr.Conditions[j]
				cWhere := fmt.Sprintf("%s condition %d", trWhere, j)
				lintTrigger(c, cWhere, report)
				lintMechanicRefs(c, cWhere, mechanics, report)
			}
		}
	}
	return problems
}

func lintTrigger(t *duty.Trigger, where string, report func(where, format string, args ...any)) {
	switch t.Type {
	case duty.TriggerAction:
		if t.ActionID == nil {
			report(where, "action trigger without action_id never matches")
		}
	case duty.TriggerCombatant:
		if t.NpcID == nil {
			report(where, "combatant trigger without npc_id never matches")
		}
	case duty.TriggerStatus:
		if t.StatusID == nil {
			report(where, "status trigger without status_id never matches")
		}
	case duty.TriggerHPThreshold, duty.TriggerTimeout:
		if t.Value == nil {
			report(where, "%s trigger without value never holds", t.Type)
		}
	case duty.TriggerExpression:
		if _, err := expression.Parse(t.Expression); err != nil {
			report(where, "malformed expression %q", t.Expression)
		}
	case duty.TriggerMechanic:
		if t.MechanicName == "" {
			report(where, "mechanic trigger without mechanic_name never holds")
		}
	case duty.TriggerLogical:
		if len(t.Conditions) == 0 {
			report(where, "logical operator without conditions never matches")
		}
		for i := range t.Conditions {
			lintTrigger(&t.Conditions[i], fmt.Sprintf("%s child %d", where, i), report)
		}
	default:
		report(where, "unknown trigger type %q", t.Type)
	}
}

func lintMechanicRefs(
	t *duty.Trigger,
	where string,
	mechanics map[string]struct{},
	report func(where, format string, args ...any),
) {
	switch t.Type {
	case duty.TriggerMechanic:
		if _, ok := mechanics[t.MechanicName]; t.MechanicName != "" && !ok {
			report(where, "mechanic %q does not exist", t.MechanicName)
		}
	case duty.TriggerLogical:
		for i := range t.Conditions {
			lintMechanicRefs(&t.Conditions[i], fmt.Sprintf("%s child %d", where, i), mechanics, report)
		}
	case duty.TriggerAction, duty.TriggerCombatant, duty.TriggerStatus, duty.TriggerHPThreshold,
		duty.TriggerExpression, duty.TriggerTimeout:
	}
}
