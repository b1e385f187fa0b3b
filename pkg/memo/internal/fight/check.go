package fight

import (
	"math"
	"time"

	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/event"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/expression"
)

// check reports whether t currently holds. Event-kind triggers hold only when e matches them.
func (c *Context) check(t *duty.Trigger, e event.Event) bool {
	switch t.Type {
	case duty.TriggerHPThreshold:
		return t.Value != nil && c.enemyHP <= *t.Value
	case duty.TriggerMechanic:
		_, ok := c.done[t.MechanicName]
		return ok
	case duty.TriggerExpression:
		cmp := c.compile(t.Expression)
		return cmp != nil && cmp.Eval(c.Variable)
	case duty.TriggerTimeout:
		if t.Value == nil {
			return false
		}
		limit, ok := timeoutLimit(*t.Value)
		return ok && c.now().Sub(c.phaseEnteredAt) >= limit
	case duty.TriggerLogical:
		for i := range t.Conditions {
			if c.check(&t.Conditions[i], e) {
				return true
			}
		}
		return false
	case duty.TriggerAction, duty.TriggerCombatant, duty.TriggerStatus:
		return e != nil && matchesEvent(t, e)
	}
	return false
}

// compile caches parsed expressions, including failures as nil.
func (c *Context) compile(expr string) *expression.Comparison {
	if cmp, ok := c.exprs[expr]; ok {
		return cmp
	}
	cmp, err := expression.Parse(expr)
	if err != nil {
		c.log.Debug().Err(err).Str("expression", expr).Msg("malformed expression evaluates to false")
		cmp = nil
	}
	c.exprs[expr] = cmp
	return cmp
}

// matchesEvent re-validates a keyed registry hit against the concrete event.
func matchesEvent(t *duty.Trigger, e event.Event) bool {
	switch e := e.(type) {
	case event.ActionStart:
		return t.Type == duty.TriggerAction && idIs(t.ActionID, e.ActionID) &&
			accepts(t.Status, duty.ActionStatusStart)
	case event.ActionComplete:
		return t.Type == duty.TriggerAction && idIs(t.ActionID, e.ActionID) &&
			accepts(t.Status, duty.ActionStatusComplete)
	case event.CombatantSpawn:
		return t.Type == duty.TriggerCombatant && idIs(t.NpcID, e.DataID) &&
			accepts(t.Condition, duty.CombatantSpawn)
	case event.CombatantDestroy:
		return t.Type == duty.TriggerCombatant && idIs(t.NpcID, e.DataID) &&
			accepts(t.Condition, duty.CombatantDestroy)
	case event.CombatantTargetable:
		want := duty.CombatantUntargetable
		if e.Targetable {
			want = duty.CombatantTargetable
		}
		return t.Type == duty.TriggerCombatant && idIs(t.NpcID, e.DataID) && accepts(t.Condition, want)
	case event.StatusApplied:
		return t.Type == duty.TriggerStatus && idIs(t.StatusID, e.StatusID) &&
			accepts(t.Condition, duty.StatusApplied) &&
			(t.NpcID == nil || *t.NpcID == e.DataID) &&
			(t.StackCount == nil || *t.StackCount == e.StackCount)
	case event.StatusRemoved:
		return t.Type == duty.TriggerStatus && idIs(t.StatusID, e.StatusID) &&
			accepts(t.Condition, duty.StatusRemoved) &&
			(t.NpcID == nil || *t.NpcID == e.DataID)
	default:
		return false
	}
}

func idIs(want *uint32, got uint32) bool {
	return want != nil && *want == got
}

// accepts treats an empty field as a wildcard.
func accepts(field, want string) bool {
	return field == "" || field == want
}

// maxTimeoutSeconds is the longest TIMEOUT that fits in a time.Duration.
const maxTimeoutSeconds = float64(math.MaxInt64 / int64(time.Second))

// timeoutLimit converts a TIMEOUT value in seconds. Values too large for a Duration, and NaN, never
// elapse.
func timeoutLimit(seconds float64) (time.Duration, bool) {
	if math.IsNaN(seconds) || seconds >= maxTimeoutSeconds {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
