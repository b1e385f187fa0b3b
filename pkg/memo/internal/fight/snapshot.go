package fight

import (
	"time"

	"github.com/open-xiv/memo-uploader/pkg/memo/record"
)

// snapshot freezes the attempt into a FightRecord. The duration runs from the start to the last
// combat exit, or to now when none was seen, and is floored at zero.
func (c *Context) snapshot(now time.Time) record.FightRecord {
	end := now
	if !c.lastCombatExit.IsZero() {
		end = c.lastCombatExit
	}
	duration := end.Sub(c.startTime)
	if duration < 0 {
		duration = 0
	}

	subphase := c.subphase
	if subphase < 0 {
		subphase = 0
	}

	return record.FightRecord{
		StartTime: c.startTime.UTC(),
		Duration:  duration,
		ZoneID:    c.cfg.ZoneID,
		Players:   c.roster(),
		Clear:     c.clear,
		Progress: record.Progress{
			Phase:    uint32(c.phase),  //nolint:gosec // phase index is bounded by the timeline
			Subphase: uint32(subphase), //nolint:gosec // non-negative after clamping
			EnemyID:  c.enemyID,
			EnemyHP:  c.enemyHP,
		},
	}
}

func (c *Context) roster() []record.Player {
	players := make([]record.Player, 0, len(c.playerOrder))
	for _, id := range c.playerOrder {
		players = append(players, *c.players[id])
	}
	return players
}

type Checkpoint struct {
	Name string `json:"name"`
	Done bool   `json:"done"`
}

// Status is a copy of the context state for display. It shares nothing with the context.
type Status struct {
	Lifecycle    string            `json:"lifecycle"`
	ZoneID       uint32            `json:"zone_id"`
	Duty         string            `json:"duty"`
	Code         string            `json:"code,omitempty"`
	Phase        int               `json:"phase"`
	PhaseName    string            `json:"phase_name,omitempty"`
	Subphase     int               `json:"subphase"`
	SubphaseName string            `json:"subphase_name,omitempty"`
	Checkpoints  []Checkpoint      `json:"checkpoints"`
	Completed    []string          `json:"completed"`
	Variables    map[string]string `json:"variables"`
	EnemyID      uint32            `json:"enemy_id"`
	EnemyHP      float64           `json:"enemy_hp"`
	Players      []record.Player   `json:"players"`
	Listeners    int               `json:"listeners"`
	StartTime    time.Time         `json:"start_time"`
}

func (c *Context) Status() Status {
	s := Status{
		Lifecycle: c.lifecycle.String(),
		ZoneID:    c.cfg.ZoneID,
		Duty:      c.cfg.Name,
		Code:      c.cfg.Code,
		Phase:     c.phase,
		Subphase:  c.subphase,
		Completed: c.Completed(),
		Variables: make(map[string]string, len(c.variables)),
		EnemyID:   c.enemyID,
		EnemyHP:   c.enemyHP,
		Players:   c.roster(),
		Listeners: c.registry.Count(),
		StartTime: c.startTime,
	}

	for name, v := range c.variables {
		s.Variables[name] = v.String()
	}

	if c.phase < len(c.cfg.Timeline.Phases) {
		phase := &c.cfg.Timeline.Phases[c.phase]
		s.PhaseName = phase.Name
		if c.subphase >= 0 && c.subphase < len(phase.Checkpoints) {
			s.SubphaseName = phase.Checkpoints[c.subphase]
		}
		s.Checkpoints = make([]Checkpoint, len(phase.Checkpoints))
		for i, name := range phase.Checkpoints {
			_, done := c.done[name]
			s.Checkpoints[i] = Checkpoint{Name: name, Done: done}
		}
	}
	return s
}
