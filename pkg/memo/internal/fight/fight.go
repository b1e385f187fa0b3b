// Package fight implements the per-attempt encounter state machine.
//
// A Context is driven by exactly one goroutine, the engine's consumer. Nothing in this package
// locks and nothing in it returns an error: malformed configuration degrades to "no match".
package fight

import (
	"time"

	"github.com/open-xiv/memo-uploader/pkg/assert"
	"github.com/open-xiv/memo-uploader/pkg/memo/duty"
	"github.com/open-xiv/memo-uploader/pkg/memo/event"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/expression"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/listener"
	"github.com/open-xiv/memo-uploader/pkg/memo/internal/statsd"
	"github.com/open-xiv/memo-uploader/pkg/memo/record"
	"github.com/rs/zerolog"
)

type Lifecycle uint8

const (
	Ready Lifecycle = iota
	InProgress
	Completed
)

func (l Lifecycle) String() string {
	switch l {
	case Ready:
		return "ready"
	case InProgress:
		return "in_progress"
	case Completed:
		return "completed"
	}
	return "unknown"
}

// Sink receives the fight record of a finished attempt. It runs on the consumer goroutine and must
// not block.
type Sink func(record.FightRecord)

type Options struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// Party returns the roster to snapshot on combat entry. Defaults to an empty roster.
	Party  func() []event.Member
	Sink   Sink
	Logger zerolog.Logger
}

type Context struct {
	cfg       *duty.Config
	mechanics map[string]*duty.Mechanic
	registry  *listener.Listener
	exprs     map[string]*expression.Comparison
	now       func() time.Time
	party     func() []event.Member
	sink      Sink
	log       zerolog.Logger

	lifecycle      Lifecycle
	startTime      time.Time
	lastCombatExit time.Time
	clear          bool

	phase          int
	subphase       int
	phaseEnteredAt time.Time
	// epoch increments on every phase entry so callers iterating registry results can tell the
	// registry was rebuilt under them.
	epoch     uint64
	completed []string
	done      map[string]struct{}

	enemyID uint32
	enemyHP float64

	players     map[uint32]*record.Player
	playerOrder []uint32
	variables   map[string]duty.Value
}

// New creates a Ready context for cfg. cfg must not be modified afterwards.
func New(cfg *duty.Config, opts Options) *Context {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Party == nil {
		opts.Party = func() []event.Member { return nil }
	}
	if opts.Sink == nil {
		opts.Sink = func(record.FightRecord) {}
	}

	mechanics := make(map[string]*duty.Mechanic, len(cfg.Mechanics))
	for i := range cfg.Mechanics {
		// First declaration wins on duplicate names.
		if _, ok := mechanics[cfg.Mechanics[i].Name]; !ok {
			mechanics[cfg.Mechanics[i].Name] = &cfg.Mechanics[i]
		}
	}

	return &Context{
		cfg:       cfg,
		mechanics: mechanics,
		registry:  listener.New(),
		exprs:     make(map[string]*expression.Comparison),
		now:       opts.Now,
		party:     opts.Party,
		sink:      opts.Sink,
		log:       opts.Logger,
		lifecycle: Ready,
		subphase:  -1,
		done:      make(map[string]struct{}),
		enemyHP:   1,
		players:   make(map[uint32]*record.Player),
		variables: make(map[string]duty.Value),
	}
}

func (c *Context) Config() *duty.Config { return c.cfg }

func (c *Context) Lifecycle() Lifecycle { return c.lifecycle }

func (c *Context) Phase() int { return c.phase }

// Subphase is the index of the furthest checkpoint reached in the current phase, or -1.
func (c *Context) Subphase() int { return c.subphase }

// Completed returns the checkpoint names recorded in the current phase, in first-seen order.
func (c *Context) Completed() []string {
	return append([]string(nil), c.completed...)
}

func (c *Context) Variable(name string) (duty.Value, bool) {
	v, ok := c.variables[name]
	return v, ok
}

func (c *Context) ListenerCount() int { return c.registry.Count() }

// ProcessEvent advances the state machine by one event.
func (c *Context) ProcessEvent(e event.Event) {
	if c.lifecycle == Completed {
		return
	}

	switch e.(type) {
	case event.CombatEnter:
		if c.lifecycle == Ready {
			c.start()
		}
		return
	case event.CombatExit:
		if c.lifecycle == InProgress {
			c.lastCombatExit = c.now()
		}
		return
	case event.DutyWiped:
		c.complete(false)
		return
	case event.DutyCompleted:
		c.complete(true)
		return
	}

	if c.lifecycle == InProgress {
		c.track(e)
	}
}

// Finalize completes an in-progress attempt as a wipe. It does nothing in any other state.
func (c *Context) Finalize() {
	if c.lifecycle == InProgress {
		c.complete(false)
	}
}

func (c *Context) start() {
	now := c.now()
	c.lifecycle = InProgress
	c.startTime = now
	c.lastCombatExit = time.Time{}

	c.variables = make(map[string]duty.Value, len(c.cfg.Variables))
	for _, v := range c.cfg.Variables {
		c.variables[v.Name] = v.Initial
	}

	c.players = make(map[uint32]*record.Player)
	c.playerOrder = c.playerOrder[:0]
	for _, m := range c.party() {
		if _, ok := c.players[m.EntityID]; ok {
			continue
		}
		c.players[m.EntityID] = &record.Player{
			Name:   m.Name,
			Server: m.Server,
			JobID:  m.JobID,
			Level:  m.Level,
		}
		c.playerOrder = append(c.playerOrder, m.EntityID)
	}

	c.log.Info().
		Uint32("zone", c.cfg.ZoneID).
		Int("players", len(c.playerOrder)).
		Msg("encounter started")

	if len(c.cfg.Timeline.Phases) == 0 {
		c.log.Warn().Uint32("zone", c.cfg.ZoneID).Msg("duty config has no phases, tracking lifecycle only")
		return
	}
	// An unset or unknown start_phase enters phase 0.
	start, ok := c.cfg.PhaseIndex(c.cfg.Timeline.StartPhase)
	if !ok {
		start = 0
	}
	c.enterPhase(start)
}

func (c *Context) complete(clear bool) {
	now := c.now()
	if c.lifecycle == Ready {
		c.startTime = now
	}
	c.lifecycle = Completed
	c.clear = clear
	c.registry.Clear()

	rec := c.snapshot(now)
	c.log.Info().
		Uint32("zone", rec.ZoneID).
		Bool("clear", rec.Clear).
		Uint32("phase", rec.Progress.Phase).
		Uint32("subphase", rec.Progress.Subphase).
		Dur("duration", rec.Duration).
		Msg("encounter completed")
	statsd.EmitRecord(rec.ZoneID, rec.Clear)
	c.sink(rec)
}

func (c *Context) track(e event.Event) {
	switch e := e.(type) {
	case event.Death:
		if p, ok := c.players[e.EntityID]; ok {
			p.DeathCount++
		}
	case event.HpUpdated:
		if e.DataID == c.enemyID && e.MaxHP > 0 {
			c.enemyHP = float64(e.CurrentHP) / float64(e.MaxHP)
		}
	}

	if len(c.cfg.Timeline.Phases) == 0 {
		return
	}

	epoch := c.epoch
	for _, entry := range c.registry.FetchMatches(e) {
		if entry.Mechanic == nil || !matchesEvent(entry.Trigger, e) {
			continue
		}
		c.emit(entry.Mechanic, e)
		if c.epoch != epoch || c.lifecycle != InProgress {
			return
		}
	}

	c.pollStateful(e)
	if c.epoch != epoch {
		return
	}
	c.evaluateTransitions(e)
}

// pollStateful emits every mechanic whose stateful trigger currently holds. Each such mechanic
// fires at most once per phase.
func (c *Context) pollStateful(e event.Event) {
	epoch := c.epoch
	for _, entry := range c.registry.FetchStateful() {
		m := entry.Mechanic
		if m == nil {
			continue
		}
		if _, fired := c.done[m.Name]; fired {
			continue
		}
		if !c.check(entry.Trigger, e) {
			continue
		}
		c.emit(m, e)
		if c.epoch != epoch {
			return
		}
	}
}

func (c *Context) emit(m *duty.Mechanic, e event.Event) {
	if _, ok := c.done[m.Name]; !ok {
		c.done[m.Name] = struct{}{}
		c.completed = append(c.completed, m.Name)
	}

	phase := &c.cfg.Timeline.Phases[c.phase]
	for i, name := range phase.Checkpoints {
		if name == m.Name {
			if i >= c.subphase {
				c.subphase = i
			}
			break
		}
	}

	for _, action := range m.Actions {
		c.apply(action)
	}

	c.log.Debug().
		Str("mechanic", m.Name).
		Str("phase", phase.Name).
		Int("subphase", c.subphase).
		Msg("mechanic emitted")
	statsd.EmitMechanic(m.Name)

	c.evaluateTransitions(e)
}

func (c *Context) apply(action duty.Action) {
	switch action.Type {
	case duty.ActionSetVariable:
		c.variables[action.Name] = action.Value
	case duty.ActionIncrementVariable:
		if next, ok := c.variables[action.Name].Increment(); ok {
			c.variables[action.Name] = next
		}
	default:
		c.log.Debug().Str("action", string(action.Type)).Msg("ignoring unknown action type")
	}
}

// evaluateTransitions fires the first transition of the current phase whose conditions all hold.
// e is the event being processed; event-kind conditions hold only when e matches them.
func (c *Context) evaluateTransitions(e event.Event) {
	phase := &c.cfg.Timeline.Phases[c.phase]
	for i := range phase.Transitions {
		tr := &phase.Transitions[i]
		if !c.holds(tr, e) {
			continue
		}

		target, ok := c.cfg.PhaseIndex(tr.TargetPhase)
		if !ok {
			c.log.Debug().
				Str("phase", phase.Name).
				Str("target", tr.TargetPhase).
				Msg("transition target not found")
			return
		}
		c.log.Info().Str("from", phase.Name).Str("to", tr.TargetPhase).Msg("phase transition")
		statsd.EmitPhaseTransition(phase.Name, tr.TargetPhase)
		c.enterPhase(target)
		return
	}
}

func (c *Context) holds(tr *duty.Transition, e event.Event) bool {
	if len(tr.Conditions) == 0 {
		return false
	}
	for i := range tr.Conditions {
		if !c.check(&tr.Conditions[i], e) {
			return false
		}
	}
	return true
}

func (c *Context) enterPhase(idx int) {
	assert.That(idx >= 0 && idx < len(c.cfg.Timeline.Phases), "phase index %d out of range", idx)

	phase := &c.cfg.Timeline.Phases[idx]
	c.phase = idx
	c.subphase = -1
	c.epoch++
	c.phaseEnteredAt = c.now()
	c.completed = nil
	c.done = make(map[string]struct{})
	c.registry.Clear()

	for _, name := range relevantMechanics(phase) {
		m, ok := c.mechanics[name]
		if !ok {
			continue
		}
		c.registry.Register(&m.Trigger, m)
	}

	if c.enemyID != phase.TargetID {
		c.enemyHP = 1
	}
	c.enemyID = phase.TargetID
}

// relevantMechanics lists the phase's checkpoints followed by every mechanic its transitions wait
// on, without duplicates.
func relevantMechanics(phase *duty.Phase) []string {
	seen := make(map[string]struct{})
	var names []string
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for _, name := range phase.Checkpoints {
		add(name)
	}

	var walk func(t *duty.Trigger)
	walk = func(t *duty.Trigger) {
		switch t.Type {
		case duty.TriggerMechanic:
			add(t.MechanicName)
		case duty.TriggerLogical:
			for i := range t.Conditions {
				walk(&t.Conditions[i])
			}
		case duty.TriggerAction, duty.TriggerCombatant, duty.TriggerStatus, duty.TriggerHPThreshold,
			duty.TriggerExpression, duty.TriggerTimeout:
		}
	}
	for i := range phase.Transitions {
		for j := range phase.Transitions[i].Conditions {
			walk(&phase.Transitions[i].Conditions[j])
		}
	}
	return names
}
