package lesson

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// DefaultBreakResume is how long the machine stays in break before
// returning to explain on its own.
const DefaultBreakResume = 60 * time.Second

// MachineConfig holds timing configuration for the lesson machine.
type MachineConfig struct {
	// BreakResume is the delay after entering break before the automatic
	// START fires. Zero disables the auto-resume.
	BreakResume time.Duration
}

// DefaultMachineConfig returns production defaults.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{BreakResume: DefaultBreakResume}
}

// Transition is the result of applying one event.
type Transition struct {
	From    State
	To      State
	Event   Event
	Variant Variant
	// Changed is false when the event has no entry for From.
	Changed bool
	// Auto marks transitions fired by the break timer.
	Auto bool
	// Seq increases by one for every state change.
	Seq uint64
	At  time.Time
}

// Observer is notified of every state change, outside the machine's lock.
type Observer func(Transition)

// Machine owns the canonical lesson state. Apply is the only writer.
type Machine struct {
	mu sync.Mutex

	config MachineConfig
	clock  clock.Clock
	log    zerolog.Logger

	state   State
	variant Variant
	seq     uint64
	stopped bool

	// breakGen is captured by the break timer; a mismatch means the
	// timer was superseded.
	breakGen   uint64
	breakTimer *clock.Timer

	observers []Observer
}

// NewMachine creates a machine in intro with the normal variant.
func NewMachine(cfg MachineConfig, clk clock.Clock, log zerolog.Logger) *Machine {
	if clk == nil {
		clk = clock.New()
	}
	return &Machine{
		config:  cfg,
		clock:   clk,
		log:     log.With().Str("component", "lesson").Logger(),
		state:   StateIntro,
		variant: VariantNormal,
	}
}

// Observe registers fn for every future state change.
func (m *Machine) Observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Variant returns the active content variant.
func (m *Machine) Variant() Variant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.variant
}

// Snapshot returns state, variant and sequence read under one lock.
func (m *Machine) Snapshot() (State, Variant, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.variant, m.seq
}

// Apply feeds ev through the transition table. Events without an entry for
// the current state return a Transition with Changed == false.
func (m *Machine) Apply(ev Event) Transition {
	m.mu.Lock()
	tr := m.applyLocked(ev, false)
	observers := m.observersFor(tr)
	m.mu.Unlock()

	notify(observers, tr)
	return tr
}

func (m *Machine) applyLocked(ev Event, auto bool) Transition {
	at := ev.At()
	if at.IsZero() {
		at = m.clock.Now()
	}
	tr := Transition{
		From:    m.state,
		To:      m.state,
		Event:   ev,
		Variant: m.variant,
		Auto:    auto,
		Seq:     m.seq,
		At:      at,
	}
	if m.stopped {
		return tr
	}

	next := Next(m.state, ev.Kind())
	if next == m.state {
		m.log.Debug().Str("state", string(m.state)).Str("event", string(ev.Kind())).Msg("event ignored")
		return tr
	}

	if m.state == StateBreak {
		m.cancelBreakLocked()
	}
	m.state = next
	m.variant = VariantFor(next, m.variant)
	m.seq++
	if next == StateBreak {
		m.armBreakLocked()
	}

	tr.To = next
	tr.Variant = m.variant
	tr.Changed = true
	tr.Seq = m.seq

	m.log.Info().
		Str("from", string(tr.From)).
		Str("to", string(tr.To)).
		Str("event", string(ev.Kind())).
		Str("variant", string(tr.Variant)).
		Bool("auto", auto).
		Msg("lesson transition")
	return tr
}

func (m *Machine) observersFor(tr Transition) []Observer {
	if !tr.Changed || len(m.observers) == 0 {
		return nil
	}
	out := make([]Observer, len(m.observers))
	copy(out, m.observers)
	return out
}

func notify(observers []Observer, tr Transition) {
	for _, fn := range observers {
		fn(tr)
	}
}

// armBreakLocked starts the auto-resume timer for the current break.
func (m *Machine) armBreakLocked() {
	if m.config.BreakResume <= 0 {
		return
	}
	m.breakGen++
	gen := m.breakGen
	m.breakTimer = m.clock.AfterFunc(m.config.BreakResume, func() {
		m.resumeFromBreak(gen)
	})
}

func (m *Machine) cancelBreakLocked() {
	m.breakGen++
	if m.breakTimer != nil {
		m.breakTimer.Stop()
		m.breakTimer = nil
	}
}

func (m *Machine) resumeFromBreak(gen uint64) {
	m.mu.Lock()
	if gen != m.breakGen || m.state != StateBreak || m.stopped {
		m.mu.Unlock()
		return
	}
	m.breakTimer = nil
	tr := m.applyLocked(Start{Time: m.clock.Now()}, true)
	observers := m.observersFor(tr)
	m.mu.Unlock()

	notify(observers, tr)
}

// Reset returns the machine to intro with the normal variant and cancels
// any pending break timer. Observers are not notified.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelBreakLocked()
	m.state = StateIntro
	m.variant = VariantNormal
	m.seq++
	m.stopped = false
}

// Stop cancels pending timers. Later events are ignored until Reset.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cancelBreakLocked()
	m.stopped = true
}
