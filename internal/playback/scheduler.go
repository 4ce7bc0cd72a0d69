package playback

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexlearn/internal/bus"
	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/metrics"
)

// Phase is the scheduler's position in a segment's lifecycle.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhasePlaying  Phase = "playing"
	PhaseFallback Phase = "fallback"
	PhaseSettling Phase = "settling"
	PhasePaused   Phase = "paused"
	PhaseFinished Phase = "finished"
)

// Config holds playback timing.
type Config struct {
	// FallbackWordInterval paces the reveal when no audio is available.
	FallbackWordInterval time.Duration `mapstructure:"fallback_word_interval" yaml:"fallback_word_interval"`
	// SettleDelay follows a fallback reveal before advancing.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// RevealTick is how often reveal progress is sampled and published.
	RevealTick time.Duration `mapstructure:"reveal_tick" yaml:"reveal_tick"`
	// Prefetch enables background synthesis of the next segment.
	Prefetch bool `mapstructure:"prefetch" yaml:"prefetch"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FallbackWordInterval: 150 * time.Millisecond,
		SettleDelay:          time.Second,
		RevealTick:           50 * time.Millisecond,
		Prefetch:             true,
	}
}

// View is what the presentation layer shows for the active segment.
type View struct {
	Segment   int            `json:"segment"`
	SegmentID string         `json:"segmentId"`
	Segments  int            `json:"segments"`
	Variant   lesson.Variant `json:"variant"`
	Phase     Phase          `json:"phase"`
	Words     int            `json:"words"`
	Revealed  int            `json:"revealed"`
	Text      string         `json:"text"`
	Code      string         `json:"code,omitempty"`
	Emphasis  []string       `json:"emphasis,omitempty"`
	// Fallback is true when the segment is shown without audio.
	Fallback bool          `json:"fallback"`
	Position time.Duration `json:"position"`
	Audio    *AudioHandle  `json:"-"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithBus publishes playback events on b tagged with sessionID.
func WithBus(b *bus.EventBus, sessionID string) Option {
	return func(s *Scheduler) {
		s.bus = b
		s.sessionID = sessionID
	}
}

type effects []func()

func (e *effects) add(fn func()) { *e = append(*e, fn) }

func (e effects) run() {
	for _, fn := range e {
		fn()
	}
}

// Scheduler plays a lesson's segments in order. gen identifies the active
// segment attempt: async results and timers carrying an older gen are
// discarded. tick identifies the active timer set within an attempt.
type Scheduler struct {
	mu sync.Mutex

	config  Config
	lesson  *lesson.Lesson
	session *Session
	player  Player
	clock   clock.Clock
	log     zerolog.Logger

	bus       *bus.EventBus
	sessionID string

	gen     uint64
	tick    uint64
	segment int
	variant lesson.Variant
	phase   Phase
	// resumeTo is the phase to return to from PhasePaused.
	resumeTo Phase

	content  lesson.SegmentContent
	words    []string
	revealed int
	handle   *AudioHandle
	perWord  time.Duration

	// Fallback and settle progress, paused-aware.
	runStart   time.Time
	runOffset  time.Duration
	timer      *clock.Timer
	cancelWait context.CancelFunc

	onComplete func()
}

// NewScheduler creates an idle scheduler positioned at segment 0.
func NewScheduler(cfg Config, l *lesson.Lesson, session *Session, player Player, clk clock.Clock, log zerolog.Logger, opts ...Option) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	defaults := DefaultConfig()
	if cfg.FallbackWordInterval <= 0 {
		cfg.FallbackWordInterval = defaults.FallbackWordInterval
	}
	if cfg.RevealTick <= 0 {
		cfg.RevealTick = defaults.RevealTick
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	s := &Scheduler{
		config:  cfg,
		lesson:  l,
		session: session,
		player:  player,
		clock:   clk,
		log:     log.With().Str("component", "playback").Str("lesson", l.ID).Logger(),
		variant: lesson.VariantNormal,
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnComplete registers fn for when the last segment finishes.
func (s *Scheduler) OnComplete(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// Play starts segment index with variant v, abandoning any current work.
func (s *Scheduler) Play(index int, v lesson.Variant) {
	var fx effects
	s.mu.Lock()
	s.beginLocked(index, v, &fx)
	s.mu.Unlock()
	fx.run()
}

// Present makes sure the current segment is presented with variant v:
// it starts playback when idle, resumes a pause, and restarts the segment
// when the variant differs. A finished scheduler stays finished.
func (s *Scheduler) Present(v lesson.Variant) {
	var fx effects
	s.mu.Lock()
	switch {
	case s.phase == PhaseFinished:
	case s.phase == PhaseIdle || v != s.variant:
		s.beginLocked(s.segment, v, &fx)
	case s.phase == PhasePaused:
		s.resumeLocked(&fx)
	}
	s.mu.Unlock()
	fx.run()
}

// SetVariant restarts the current segment with v. It reports false when v
// is already active or nothing is playing.
func (s *Scheduler) SetVariant(v lesson.Variant) bool {
	var fx effects
	s.mu.Lock()
	if v == s.variant || s.phase == PhaseIdle || s.phase == PhaseFinished {
		s.variant = v
		s.mu.Unlock()
		return false
	}
	s.beginLocked(s.segment, v, &fx)
	s.mu.Unlock()
	fx.run()
	return true
}

// Pause halts audio and reveal, keeping cached audio and progress.
func (s *Scheduler) Pause() bool {
	var fx effects
	s.mu.Lock()
	switch s.phase {
	case PhaseFetching, PhasePlaying, PhaseFallback, PhaseSettling:
	default:
		s.mu.Unlock()
		return false
	}
	s.resumeTo = s.phase
	switch s.phase {
	case PhasePlaying:
		s.player.Pause()
	case PhaseFallback, PhaseSettling:
		s.runOffset += s.clock.Since(s.runStart)
	}
	s.stopTimersLocked()
	s.phase = PhasePaused
	s.publishLocked(&fx, bus.EventTypePaused, map[string]any{"segment": s.segment})
	s.log.Debug().Int("segment", s.segment).Str("from", string(s.resumeTo)).Msg("playback paused")
	s.mu.Unlock()
	fx.run()
	return true
}

// Resume continues from where Pause stopped.
func (s *Scheduler) Resume() bool {
	var fx effects
	s.mu.Lock()
	ok := s.resumeLocked(&fx)
	s.mu.Unlock()
	fx.run()
	return ok
}

func (s *Scheduler) resumeLocked(fx *effects) bool {
	if s.phase != PhasePaused {
		return false
	}
	s.phase = s.resumeTo
	switch s.phase {
	case PhasePlaying:
		s.player.Play()
		s.scheduleTickLocked()
	case PhaseFallback:
		s.runStart = s.clock.Now()
		s.armFallbackLocked()
		s.scheduleTickLocked()
	case PhaseSettling:
		s.runStart = s.clock.Now()
		s.armSettleLocked()
	}
	s.publishLocked(fx, bus.EventTypeResumed, map[string]any{"segment": s.segment})
	return true
}

// Skip abandons the current segment and advances as if it had finished.
// Skipping the last segment completes the lesson.
func (s *Scheduler) Skip() bool {
	var fx effects
	s.mu.Lock()
	if s.phase == PhaseIdle || s.phase == PhaseFinished {
		s.mu.Unlock()
		return false
	}
	s.log.Debug().Int("segment", s.segment).Msg("segment skipped")
	s.advanceLocked(&fx)
	s.mu.Unlock()
	fx.run()
	return true
}

// Repeat restarts the current segment from its first word.
func (s *Scheduler) Repeat() bool {
	var fx effects
	s.mu.Lock()
	if s.phase == PhaseFinished {
		s.mu.Unlock()
		return false
	}
	s.beginLocked(s.segment, s.variant, &fx)
	s.mu.Unlock()
	fx.run()
	return true
}

// Halt stops playback and forgets progress in the current segment. The
// segment index is kept so Present restarts it.
func (s *Scheduler) Halt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseFinished {
		return
	}
	s.abandonLocked()
	s.phase = PhaseIdle
}

// Reset returns to segment 0 with the normal variant, idle.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandonLocked()
	s.segment = 0
	s.variant = lesson.VariantNormal
	s.content = lesson.SegmentContent{}
	s.words = nil
	s.phase = PhaseIdle
}

// Close stops everything. Results still in flight are discarded.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandonLocked()
	s.phase = PhaseFinished
	s.onComplete = nil
}

// View returns the current presentation. Revealed is derived from the
// playback position at call time.
func (s *Scheduler) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	revealed := s.currentRevealLocked()
	v := View{
		Segment:  s.segment,
		Segments: len(s.lesson.Segments),
		Variant:  s.variant,
		Phase:    s.phase,
		Words:    len(s.words),
		Revealed: revealed,
		Text:     strings.Join(s.words[:revealed], " "),
		Code:     s.content.Code,
		Emphasis: s.content.Emphasis,
		Fallback: s.effectivePhaseLocked() == PhaseFallback || s.effectivePhaseLocked() == PhaseSettling,
		Audio:    s.handle,
	}
	if s.segment < len(s.lesson.Segments) {
		v.SegmentID = s.lesson.Segments[s.segment].ID
	}
	if s.handle != nil {
		v.Position = s.player.Position()
	}
	return v
}

func (s *Scheduler) key(index int, v lesson.Variant) Key {
	return Key{LessonID: s.lesson.ID, Segment: index, Variant: v}
}

// abandonLocked invalidates the current attempt.
func (s *Scheduler) abandonLocked() {
	s.gen++
	s.stopTimersLocked()
	if s.cancelWait != nil {
		s.cancelWait()
		s.cancelWait = nil
	}
	s.player.Stop()
	s.handle = nil
	s.revealed = 0
	s.runOffset = 0
}

func (s *Scheduler) stopTimersLocked() {
	s.tick++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) beginLocked(index int, v lesson.Variant, fx *effects) {
	s.abandonLocked()
	s.variant = v
	if index >= len(s.lesson.Segments) {
		s.finishLocked(fx)
		return
	}

	s.segment = index
	s.content = s.lesson.Segments[index].Content(v)
	s.words = s.content.Words()
	s.phase = PhaseFetching

	gen := s.gen
	key := s.key(index, v)
	content := s.content
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelWait = cancel

	s.log.Debug().Str("key", key.String()).Int("words", len(s.words)).Msg("segment started")
	s.publishLocked(fx, bus.EventTypeSegmentStarted, map[string]any{
		"segment": index,
		"variant": string(v),
		"words":   len(s.words),
	})

	fx.add(func() {
		go func() {
			h, err := s.session.Acquire(ctx, key, content)
			s.fetched(gen, h, err)
		}()
	})
}

func (s *Scheduler) fetched(gen uint64, h *AudioHandle, err error) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		metrics.StaleResults.Inc()
		s.log.Debug().Uint64("gen", gen).Msg("stale synthesis result discarded")
		return
	}
	s.cancelWait = nil

	paused := s.phase == PhasePaused
	if err != nil {
		s.log.Warn().Err(err).Int("segment", s.segment).Msg("synthesis failed, revealing without audio")
		metrics.Fallbacks.Inc()
		s.publishLocked(&fx, bus.EventTypeFallback, map[string]any{"segment": s.segment, "error": err.Error()})
		s.runStart = s.clock.Now()
		s.runOffset = 0
		if paused {
			s.resumeTo = PhaseFallback
		} else {
			s.phase = PhaseFallback
			s.armFallbackLocked()
			s.scheduleTickLocked()
		}
	} else {
		s.handle = h
		s.perWord = h.Duration
		if n := len(s.words); n > 0 {
			s.perWord = h.Duration / time.Duration(n)
		}
		s.player.Load(h, func() { s.audioEnded(gen) })
		if paused {
			s.resumeTo = PhasePlaying
		} else {
			s.phase = PhasePlaying
			s.player.Play()
			s.scheduleTickLocked()
		}
		s.prefetchNextLocked(&fx)
	}
	s.mu.Unlock()
	fx.run()
}

func (s *Scheduler) prefetchNextLocked(fx *effects) {
	if !s.config.Prefetch {
		return
	}
	next := s.segment + 1
	if next >= len(s.lesson.Segments) {
		return
	}
	key := s.key(next, lesson.VariantNormal)
	content := s.lesson.Segments[next].Normal
	fx.add(func() { s.session.Prefetch(key, content) })
}

func (s *Scheduler) audioEnded(gen uint64) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen || s.phase != PhasePlaying {
		s.mu.Unlock()
		return
	}
	s.setRevealedLocked(len(s.words), &fx)
	s.advanceLocked(&fx)
	s.mu.Unlock()
	fx.run()
}

// currentRevealLocked derives the number of visible words from the
// playback position, or from elapsed fallback time.
func (s *Scheduler) currentRevealLocked() int {
	n := len(s.words)
	phase := s.effectivePhaseLocked()

	var count int
	switch phase {
	case PhasePlaying:
		if s.handle == nil || s.perWord <= 0 {
			return s.revealed
		}
		count = int(s.player.Position() / s.perWord)
	case PhaseFallback:
		elapsed := s.runOffset
		if s.phase == PhaseFallback {
			elapsed += s.clock.Since(s.runStart)
		}
		count = int(elapsed / s.config.FallbackWordInterval)
	case PhaseSettling:
		count = n
	default:
		return s.revealed
	}
	if count > n {
		count = n
	}
	if count < s.revealed {
		count = s.revealed
	}
	return count
}

// effectivePhaseLocked looks through a pause to the phase it interrupted.
func (s *Scheduler) effectivePhaseLocked() Phase {
	if s.phase == PhasePaused {
		return s.resumeTo
	}
	return s.phase
}

func (s *Scheduler) setRevealedLocked(count int, fx *effects) {
	if count <= s.revealed {
		return
	}
	s.revealed = count
	s.publishLocked(fx, bus.EventTypeWordRevealed, map[string]any{
		"segment":  s.segment,
		"revealed": count,
		"words":    len(s.words),
	})
}

func (s *Scheduler) scheduleTickLocked() {
	tick := s.tick
	gen := s.gen
	s.clock.AfterFunc(s.config.RevealTick, func() { s.onTick(gen, tick) })
}

func (s *Scheduler) onTick(gen, tick uint64) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen || tick != s.tick || (s.phase != PhasePlaying && s.phase != PhaseFallback) {
		s.mu.Unlock()
		return
	}
	s.setRevealedLocked(s.currentRevealLocked(), &fx)
	s.scheduleTickLocked()
	s.mu.Unlock()
	fx.run()
}

// armFallbackLocked schedules the end of the fallback reveal: the last of
// n words appears at n intervals.
func (s *Scheduler) armFallbackLocked() {
	total := time.Duration(len(s.words)) * s.config.FallbackWordInterval
	remaining := total - s.runOffset
	if remaining < 0 {
		remaining = 0
	}
	gen, tick := s.gen, s.tick
	s.timer = s.clock.AfterFunc(remaining, func() { s.fallbackDone(gen, tick) })
}

func (s *Scheduler) fallbackDone(gen, tick uint64) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen || tick != s.tick || s.phase != PhaseFallback {
		s.mu.Unlock()
		return
	}
	s.setRevealedLocked(len(s.words), &fx)
	s.stopTimersLocked()
	s.phase = PhaseSettling
	s.runStart = s.clock.Now()
	s.runOffset = 0
	s.armSettleLocked()
	s.mu.Unlock()
	fx.run()
}

func (s *Scheduler) armSettleLocked() {
	remaining := s.config.SettleDelay - s.runOffset
	if remaining < 0 {
		remaining = 0
	}
	gen, tick := s.gen, s.tick
	s.timer = s.clock.AfterFunc(remaining, func() { s.settled(gen, tick) })
}

func (s *Scheduler) settled(gen, tick uint64) {
	var fx effects
	s.mu.Lock()
	if gen != s.gen || tick != s.tick || s.phase != PhaseSettling {
		s.mu.Unlock()
		return
	}
	s.advanceLocked(&fx)
	s.mu.Unlock()
	fx.run()
}

// advanceLocked finishes the current segment and starts the next one, or
// completes the lesson after the last.
func (s *Scheduler) advanceLocked(fx *effects) {
	s.publishLocked(fx, bus.EventTypeSegmentFinished, map[string]any{"segment": s.segment})
	s.beginLocked(s.segment+1, s.variant, fx)
}

func (s *Scheduler) finishLocked(fx *effects) {
	s.phase = PhaseFinished
	s.revealed = len(s.words)
	s.log.Info().Int("segments", len(s.lesson.Segments)).Msg("all segments played")
	if fn := s.onComplete; fn != nil {
		fx.add(fn)
	}
}

func (s *Scheduler) publishLocked(fx *effects, t bus.EventType, data map[string]any) {
	if s.bus == nil {
		return
	}
	ev := bus.Event{Type: t, SessionID: s.sessionID, Data: data, At: s.clock.Now()}
	b := s.bus
	fx.add(func() { b.Publish(ev) })
}
