// Package tutor runs one lesson-playing session: sensor samples and voice
// commands flow through the aggregator and the trigger engine into the
// lesson machine, whose state drives the playback scheduler.
package tutor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexlearn/internal/adapt"
	"github.com/normanking/cortexlearn/internal/bus"
	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/metrics"
	"github.com/normanking/cortexlearn/internal/playback"
	"github.com/normanking/cortexlearn/internal/sensing"
	"github.com/normanking/cortexlearn/internal/tts"
	"github.com/normanking/cortexlearn/internal/voice"
)

// Session errors
var (
	ErrClosed     = errors.New("session closed")
	ErrNotStarted = errors.New("session not started")
	ErrStarted    = errors.New("session already started")
)

// Config groups the settings of every component in a session.
type Config struct {
	Sensing  sensing.Config
	Machine  lesson.MachineConfig
	Playback playback.Config
	Audio    playback.SessionConfig
	// FillerWords feed the transcript resolver; nil uses the defaults.
	FillerWords []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Sensing:  sensing.DefaultConfig(),
		Machine:  lesson.DefaultMachineConfig(),
		Playback: playback.DefaultConfig(),
		Audio:    playback.DefaultSessionConfig(),
	}
}

// View is the presentation state of a session.
type View struct {
	SessionID string         `json:"sessionId"`
	LessonID  string         `json:"lessonId"`
	Title     string         `json:"title"`
	State     lesson.State   `json:"state"`
	Variant   lesson.Variant `json:"variant"`
	Seq       uint64         `json:"seq"`
	Playback  playback.View  `json:"playback"`
	Sensing   *sensing.State `json:"sensing,omitempty"`
	// ShowCode is set by the SHOW_CODE command; Code is only filled then.
	ShowCode       bool   `json:"showCode"`
	Code           string `json:"code,omitempty"`
	BreakSuggested bool   `json:"breakSuggested"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock sets the clock shared by every timer in the session.
func WithClock(c clock.Clock) Option { return func(s *Session) { s.clock = c } }

// WithLogger sets the session logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Session) { s.log = l } }

// WithBus publishes session events on b.
func WithBus(b *bus.EventBus) Option { return func(s *Session) { s.bus = b } }

// WithPlayer replaces the default clock-driven player.
func WithPlayer(p playback.Player) Option { return func(s *Session) { s.player = p } }

// WithID fixes the session ID instead of generating one.
func WithID(id string) Option { return func(s *Session) { s.id = id } }

// Session owns every component of one lesson run. Decisions are made on a
// single event loop; sensor ingestion and reads are safe from any goroutine.
type Session struct {
	id     string
	config Config
	lesson *lesson.Lesson
	clock  clock.Clock
	log    zerolog.Logger
	bus    *bus.EventBus
	player playback.Player

	aggregator *sensing.Aggregator
	advisor    *sensing.BreakAdvisor
	machine    *lesson.Machine
	audio      *playback.Session
	scheduler  *playback.Scheduler
	resolver   *voice.Resolver

	events chan func()
	done   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.RWMutex
	started        bool
	closed         bool
	routedSeq      uint64
	showCode       bool
	breakSuggested bool
}

// New builds a session for l. Nothing runs until Start.
func New(l *lesson.Lesson, provider tts.Provider, cfg Config, opts ...Option) (*Session, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		config: cfg,
		lesson: l,
		log:    zerolog.Nop(),
		events: make(chan func(), 256),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.New().String()
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.bus == nil {
		s.bus = bus.NewEventBus()
	}
	if s.player == nil {
		s.player = playback.NewClockPlayer(s.clock)
	}
	s.log = s.log.With().Str("session", s.id).Logger()

	s.aggregator = sensing.NewAggregator(cfg.Sensing, s.clock, s.log)
	s.advisor = sensing.NewBreakAdvisor(cfg.Sensing.BreakAfter, s.suggestBreak)
	s.machine = lesson.NewMachine(cfg.Machine, s.clock, s.log)
	s.audio = playback.NewSession(provider, cfg.Audio, s.log)
	s.scheduler = playback.NewScheduler(cfg.Playback, l, s.audio, s.player, s.clock, s.log, playback.WithBus(s.bus, s.id))
	s.resolver = voice.NewResolver(cfg.FillerWords)

	s.aggregator.OnEmit(s.sensed)
	s.machine.Observe(s.transitioned)
	s.scheduler.OnComplete(s.segmentsDone)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Lesson returns the lesson being played.
func (s *Session) Lesson() *lesson.Lesson { return s.lesson }

// Bus returns the session's event bus.
func (s *Session) Bus() *bus.EventBus { return s.bus }

// Aggregator exposes the sensing aggregator for reconfiguration.
func (s *Session) Aggregator() *sensing.Aggregator { return s.aggregator }

// Start launches the event loop and the sensing window ticker, then sends
// START to the lesson machine.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	metrics.ActiveSessions.Inc()
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.aggregator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn().Err(err).Msg("sensing stopped")
		}
	}()

	s.log.Info().Str("lesson", s.lesson.ID).Int("segments", len(s.lesson.Segments)).Msg("session started")
	return s.Dispatch(lesson.Start{Time: s.clock.Now()})
}

func (s *Session) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.events:
			fn()
		}
	}
}

// enqueue hands fn to the event loop.
func (s *Session) enqueue(fn func()) error {
	s.mu.RLock()
	started, closed := s.started, s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}
	select {
	case s.events <- fn:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// post queues fn without waiting. Callers may be the loop itself, so a
// full queue hands the send to a new goroutine instead of blocking.
func (s *Session) post(fn func()) error {
	s.mu.RLock()
	started, closed := s.started, s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}
	select {
	case s.events <- fn:
	default:
		go func() {
			if err := s.enqueue(fn); err != nil && !errors.Is(err, ErrClosed) {
				s.log.Debug().Err(err).Msg("deferred event dropped")
			}
		}()
	}
	return nil
}

// do runs fn on the event loop and waits for it.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	if err := s.enqueue(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// AddGaze feeds one gaze sample.
func (s *Session) AddGaze(g sensing.GazeSample) { s.aggregator.AddGaze(g) }

// AddFace feeds one face sample.
func (s *Session) AddFace(f sensing.FaceSample) { s.aggregator.AddFace(f) }

// Voice submits a recognized command. It is emitted without waiting for
// the sensing window.
func (s *Session) Voice(cmd voice.Command) error {
	if !cmd.Valid() {
		return voice.ErrUnknownCommand
	}
	s.mu.RLock()
	started, closed := s.started, s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !started {
		return ErrNotStarted
	}
	s.bus.Publish(bus.Event{
		Type:      bus.EventTypeVoiceCommand,
		SessionID: s.id,
		Data:      map[string]any{"command": string(cmd)},
		At:        s.clock.Now(),
	})
	s.aggregator.PushCommand(cmd)
	return nil
}

// Transcript resolves free recognizer text and submits the command found.
func (s *Session) Transcript(text string) (voice.Command, error) {
	cmd, ok := s.resolver.Resolve(text)
	if !ok {
		return voice.CommandNone, voice.ErrUnknownCommand
	}
	return cmd, s.Voice(cmd)
}

// Dispatch applies ev on the event loop and waits for it.
func (s *Session) Dispatch(ev lesson.Event) error {
	return s.do(func() { s.machine.Apply(ev) })
}

// Pause halts playback without changing lesson state.
func (s *Session) Pause() error {
	return s.do(func() { s.scheduler.Pause() })
}

// Resume continues playback paused by Pause or PAUSE.
func (s *Session) Resume() error {
	return s.do(func() { s.scheduler.Resume() })
}

// Reset returns the lesson to intro and rewinds playback. Send START (or
// Dispatch a Start event) to begin again.
func (s *Session) Reset() error {
	return s.do(func() {
		s.machine.Reset()
		s.scheduler.Reset()
		_, _, seq := s.machine.Snapshot()
		s.mu.Lock()
		s.routedSeq = seq
		s.showCode = false
		s.breakSuggested = false
		s.mu.Unlock()
		s.advisor.SetThreshold(s.config.Sensing.BreakAfter)
	})
}

// Snapshot returns the current view.
func (s *Session) Snapshot() View {
	state, variant, seq := s.machine.Snapshot()
	v := View{
		SessionID: s.id,
		LessonID:  s.lesson.ID,
		Title:     s.lesson.Title,
		State:     state,
		Variant:   variant,
		Seq:       seq,
		Playback:  s.scheduler.View(),
	}
	if st, ok := s.aggregator.Latest(); ok {
		v.Sensing = &st
	}

	s.mu.RLock()
	v.ShowCode = s.showCode
	v.BreakSuggested = s.breakSuggested
	s.mu.RUnlock()
	if v.ShowCode {
		v.Code = v.Playback.Code
	}
	return v
}

// Done is closed when the session is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close stops every component and releases cached audio.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	close(s.done)
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	s.scheduler.Close()
	s.machine.Stop()
	s.audio.Dispose()
	if started {
		metrics.ActiveSessions.Dec()
	}
	s.log.Info().Msg("session closed")
}

// sensed runs on the aggregator's goroutine.
func (s *Session) sensed(st sensing.State) {
	s.bus.Publish(bus.Event{
		Type:      bus.EventTypeSensing,
		SessionID: s.id,
		Data:      sensingData(st),
		At:        st.Timestamp,
	})
	s.advisor.Observe(st)
	if err := s.enqueue(func() { s.react(st) }); err != nil && !errors.Is(err, ErrClosed) {
		s.log.Debug().Err(err).Msg("sensing update dropped")
	}
}

// react handles one sensing emission on the event loop.
func (s *Session) react(st sensing.State) {
	if st.HasCommand() {
		s.command(st.LastVoiceCommand)
	}
	if ev := adapt.Decide(s.machine.State(), st); ev != nil {
		s.machine.Apply(ev)
	}
}

// command applies the playback and view side of a voice command. Lesson
// events are left to the trigger engine.
func (s *Session) command(cmd voice.Command) {
	switch cmd {
	case voice.CommandPause:
		s.scheduler.Pause()
	case voice.CommandSkip:
		s.scheduler.Skip()
	case voice.CommandRepeat:
		if s.machine.State().Plays() {
			s.scheduler.Repeat()
		}
	case voice.CommandShowCode:
		s.mu.Lock()
		s.showCode = true
		s.mu.Unlock()
	case voice.CommandExample, voice.CommandHelp:
		state, _, _ := s.machine.Snapshot()
		view := s.scheduler.View()
		data := map[string]any{
			"command": string(cmd),
			"state":   string(state),
			"segment": view.SegmentID,
		}
		if view.Segment < len(s.lesson.Segments) {
			data["concept"] = s.lesson.Segments[view.Segment].Concept
		}
		s.bus.Publish(bus.Event{
			Type:      bus.EventTypeVoiceRequest,
			SessionID: s.id,
			Data:      data,
			At:        s.clock.Now(),
		})
	}
}

// transitioned runs on whichever goroutine applied the event.
func (s *Session) transitioned(tr lesson.Transition) {
	metrics.Transitions.WithLabelValues(string(tr.Event.Kind()), string(tr.To)).Inc()
	s.bus.Publish(bus.Event{
		Type:      bus.EventTypeTransition,
		SessionID: s.id,
		Data: map[string]any{
			"from":    string(tr.From),
			"to":      string(tr.To),
			"event":   string(tr.Event.Kind()),
			"variant": string(tr.Variant),
			"auto":    tr.Auto,
			"seq":     tr.Seq,
		},
		At: tr.At,
	})
	if tr.To == lesson.StateComplete {
		s.bus.Publish(bus.Event{
			Type:      bus.EventTypeLessonCompleted,
			SessionID: s.id,
			Data:      map[string]any{"lesson": s.lesson.ID},
			At:        tr.At,
		})
	}
	if err := s.post(s.route); err != nil && !errors.Is(err, ErrClosed) {
		s.log.Debug().Err(err).Msg("transition not routed")
	}
}

// route points playback at the machine's current state. Several queued
// transitions collapse into one routing of the latest state.
func (s *Session) route() {
	state, variant, seq := s.machine.Snapshot()
	s.mu.Lock()
	if seq <= s.routedSeq {
		s.mu.Unlock()
		return
	}
	s.routedSeq = seq
	if state == lesson.StateExplain {
		s.breakSuggested = false
	}
	s.mu.Unlock()

	switch {
	case state.Plays():
		s.scheduler.Present(variant)
		if s.scheduler.View().Phase == playback.PhaseFinished {
			s.finish(s.clock.Now())
		}
	case state == lesson.StateBreak:
		s.scheduler.Pause()
	default:
		s.scheduler.Halt()
	}
}

// segmentsDone runs when the scheduler has played the last segment.
func (s *Session) segmentsDone() {
	at := s.clock.Now()
	if err := s.post(func() { s.finish(at) }); err != nil && !errors.Is(err, ErrClosed) {
		s.log.Debug().Err(err).Msg("completion dropped")
	}
}

// finish reports exhausted segments to the machine. Outside the content
// states COMPLETE belongs to the challenge and feedback steps, so it is
// dropped there.
func (s *Session) finish(at time.Time) {
	state := s.machine.State()
	if !state.Plays() {
		s.log.Debug().Str("state", string(state)).Msg("segment completion ignored")
		return
	}
	s.machine.Apply(lesson.Complete{Time: at, Segments: len(s.lesson.Segments)})
}

func (s *Session) suggestBreak(st sensing.State) {
	s.mu.Lock()
	s.breakSuggested = true
	s.mu.Unlock()

	s.log.Info().
		Float64("attention", st.GazeAttention).
		Float64("engagement", st.FaceEngagement).
		Msg("break suggested")
	s.bus.Publish(bus.Event{
		Type:      bus.EventTypeBreakSuggested,
		SessionID: s.id,
		Data:      sensingData(st),
		At:        st.Timestamp,
	})
}

func sensingData(st sensing.State) map[string]any {
	return map[string]any{
		"gazeAttention":    st.GazeAttention,
		"faceEngagement":   st.FaceEngagement,
		"lookingAway":      st.LookingAway,
		"confused":         st.Confused,
		"engaged":          st.Engaged,
		"bored":            st.Bored,
		"lastVoiceCommand": string(st.LastVoiceCommand),
		"timestamp":        st.Timestamp.Format(time.RFC3339Nano),
	}
}
