package sensing

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/normanking/cortexlearn/internal/metrics"
	"github.com/normanking/cortexlearn/internal/voice"
)

type gazeWindow struct {
	attention float64
	n         int
}

type faceWindow struct {
	eye, brow, lean, smile, deviation float64
	n                                 int
}

// Aggregator keeps a running sum and count per stream and emits one
// fused State per window. Windows with no samples emit nothing.
type Aggregator struct {
	mu sync.Mutex

	config Config
	clock  clock.Clock
	log    zerolog.Logger

	gaze gazeWindow
	face faceWindow

	latest    State
	hasLatest bool

	handlers []func(State)
}

// NewAggregator creates an aggregator. Call Run to emit on the window
// ticker, or Flush to close windows manually.
func NewAggregator(cfg Config, clk clock.Clock, log zerolog.Logger) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Aggregator{
		config: cfg,
		clock:  clk,
		log:    log.With().Str("component", "sensing").Logger(),
	}
}

// OnEmit registers fn for every emitted State. Handlers run synchronously
// on the emitting goroutine, outside the aggregator lock.
func (a *Aggregator) OnEmit(fn func(State)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers = append(a.handlers, fn)
}

// UpdateConfig swaps thresholds. The window length takes effect on the
// next Run.
func (a *Aggregator) UpdateConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cfg.Window <= 0 {
		cfg.Window = a.config.Window
	}
	a.config = cfg
	a.log.Info().Dur("window", cfg.Window).Msg("sensing config updated")
}

// Config returns the active configuration.
func (a *Aggregator) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.config
}

// AddGaze accumulates one gaze sample into the current window.
func (a *Aggregator) AddGaze(g GazeSample) {
	score := AttentionScore(g)

	a.mu.Lock()
	a.gaze.attention += score
	a.gaze.n++
	a.mu.Unlock()
}

// AddFace accumulates one face sample into the current window.
func (a *Aggregator) AddFace(f FaceSample) {
	a.mu.Lock()
	a.face.eye += clamp01(f.EyeOpenness)
	a.face.brow += clamp01(f.BrowFurrow)
	a.face.lean += clamp01(f.ForwardLean)
	a.face.smile += clamp01(f.Smile)
	a.face.deviation += clamp01(f.HorizontalDeviation)
	a.face.n++
	a.mu.Unlock()
}

// PushCommand emits a snapshot immediately, copying the last fused values
// and setting the command. Window emissions that follow carry no command.
func (a *Aggregator) PushCommand(cmd voice.Command) State {
	a.mu.Lock()
	s := a.latest
	s.LastVoiceCommand = cmd
	s.Timestamp = a.clock.Now()
	a.latest = s
	a.hasLatest = true
	handlers := a.handlersLocked()
	a.mu.Unlock()

	metrics.SensingEmissions.WithLabelValues("voice").Inc()
	a.log.Debug().Str("command", string(cmd)).Msg("voice command emitted")
	emit(handlers, s)
	return s
}

// Flush closes the current window. It returns false and emits nothing when
// the window received no samples.
func (a *Aggregator) Flush() (State, bool) {
	a.mu.Lock()
	if a.gaze.n == 0 && a.face.n == 0 {
		a.mu.Unlock()
		return State{}, false
	}
	s := fuse(a.gaze, a.face, a.config)
	s.Timestamp = a.clock.Now()
	a.gaze = gazeWindow{}
	a.face = faceWindow{}
	a.latest = s
	a.hasLatest = true
	handlers := a.handlersLocked()
	a.mu.Unlock()

	metrics.SensingEmissions.WithLabelValues("window").Inc()
	a.log.Debug().
		Float64("attention", s.GazeAttention).
		Float64("engagement", s.FaceEngagement).
		Bool("looking_away", s.LookingAway).
		Bool("confused", s.Confused).
		Msg("sensing window")
	emit(handlers, s)
	return s, true
}

// Latest returns the most recent emission.
func (a *Aggregator) Latest() (State, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.latest, a.hasLatest
}

// Run flushes on every window tick until ctx is done.
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := a.clock.Ticker(a.Config().Window)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Flush()
		}
	}
}

func (a *Aggregator) handlersLocked() []func(State) {
	out := make([]func(State), len(a.handlers))
	copy(out, a.handlers)
	return out
}

func emit(handlers []func(State), s State) {
	for _, fn := range handlers {
		fn(s)
	}
}

// fuse turns window sums into a State. Face-derived flags stay false when
// the window had no face samples.
func fuse(g gazeWindow, f faceWindow, cfg Config) State {
	s := State{GazeSamples: g.n, FaceSamples: f.n}

	if g.n > 0 {
		s.GazeAttention = roundScore(g.attention / float64(g.n))
		s.LookingAway = s.GazeAttention < cfg.AwayAttention
	}
	if f.n == 0 {
		return s
	}

	n := float64(f.n)
	mean := FaceSample{
		EyeOpenness:         f.eye / n,
		BrowFurrow:          f.brow / n,
		ForwardLean:         f.lean / n,
		Smile:               f.smile / n,
		HorizontalDeviation: f.deviation / n,
	}
	if mean.HorizontalDeviation > cfg.AwayDeviation {
		s.LookingAway = true
	}
	s.Confused = mean.BrowFurrow > cfg.ConfusedBrow && mean.EyeOpenness < cfg.ConfusedEye
	s.FaceEngagement = roundUnit(FuseEngagement(BaseEngagement(mean, cfg.MaxDeviation), s.LookingAway, s.Confused))
	s.Engaged = s.FaceEngagement >= cfg.EngagedAt
	s.Bored = s.FaceEngagement <= cfg.BoredAt
	return s
}
