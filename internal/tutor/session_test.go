package tutor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlearn/internal/bus"
	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/playback"
	"github.com/normanking/cortexlearn/internal/sensing"
	"github.com/normanking/cortexlearn/internal/tts"
	"github.com/normanking/cortexlearn/internal/voice"
)

// timedProvider returns silent audio whose length is looked up by text.
type timedProvider struct {
	durations map[string]time.Duration
}

func (p *timedProvider) Name() string { return "timed" }

func (p *timedProvider) Health(ctx context.Context) error { return nil }

func (p *timedProvider) Synthesize(ctx context.Context, req *tts.SynthesizeRequest) (*tts.SynthesizeResponse, error) {
	d, ok := p.durations[req.Text]
	if !ok {
		d = time.Second
	}
	return &tts.SynthesizeResponse{
		Audio:    []byte(req.Text),
		Format:   "mp3",
		Duration: d,
		Provider: "timed",
	}, nil
}

func channelsLesson() *lesson.Lesson {
	return &lesson.Lesson{
		ID:    "channels",
		Title: "Channels",
		Segments: []lesson.Segment{
			{
				ID:         "s1",
				Concept:    "channels",
				Normal:     lesson.SegmentContent{Text: "channels connect running goroutines", Code: "ch := make(chan int)"},
				Simplified: lesson.SegmentContent{Text: "a channel is a pipe"},
				Advanced:   lesson.SegmentContent{Text: "unbuffered channels synchronise both sides"},
			},
			{
				ID:         "s2",
				Concept:    "close",
				Normal:     lesson.SegmentContent{Text: "close signals done"},
				Simplified: lesson.SegmentContent{Text: "close means finished"},
				Advanced:   lesson.SegmentContent{Text: "receivers observe the zero value after close"},
			},
		},
	}
}

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) handle(e bus.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) of(t bus.EventType) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	t    *testing.T
	mock *clock.Mock
	s    *Session
	rec  *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, mock: clock.NewMock(), rec: &recorder{}}
	provider := &timedProvider{durations: map[string]time.Duration{
		"channels connect running goroutines": 2 * time.Second,
		"close signals done":                  900 * time.Millisecond,
	}}

	b := bus.NewEventBus()
	b.SubscribeMultiple(bus.AllEventTypes(), f.rec.handle)

	s, err := New(channelsLesson(), provider, DefaultConfig(), WithClock(f.mock), WithBus(b), WithID("test-session"))
	require.NoError(t, err)
	f.s = s
	t.Cleanup(s.Close)
	return f
}

func (f *fixture) start() {
	f.t.Helper()
	require.NoError(f.t, f.s.Start(context.Background()))
	f.waitFor(func(v View) bool {
		return v.State == lesson.StateExplain && v.Playback.Phase == playback.PhasePlaying
	}, "explain playing")
}

func (f *fixture) waitFor(cond func(View) bool, msg string) View {
	f.t.Helper()
	var last View
	require.Eventually(f.t, func() bool {
		last = f.s.Snapshot()
		return cond(last)
	}, 2*time.Second, time.Millisecond, msg)
	return last
}

func (f *fixture) waitState(state lesson.State) View {
	f.t.Helper()
	return f.waitFor(func(v View) bool { return v.State == state }, string(state))
}

func TestNew_RejectsInvalidLesson(t *testing.T) {
	_, err := New(&lesson.Lesson{ID: "empty"}, &timedProvider{}, DefaultConfig())
	assert.ErrorIs(t, err, lesson.ErrNoSegments)
}

func TestSession_GeneratesID(t *testing.T) {
	s, err := New(channelsLesson(), &timedProvider{}, DefaultConfig())
	require.NoError(t, err)
	defer s.Close()
	assert.NotEmpty(t, s.ID())
}

func TestSession_PlaysThroughToComplete(t *testing.T) {
	f := newFixture(t)
	f.start()

	v := f.s.Snapshot()
	assert.Equal(t, "test-session", v.SessionID)
	assert.Equal(t, lesson.VariantNormal, v.Variant)
	assert.Equal(t, "s1", v.Playback.SegmentID)

	f.mock.Add(2 * time.Second)
	f.waitFor(func(v View) bool {
		return v.Playback.Segment == 1 && v.Playback.Phase == playback.PhasePlaying
	}, "second segment playing")

	f.mock.Add(900 * time.Millisecond)
	v = f.waitState(lesson.StateChallenge)
	assert.Equal(t, playback.PhaseFinished, v.Playback.Phase)

	require.NoError(t, f.s.Dispatch(lesson.Complete{}))
	f.waitState(lesson.StateProve)
	require.NoError(t, f.s.Dispatch(lesson.Submitted{Submission: "close(ch)"}))
	f.waitState(lesson.StateFeedback)
	require.NoError(t, f.s.Dispatch(lesson.Complete{}))
	f.waitState(lesson.StateComplete)

	assert.Eventually(t, func() bool {
		return len(f.rec.of(bus.EventTypeLessonCompleted)) == 1
	}, time.Second, time.Millisecond)
	// explain, challenge, prove, feedback and complete were each entered once.
	assert.Eventually(t, func() bool {
		return len(f.rec.of(bus.EventTypeTransition)) == 5
	}, time.Second, time.Millisecond)
}

func TestSession_SimplifyThenConfused(t *testing.T) {
	f := newFixture(t)
	f.start()

	require.NoError(t, f.s.Voice(voice.CommandSimplify))
	v := f.waitFor(func(v View) bool {
		return v.State == lesson.StateSimplify && v.Playback.Variant == lesson.VariantSimplified &&
			v.Playback.Phase == playback.PhasePlaying
	}, "simplified playing")
	assert.Equal(t, 5, v.Playback.Words)

	require.NoError(t, f.s.Voice(voice.CommandConfused))
	v = f.waitState(lesson.StateAnalogy)
	assert.Equal(t, lesson.VariantSimplified, v.Variant)
}

func TestSession_DeepenThenSimplifyReturnsToExplain(t *testing.T) {
	f := newFixture(t)
	f.start()

	require.NoError(t, f.s.Voice(voice.CommandDeepen))
	f.waitFor(func(v View) bool {
		return v.State == lesson.StateAdvanced && v.Playback.Variant == lesson.VariantAdvanced
	}, "advanced")

	require.NoError(t, f.s.Voice(voice.CommandSimplify))
	f.waitFor(func(v View) bool {
		return v.State == lesson.StateExplain && v.Playback.Variant == lesson.VariantNormal
	}, "back to explain")
}

func TestSession_TranscriptResolvesCommand(t *testing.T) {
	f := newFixture(t)
	f.start()

	cmd, err := f.s.Transcript("um, go deeper")
	require.NoError(t, err)
	assert.Equal(t, voice.CommandDeepen, cmd)
	f.waitState(lesson.StateAdvanced)

	_, err = f.s.Transcript("uh")
	assert.ErrorIs(t, err, voice.ErrUnknownCommand)
}

func TestSession_BreakPausesAndAutoResumes(t *testing.T) {
	f := newFixture(t)
	f.start()

	require.NoError(t, f.s.Dispatch(lesson.Distraction{Attention: 12}))
	f.waitFor(func(v View) bool {
		return v.State == lesson.StateBreak && v.Playback.Phase == playback.PhasePaused
	}, "break paused")

	f.mock.Add(59 * time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, lesson.StateBreak, f.s.Snapshot().State)

	f.mock.Add(time.Second)
	f.waitFor(func(v View) bool {
		return v.State == lesson.StateExplain && v.Playback.Phase == playback.PhasePlaying && v.Playback.Segment == 0
	}, "resumed")
}

func TestSession_VoiceSkipGoesToChallenge(t *testing.T) {
	f := newFixture(t)
	f.start()

	require.NoError(t, f.s.Voice(voice.CommandSkip))
	v := f.waitFor(func(v View) bool {
		return v.State == lesson.StateChallenge && v.Playback.Phase == playback.PhaseIdle
	}, "challenge")
	assert.Equal(t, 1, v.Playback.Segment)
}

func TestSession_SkipOnLastSegmentStopsAtChallenge(t *testing.T) {
	f := newFixture(t)
	f.start()

	f.mock.Add(2 * time.Second)
	f.waitFor(func(v View) bool {
		return v.Playback.Segment == 1 && v.Playback.Phase == playback.PhasePlaying
	}, "second segment playing")

	require.NoError(t, f.s.Voice(voice.CommandSkip))
	f.waitState(lesson.StateChallenge)

	// A no-op event queued behind the skip lets pending completions drain.
	require.NoError(t, f.s.Dispatch(lesson.Understood{}))
	v := f.s.Snapshot()
	assert.Equal(t, lesson.StateChallenge, v.State)
	assert.Equal(t, playback.PhaseFinished, v.Playback.Phase)

	require.NoError(t, f.s.Dispatch(lesson.Complete{}))
	f.waitState(lesson.StateProve)
}

func TestSession_FinishedInSimplifyCompletesAfterUnderstood(t *testing.T) {
	f := newFixture(t)
	f.start()

	require.NoError(t, f.s.Voice(voice.CommandSimplify))
	f.waitFor(func(v View) bool {
		return v.State == lesson.StateSimplify && v.Playback.Variant == lesson.VariantSimplified &&
			v.Playback.Phase == playback.PhasePlaying
	}, "simplified playing")

	f.mock.Add(time.Second)
	f.waitFor(func(v View) bool {
		return v.Playback.Segment == 1 && v.Playback.Phase == playback.PhasePlaying
	}, "second segment playing")
	f.mock.Add(time.Second)
	f.waitFor(func(v View) bool { return v.Playback.Phase == playback.PhaseFinished }, "segments finished")

	require.NoError(t, f.s.Dispatch(lesson.Submitted{}))
	assert.Equal(t, lesson.StateSimplify, f.s.Snapshot().State)

	require.NoError(t, f.s.Dispatch(lesson.Understood{}))
	v := f.waitState(lesson.StateChallenge)
	assert.Equal(t, playback.PhaseFinished, v.Playback.Phase)
}

func TestSession_PostDoesNotBlockOnFullQueue(t *testing.T) {
	f := newFixture(t)
	f.start()

	release := make(chan struct{})
	require.NoError(t, f.s.enqueue(func() { <-release }))
fill:
	for {
		select {
		case f.s.events <- func() {}:
		default:
			break fill
		}
	}

	ran := make(chan struct{})
	posted := make(chan error, 1)
	go func() { posted <- f.s.post(func() { close(ran) }) }()
	select {
	case err := <-posted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("post blocked on a full queue")
	}

	close(release)
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("overflowed event never ran")
	}
}

func TestSession_ShowCodeAndExample(t *testing.T) {
	f := newFixture(t)
	f.start()

	assert.Empty(t, f.s.Snapshot().Code)
	require.NoError(t, f.s.Voice(voice.CommandShowCode))
	v := f.waitFor(func(v View) bool { return v.ShowCode }, "show code")
	assert.Equal(t, "ch := make(chan int)", v.Code)
	assert.Equal(t, lesson.StateExplain, v.State)

	require.NoError(t, f.s.Voice(voice.CommandExample))
	require.Eventually(t, func() bool {
		return len(f.rec.of(bus.EventTypeVoiceRequest)) == 1
	}, time.Second, time.Millisecond)
	req := f.rec.of(bus.EventTypeVoiceRequest)[0]
	assert.Equal(t, "EXAMPLE", req.Data["command"])
	assert.Equal(t, "channels", req.Data["concept"])
	assert.Equal(t, lesson.StateExplain, f.s.Snapshot().State)
}

func TestSession_PauseAndRepeatCommands(t *testing.T) {
	f := newFixture(t)
	f.start()

	f.mock.Add(time.Second)
	require.NoError(t, f.s.Voice(voice.CommandPause))
	v := f.waitFor(func(v View) bool { return v.Playback.Phase == playback.PhasePaused }, "paused")
	assert.Equal(t, 2, v.Playback.Revealed)
	assert.Equal(t, lesson.StateExplain, v.State)

	require.NoError(t, f.s.Resume())
	f.waitFor(func(v View) bool { return v.Playback.Phase == playback.PhasePlaying }, "resumed")

	require.NoError(t, f.s.Voice(voice.CommandRepeat))
	f.waitFor(func(v View) bool {
		return v.Playback.Phase == playback.PhasePlaying && v.Playback.Revealed == 0
	}, "repeated")
}

func TestSession_SensingAloneSuggestsBreak(t *testing.T) {
	f := newFixture(t)
	f.start()

	for i := 0; i < 5; i++ {
		f.s.AddGaze(sensing.GazeSample{X: 0, Y: 0, Timestamp: f.mock.Now()})
		f.s.AddFace(sensing.FaceSample{EyeOpenness: 0.2, BrowFurrow: 0.9, HorizontalDeviation: 0.8, Timestamp: f.mock.Now()})
		st, ok := f.s.Aggregator().Flush()
		require.True(t, ok)
		assert.True(t, st.LookingAway)
		assert.True(t, st.Confused)
	}

	v := f.waitFor(func(v View) bool { return v.BreakSuggested }, "break suggested")
	assert.Equal(t, lesson.StateExplain, v.State)
	require.NotNil(t, v.Sensing)
	assert.True(t, v.Sensing.LookingAway)
	assert.Eventually(t, func() bool {
		return len(f.rec.of(bus.EventTypeTransition)) == 1
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(f.rec.of(bus.EventTypeBreakSuggested)) == 1
	}, time.Second, time.Millisecond)
}

func TestSession_Reset(t *testing.T) {
	f := newFixture(t)
	f.start()
	require.NoError(t, f.s.Voice(voice.CommandDeepen))
	f.waitState(lesson.StateAdvanced)

	require.NoError(t, f.s.Reset())
	v := f.s.Snapshot()
	assert.Equal(t, lesson.StateIntro, v.State)
	assert.Equal(t, playback.PhaseIdle, v.Playback.Phase)
	assert.Equal(t, 0, v.Playback.Segment)

	require.NoError(t, f.s.Dispatch(lesson.Start{}))
	f.waitFor(func(v View) bool {
		return v.State == lesson.StateExplain && v.Playback.Phase == playback.PhasePlaying
	}, "restarted")
}

func TestSession_Lifecycle(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.s.Dispatch(lesson.Start{}), ErrNotStarted)
	assert.ErrorIs(t, f.s.Voice(voice.CommandSkip), ErrNotStarted)

	f.start()
	assert.ErrorIs(t, f.s.Start(context.Background()), ErrStarted)
	assert.ErrorIs(t, f.s.Voice(voice.Command("DANCE")), voice.ErrUnknownCommand)

	f.s.Close()
	f.s.Close()
	select {
	case <-f.s.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.ErrorIs(t, f.s.Dispatch(lesson.Skip{}), ErrClosed)
	assert.ErrorIs(t, f.s.Voice(voice.CommandSkip), ErrClosed)
	assert.ErrorIs(t, f.s.Pause(), ErrClosed)
	assert.ErrorIs(t, f.s.Start(context.Background()), ErrClosed)
}
