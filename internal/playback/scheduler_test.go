package playback

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlearn/internal/bus"
	"github.com/normanking/cortexlearn/internal/lesson"
)

func twoSegmentLesson() *lesson.Lesson {
	return &lesson.Lesson{
		ID: "channels",
		Segments: []lesson.Segment{
			{
				ID:         "s1",
				Normal:     lesson.SegmentContent{Text: "channels connect running goroutines", Code: "ch := make(chan int)"},
				Simplified: lesson.SegmentContent{Text: "a channel is a pipe"},
				Advanced:   lesson.SegmentContent{Text: "unbuffered channels synchronise both sides"},
			},
			{
				ID:         "s2",
				Normal:     lesson.SegmentContent{Text: "close signals done"},
				Simplified: lesson.SegmentContent{Text: "close means finished"},
				Advanced:   lesson.SegmentContent{Text: "receivers observe the zero value after close"},
			},
		},
	}
}

type harness struct {
	t        *testing.T
	mock     *clock.Mock
	provider *fakeProvider
	session  *Session
	sched    *Scheduler

	mu          sync.Mutex
	completions []time.Time
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{t: t, mock: clock.NewMock(), provider: newFakeProvider()}
	h.provider.durations["channels connect running goroutines"] = 2 * time.Second
	h.provider.durations["close signals done"] = 900 * time.Millisecond

	h.session = NewSession(h.provider, DefaultSessionConfig(), zerolog.Nop())
	h.sched = NewScheduler(cfg, twoSegmentLesson(), h.session, NewClockPlayer(h.mock), h.mock, zerolog.Nop(), opts...)
	h.sched.OnComplete(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.completions = append(h.completions, h.mock.Now())
	})
	t.Cleanup(func() {
		h.sched.Close()
		h.session.Dispose()
	})
	return h
}

func (h *harness) completed() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Time(nil), h.completions...)
}

func (h *harness) waitFor(cond func(View) bool, msg string) View {
	h.t.Helper()
	var last View
	require.Eventually(h.t, func() bool {
		last = h.sched.View()
		return cond(last)
	}, 2*time.Second, time.Millisecond, msg)
	return last
}

func (h *harness) waitPhase(segment int, phase Phase) View {
	h.t.Helper()
	return h.waitFor(func(v View) bool { return v.Segment == segment && v.Phase == phase }, string(phase))
}

func TestScheduler_PlaysLessonAtAudioCadence(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	start := h.mock.Now()

	h.sched.Play(0, lesson.VariantNormal)
	v := h.waitPhase(0, PhasePlaying)
	assert.Equal(t, 4, v.Words)
	assert.Zero(t, v.Revealed)
	assert.False(t, v.Fallback)
	require.NotNil(t, v.Audio)
	assert.Equal(t, "ch := make(chan int)", v.Code)

	// 2s over 4 words: one word every 500ms.
	h.mock.Add(499 * time.Millisecond)
	assert.Equal(t, 0, h.sched.View().Revealed)
	h.mock.Add(time.Millisecond)
	assert.Equal(t, 1, h.sched.View().Revealed)
	h.mock.Add(time.Second)
	v = h.sched.View()
	assert.Equal(t, 3, v.Revealed)
	assert.Equal(t, "channels connect running", v.Text)

	h.mock.Add(500 * time.Millisecond)
	v = h.waitPhase(1, PhasePlaying)
	assert.Equal(t, "s2", v.SegmentID)
	assert.Zero(t, v.Revealed)

	// 900ms over 3 words.
	h.mock.Add(300 * time.Millisecond)
	assert.Equal(t, 1, h.sched.View().Revealed)
	h.mock.Add(600 * time.Millisecond)
	h.waitFor(func(v View) bool { return v.Phase == PhaseFinished }, "finished")

	got := h.completed()
	require.Len(t, got, 1)
	assert.Equal(t, start.Add(2900*time.Millisecond), got[0])

	v = h.sched.View()
	assert.Equal(t, v.Words, v.Revealed)
	assert.Equal(t, "close signals done", v.Text)

	// Segment 2 was prefetched while segment 1 played.
	assert.Equal(t, int64(2), h.session.Calls())
}

func TestScheduler_FallbackRevealOnFailure(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.provider.fail["channels connect running goroutines"] = errSynthDown

	h.sched.Play(0, lesson.VariantNormal)
	v := h.waitPhase(0, PhaseFallback)
	assert.True(t, v.Fallback)
	assert.Nil(t, v.Audio)

	for want := 1; want <= 3; want++ {
		h.mock.Add(150 * time.Millisecond)
		assert.Equal(t, want, h.sched.View().Revealed)
	}
	h.mock.Add(150 * time.Millisecond)
	v = h.waitPhase(0, PhaseSettling)
	assert.Equal(t, 4, v.Revealed)

	h.mock.Add(999 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, PhaseSettling, h.sched.View().Phase)

	h.mock.Add(time.Millisecond)
	h.waitPhase(1, PhasePlaying)

	// No prefetch is issued from a fallback segment.
	assert.Equal(t, 1, h.provider.callCount("close signals done"))
}

func TestScheduler_StaleResultDiscarded(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	release := h.provider.hold("channels connect running goroutines")
	defer release()

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhaseFetching)

	require.True(t, h.sched.SetVariant(lesson.VariantSimplified))
	v := h.waitPhase(0, PhasePlaying)
	assert.Equal(t, lesson.VariantSimplified, v.Variant)

	release()
	assert.Eventually(t, func() bool {
		_, ok := h.session.Get(Key{LessonID: "channels", Segment: 0, Variant: lesson.VariantNormal})
		return ok
	}, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	v = h.sched.View()
	assert.Equal(t, PhasePlaying, v.Phase)
	assert.Equal(t, lesson.VariantSimplified, v.Variant)
	require.NotNil(t, v.Audio)
	assert.Equal(t, lesson.VariantSimplified, v.Audio.Key.Variant)
	assert.Equal(t, 5, v.Words)
}

func TestScheduler_StaleFailureDoesNotFallBack(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.provider.fail["channels connect running goroutines"] = errSynthDown
	release := h.provider.hold("channels connect running goroutines")

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhaseFetching)
	h.sched.SetVariant(lesson.VariantAdvanced)
	h.waitPhase(0, PhasePlaying)

	release()
	time.Sleep(20 * time.Millisecond)
	v := h.sched.View()
	assert.Equal(t, PhasePlaying, v.Phase)
	assert.False(t, v.Fallback)
}

func TestScheduler_PrefetchNextNormalAfterAudioStarts(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	release := h.provider.hold("a channel is a pipe")
	defer release()

	h.sched.Play(0, lesson.VariantSimplified)
	h.waitPhase(0, PhaseFetching)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int64(1), h.session.Calls())

	release()
	h.waitPhase(0, PhasePlaying)
	assert.Eventually(t, func() bool {
		_, ok := h.session.Get(Key{LessonID: "channels", Segment: 1, Variant: lesson.VariantNormal})
		return ok
	}, time.Second, time.Millisecond)
	_, ok := h.session.Get(Key{LessonID: "channels", Segment: 1, Variant: lesson.VariantSimplified})
	assert.False(t, ok)
	assert.Zero(t, h.provider.callCount("close means finished"))

	// Repeating the segment does not prefetch again.
	h.sched.Repeat()
	h.waitPhase(0, PhasePlaying)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, h.provider.callCount("close signals done"))
}

func TestScheduler_PrefetchDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Prefetch = false
	h := newHarness(t, cfg)

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhasePlaying)
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, h.provider.callCount("close signals done"))
}

func TestScheduler_PauseResume(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhasePlaying)
	h.mock.Add(500 * time.Millisecond)

	require.True(t, h.sched.Pause())
	assert.False(t, h.sched.Pause())
	h.mock.Add(10 * time.Second)
	v := h.sched.View()
	assert.Equal(t, PhasePaused, v.Phase)
	assert.Equal(t, 1, v.Revealed)
	assert.Equal(t, 500*time.Millisecond, v.Position)

	require.True(t, h.sched.Resume())
	assert.False(t, h.sched.Resume())
	h.mock.Add(1000 * time.Millisecond)
	assert.Equal(t, 3, h.sched.View().Revealed)
	h.mock.Add(500 * time.Millisecond)
	h.waitPhase(1, PhasePlaying)

	// Cached audio survived the pause.
	assert.Equal(t, 1, h.provider.callCount("channels connect running goroutines"))
}

func TestScheduler_PauseDuringFallback(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.provider.fail["channels connect running goroutines"] = errSynthDown

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhaseFallback)
	h.mock.Add(200 * time.Millisecond)
	require.True(t, h.sched.Pause())

	h.mock.Add(5 * time.Second)
	v := h.sched.View()
	assert.Equal(t, 1, v.Revealed)
	assert.True(t, v.Fallback)

	h.sched.Resume()
	h.mock.Add(100 * time.Millisecond)
	assert.Equal(t, 2, h.sched.View().Revealed)
	h.mock.Add(300 * time.Millisecond)
	h.waitPhase(0, PhaseSettling)
}

func TestScheduler_PauseWhileFetching(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	release := h.provider.hold("channels connect running goroutines")

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhaseFetching)
	require.True(t, h.sched.Pause())

	release()
	time.Sleep(20 * time.Millisecond)
	h.mock.Add(time.Second)
	v := h.sched.View()
	assert.Equal(t, PhasePaused, v.Phase)
	assert.Zero(t, v.Revealed)
	require.NotNil(t, v.Audio)

	h.sched.Resume()
	assert.Equal(t, PhasePlaying, h.sched.View().Phase)
	h.mock.Add(time.Second)
	assert.Equal(t, 2, h.sched.View().Revealed)
}

func TestScheduler_Skip(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	assert.False(t, h.sched.Skip())

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhasePlaying)
	h.mock.Add(700 * time.Millisecond)

	require.True(t, h.sched.Skip())
	v := h.waitPhase(1, PhasePlaying)
	assert.Zero(t, v.Revealed)

	require.True(t, h.sched.Skip())
	h.waitFor(func(v View) bool { return v.Phase == PhaseFinished }, "finished")
	assert.Len(t, h.completed(), 1)
	assert.False(t, h.sched.Skip())
}

func TestScheduler_RepeatUsesCache(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhasePlaying)
	h.mock.Add(1200 * time.Millisecond)
	require.Equal(t, 2, h.sched.View().Revealed)

	require.True(t, h.sched.Repeat())
	v := h.waitPhase(0, PhasePlaying)
	assert.Zero(t, v.Revealed)
	assert.Equal(t, 1, h.provider.callCount("channels connect running goroutines"))

	h.mock.Add(2 * time.Second)
	h.waitPhase(1, PhasePlaying)
}

func TestScheduler_PresentAndHalt(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.sched.Present(lesson.VariantNormal)
	h.waitPhase(0, PhasePlaying)

	// Same variant while playing: nothing restarts.
	h.mock.Add(600 * time.Millisecond)
	h.sched.Present(lesson.VariantNormal)
	assert.Equal(t, 1, h.sched.View().Revealed)

	h.sched.Pause()
	h.sched.Present(lesson.VariantNormal)
	assert.Equal(t, PhasePlaying, h.sched.View().Phase)

	h.sched.Present(lesson.VariantAdvanced)
	v := h.waitPhase(0, PhasePlaying)
	assert.Equal(t, lesson.VariantAdvanced, v.Variant)
	assert.Zero(t, v.Revealed)

	h.sched.Halt()
	v = h.sched.View()
	assert.Equal(t, PhaseIdle, v.Phase)
	assert.Equal(t, 0, v.Segment)

	h.mock.Add(time.Minute)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, PhaseIdle, h.sched.View().Phase)
	assert.Empty(t, h.completed())

	assert.False(t, h.sched.SetVariant(lesson.VariantSimplified))
	h.sched.Present(lesson.VariantSimplified)
	v = h.waitPhase(0, PhasePlaying)
	assert.Equal(t, lesson.VariantSimplified, v.Variant)
}

func TestScheduler_CloseDiscardsInFlight(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	release := h.provider.hold("channels connect running goroutines")

	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhaseFetching)
	h.sched.Close()
	release()

	time.Sleep(20 * time.Millisecond)
	v := h.sched.View()
	assert.Equal(t, PhaseFinished, v.Phase)
	assert.Nil(t, v.Audio)
	assert.Empty(t, h.completed())
}

func TestScheduler_PublishesProgress(t *testing.T) {
	b := bus.NewEventBus()
	var mu sync.Mutex
	seen := map[bus.EventType]int{}
	b.SubscribeMultiple(bus.AllEventTypes(), func(e bus.Event) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "sess-1", e.SessionID)
		seen[e.Type]++
	})

	h := newHarness(t, DefaultConfig(), WithBus(b, "sess-1"))
	h.sched.Play(0, lesson.VariantNormal)
	h.waitPhase(0, PhasePlaying)
	for i := 0; i < 45; i++ {
		h.mock.Add(50 * time.Millisecond)
	}
	h.waitPhase(1, PhasePlaying)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[bus.EventTypeSegmentStarted] == 2 &&
			seen[bus.EventTypeSegmentFinished] == 1 &&
			seen[bus.EventTypeWordRevealed] >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_Reset(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	h.sched.Play(1, lesson.VariantAdvanced)
	h.waitPhase(1, PhasePlaying)

	h.sched.Reset()
	v := h.sched.View()
	assert.Equal(t, PhaseIdle, v.Phase)
	assert.Zero(t, v.Segment)
	assert.Equal(t, lesson.VariantNormal, v.Variant)
	assert.Empty(t, v.Text)

	h.sched.Present(lesson.VariantNormal)
	h.waitPhase(0, PhasePlaying)
}
