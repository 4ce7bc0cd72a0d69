package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/tts"
)

func newTestSession(p tts.Provider) *Session {
	return NewSession(p, DefaultSessionConfig(), zerolog.Nop())
}

var (
	keyA    = Key{LessonID: "l1", Segment: 0, Variant: lesson.VariantNormal}
	textA   = lesson.SegmentContent{Text: "alpha beta"}
	keyB    = Key{LessonID: "l1", Segment: 1, Variant: lesson.VariantNormal}
	textB   = lesson.SegmentContent{Text: "gamma delta"}
	keyBad  = Key{LessonID: "l1", Segment: 2, Variant: lesson.VariantNormal}
	textBad = lesson.SegmentContent{Text: "broken"}
)

func TestSession_AcquireCachesByKey(t *testing.T) {
	p := newFakeProvider()
	s := newTestSession(p)
	defer s.Dispose()

	h1, err := s.Acquire(context.Background(), keyA, textA)
	require.NoError(t, err)
	h2, err := s.Acquire(context.Background(), keyA, textA)
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, int64(1), s.Calls())
	assert.Equal(t, 1, p.callCount("alpha beta"))
	assert.Equal(t, time.Second, h1.Duration)
	assert.Equal(t, 1, s.Len())

	// Same text under another key is a separate entry.
	other := Key{LessonID: "l1", Segment: 0, Variant: lesson.VariantSimplified}
	_, err = s.Acquire(context.Background(), other, textA)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.Calls())
}

func TestSession_ConcurrentAcquireSharesOneCall(t *testing.T) {
	p := newFakeProvider()
	release := p.hold("alpha beta")
	s := newTestSession(p)
	defer s.Dispose()

	var wg sync.WaitGroup
	handles := make([]*AudioHandle, 8)
	for i := range handles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := s.Acquire(context.Background(), keyA, textA)
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, int64(1), s.Calls())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestSession_CancelledWaitStillCaches(t *testing.T) {
	p := newFakeProvider()
	release := p.hold("alpha beta")
	s := newTestSession(p)
	defer s.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(ctx, keyA, textA)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	release()
	assert.Eventually(t, func() bool { return s.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, err := s.Acquire(context.Background(), keyA, textA)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Calls())
}

func TestSession_FailureNotCached(t *testing.T) {
	p := newFakeProvider()
	p.fail["broken"] = errSynthDown
	s := newTestSession(p)
	defer s.Dispose()

	_, err := s.Acquire(context.Background(), keyBad, textBad)
	assert.ErrorIs(t, err, errSynthDown)
	assert.Zero(t, s.Len())

	// Failures are not cached, so a later request calls out again.
	_, err = s.Acquire(context.Background(), keyBad, textBad)
	assert.ErrorIs(t, err, errSynthDown)
	assert.Equal(t, int64(2), s.Calls())
}

func TestSession_UnknownDurationIsFailure(t *testing.T) {
	p := newFakeProvider()
	p.formats["mystery"] = "opus"
	p.durations["mystery"] = 0
	s := newTestSession(p)
	defer s.Dispose()

	_, err := s.Acquire(context.Background(), keyA, lesson.SegmentContent{Text: "mystery"})
	assert.ErrorIs(t, err, tts.ErrUnknownFormat)
	assert.Zero(t, s.Len())
}

func TestSession_PrefetchOncePerKey(t *testing.T) {
	p := newFakeProvider()
	p.fail["broken"] = errSynthDown
	s := newTestSession(p)
	defer s.Dispose()

	assert.True(t, s.Prefetch(keyB, textB))
	assert.False(t, s.Prefetch(keyB, textB))
	assert.Eventually(t, func() bool { _, ok := s.Get(keyB); return ok }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Prefetch(keyB, textB))
	assert.Equal(t, 1, p.callCount("gamma delta"))

	// A failed prefetch is not retried.
	assert.True(t, s.Prefetch(keyBad, textBad))
	assert.Eventually(t, func() bool { return p.callCount("broken") == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, s.Prefetch(keyBad, textBad))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, p.callCount("broken"))
}

func TestSession_PrefetchSkipsCached(t *testing.T) {
	p := newFakeProvider()
	s := newTestSession(p)
	defer s.Dispose()

	_, err := s.Acquire(context.Background(), keyA, textA)
	require.NoError(t, err)
	assert.False(t, s.Prefetch(keyA, textA))
	assert.Equal(t, int64(1), s.Calls())
}

func TestSession_Dispose(t *testing.T) {
	p := newFakeProvider()
	release := p.hold("gamma delta")
	defer release()
	s := newTestSession(p)

	_, err := s.Acquire(context.Background(), keyA, textA)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := s.Acquire(context.Background(), keyB, textB)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	s.Dispose()
	assert.Zero(t, s.Len())
	assert.Error(t, <-done)

	_, err = s.Acquire(context.Background(), keyA, textA)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.False(t, s.Prefetch(keyA, textA))
	s.Dispose()
}
