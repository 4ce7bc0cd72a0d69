// Package playback schedules segment narration: audio acquisition with a
// session-scoped cache, word reveal synchronized to playback, and a
// timer-driven fallback when synthesis fails.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/metrics"
	"github.com/normanking/cortexlearn/internal/tts"
)

// ErrSessionClosed is returned by Acquire after Dispose.
var ErrSessionClosed = errors.New("audio session closed")

// Key identifies one cached narration.
type Key struct {
	LessonID string
	Segment  int
	Variant  lesson.Variant
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%s", k.LessonID, k.Segment, k.Variant)
}

// AudioHandle is synthesized audio for one key. It is never modified after
// it enters the cache.
type AudioHandle struct {
	Key      Key
	Audio    []byte
	Format   string
	Duration time.Duration
	Provider string
}

// SessionConfig configures synthesis for one session.
type SessionConfig struct {
	Voice string
	// Timeout bounds each external synthesis call.
	Timeout time.Duration
	// MP3Kbps is used to estimate durations the provider does not report.
	MP3Kbps int
}

// DefaultSessionConfig returns production defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{Timeout: 20 * time.Second, MP3Kbps: 128}
}

// Session owns the audio cache for one lesson-playing session. Entries
// live until Dispose. Concurrent requests for the same key share one
// external call.
type Session struct {
	provider tts.Provider
	config   SessionConfig
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	cache      map[Key]*AudioHandle
	prefetched map[Key]struct{}
	disposed   bool

	group singleflight.Group
	calls atomic.Int64
}

// NewSession creates an empty cache backed by provider.
func NewSession(provider tts.Provider, cfg SessionConfig, log zerolog.Logger) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSessionConfig().Timeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		provider:   provider,
		config:     cfg,
		log:        log.With().Str("component", "audio-session").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		cache:      make(map[Key]*AudioHandle),
		prefetched: make(map[Key]struct{}),
	}
}

// Get returns a cached handle without synthesizing.
func (s *Session) Get(key Key) (*AudioHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.cache[key]
	return h, ok
}

// Acquire returns the handle for key, synthesizing content on a miss.
// Cancelling ctx abandons the wait; the shared call keeps running and its
// result is still cached.
func (s *Session) Acquire(ctx context.Context, key Key, content lesson.SegmentContent) (*AudioHandle, error) {
	s.mu.RLock()
	h, ok := s.cache[key]
	disposed := s.disposed
	s.mu.RUnlock()
	if disposed {
		return nil, ErrSessionClosed
	}
	if ok {
		metrics.AudioCacheHits.Inc()
		return h, nil
	}

	ch := s.group.DoChan(key.String(), func() (any, error) {
		return s.synthesize(key, content)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*AudioHandle), nil
	}
}

func (s *Session) synthesize(key Key, content lesson.SegmentContent) (*AudioHandle, error) {
	if h, ok := s.Get(key); ok {
		return h, nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.config.Timeout)
	defer cancel()

	s.calls.Add(1)
	start := time.Now()
	resp, err := s.provider.Synthesize(ctx, &tts.SynthesizeRequest{
		Text:    content.Text,
		VoiceID: s.config.Voice,
		Speed:   content.Rate,
	})
	metrics.SynthesisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SynthesisCalls.WithLabelValues(s.provider.Name(), "error").Inc()
		return nil, fmt.Errorf("synthesize %s: %w", key, err)
	}

	d, err := tts.Duration(resp, s.config.MP3Kbps)
	if err == nil && d <= 0 {
		err = tts.ErrEmptyAudio
	}
	if err != nil {
		metrics.SynthesisCalls.WithLabelValues(s.provider.Name(), "invalid").Inc()
		return nil, fmt.Errorf("synthesize %s: %w", key, err)
	}
	metrics.SynthesisCalls.WithLabelValues(s.provider.Name(), "ok").Inc()

	h := &AudioHandle{
		Key:      key,
		Audio:    resp.Audio,
		Format:   resp.Format,
		Duration: d,
		Provider: resp.Provider,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return nil, ErrSessionClosed
	}
	s.cache[key] = h
	s.log.Debug().Str("key", key.String()).Dur("duration", d).Msg("audio cached")
	return h, nil
}

// Prefetch starts a background Acquire for key at most once per session.
// Failures are logged and never retried. It reports whether a request
// was issued.
func (s *Session) Prefetch(key Key, content lesson.SegmentContent) bool {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return false
	}
	if _, seen := s.prefetched[key]; seen {
		s.mu.Unlock()
		return false
	}
	s.prefetched[key] = struct{}{}
	_, cached := s.cache[key]
	s.mu.Unlock()

	if cached {
		return false
	}

	metrics.Prefetches.Inc()
	go func() {
		if _, err := s.Acquire(s.ctx, key, content); err != nil {
			s.log.Debug().Err(err).Str("key", key.String()).Msg("prefetch failed")
		}
	}()
	return true
}

// Len returns the number of cached entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

// Calls returns how many external synthesis calls were made.
func (s *Session) Calls() int64 {
	return s.calls.Load()
}

// Dispose cancels in-flight synthesis and releases every entry.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.cancel()
	s.cache = make(map[Key]*AudioHandle)
	s.prefetched = make(map[Key]struct{})
	s.log.Debug().Msg("audio session disposed")
}
