package playback

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Player plays one loaded handle at a time.
type Player interface {
	// Load replaces the current audio. onEnded fires once when playback
	// reaches the end; it is dropped by Stop or another Load.
	Load(h *AudioHandle, onEnded func())
	Play()
	Pause()
	Stop()
	Seek(pos time.Duration)
	Position() time.Duration
}

// ClockPlayer tracks playback position against a clock without producing
// sound. The presentation layer plays the bytes; the server follows this
// position.
type ClockPlayer struct {
	mu    sync.Mutex
	clock clock.Clock

	handle    *AudioHandle
	onEnded   func()
	playing   bool
	offset    time.Duration
	startedAt time.Time
	timer     *clock.Timer
	gen       uint64
}

// NewClockPlayer creates a player on clk (real time if nil).
func NewClockPlayer(clk clock.Clock) *ClockPlayer {
	if clk == nil {
		clk = clock.New()
	}
	return &ClockPlayer{clock: clk}
}

// Load implements Player.
func (p *ClockPlayer) Load(h *AudioHandle, onEnded func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.handle = h
	p.onEnded = onEnded
}

// Play implements Player.
func (p *ClockPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil || p.playing || p.offset >= p.handle.Duration {
		return
	}
	p.playing = true
	p.startedAt = p.clock.Now()
	p.armLocked()
}

// Pause implements Player.
func (p *ClockPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.offset = p.positionLocked()
	p.playing = false
	p.disarmLocked()
}

// Stop implements Player.
func (p *ClockPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	p.handle = nil
	p.onEnded = nil
}

// Seek implements Player.
func (p *ClockPlayer) Seek(pos time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handle == nil {
		return
	}
	if pos < 0 {
		pos = 0
	}
	if pos > p.handle.Duration {
		pos = p.handle.Duration
	}
	p.offset = pos
	if p.playing {
		p.startedAt = p.clock.Now()
		p.disarmLocked()
		p.armLocked()
	}
}

// Position implements Player.
func (p *ClockPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

// Playing reports whether the player is advancing.
func (p *ClockPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *ClockPlayer) positionLocked() time.Duration {
	if p.handle == nil {
		return 0
	}
	pos := p.offset
	if p.playing {
		pos += p.clock.Since(p.startedAt)
	}
	if pos > p.handle.Duration {
		pos = p.handle.Duration
	}
	return pos
}

func (p *ClockPlayer) armLocked() {
	p.gen++
	gen := p.gen
	p.timer = p.clock.AfterFunc(p.handle.Duration-p.offset, func() { p.ended(gen) })
}

func (p *ClockPlayer) disarmLocked() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *ClockPlayer) resetLocked() {
	p.disarmLocked()
	p.playing = false
	p.offset = 0
}

func (p *ClockPlayer) ended(gen uint64) {
	p.mu.Lock()
	if gen != p.gen || !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.offset = p.handle.Duration
	p.timer = nil
	fn := p.onEnded
	p.onEnded = nil
	p.mu.Unlock()

	if fn != nil {
		fn()
	}
}
