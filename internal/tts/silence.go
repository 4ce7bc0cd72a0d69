package tts

import (
	"context"
	"strings"
	"time"
)

const silenceSampleRate = 8000

// SilenceProvider produces silent WAV audio whose length follows the word
// count. It needs no network and is used for development and simulation.
type SilenceProvider struct {
	wordsPerMinute int
}

// NewSilenceProvider paces output at wpm words per minute (150 if <= 0).
func NewSilenceProvider(wpm int) *SilenceProvider {
	if wpm <= 0 {
		wpm = 150
	}
	return &SilenceProvider{wordsPerMinute: wpm}
}

// Name returns the provider identifier
func (p *SilenceProvider) Name() string { return "silence" }

// Health always succeeds.
func (p *SilenceProvider) Health(ctx context.Context) error { return nil }

// Synthesize returns silence lasting one word interval per word, scaled by
// req.Speed.
func (p *SilenceProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := len(strings.Fields(req.Text))
	if words == 0 {
		return nil, ErrEmptyText
	}

	perWord := time.Minute / time.Duration(p.wordsPerMinute)
	d := time.Duration(words) * perWord
	if req.Speed > 0 {
		d = time.Duration(float64(d) / req.Speed)
	}

	samples := int(d.Seconds() * silenceSampleRate)
	pcm := make([]byte, samples*2)
	return &SynthesizeResponse{
		Audio:      EncodeWAV(pcm, silenceSampleRate, 1, 16),
		Format:     "wav",
		SampleRate: silenceSampleRate,
		Duration:   d,
		VoiceID:    req.VoiceID,
		Provider:   p.Name(),
	}, nil
}
