// Package tts provides the speech synthesis collaborator used for lesson
// narration.
package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Common errors
var (
	ErrProviderUnavailable = errors.New("TTS provider unavailable")
	ErrEmptyText           = errors.New("nothing to synthesize")
	ErrEmptyAudio          = errors.New("synthesis returned no audio")
	ErrUnknownFormat       = errors.New("cannot determine audio duration")
	ErrUnknownProvider     = errors.New("unknown TTS provider")
)

// Provider is the interface all TTS providers must implement
type Provider interface {
	// Name returns the provider identifier (e.g., "openai", "silence")
	Name() string

	// Synthesize converts text to audio
	Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error)

	// Health checks if the provider is available
	Health(ctx context.Context) error
}

// SynthesizeRequest represents a synthesis request
type SynthesizeRequest struct {
	Text    string  `json:"text"`
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed,omitempty"` // 0.25 to 4.0, 0 for provider default
}

// SynthesizeResponse represents a synthesis result
type SynthesizeResponse struct {
	Audio      []byte `json:"audio"`
	Format     string `json:"format"` // wav, mp3
	SampleRate int    `json:"sample_rate"`
	// Duration is set when the provider knows it; see Duration for estimates.
	Duration       time.Duration `json:"duration"`
	ProcessingTime time.Duration `json:"processing_time"`
	VoiceID        string        `json:"voice_id"`
	Provider       string        `json:"provider"`
}

// Config holds TTS configuration
type Config struct {
	Provider string        `mapstructure:"provider" yaml:"provider"` // openai or silence
	Voice    string        `mapstructure:"voice" yaml:"voice"`
	Model    string        `mapstructure:"model" yaml:"model"`
	Speed    float64       `mapstructure:"speed" yaml:"speed"`
	APIKey   string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL  string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// MP3Kbps is the bitrate assumed when estimating MP3 duration.
	MP3Kbps int `mapstructure:"mp3_kbps" yaml:"mp3_kbps"`
	// WordsPerMinute paces the silence provider.
	WordsPerMinute int `mapstructure:"words_per_minute" yaml:"words_per_minute"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       "openai",
		Voice:          VoiceNova,
		Model:          "tts-1",
		Speed:          1.0,
		BaseURL:        DefaultOpenAIBaseURL,
		Timeout:        30 * time.Second,
		MP3Kbps:        128,
		WordsPerMinute: 150,
	}
}

// NewProvider builds the provider named by cfg.Provider.
func NewProvider(cfg Config, logger zerolog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(logger, &OpenAIConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			Model:        cfg.Model,
			DefaultVoice: cfg.Voice,
			Speed:        cfg.Speed,
			Timeout:      cfg.Timeout,
		}), nil
	case "silence":
		return NewSilenceProvider(cfg.WordsPerMinute), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
