// Package sensing fuses per-frame gaze and face metrics into windowed
// attention and engagement snapshots.
package sensing

import (
	"time"

	"github.com/normanking/cortexlearn/internal/voice"
)

// GazeSample is one gaze estimate. X and Y are normalized ratios where
// (0.5, 0.5) is the screen center.
type GazeSample struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Blinking  bool      `json:"blinking,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FaceSample holds per-frame expression metrics, each in [0,1].
type FaceSample struct {
	EyeOpenness         float64   `json:"eyeOpenness"`
	BrowFurrow          float64   `json:"browFurrow"`
	ForwardLean         float64   `json:"forwardLean"`
	Smile               float64   `json:"smile"`
	HorizontalDeviation float64   `json:"horizontalDeviation"`
	Timestamp           time.Time `json:"timestamp"`
}

// State is a fused snapshot. Values are replaced wholesale, never patched.
type State struct {
	// GazeAttention is 0-100, rounded to one decimal.
	GazeAttention float64 `json:"gazeAttention"`
	// FaceEngagement is 0-1, rounded to one decimal on the 0-100 scale.
	FaceEngagement float64 `json:"faceEngagement"`

	LookingAway bool `json:"lookingAway"`
	Confused    bool `json:"confused"`
	Engaged     bool `json:"engaged"`
	Bored       bool `json:"bored"`

	LastVoiceCommand voice.Command `json:"lastVoiceCommand,omitempty"`
	Timestamp        time.Time     `json:"timestamp"`

	// Sample counts of the window this snapshot was fused from.
	GazeSamples int `json:"gazeSamples"`
	FaceSamples int `json:"faceSamples"`
}

// HasCommand reports whether the snapshot carries a voice command.
func (s State) HasCommand() bool {
	return s.LastVoiceCommand != voice.CommandNone
}

// Config holds windowing and threshold settings.
type Config struct {
	// Window is the aggregation interval.
	Window time.Duration `mapstructure:"window" yaml:"window"`
	// MaxDeviation maps horizontal deviation onto the look-center term:
	// deviation >= MaxDeviation scores zero.
	MaxDeviation float64 `mapstructure:"max_deviation" yaml:"max_deviation"`
	// AwayAttention: window gaze attention below this means looking away.
	AwayAttention float64 `mapstructure:"away_attention" yaml:"away_attention"`
	// AwayDeviation: mean horizontal deviation above this means looking away.
	AwayDeviation float64 `mapstructure:"away_deviation" yaml:"away_deviation"`
	ConfusedBrow  float64 `mapstructure:"confused_brow" yaml:"confused_brow"`
	ConfusedEye   float64 `mapstructure:"confused_eye" yaml:"confused_eye"`
	EngagedAt     float64 `mapstructure:"engaged_at" yaml:"engaged_at"`
	BoredAt       float64 `mapstructure:"bored_at" yaml:"bored_at"`
	// BreakAfter is the number of consecutive distracted windows before a
	// break is suggested. Zero disables suggestions.
	BreakAfter int `mapstructure:"break_after" yaml:"break_after"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Window:        2000 * time.Millisecond,
		MaxDeviation:  0.5,
		AwayAttention: 40,
		AwayDeviation: 0.35,
		ConfusedBrow:  0.6,
		ConfusedEye:   0.5,
		EngagedAt:     0.6,
		BoredAt:       0.3,
		BreakAfter:    5,
	}
}
