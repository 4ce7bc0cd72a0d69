// Package config loads cortexlearn settings from a YAML file with
// CORTEXLEARN_* environment overrides, and reloads them on change.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/normanking/cortexlearn/internal/lesson"
	"github.com/normanking/cortexlearn/internal/playback"
	"github.com/normanking/cortexlearn/internal/sensing"
	"github.com/normanking/cortexlearn/internal/tts"
	"github.com/normanking/cortexlearn/internal/tutor"
	"github.com/normanking/cortexlearn/internal/voice"
)

// EnvPrefix prefixes environment overrides, e.g. CORTEXLEARN_SERVER_ADDR.
const EnvPrefix = "CORTEXLEARN"

// Config holds all application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Sensing  sensing.Config `mapstructure:"sensing" yaml:"sensing"`
	Lesson   LessonConfig   `mapstructure:"lesson" yaml:"lesson"`
	Playback PlaybackConfig `mapstructure:"playback" yaml:"playback"`
	TTS      tts.Config     `mapstructure:"tts" yaml:"tts"`
	Voice    VoiceConfig    `mapstructure:"voice" yaml:"voice"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level   string `mapstructure:"level" yaml:"level"`
	Dir     string `mapstructure:"dir" yaml:"dir"` // empty disables file output
	Console bool   `mapstructure:"console" yaml:"console"`
}

// LessonConfig points at lesson content and sets machine timing.
type LessonConfig struct {
	Path        string        `mapstructure:"path" yaml:"path"`
	BreakResume time.Duration `mapstructure:"break_resume" yaml:"break_resume"`
}

// PlaybackConfig is the scheduler timing plus the synthesis call bound.
type PlaybackConfig struct {
	playback.Config  `mapstructure:",squash" yaml:",inline"`
	SynthesisTimeout time.Duration `mapstructure:"synthesis_timeout" yaml:"synthesis_timeout"`
}

// VoiceConfig configures transcript resolution.
type VoiceConfig struct {
	FillerWords []string `mapstructure:"filler_words" yaml:"filler_words"`
}

// ServerConfig configures the HTTP and WebSocket listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// AllowedOrigins for /ws/sense; empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
}

// RedisConfig configures the optional event stream publisher.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password,omitempty"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
	MaxLen   int64  `mapstructure:"max_len" yaml:"max_len"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// Default returns a configuration with production defaults.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Log: LogConfig{
			Level:   "info",
			Dir:     filepath.Join(home, ".cortexlearn", "logs"),
			Console: true,
		},
		Sensing: sensing.DefaultConfig(),
		Lesson: LessonConfig{
			Path:        "lessons/channels.yaml",
			BreakResume: lesson.DefaultBreakResume,
		},
		Playback: PlaybackConfig{
			Config:           playback.DefaultConfig(),
			SynthesisTimeout: playback.DefaultSessionConfig().Timeout,
		},
		TTS:   tts.DefaultConfig(),
		Voice: VoiceConfig{FillerWords: append([]string(nil), voice.DefaultFillerWords...)},
		Server: ServerConfig{
			Addr:            ":8090",
			ReadTimeout:     10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "cortexlearn:events",
			MaxLen: 10000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// setDefaults registers every key so environment overrides apply even
// when the file omits them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.dir", cfg.Log.Dir)
	v.SetDefault("log.console", cfg.Log.Console)

	v.SetDefault("sensing.window", cfg.Sensing.Window)
	v.SetDefault("sensing.max_deviation", cfg.Sensing.MaxDeviation)
	v.SetDefault("sensing.away_attention", cfg.Sensing.AwayAttention)
	v.SetDefault("sensing.away_deviation", cfg.Sensing.AwayDeviation)
	v.SetDefault("sensing.confused_brow", cfg.Sensing.ConfusedBrow)
	v.SetDefault("sensing.confused_eye", cfg.Sensing.ConfusedEye)
	v.SetDefault("sensing.engaged_at", cfg.Sensing.EngagedAt)
	v.SetDefault("sensing.bored_at", cfg.Sensing.BoredAt)
	v.SetDefault("sensing.break_after", cfg.Sensing.BreakAfter)

	v.SetDefault("lesson.path", cfg.Lesson.Path)
	v.SetDefault("lesson.break_resume", cfg.Lesson.BreakResume)

	v.SetDefault("playback.fallback_word_interval", cfg.Playback.FallbackWordInterval)
	v.SetDefault("playback.settle_delay", cfg.Playback.SettleDelay)
	v.SetDefault("playback.reveal_tick", cfg.Playback.RevealTick)
	v.SetDefault("playback.prefetch", cfg.Playback.Prefetch)
	v.SetDefault("playback.synthesis_timeout", cfg.Playback.SynthesisTimeout)

	v.SetDefault("tts.provider", cfg.TTS.Provider)
	v.SetDefault("tts.voice", cfg.TTS.Voice)
	v.SetDefault("tts.model", cfg.TTS.Model)
	v.SetDefault("tts.speed", cfg.TTS.Speed)
	v.SetDefault("tts.api_key", cfg.TTS.APIKey)
	v.SetDefault("tts.base_url", cfg.TTS.BaseURL)
	v.SetDefault("tts.timeout", cfg.TTS.Timeout)
	v.SetDefault("tts.mp3_kbps", cfg.TTS.MP3Kbps)
	v.SetDefault("tts.words_per_minute", cfg.TTS.WordsPerMinute)

	v.SetDefault("voice.filler_words", cfg.Voice.FillerWords)

	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)

	v.SetDefault("redis.enabled", cfg.Redis.Enabled)
	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.password", cfg.Redis.Password)
	v.SetDefault("redis.db", cfg.Redis.DB)
	v.SetDefault("redis.stream", cfg.Redis.Stream)
	v.SetDefault("redis.max_len", cfg.Redis.MaxLen)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.path", cfg.Metrics.Path)
}

// Loader reads one configuration file and can watch it for changes.
type Loader struct {
	v    *viper.Viper
	path string
	log  zerolog.Logger

	mu      sync.Mutex
	current *Config
}

// NewLoader creates a loader for path. An empty path uses defaults and
// environment only.
func NewLoader(path string, log zerolog.Logger) *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	if path != "" {
		v.SetConfigFile(expandPath(path))
	}
	return &Loader{v: v, path: path, log: log.With().Str("component", "config").Logger()}
}

// Load reads the file (if any) and returns the validated configuration.
// A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			l.log.Debug().Str("path", l.path).Msg("config file not found, using defaults")
		}
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Log.Dir = expandPath(cfg.Log.Dir)
	cfg.Lesson.Path = expandPath(cfg.Lesson.Path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Watch calls fn with the new configuration each time the file changes.
// Invalid edits are logged and skipped; the previous configuration stays
// current.
func (l *Loader) Watch(fn func(*Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.decode()
		if err != nil {
			l.log.Warn().Err(err).Str("file", e.Name).Msg("config change rejected")
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		l.log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Load reads path with environment overrides.
func Load(path string) (*Config, error) {
	return NewLoader(path, zerolog.Nop()).Load()
}

// Validate checks ranges the components rely on.
func (c *Config) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}
	if c.Sensing.Window <= 0 {
		return fmt.Errorf("sensing.window must be positive")
	}
	if c.Sensing.BreakAfter < 0 {
		return fmt.Errorf("sensing.break_after cannot be negative")
	}
	if c.Lesson.BreakResume < 0 {
		return fmt.Errorf("lesson.break_resume cannot be negative")
	}
	if c.Playback.FallbackWordInterval <= 0 || c.Playback.RevealTick <= 0 {
		return fmt.Errorf("playback.fallback_word_interval and playback.reveal_tick must be positive")
	}
	if c.Playback.SettleDelay < 0 {
		return fmt.Errorf("playback.settle_delay cannot be negative")
	}
	if c.Playback.SynthesisTimeout <= 0 {
		return fmt.Errorf("playback.synthesis_timeout must be positive")
	}
	switch c.TTS.Provider {
	case "openai", "silence":
	default:
		return fmt.Errorf("invalid tts.provider '%s', must be 'openai' or 'silence'", c.TTS.Provider)
	}
	if c.Redis.Enabled && c.Redis.Stream == "" {
		return fmt.Errorf("redis.stream cannot be empty when redis is enabled")
	}
	return nil
}

// Tutor returns the session configuration.
func (c *Config) Tutor() tutor.Config {
	return tutor.Config{
		Sensing:  c.Sensing,
		Machine:  lesson.MachineConfig{BreakResume: c.Lesson.BreakResume},
		Playback: c.Playback.Config,
		Audio: playback.SessionConfig{
			Voice:   c.TTS.Voice,
			Timeout: c.Playback.SynthesisTimeout,
			MP3Kbps: c.TTS.MP3Kbps,
		},
		FillerWords: c.Voice.FillerWords,
	}
}

// YAML renders the configuration. Secrets are masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	if out.TTS.APIKey != "" {
		out.TTS.APIKey = "****"
	}
	if out.Redis.Password != "" {
		out.Redis.Password = "****"
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
