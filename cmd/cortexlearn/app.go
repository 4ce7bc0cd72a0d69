package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexlearn/internal/config"
	"github.com/normanking/cortexlearn/internal/logging"
)

// defaultConfigPath is used when --config is not given.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".cortexlearn", "config.yaml")
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return defaultConfigPath()
}

// loadConfig reads the configuration with a bootstrap logger that only
// reports on stderr.
func loadConfig() (*config.Loader, *config.Config, error) {
	boot := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)
	loader := config.NewLoader(configPath(), boot)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Log.Level = string(logging.LevelDebug)
	}
	return loader, cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	logger, err := logging.New(&logging.Config{
		LogDir:     cfg.Log.Dir,
		Level:      logging.ParseLevel(cfg.Log.Level),
		MaxHistory: 500,
		Console:    cfg.Log.Console,
		Out:        os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return logger, nil
}
