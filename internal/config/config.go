package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/sirupsen/logrus"
)

// EnvPrefix is the prefix of recognized environment overrides.
const EnvPrefix = "FLOWSENSE_"

// Config is the full flowsense configuration.
type Config struct {
	Logging    LoggingConfig    `toml:"logging"`
	Bus        BusConfig        `toml:"bus"`
	State      StateConfig      `toml:"state"`
	Session    SessionConfig    `toml:"session"`
	Classifier ClassifierConfig `toml:"classifier"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is a logrus level name ("debug", "info", "warn", "error").
	Level string `toml:"level"`

	// Format selects "text" or "json" output.
	Format string `toml:"format"`
}

// BusConfig tunes the event bus.
type BusConfig struct {
	HistoryCapacity int `toml:"history_capacity"`
	MaxCallDepth    int `toml:"max_call_depth"`
	MaxChainLength  int `toml:"max_chain_length"`
}

// StateConfig tunes the state store.
type StateConfig struct {
	SnapshotCapacity int `toml:"snapshot_capacity"`

	// DebounceWindowMS is the default debounced-watcher window.
	DebounceWindowMS int `toml:"debounce_window_ms"`

	// PersistDir is where file-backed snapshots land; empty keeps
	// persistence in memory.
	PersistDir string `toml:"persist_dir"`
}

// SessionConfig tunes the action history.
type SessionConfig struct {
	Capacity        int `toml:"capacity"`
	ClusterWindowMS int `toml:"cluster_window_ms"`
}

// ClassifierConfig tunes the cognitive state classifier.
type ClassifierConfig struct {
	Window          int     `toml:"window"`
	ConfidenceFloor float64 `toml:"confidence_floor"`
	MinDwellMS      int     `toml:"min_dwell_ms"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Bus: BusConfig{
			HistoryCapacity: 150,
			MaxCallDepth:    100,
			MaxChainLength:  50,
		},
		State: StateConfig{
			SnapshotCapacity: 50,
			DebounceWindowMS: 16,
		},
		Session: SessionConfig{
			Capacity:        75,
			ClusterWindowMS: 5000,
		},
		Classifier: ClassifierConfig{
			Window:          20,
			ConfidenceFloor: 0.5,
			MinDwellMS:      2000,
		},
	}
}

// Load resolves configuration from defaults, then the TOML file at path
// when it exists, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file falls through to defaults.
		case err != nil:
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level %q", ErrInvalidValue, c.Logging.Level)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format %q", ErrInvalidValue, c.Logging.Format)
	}

	positives := []struct {
		name  string
		value int
	}{
		{"bus.history_capacity", c.Bus.HistoryCapacity},
		{"bus.max_call_depth", c.Bus.MaxCallDepth},
		{"bus.max_chain_length", c.Bus.MaxChainLength},
		{"state.snapshot_capacity", c.State.SnapshotCapacity},
		{"session.capacity", c.Session.Capacity},
		{"classifier.window", c.Classifier.Window},
	}
	for _, p := range positives {
		if p.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidValue, p.name, p.value)
		}
	}

	if c.Classifier.ConfidenceFloor <= 0 || c.Classifier.ConfidenceFloor > 1 {
		return fmt.Errorf("%w: classifier.confidence_floor %v out of (0,1]",
			ErrInvalidValue, c.Classifier.ConfidenceFloor)
	}
	return nil
}

// Logger builds a logrus logger from the logging section.
func (c Config) Logger() *logrus.Logger {
	log := logrus.New()
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	if c.Logging.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// DebounceWindow returns the state debounce window as a duration.
func (c StateConfig) DebounceWindow() time.Duration {
	return time.Duration(c.DebounceWindowMS) * time.Millisecond
}

// ClusterWindow returns the error cluster window as a duration.
func (c SessionConfig) ClusterWindow() time.Duration {
	return time.Duration(c.ClusterWindowMS) * time.Millisecond
}

// MinDwell returns the classifier dwell as a duration.
func (c ClassifierConfig) MinDwell() time.Duration {
	return time.Duration(c.MinDwellMS) * time.Millisecond
}
