package config

import (
	"os"
	"strconv"
)

// applyEnv overlays FLOWSENSE_* environment variables onto cfg. Unset
// variables leave the current value; unparseable values are ignored.
func applyEnv(cfg *Config) {
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)

	envInt("BUS_HISTORY_CAPACITY", &cfg.Bus.HistoryCapacity)
	envInt("BUS_MAX_CALL_DEPTH", &cfg.Bus.MaxCallDepth)
	envInt("BUS_MAX_CHAIN_LENGTH", &cfg.Bus.MaxChainLength)

	envInt("STATE_SNAPSHOT_CAPACITY", &cfg.State.SnapshotCapacity)
	envInt("STATE_DEBOUNCE_WINDOW_MS", &cfg.State.DebounceWindowMS)
	envString("STATE_PERSIST_DIR", &cfg.State.PersistDir)

	envInt("SESSION_CAPACITY", &cfg.Session.Capacity)
	envInt("SESSION_CLUSTER_WINDOW_MS", &cfg.Session.ClusterWindowMS)

	envInt("CLASSIFIER_WINDOW", &cfg.Classifier.Window)
	envFloat("CLASSIFIER_CONFIDENCE_FLOOR", &cfg.Classifier.ConfidenceFloor)
	envInt("CLASSIFIER_MIN_DWELL_MS", &cfg.Classifier.MinDwellMS)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
