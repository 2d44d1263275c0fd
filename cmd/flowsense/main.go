// Package main is a demonstration host for the flowsense runtime. It boots
// the plugin stack, simulates a short capture session, and reports the
// classifier's reading of it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/flowsense/internal/config"
	"github.com/dshills/flowsense/internal/event"
	"github.com/dshills/flowsense/internal/runtime"
	"github.com/dshills/flowsense/internal/session"
	"github.com/dshills/flowsense/internal/state"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		showVersion bool
		actions     int
	)
	flag.StringVar(&configPath, "config", "", "path to configuration file")
	flag.StringVar(&configPath, "c", "", "path to configuration file (shorthand)")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.IntVar(&actions, "actions", 40, "number of simulated actions")
	flag.Parse()

	if showVersion {
		fmt.Printf("flowsense %s (%s)\n", version, commit)
		return 0
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	log := cfg.Logger()

	bus := event.New(
		event.WithHistoryCapacity(cfg.Bus.HistoryCapacity),
		event.WithBreakerLimits(event.BreakerLimits{
			MaxCallDepth:   cfg.Bus.MaxCallDepth,
			MaxChainLength: cfg.Bus.MaxChainLength,
		}),
	)

	storeOpts := []state.StoreOption{
		state.WithSnapshotCapacity(cfg.State.SnapshotCapacity),
		state.WithDebounceWindow(cfg.State.DebounceWindow()),
	}
	if cfg.State.PersistDir != "" {
		kv, err := state.NewFileKV(cfg.State.PersistDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: persist dir: %v\n", err)
			return 1
		}
		storeOpts = append(storeOpts, state.WithKV(kv))
	}
	store := state.New(bus, storeOpts...)

	history := session.NewHistory(cfg.Session.Capacity)
	classifier := session.NewClassifier(history, bus,
		session.WithWindow(cfg.Classifier.Window),
		session.WithConfidenceFloor(cfg.Classifier.ConfidenceFloor),
		session.WithMinDwell(cfg.Classifier.MinDwell()),
		session.WithClassifierLogger(log.WithField("component", "classifier")),
	)

	rt := runtime.New(bus, store, history,
		runtime.WithLogger(log.WithField("component", "runtime")),
		runtime.WithClassifier(classifier),
	)

	if configPath != "" {
		watcher, err := config.Watch(configPath, bus,
			config.WithWatchLogger(log.WithField("component", "config")))
		if err != nil {
			log.WithError(err).Warn("config live reload unavailable")
		} else {
			defer watcher.Close()
		}
	}

	if err := registerPlugins(rt); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if err := rt.Init(ctx); err != nil {
		var degraded *runtime.DegradedError
		if errors.As(err, &degraded) {
			log.WithError(err).Warn("booting degraded")
		} else {
			fmt.Fprintf(os.Stderr, "Error: init: %v\n", err)
			return 1
		}
	}
	if err := rt.WaitDeferred(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: deferred init: %v\n", err)
		return 1
	}
	if err := rt.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: start: %v\n", err)
		return 1
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		defer close(done)
		simulate(ctx, rt, actions)
	}()

	select {
	case <-done:
	case sig := <-signals:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	report(log, history, classifier, bus)

	if cfg.State.PersistDir != "" {
		if err := store.Persist(ctx, "session"); err != nil {
			log.WithError(err).Warn("persist failed")
		}
	}

	if err := rt.Destroy(ctx); err != nil {
		log.WithError(err).Warn("destroy reported errors")
	}
	return 0
}

// simulate feeds the runtime a plausible interaction stream: a steady run,
// a frustration burst, then recovery.
func simulate(ctx context.Context, rt *runtime.Runtime, total int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for i := 0; i < total; i++ {
		burst := i >= total/3 && i < total/2
		a := session.Action{
			Type:     pickType(rng, burst),
			Duration: time.Duration(20+rng.Intn(80)) * time.Millisecond,
			Success:  !burst || rng.Float64() < 0.2,
			Start:    session.Point{X: rng.Float64() * 800, Y: rng.Float64() * 600},
		}
		a.End = session.Point{X: a.Start.X + rng.Float64()*50, Y: a.Start.Y + rng.Float64()*50}
		rt.RecordAction(ctx, a)
		time.Sleep(time.Duration(10+rng.Intn(30)) * time.Millisecond)
	}
}

func pickType(rng *rand.Rand, burst bool) string {
	if burst {
		return "key"
	}
	types := []string{"key", "gesture:swipe", "gesture:tap", "voice"}
	return types[rng.Intn(len(types))]
}

func report(log *logrus.Logger, history *session.History, classifier *session.Classifier, bus *event.Bus) {
	metrics := history.Metrics(0)
	clusters := history.ErrorClusters(0)
	stats := bus.Stats()

	log.WithFields(logrus.Fields{
		"actions":      metrics.Total,
		"error_rate":   fmt.Sprintf("%.2f", metrics.ErrorRate),
		"variety":      fmt.Sprintf("%.2f", metrics.ActionVariety),
		"clusters":     clusters.TotalClusters,
		"max_cluster":  clusters.MaxClusterSize,
		"state":        classifier.Current(),
		"events":       stats.EventsPublished,
		"deliveries":   stats.EventsDelivered,
		"handler_errs": stats.HandlerErrors,
	}).Info("session report")
}
