package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dshills/flowsense/internal/event"
	"github.com/dshills/flowsense/internal/runtime"
	"github.com/dshills/flowsense/internal/runtime/luaplug"
	"github.com/dshills/flowsense/internal/session"
	"github.com/dshills/flowsense/internal/state"
)

func registerPlugins(rt *runtime.Runtime) error {
	capture := &capturePlugin{}
	if err := rt.Register(capture, runtime.WithPriority(120)); err != nil {
		return fmt.Errorf("register capture: %w", err)
	}

	reporter := &reporterPlugin{}
	if err := rt.Register(reporter, runtime.WithPriority(40)); err != nil {
		return fmt.Errorf("register reporter: %w", err)
	}

	mood, err := luaplug.New("mood-light", moodScript)
	if err != nil {
		return fmt.Errorf("build mood-light: %w", err)
	}
	if err := rt.Register(mood, runtime.WithPriority(30)); err != nil {
		return fmt.Errorf("register mood-light: %w", err)
	}
	return nil
}

// capturePlugin seeds capture settings into shared state and throttles
// them when the user turns frustrated.
type capturePlugin struct {
	rc  *runtime.Context
	sub *event.Subscription
}

func (p *capturePlugin) Name() string { return "capture" }

func (p *capturePlugin) Init(ctx context.Context, rc *runtime.Context) error {
	p.rc = rc
	rc.State.SetTree(ctx, map[string]any{
		"capture": map[string]any{
			"sample_rate_hz": 120,
			"gestures":       true,
			"voice":          true,
		},
	})
	return nil
}

func (p *capturePlugin) Start(ctx context.Context) error {
	sub, err := p.rc.Bus.Subscribe(session.TopicStateChange, event.HandlerFunc(
		func(ctx context.Context, ev event.Event) error {
			change, ok := ev.Payload.(session.StateChange)
			if !ok {
				return nil
			}
			// Back off the capture rate while the user is struggling.
			rate := 120
			if change.To == session.StateFrustrated {
				rate = 30
			}
			p.rc.State.Set(ctx, "capture.sample_rate_hz", rate)
			return nil
		}))
	if err != nil {
		return err
	}
	p.sub = sub
	return nil
}

func (p *capturePlugin) Stop(ctx context.Context) error {
	if p.sub != nil {
		p.sub.Cancel()
	}
	return nil
}

// reporterPlugin logs cognitive state transitions and capture changes.
type reporterPlugin struct {
	rc      *runtime.Context
	sub     *event.Subscription
	watcher *state.Watcher
}

func (p *reporterPlugin) Name() string { return "reporter" }

func (p *reporterPlugin) Init(ctx context.Context, rc *runtime.Context) error {
	p.rc = rc
	return nil
}

func (p *reporterPlugin) Start(ctx context.Context) error {
	sub, err := p.rc.Bus.Subscribe(session.TopicStateChange, event.HandlerFunc(
		func(ctx context.Context, ev event.Event) error {
			if change, ok := ev.Payload.(session.StateChange); ok {
				p.rc.Log.WithFields(logrus.Fields{
					"from":       change.From,
					"to":         change.To,
					"confidence": fmt.Sprintf("%.2f", change.Confidence),
				}).Info("cognitive state")
			}
			return nil
		}))
	if err != nil {
		return err
	}
	p.sub = sub

	p.watcher = p.rc.State.Watch("capture", func(path string, value any) {
		p.rc.Log.WithFields(logrus.Fields{"path": path, "value": value}).Debug("capture settings changed")
	})
	return nil
}

func (p *reporterPlugin) Stop(ctx context.Context) error {
	if p.sub != nil {
		p.sub.Cancel()
	}
	if p.watcher != nil {
		p.watcher.Cancel()
	}
	return nil
}

// moodScript mirrors the classifier's verdict into shared state so other
// plugins can read it without subscribing.
const moodScript = `
function init()
	flowsense.state_set("mood.current", "neutral")
end

function start()
	flowsense.emit("plugin:mood-light:online")
end

function stop()
	flowsense.state_set("mood.current", "offline")
end
`
