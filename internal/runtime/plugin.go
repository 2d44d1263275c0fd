package runtime

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/flowsense/internal/event"
	"github.com/dshills/flowsense/internal/session"
	"github.com/dshills/flowsense/internal/state"
)

// Plugin is the minimal contract a plugin implements. Everything beyond
// Init is opt-in through the capability interfaces below; a plugin that
// does not implement one simply skips that phase.
type Plugin interface {
	// Name identifies the plugin. Must be non-empty and unique among
	// active plugins.
	Name() string

	// Init prepares the plugin. It runs before Start and receives the
	// runtime's shared collaborators.
	Init(ctx context.Context, rc *Context) error
}

// Starter is implemented by plugins with a start phase.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by plugins with a stop phase.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Destroyer is implemented by plugins that hold releasable resources.
type Destroyer interface {
	Destroy(ctx context.Context) error
}

// InitTimeouter lets a plugin bound its own init duration. An init hook
// exceeding the returned timeout fails with ErrPluginInitTimeout.
type InitTimeouter interface {
	InitTimeout() time.Duration
}

// Context is the runtime surface handed to plugin hooks.
type Context struct {
	// Bus is the shared event bus.
	Bus *event.Bus

	// State is the shared state store.
	State *state.Store

	// Sessions is the shared action history.
	Sessions *session.History

	// Log is a logger scoped to the plugin's name.
	Log *logrus.Entry
}
