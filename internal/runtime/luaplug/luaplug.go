// Package luaplug adapts a Lua script into a runtime plugin. The script
// declares optional global functions init, start, stop, and destroy; a
// missing global is a no-op for that phase.
//
// gopher-lua's LState is not goroutine-safe. All hook calls go through the
// plugin's mutex, so a luaplug plugin is safe to drive from the runtime
// even when its init runs on the critical worker pool.
package luaplug

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/flowsense/internal/event"
	"github.com/dshills/flowsense/internal/runtime"
)

// Hook globals looked up in the script.
const (
	hookInit    = "init"
	hookStart   = "start"
	hookStop    = "stop"
	hookDestroy = "destroy"
)

// Plugin runs a Lua script through the runtime lifecycle. The script is
// loaded once at Init; its hook globals are then invoked per phase.
type Plugin struct {
	name    string
	script  string
	timeout time.Duration

	mu     sync.Mutex
	state  *lua.LState
	rc     *runtime.Context
	closed bool
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithInitTimeout bounds the plugin's init phase.
func WithInitTimeout(d time.Duration) Option {
	return func(p *Plugin) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New creates a Lua-backed plugin from script source.
func New(name, script string, opts ...Option) (*Plugin, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if script == "" {
		return nil, ErrEmptyScript
	}
	p := &Plugin{name: name, script: script}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements runtime.Plugin.
func (p *Plugin) Name() string { return p.name }

// InitTimeout reports the configured init bound, 0 when unset.
func (p *Plugin) InitTimeout() time.Duration { return p.timeout }

// Init loads the script into a fresh sandboxed state, installs the
// flowsense module, and runs the script body plus its init hook.
func (p *Plugin) Init(ctx context.Context, rc *runtime.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	openSafeLibraries(L)
	p.state = L
	p.rc = rc
	p.installModule(L, rc)

	if err := doWithRecovery(func() error { return L.DoString(p.script) }); err != nil {
		L.Close()
		p.state = nil
		return fmt.Errorf("script load: %w", err)
	}
	return p.callHook(hookInit)
}

// Start implements runtime.Starter.
func (p *Plugin) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callHook(hookStart)
}

// Stop implements runtime.Stopper.
func (p *Plugin) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callHook(hookStop)
}

// Destroy implements runtime.Destroyer. The Lua state is released even
// when the destroy hook fails.
func (p *Plugin) Destroy(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	err := p.callHook(hookDestroy)
	if p.state != nil {
		p.state.Close()
		p.state = nil
	}
	p.closed = true
	return err
}

// callHook invokes a global hook function if the script defines one.
// Caller holds p.mu.
func (p *Plugin) callHook(name string) error {
	if p.state == nil {
		return ErrNotLoaded
	}

	fn := p.state.GetGlobal(name)
	if fn == lua.LNil {
		return nil
	}
	if fn.Type() != lua.LTFunction {
		return fmt.Errorf("%w: global %q is %s", ErrBadHook, name, fn.Type())
	}

	return doWithRecovery(func() error {
		return p.state.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true})
	})
}

// installModule exposes the runtime surface as a flowsense global table:
// emit(topic, payload?), state_set(path, value), state_get(path),
// record(type, success, duration_ms), log(msg).
func (p *Plugin) installModule(L *lua.LState, rc *runtime.Context) {
	funcs := map[string]lua.LGFunction{
		"emit": func(L *lua.LState) int {
			topic := event.Topic(L.CheckString(1))
			var payload any
			if L.GetTop() >= 2 {
				payload = fromLua(L.Get(2))
			}
			delivered := rc.Bus.PublishFrom(p.name, topic, payload)
			L.Push(lua.LBool(delivered))
			return 1
		},
		"state_set": func(L *lua.LState) int {
			path := L.CheckString(1)
			value := fromLua(L.Get(2))
			rc.State.Set(context.Background(), path, value)
			return 0
		},
		"state_get": func(L *lua.LState) int {
			path := L.CheckString(1)
			value, ok := rc.State.Get(path)
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(toLua(L, value))
			return 1
		},
		"record": func(L *lua.LState) int {
			rc.Sessions.Add(sessionAction(
				L.CheckString(1),
				L.CheckBool(2),
				time.Duration(L.OptNumber(3, 0))*time.Millisecond,
			))
			return 0
		},
		"log": func(L *lua.LState) int {
			rc.Log.Info(L.CheckString(1))
			return 0
		},
	}
	mod := L.SetFuncs(L.NewTable(), funcs)
	L.SetGlobal("flowsense", mod)
}

// openSafeLibraries opens base, table, string, and math. io, os, debug,
// and package stay closed.
func openSafeLibraries(L *lua.LState) {
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
}

func doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}
