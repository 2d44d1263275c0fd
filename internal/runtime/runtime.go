package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"

	"github.com/dshills/flowsense/internal/event"
	"github.com/dshills/flowsense/internal/session"
	"github.com/dshills/flowsense/internal/state"
)

// CriticalPriority is the threshold at or above which a plugin initializes
// in the concurrent critical tier. Lower priorities initialize in the
// background after core:init:complete.
const CriticalPriority = 100

// DefaultPriority is assigned when Register gets no priority option.
const DefaultPriority = 50

// DefaultPoolSize is the minimum width of the worker pool running
// critical init hooks. Init grows the pool to the size of the critical
// tier when it is wider.
const DefaultPoolSize = 4

// Lifecycle topics published by the runtime. Plugin payloads are
// PluginPayload; history:action:recorded carries the session.Action.
const (
	TopicInitStart         event.Topic = "core:init:start"
	TopicInitComplete      event.Topic = "core:init:complete"
	TopicStartBegin        event.Topic = "core:start:begin"
	TopicStartComplete     event.Topic = "core:start:complete"
	TopicStopBegin         event.Topic = "core:stop:begin"
	TopicStopComplete      event.Topic = "core:stop:complete"
	TopicDestroyBegin      event.Topic = "core:destroy:begin"
	TopicDestroyComplete   event.Topic = "core:destroy:complete"
	TopicDeferredReady     event.Topic = "core:deferred:ready"
	TopicPluginRegistered  event.Topic = "core:plugin:registered"
	TopicPluginInitialized event.Topic = "core:plugin:initialized"
	TopicPluginStarted     event.Topic = "core:plugin:started"
	TopicPluginStopped     event.Topic = "core:plugin:stopped"
	TopicPluginError       event.Topic = "core:plugin:error"
	TopicActionRecorded    event.Topic = "history:action:recorded"
)

// PluginPayload is the payload of core:plugin:* events.
type PluginPayload struct {
	Name     string
	Priority int
	State    LifecycleState
	Err      error
}

const runtimeSource = "runtime"

type phase int

const (
	phaseNew phase = iota
	phaseInitializing
	phaseInitialized
	phaseStarted
	phaseStopped
	phaseDestroyed
)

// handle pairs a plugin with its runtime bookkeeping.
type handle struct {
	plugin   Plugin
	priority int
	seq      int

	mu    sync.Mutex
	state LifecycleState
}

func (h *handle) State() LifecycleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *handle) setState(s LifecycleState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Runtime orchestrates plugin lifecycle over the shared bus, state store,
// and session history. Registration order and start order are both
// remembered so teardown can run in reverse.
type Runtime struct {
	bus        *event.Bus
	store      *state.Store
	history    *session.History
	classifier *session.Classifier
	log        *logrus.Entry

	plugins  cmap.ConcurrentMap[string, *handle]
	poolSize int

	mu           sync.Mutex
	order        []string
	startOrder   []string
	seq          int
	phase        phase
	deferredDone chan struct{}

	classifierSub *event.Subscription
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the structured logger.
func WithLogger(log *logrus.Entry) Option {
	return func(r *Runtime) {
		if log != nil {
			r.log = log
		}
	}
}

// WithClassifier attaches a classifier that re-evaluates on every
// recorded action.
func WithClassifier(c *session.Classifier) Option {
	return func(r *Runtime) {
		r.classifier = c
	}
}

// WithPoolSize sets the minimum width of the critical-tier init worker
// pool. Init still widens the pool to fit the critical tier.
func WithPoolSize(n int) Option {
	return func(r *Runtime) {
		if n > 0 {
			r.poolSize = n
		}
	}
}

// RegisterOption configures a single registration.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	priority int
}

// WithPriority sets the plugin's priority. Higher priorities initialize
// and start earlier; priorities at or above CriticalPriority join the
// concurrent critical init tier.
func WithPriority(p int) RegisterOption {
	return func(c *registerConfig) {
		c.priority = p
	}
}

// New creates a runtime over the given collaborators.
func New(bus *event.Bus, store *state.Store, history *session.History, opts ...Option) *Runtime {
	r := &Runtime{
		bus:      bus,
		store:    store,
		history:  history,
		log:      discardEntry(),
		plugins:  cmap.New[*handle](),
		poolSize: DefaultPoolSize,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.classifier != nil {
		sub, err := bus.Subscribe(TopicActionRecorded, event.HandlerFunc(
			func(ctx context.Context, ev event.Event) error {
				r.classifier.Classify(ctx)
				return nil
			}))
		if err == nil {
			r.classifierSub = sub
		}
	}
	return r
}

// Register adds a plugin. A name already held by a plugin that moved past
// registration is rejected with ErrDuplicateActive; a still-registered
// plugin of the same name is replaced in place.
func (r *Runtime) Register(p Plugin, opts ...RegisterOption) error {
	name := p.Name()
	if name == "" {
		return ErrEmptyName
	}

	cfg := registerConfig{priority: DefaultPriority}
	for _, opt := range opts {
		opt(&cfg)
	}

	r.mu.Lock()
	if r.phase == phaseDestroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	if existing, ok := r.plugins.Get(name); ok {
		if existing.State() != StateRegistered {
			r.mu.Unlock()
			return fmt.Errorf("plugin %q: %w", name, ErrDuplicateActive)
		}
		// Replacement keeps the original registration slot.
		r.plugins.Set(name, &handle{plugin: p, priority: cfg.priority, seq: existing.seq})
		r.mu.Unlock()
	} else {
		r.seq++
		r.plugins.Set(name, &handle{plugin: p, priority: cfg.priority, seq: r.seq})
		r.order = append(r.order, name)
		r.mu.Unlock()
	}

	r.log.WithFields(logrus.Fields{"plugin": name, "priority": cfg.priority}).Debug("plugin registered")
	r.bus.PublishFrom(runtimeSource, TopicPluginRegistered, PluginPayload{
		Name: name, Priority: cfg.priority, State: StateRegistered,
	})
	return nil
}

// Plugin returns a registered plugin and its current state.
func (r *Runtime) Plugin(name string) (Plugin, LifecycleState, bool) {
	h, ok := r.plugins.Get(name)
	if !ok {
		return nil, StateRegistered, false
	}
	return h.plugin, h.State(), true
}

// States returns a snapshot of every plugin's state keyed by name.
func (r *Runtime) States() map[string]LifecycleState {
	states := make(map[string]LifecycleState, r.plugins.Count())
	for name, h := range r.plugins.Items() {
		states[name] = h.State()
	}
	return states
}

// Init runs every critical plugin's init hook concurrently, then kicks off
// the deferred tier in the background. Critical failures are isolated: the
// rest of the tier still initializes and the runtime stays usable, but a
// DegradedError naming the failures is returned.
func (r *Runtime) Init(ctx context.Context) error {
	r.mu.Lock()
	switch r.phase {
	case phaseNew:
	case phaseDestroyed:
		r.mu.Unlock()
		return ErrDestroyed
	default:
		r.mu.Unlock()
		return ErrAlreadyInitialized
	}
	r.phase = phaseInitializing
	r.deferredDone = make(chan struct{})
	critical, deferred := r.tiers()
	r.mu.Unlock()

	r.bus.PublishFrom(runtimeSource, TopicInitStart, nil)

	failures := make(map[string]error)
	var failMu sync.Mutex
	record := func(name string, err error) {
		failMu.Lock()
		failures[name] = err
		failMu.Unlock()
	}

	// The pool must be at least as wide as the critical tier so every
	// critical init hook runs concurrently. Hooks that rendezvous with
	// each other would otherwise deadlock behind a full pool.
	size := r.poolSize
	if len(critical) > size {
		size = len(critical)
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		r.abortInit()
		return fmt.Errorf("init worker pool: %w", err)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for _, h := range critical {
		h := h
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if err := r.initPlugin(ctx, h); err != nil {
				record(h.plugin.Name(), err)
			}
		}
		if err := pool.Submit(task); err != nil {
			wg.Done()
			h.setState(StateErrored)
			record(h.plugin.Name(), fmt.Errorf("%w: %w", ErrPluginInitFailure, err))
		}
	}
	wg.Wait()

	r.mu.Lock()
	r.phase = phaseInitialized
	r.mu.Unlock()
	r.bus.PublishFrom(runtimeSource, TopicInitComplete, nil)

	bg := context.WithoutCancel(ctx)
	done := r.deferredDone
	go func() {
		defer close(done)
		for _, h := range deferred {
			if err := r.initPlugin(bg, h); err != nil {
				r.log.WithField("plugin", h.plugin.Name()).WithError(err).Warn("deferred plugin init failed")
			}
		}
		r.bus.PublishFrom(runtimeSource, TopicDeferredReady, nil)
	}()

	if len(failures) > 0 {
		return &DegradedError{Failures: failures}
	}
	return nil
}

// abortInit rolls back a failed Init so the runtime can be initialized
// again. The deferred channel is closed and cleared so WaitDeferred
// reports ErrNotInitialized instead of blocking forever.
func (r *Runtime) abortInit() {
	r.mu.Lock()
	r.phase = phaseNew
	if r.deferredDone != nil {
		close(r.deferredDone)
		r.deferredDone = nil
	}
	r.mu.Unlock()
}

// WaitDeferred blocks until the deferred init tier has finished.
func (r *Runtime) WaitDeferred(ctx context.Context) error {
	r.mu.Lock()
	done := r.deferredDone
	r.mu.Unlock()
	if done == nil {
		return ErrNotInitialized
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) initPlugin(ctx context.Context, h *handle) error {
	name := h.plugin.Name()
	h.setState(StateInitializing)

	rc := r.pluginContext(name)

	var timeout time.Duration
	if t, ok := h.plugin.(InitTimeouter); ok {
		timeout = t.InitTimeout()
	}

	var err error
	if timeout > 0 {
		errCh := make(chan error, 1)
		ictx, cancel := context.WithTimeout(ctx, timeout)
		go func() {
			errCh <- runHook(func() error { return h.plugin.Init(ictx, rc) })
		}()
		select {
		case err = <-errCh:
		case <-time.After(timeout):
			err = ErrPluginInitTimeout
		}
		cancel()
	} else {
		err = runHook(func() error { return h.plugin.Init(ctx, rc) })
	}

	if err != nil {
		h.setState(StateErrored)
		wrapped := fmt.Errorf("%w: %w", ErrPluginInitFailure, err)
		r.log.WithField("plugin", name).WithError(err).Error("plugin init failed")
		r.bus.PublishFrom(runtimeSource, TopicPluginError, PluginPayload{
			Name: name, Priority: h.priority, State: StateErrored, Err: wrapped,
		})
		return wrapped
	}

	h.setState(StateInitialized)
	r.bus.PublishFrom(runtimeSource, TopicPluginInitialized, PluginPayload{
		Name: name, Priority: h.priority, State: StateInitialized,
	})
	return nil
}

// Start runs start hooks in priority order, highest first. The first
// failure aborts the call; plugins already running stay running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.phase == phaseDestroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	if r.phase != phaseInitialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	handles := r.ordered()
	r.mu.Unlock()

	r.bus.PublishFrom(runtimeSource, TopicStartBegin, nil)

	for _, h := range handles {
		if h.State() != StateInitialized {
			continue
		}
		name := h.plugin.Name()

		if starter, ok := h.plugin.(Starter); ok {
			h.setState(StateStarting)
			if err := runHook(func() error { return starter.Start(ctx) }); err != nil {
				h.setState(StateErrored)
				wrapped := fmt.Errorf("plugin %q: %w: %w", name, ErrPluginStartFailure, err)
				r.log.WithField("plugin", name).WithError(err).Error("plugin start failed")
				r.bus.PublishFrom(runtimeSource, TopicPluginError, PluginPayload{
					Name: name, Priority: h.priority, State: StateErrored, Err: wrapped,
				})
				return wrapped
			}
		}

		h.setState(StateRunning)
		r.mu.Lock()
		r.startOrder = append(r.startOrder, name)
		r.mu.Unlock()
		r.bus.PublishFrom(runtimeSource, TopicPluginStarted, PluginPayload{
			Name: name, Priority: h.priority, State: StateRunning,
		})
	}

	r.mu.Lock()
	r.phase = phaseStarted
	r.mu.Unlock()
	r.bus.PublishFrom(runtimeSource, TopicStartComplete, nil)
	return nil
}

// Stop runs stop hooks in reverse start order. Failures are collected, not
// fatal; every running plugin gets its stop hook.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.phase == phaseDestroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	names := make([]string, len(r.startOrder))
	for i, name := range r.startOrder {
		names[len(r.startOrder)-1-i] = name
	}
	r.startOrder = nil
	r.phase = phaseStopped
	r.mu.Unlock()

	r.bus.PublishFrom(runtimeSource, TopicStopBegin, nil)

	var stopErrors []error
	for _, name := range names {
		h, ok := r.plugins.Get(name)
		if !ok || h.State() != StateRunning {
			continue
		}

		if stopper, ok := h.plugin.(Stopper); ok {
			h.setState(StateStopping)
			if err := runHook(func() error { return stopper.Stop(ctx) }); err != nil {
				h.setState(StateErrored)
				stopErrors = append(stopErrors, fmt.Errorf("%s: %w", name, err))
				r.bus.PublishFrom(runtimeSource, TopicPluginError, PluginPayload{
					Name: name, Priority: h.priority, State: StateErrored, Err: err,
				})
				continue
			}
		}

		h.setState(StateStopped)
		r.bus.PublishFrom(runtimeSource, TopicPluginStopped, PluginPayload{
			Name: name, Priority: h.priority, State: StateStopped,
		})
	}

	r.bus.PublishFrom(runtimeSource, TopicStopComplete, nil)
	if len(stopErrors) > 0 {
		return fmt.Errorf("failed to stop %d plugin(s): %w", len(stopErrors), errors.Join(stopErrors...))
	}
	return nil
}

// Destroy stops running plugins, runs destroy hooks in reverse
// registration order, and releases the bus and store. The runtime cannot
// be reused afterwards.
func (r *Runtime) Destroy(ctx context.Context) error {
	r.mu.Lock()
	if r.phase == phaseDestroyed {
		r.mu.Unlock()
		return ErrDestroyed
	}
	started := r.phase == phaseStarted
	r.mu.Unlock()

	var destroyErrors []error
	if started {
		if err := r.Stop(ctx); err != nil {
			destroyErrors = append(destroyErrors, err)
		}
	}

	r.bus.PublishFrom(runtimeSource, TopicDestroyBegin, nil)

	r.mu.Lock()
	names := make([]string, len(r.order))
	for i, name := range r.order {
		names[len(r.order)-1-i] = name
	}
	r.phase = phaseDestroyed
	r.mu.Unlock()

	for _, name := range names {
		h, ok := r.plugins.Get(name)
		if !ok {
			continue
		}
		st := h.State()
		if st == StateDestroyed || st == StateRegistered {
			continue
		}

		if destroyer, ok := h.plugin.(Destroyer); ok {
			h.setState(StateDestroying)
			if err := runHook(func() error { return destroyer.Destroy(ctx) }); err != nil {
				h.setState(StateErrored)
				destroyErrors = append(destroyErrors, fmt.Errorf("%s: %w", name, err))
				continue
			}
		}
		h.setState(StateDestroyed)
	}

	r.bus.PublishFrom(runtimeSource, TopicDestroyComplete, nil)

	if r.classifierSub != nil {
		r.classifierSub.Cancel()
	}
	r.store.Close()
	r.bus.Close()

	if len(destroyErrors) > 0 {
		return fmt.Errorf("destroy: %w", errors.Join(destroyErrors...))
	}
	return nil
}

// RecordAction appends an action to the session history and announces it.
// Handlers and the classifier run on the caller's goroutine; pass the
// handler's context when recording from inside a dispatch.
func (r *Runtime) RecordAction(ctx context.Context, a session.Action) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	r.history.Add(a)
	r.bus.PublishEvent(ctx, event.Event{
		Name:    TopicActionRecorded,
		Source:  runtimeSource,
		Payload: a,
	})
}

// tiers splits registered plugins into the critical and deferred init
// tiers, each ordered by priority then registration. Caller holds r.mu.
func (r *Runtime) tiers() (critical, deferred []*handle) {
	for _, name := range r.order {
		h, ok := r.plugins.Get(name)
		if !ok {
			continue
		}
		if h.priority >= CriticalPriority {
			critical = append(critical, h)
		} else {
			deferred = append(deferred, h)
		}
	}
	sortHandles(critical)
	sortHandles(deferred)
	return critical, deferred
}

// ordered returns all handles by priority then registration. Caller holds
// r.mu.
func (r *Runtime) ordered() []*handle {
	handles := make([]*handle, 0, len(r.order))
	for _, name := range r.order {
		if h, ok := r.plugins.Get(name); ok {
			handles = append(handles, h)
		}
	}
	sortHandles(handles)
	return handles
}

func sortHandles(handles []*handle) {
	sort.SliceStable(handles, func(i, j int) bool {
		if handles[i].priority != handles[j].priority {
			return handles[i].priority > handles[j].priority
		}
		return handles[i].seq < handles[j].seq
	})
}

func (r *Runtime) pluginContext(name string) *Context {
	return &Context{
		Bus:      r.bus,
		State:    r.store,
		Sessions: r.history,
		Log:      r.log.WithField("plugin", name),
	}
}

// runHook invokes a lifecycle hook, converting panics into errors so one
// plugin cannot take down the runtime.
func runHook(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panic: %v", rec)
		}
	}()
	return fn()
}

func discardEntry() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
