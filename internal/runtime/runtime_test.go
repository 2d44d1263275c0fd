package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dshills/flowsense/internal/event"
	"github.com/dshills/flowsense/internal/session"
	"github.com/dshills/flowsense/internal/state"
)

// callLog records lifecycle hook invocations across plugins.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(entry string) {
	l.mu.Lock()
	l.calls = append(l.calls, entry)
	l.mu.Unlock()
}

func (l *callLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// testPlugin implements every capability interface; nil hooks are no-ops.
type testPlugin struct {
	name    string
	log     *callLog
	initFn  func(ctx context.Context, rc *Context) error
	startFn func(ctx context.Context) error
	stopFn  func(ctx context.Context) error
	destroy func(ctx context.Context) error
}

func (p *testPlugin) Name() string { return p.name }

func (p *testPlugin) Init(ctx context.Context, rc *Context) error {
	if p.log != nil {
		p.log.add(p.name + ":init")
	}
	if p.initFn != nil {
		return p.initFn(ctx, rc)
	}
	return nil
}

func (p *testPlugin) Start(ctx context.Context) error {
	if p.log != nil {
		p.log.add(p.name + ":start")
	}
	if p.startFn != nil {
		return p.startFn(ctx)
	}
	return nil
}

func (p *testPlugin) Stop(ctx context.Context) error {
	if p.log != nil {
		p.log.add(p.name + ":stop")
	}
	if p.stopFn != nil {
		return p.stopFn(ctx)
	}
	return nil
}

func (p *testPlugin) Destroy(ctx context.Context) error {
	if p.log != nil {
		p.log.add(p.name + ":destroy")
	}
	if p.destroy != nil {
		return p.destroy(ctx)
	}
	return nil
}

// timedPlugin adds a per-plugin init timeout.
type timedPlugin struct {
	testPlugin
	timeout time.Duration
}

func (p *timedPlugin) InitTimeout() time.Duration { return p.timeout }

func newRuntime(t *testing.T, opts ...Option) (*Runtime, *event.Bus) {
	t.Helper()
	bus := event.New()
	store := state.New(bus)
	history := session.NewHistory(10)
	return New(bus, store, history, opts...), bus
}

func TestRegisterValidation(t *testing.T) {
	r, _ := newRuntime(t)

	if err := r.Register(&testPlugin{name: ""}); !errors.Is(err, ErrEmptyName) {
		t.Errorf("Register empty name = %v, want ErrEmptyName", err)
	}

	if err := r.Register(&testPlugin{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Still registered: replacement allowed.
	if err := r.Register(&testPlugin{name: "a"}); err != nil {
		t.Fatalf("Register replacement: %v", err)
	}

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := r.WaitDeferred(context.Background()); err != nil {
		t.Fatalf("WaitDeferred: %v", err)
	}
	if err := r.Register(&testPlugin{name: "a"}); !errors.Is(err, ErrDuplicateActive) {
		t.Errorf("Register active name = %v, want ErrDuplicateActive", err)
	}
}

func TestInitRunsCriticalTierConcurrently(t *testing.T) {
	r, _ := newRuntime(t)

	entered := make(chan string, 2)
	barrier := make(chan struct{})
	rendezvous := func(name string) func(context.Context, *Context) error {
		return func(context.Context, *Context) error {
			entered <- name
			<-barrier
			return nil
		}
	}

	mustRegister(t, r, &testPlugin{name: "a", initFn: rendezvous("a")}, WithPriority(100))
	mustRegister(t, r, &testPlugin{name: "b", initFn: rendezvous("b")}, WithPriority(150))

	initDone := make(chan error, 1)
	go func() { initDone <- r.Init(context.Background()) }()

	// Both init hooks must be in flight at once before either is released.
	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("critical init hooks did not overlap")
		}
	}
	close(barrier)

	if err := <-initDone; err != nil {
		t.Fatalf("Init: %v", err)
	}
	states := r.States()
	if states["a"] != StateInitialized || states["b"] != StateInitialized {
		t.Errorf("states = %v, want both initialized", states)
	}
}

func TestInitCriticalTierWiderThanPool(t *testing.T) {
	r, _ := newRuntime(t)

	// More critical plugins than the default pool size. All of their init
	// hooks rendezvous before any returns, so Init only completes if the
	// whole tier runs at once.
	const n = DefaultPoolSize + 2
	entered := make(chan struct{}, n)
	barrier := make(chan struct{})
	for i := 0; i < n; i++ {
		mustRegister(t, r, &testPlugin{
			name: fmt.Sprintf("critical-%d", i),
			initFn: func(context.Context, *Context) error {
				entered <- struct{}{}
				<-barrier
				return nil
			},
		}, WithPriority(150))
	}

	initDone := make(chan error, 1)
	go func() { initDone <- r.Init(context.Background()) }()

	for i := 0; i < n; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d critical init hooks in flight", i, n)
		}
	}
	close(barrier)

	if err := <-initDone; err != nil {
		t.Fatalf("Init: %v", err)
	}
	for name, st := range r.States() {
		if st != StateInitialized {
			t.Errorf("state[%s] = %v, want StateInitialized", name, st)
		}
	}
}

func TestAbortInitLeavesRuntimeRetryable(t *testing.T) {
	r, _ := newRuntime(t)
	mustRegister(t, r, &testPlugin{name: "a"}, WithPriority(150))

	// Mirror the state Init holds when pool construction fails, then
	// roll it back.
	r.mu.Lock()
	r.phase = phaseInitializing
	r.deferredDone = make(chan struct{})
	r.mu.Unlock()
	r.abortInit()

	if err := r.WaitDeferred(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("WaitDeferred after aborted init = %v, want ErrNotInitialized", err)
	}
	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init after aborted init: %v", err)
	}
	if err := r.WaitDeferred(context.Background()); err != nil {
		t.Errorf("WaitDeferred: %v", err)
	}
}

func TestInitIsolatesCriticalFailures(t *testing.T) {
	r, bus := newRuntime(t)

	var errMu sync.Mutex
	var pluginErrors []PluginPayload
	bus.Subscribe(TopicPluginError, event.HandlerFunc(func(ctx context.Context, ev event.Event) error {
		errMu.Lock()
		pluginErrors = append(pluginErrors, ev.Payload.(PluginPayload))
		errMu.Unlock()
		return nil
	}))

	boom := errors.New("boom")
	mustRegister(t, r, &testPlugin{name: "bad", initFn: func(context.Context, *Context) error {
		return boom
	}}, WithPriority(120))
	mustRegister(t, r, &testPlugin{name: "good"}, WithPriority(110))

	err := r.Init(context.Background())
	if !errors.Is(err, ErrPluginInitFailure) {
		t.Fatalf("Init = %v, want ErrPluginInitFailure", err)
	}
	var degraded *DegradedError
	if !errors.As(err, &degraded) {
		t.Fatalf("Init error type = %T, want *DegradedError", err)
	}
	if len(degraded.Failures) != 1 || !errors.Is(degraded.Failures["bad"], boom) {
		t.Errorf("Failures = %v, want bad -> boom", degraded.Failures)
	}

	states := r.States()
	if states["bad"] != StateErrored {
		t.Errorf("bad state = %v, want errored", states["bad"])
	}
	if states["good"] != StateInitialized {
		t.Errorf("good state = %v, want initialized", states["good"])
	}
	errMu.Lock()
	defer errMu.Unlock()
	if len(pluginErrors) != 1 || pluginErrors[0].Name != "bad" {
		t.Errorf("plugin error events = %v, want one for bad", pluginErrors)
	}
}

func TestInitEnforcesPluginTimeout(t *testing.T) {
	r, _ := newRuntime(t)

	slow := &timedPlugin{
		testPlugin: testPlugin{name: "slow", initFn: func(ctx context.Context, rc *Context) error {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			return nil
		}},
		timeout: 20 * time.Millisecond,
	}
	mustRegister(t, r, slow, WithPriority(100))

	err := r.Init(context.Background())
	if !errors.Is(err, ErrPluginInitTimeout) {
		t.Fatalf("Init = %v, want ErrPluginInitTimeout", err)
	}
}

func TestInitRunsDeferredTierInBackground(t *testing.T) {
	r, bus := newRuntime(t)

	readyCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	readyCh := make(chan event.Event, 1)
	bus.Subscribe(TopicDeferredReady, event.HandlerFunc(func(ctx context.Context, ev event.Event) error {
		readyCh <- ev
		return nil
	}))

	release := make(chan struct{})
	mustRegister(t, r, &testPlugin{name: "bg", initFn: func(context.Context, *Context) error {
		<-release
		return nil
	}}, WithPriority(10))

	if err := r.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Init returned while the deferred plugin is still pending.
	if _, st, _ := r.Plugin("bg"); st == StateInitialized {
		t.Fatal("deferred plugin initialized before release")
	}
	close(release)

	if err := r.WaitDeferred(readyCtx); err != nil {
		t.Fatalf("WaitDeferred: %v", err)
	}
	select {
	case <-readyCh:
	case <-readyCtx.Done():
		t.Fatal("deferred ready event not published")
	}
	if _, st, _ := r.Plugin("bg"); st != StateInitialized {
		t.Errorf("bg state = %v, want initialized", st)
	}
}

func TestStartStopOrdering(t *testing.T) {
	r, _ := newRuntime(t)
	log := &callLog{}

	mustRegister(t, r, &testPlugin{name: "p2", log: log}, WithPriority(50))
	mustRegister(t, r, &testPlugin{name: "p1", log: log}, WithPriority(100))

	ctx := context.Background()
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := r.WaitDeferred(ctx); err != nil {
		t.Fatalf("WaitDeferred: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	var phases []string
	for _, c := range log.all() {
		if c == "p1:start" || c == "p2:start" || c == "p1:stop" || c == "p2:stop" {
			phases = append(phases, c)
		}
	}
	want := []string{"p1:start", "p2:start", "p2:stop", "p1:stop"}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Fatalf("phases = %v, want %v", phases, want)
		}
	}
}

func TestStartFailureIsFatalButKeepsStarted(t *testing.T) {
	r, _ := newRuntime(t)
	log := &callLog{}

	mustRegister(t, r, &testPlugin{name: "first", log: log}, WithPriority(200))
	mustRegister(t, r, &testPlugin{
		name: "broken",
		log:  log,
		startFn: func(context.Context) error {
			return errors.New("refused")
		},
	}, WithPriority(150))

	ctx := context.Background()
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	err := r.Start(ctx)
	if !errors.Is(err, ErrPluginStartFailure) {
		t.Fatalf("Start = %v, want ErrPluginStartFailure", err)
	}

	states := r.States()
	if states["first"] != StateRunning {
		t.Errorf("first state = %v, want running", states["first"])
	}
	if states["broken"] != StateErrored {
		t.Errorf("broken state = %v, want errored", states["broken"])
	}
}

func TestDestroyReverseRegistrationOrder(t *testing.T) {
	r, _ := newRuntime(t)
	log := &callLog{}

	mustRegister(t, r, &testPlugin{name: "a", log: log}, WithPriority(100))
	mustRegister(t, r, &testPlugin{name: "b", log: log}, WithPriority(100))

	ctx := context.Background()
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Destroy(ctx); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	var destroys []string
	for _, c := range log.all() {
		if c == "a:destroy" || c == "b:destroy" {
			destroys = append(destroys, c)
		}
	}
	if len(destroys) != 2 || destroys[0] != "b:destroy" || destroys[1] != "a:destroy" {
		t.Fatalf("destroy order = %v, want [b:destroy a:destroy]", destroys)
	}

	if err := r.Register(&testPlugin{name: "late"}); !errors.Is(err, ErrDestroyed) {
		t.Errorf("Register after destroy = %v, want ErrDestroyed", err)
	}
	if err := r.Destroy(ctx); !errors.Is(err, ErrDestroyed) {
		t.Errorf("second Destroy = %v, want ErrDestroyed", err)
	}
}

func TestPanicInHookBecomesError(t *testing.T) {
	r, _ := newRuntime(t)

	mustRegister(t, r, &testPlugin{name: "panicky", initFn: func(context.Context, *Context) error {
		panic("unhinged")
	}}, WithPriority(100))

	err := r.Init(context.Background())
	if !errors.Is(err, ErrPluginInitFailure) {
		t.Fatalf("Init = %v, want ErrPluginInitFailure", err)
	}
}

func TestRecordActionAnnouncesAndClassifies(t *testing.T) {
	bus := event.New()
	store := state.New(bus)
	history := session.NewHistory(10)
	classifier := session.NewClassifier(history, bus)
	r := New(bus, store, history, WithClassifier(classifier))

	var recorded []session.Action
	bus.Subscribe(TopicActionRecorded, event.HandlerFunc(func(ctx context.Context, ev event.Event) error {
		recorded = append(recorded, ev.Payload.(session.Action))
		return nil
	}))

	var changes int
	bus.Subscribe(session.TopicStateChange, event.HandlerFunc(func(ctx context.Context, ev event.Event) error {
		changes++
		return nil
	}))

	base := time.Now()
	for i := 0; i < 10; i++ {
		r.RecordAction(context.Background(), session.Action{
			Type:      "key",
			Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond),
			Success:   false,
		})
	}

	if history.Len() != 10 {
		t.Fatalf("history length = %d, want 10", history.Len())
	}
	if len(recorded) != 10 {
		t.Fatalf("recorded events = %d, want 10", len(recorded))
	}
	if changes != 1 {
		t.Errorf("state change events = %d, want 1 (neutral -> frustrated once)", changes)
	}
}

func TestLifecycleEventSequence(t *testing.T) {
	r, bus := newRuntime(t)

	var topicMu sync.Mutex
	var topics []event.Topic
	bus.Subscribe("core:**", event.HandlerFunc(func(ctx context.Context, ev event.Event) error {
		topicMu.Lock()
		topics = append(topics, ev.Name)
		topicMu.Unlock()
		return nil
	}))

	mustRegister(t, r, &testPlugin{name: "only"}, WithPriority(100))

	ctx := context.Background()
	if err := r.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := r.WaitDeferred(ctx); err != nil {
		t.Fatalf("WaitDeferred: %v", err)
	}

	want := []event.Topic{
		TopicPluginRegistered,
		TopicInitStart,
		TopicPluginInitialized,
		TopicInitComplete,
		TopicDeferredReady,
	}
	topicMu.Lock()
	defer topicMu.Unlock()
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Fatalf("topics = %v, want %v", topics, want)
		}
	}
}

func mustRegister(t *testing.T, r *Runtime, p Plugin, opts ...RegisterOption) {
	t.Helper()
	if err := r.Register(p, opts...); err != nil {
		t.Fatalf("Register %s: %v", p.Name(), err)
	}
}
