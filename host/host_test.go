package host

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/world"
)

// fakeInstance is a scripted guest instance.
type fakeInstance struct {
	subs   map[string]struct{}
	calls  []modhost.RunContext
	onRun  func(rc modhost.RunContext) error
	closed bool
	tag    int
}

func newFakeInstance() *fakeInstance {
	return &fakeInstance{subs: make(map[string]struct{})}
}

func (f *fakeInstance) Run(rc modhost.RunContext) error {
	f.calls = append(f.calls, rc)
	if f.onRun != nil {
		return f.onRun(rc)
	}
	return nil
}

func (f *fakeInstance) Supports(event string) bool {
	_, ok := f.subs[event]
	return ok
}

func (f *fakeInstance) Subscribe(event string) {
	f.subs[event] = struct{}{}
}

func (f *fakeInstance) Close() error {
	f.closed = true
	return nil
}

func (f *fakeInstance) received(event string) int {
	n := 0
	for _, rc := range f.calls {
		if rc.EventName == event {
			n++
		}
	}
	return n
}

// fakeFactory builds fakeInstances and remembers them in creation order.
type fakeFactory struct {
	mu        sync.Mutex
	instances []*fakeInstance
	onRun     func(rc modhost.RunContext) error
	err       error
	panicWith any
	// gate, when non-nil, blocks each factory call until it receives.
	gate chan struct{}
}

func (f *fakeFactory) factory() modhost.Factory {
	return func(args modhost.InstanceArgs) (modhost.Instance, error) {
		if f.gate != nil {
			<-f.gate
		}
		if f.panicWith != nil {
			panic(f.panicWith)
		}
		if f.err != nil {
			return nil, f.err
		}
		inst := newFakeInstance()
		inst.onRun = f.onRun
		f.mu.Lock()
		inst.tag = len(f.instances)
		f.instances = append(f.instances, inst)
		f.mu.Unlock()
		return inst, nil
	}
}

func (f *fakeFactory) made() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.instances)
}

func (f *fakeFactory) last() *fakeInstance {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.instances) == 0 {
		return nil
	}
	return f.instances[len(f.instances)-1]
}

// messageLog records messenger notifications.
type messageLog struct {
	entries []loggedMessage
}

type loggedMessage struct {
	module world.EntityID
	kind   modhost.MessageKind
	text   string
}

func (l *messageLog) messenger() modhost.Messenger {
	return func(_ *world.World, module world.EntityID, kind modhost.MessageKind, text string) {
		l.entries = append(l.entries, loggedMessage{module: module, kind: kind, text: text})
	}
}

func (l *messageLog) count(kind modhost.MessageKind) int {
	n := 0
	for _, e := range l.entries {
		if e.kind == kind {
			n++
		}
	}
	return n
}

func (l *messageLog) contains(kind modhost.MessageKind, substr string) bool {
	for _, e := range l.entries {
		if e.kind == kind && strings.Contains(e.text, substr) {
			return true
		}
	}
	return false
}

func newTestHost(t *testing.T, cfg Config) *Host {
	t.Helper()
	return New(world.New(), cfg)
}

// waitLoaded drains deferred callbacks until the module is running.
func waitLoaded(t *testing.T, h *Host, id world.EntityID) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.deferred.Drain()
		if h.Module(id).Running() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("module %d did not load before deadline", id)
}

// waitDeferred drains until at least one deferred callback has run.
func waitDeferred(t *testing.T, h *Host) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.deferred.Len() > 0 {
			h.deferred.Drain()
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("no deferred callback arrived before deadline")
}

func spawnLoaded(t *testing.T, h *Host, f *fakeFactory) world.EntityID {
	t.Helper()
	id := h.SpawnModule("mod", "test module", true)
	h.SetBytecode(id, []byte{0x00, 0x61, 0x73, 0x6d})
	h.Tick(time.Millisecond)
	waitLoaded(t, h, id)
	return id
}

func TestSpawnModuleDefaults(t *testing.T) {
	h := newTestHost(t, Config{})
	id := h.SpawnModule("mover", "moves things", true)

	m := h.Module(id)
	if m == nil {
		t.Fatal("module record missing")
	}
	if m.Name != "mover" || m.Description != "moves things" {
		t.Errorf("record = %q/%q", m.Name, m.Description)
	}
	if !m.Enabled || m.Running() || len(m.Bytecode) != 0 || len(m.Errors) != 0 {
		t.Errorf("record not pristine: %+v", m)
	}
	if h.World().GetString(id, "name") != "mover" {
		t.Error("module entity missing name component")
	}
}

func TestLoadInstallsAndDispatchesModuleLoad(t *testing.T) {
	f := &fakeFactory{}
	log := &messageLog{}
	h := newTestHost(t, Config{Factory: f.factory(), Messenger: log.messenger()})

	id := spawnLoaded(t, h, f)

	inst := f.last()
	if inst == nil {
		t.Fatal("factory never invoked")
	}
	if got := inst.received(EventModuleLoad); got != 1 {
		t.Errorf("module_load delivered %d times, want 1", got)
	}
	if !inst.Supports(EventFrame) || !inst.Supports(EventModuleLoad) {
		t.Error("mandatory subscriptions missing")
	}
	if !h.Module(id).Running() {
		t.Error("running_state absent after successful load")
	}
}

func TestCompileFailureRoutedThroughContainment(t *testing.T) {
	f := &fakeFactory{err: fmt.Errorf("compile: %w", errors.New("bad magic"))}
	log := &messageLog{}
	h := newTestHost(t, Config{Factory: f.factory(), Messenger: log.messenger()})

	id := h.SpawnModule("broken", "", true)
	h.SetBytecode(id, []byte{0xde, 0xad})
	h.Tick(time.Millisecond)
	waitDeferred(t, h)

	m := h.Module(id)
	if m.Running() {
		t.Fatal("module running after failed compile")
	}
	if len(m.Errors) != 1 {
		t.Fatalf("error log length = %d, want 1", len(m.Errors))
	}
	if !strings.Contains(m.Errors[0], "bad magic") {
		t.Errorf("error %q missing root cause", m.Errors[0])
	}
	if !log.contains(modhost.Error, "Runtime error:") {
		t.Error("no Error-kind notification emitted")
	}
}

func TestFactoryPanicContained(t *testing.T) {
	f := &fakeFactory{panicWith: "compiler exploded"}
	log := &messageLog{}
	h := newTestHost(t, Config{Factory: f.factory(), Messenger: log.messenger()})

	id := h.SpawnModule("broken", "", true)
	h.SetBytecode(id, []byte{0x01})
	h.Tick(time.Millisecond)
	waitDeferred(t, h)

	m := h.Module(id)
	if m.Running() {
		t.Fatal("module running after panicking compile")
	}
	if len(m.Errors) != 1 || !strings.Contains(m.Errors[0], "compiler exploded") {
		t.Errorf("error log = %v", m.Errors)
	}
}

func TestErrorThresholdUnload(t *testing.T) {
	f := &fakeFactory{onRun: func(rc modhost.RunContext) error {
		if rc.EventName == EventFrame {
			return errors.New("frame handler broke")
		}
		return nil
	}}
	log := &messageLog{}
	h := newTestHost(t, Config{Factory: f.factory(), Messenger: log.messenger()})

	id := spawnLoaded(t, h, f)
	m := h.Module(id)

	for i := 0; i < ErrorLimit; i++ {
		h.DispatchSystemEvent(EventFrame, world.Entity{})
	}
	if !m.Running() {
		t.Fatalf("module unloaded after %d errors, threshold is exceed-%d", ErrorLimit, ErrorLimit)
	}
	if len(m.Errors) != ErrorLimit {
		t.Fatalf("error log length = %d, want %d", len(m.Errors), ErrorLimit)
	}

	// The push that exceeds the limit forces the unload.
	h.DispatchSystemEvent(EventFrame, world.Entity{})

	if m.Running() {
		t.Fatal("module still running past the error threshold")
	}
	if len(m.Errors) != 0 {
		t.Errorf("error log not cleared by unload: %v", m.Errors)
	}
	if !log.contains(modhost.Info, "Unloaded (reason: too many errors)") {
		t.Error("unload notification missing")
	}
}

func TestUnloadHandlerErrorDoesNotReenter(t *testing.T) {
	f := &fakeFactory{}
	log := &messageLog{}
	h := newTestHost(t, Config{Factory: f.factory(), Messenger: log.messenger()})

	id := spawnLoaded(t, h, f)
	inst := f.last()
	inst.Subscribe(EventModuleUnload)
	inst.onRun = func(rc modhost.RunContext) error {
		return errors.New(rc.EventName + " handler broke")
	}
	m := h.Module(id)

	for i := 0; i < ErrorLimit; i++ {
		h.DispatchSystemEvent(EventFrame, world.Entity{})
	}
	if len(m.Errors) != ErrorLimit {
		t.Fatalf("error log length = %d, want %d", len(m.Errors), ErrorLimit)
	}

	// The overflowing push forces the unload, and the guest's unload
	// handler fails too. Teardown must complete exactly once.
	h.DispatchSystemEvent(EventFrame, world.Entity{})

	if m.Running() {
		t.Fatal("module still running past the error threshold")
	}
	if len(m.Errors) != 0 {
		t.Errorf("error log not cleared by unload: %v", m.Errors)
	}
	if !inst.closed {
		t.Error("instance not closed by unload")
	}
	if !log.contains(modhost.Error, EventModuleUnload+" handler broke") {
		t.Error("unload-handler failure not recorded")
	}
	unloads := 0
	for _, e := range log.entries {
		if e.kind == modhost.Info && strings.Contains(e.text, "Unloaded") {
			unloads++
		}
	}
	if unloads != 1 {
		t.Errorf("unload count = %d, want 1", unloads)
	}
}

func TestReloadClearsErrorHistory(t *testing.T) {
	f := &fakeFactory{}
	h := newTestHost(t, Config{Factory: f.factory()})

	id := spawnLoaded(t, h, f)
	m := h.Module(id)

	h.recordError(id, "one")
	h.recordError(id, "two")
	h.recordError(id, "three")
	if len(m.Errors) != 3 {
		t.Fatalf("error log length = %d, want 3", len(m.Errors))
	}

	h.Reload(id)
	if len(m.Errors) != 0 {
		t.Errorf("error log not cleared by reload: %v", m.Errors)
	}
	waitLoaded(t, h, id)
	if len(m.Errors) != 0 {
		t.Errorf("error log dirty after fresh load: %v", m.Errors)
	}
}

func TestUnloadCleanup(t *testing.T) {
	f := &fakeFactory{}
	log := &messageLog{}
	h := newTestHost(t, Config{Factory: f.factory(), Messenger: log.messenger()})

	id := spawnLoaded(t, h, f)

	a := h.SpawnEntity(id, world.Entity{"kind": "bullet"})
	b := h.SpawnEntity(id, world.Entity{"kind": "bullet"})
	keep := h.SpawnEntity(id, world.Entity{world.DontDespawnOnUnload: true})
	if h.Module(id).State().SpawnedCount() != 3 {
		t.Fatalf("spawned count = %d", h.Module(id).State().SpawnedCount())
	}

	h.Unload(id, "shutting down")

	if h.World().Exists(a) || h.World().Exists(b) {
		t.Error("spawned entities survived unload")
	}
	if !h.World().Exists(keep) {
		t.Error("persistent entity despawned")
	}
	if !log.contains(modhost.Info, "Unloaded (reason: shutting down)") {
		t.Error("unload notification missing reason")
	}
}

func TestUnloadEventDeliveredBeforeTeardown(t *testing.T) {
	f := &fakeFactory{}
	h := newTestHost(t, Config{Factory: f.factory()})

	id := spawnLoaded(t, h, f)
	inst := f.last()
	inst.Subscribe(EventModuleUnload)

	h.Unload(id, "test")

	if inst.received(EventModuleUnload) != 1 {
		t.Fatal("module_unload not delivered")
	}
	if !inst.closed {
		t.Error("instance not closed by unload")
	}
	last := inst.calls[len(inst.calls)-1]
	if last.EventName != EventModuleUnload {
		t.Errorf("last delivered event = %q, want module_unload", last.EventName)
	}
}

func TestUnloadWhenNotRunningIsNoop(t *testing.T) {
	log := &messageLog{}
	h := newTestHost(t, Config{Messenger: log.messenger()})

	id := h.SpawnModule("idle", "", false)
	h.Unload(id, "whatever")

	if len(log.entries) != 0 {
		t.Errorf("no-op unload produced notifications: %v", log.entries)
	}
}

func TestEnableTogglingYieldsFreshState(t *testing.T) {
	f := &fakeFactory{}
	log := &messageLog{}
	h := newTestHost(t, Config{Factory: f.factory(), Messenger: log.messenger()})

	id := spawnLoaded(t, h, f)
	first := f.last()
	first.Subscribe("game/custom")
	h.SpawnEntity(id, nil)

	h.SetEnabled(id, false)
	h.SetEnabled(id, false) // idempotent, no second change
	h.Tick(time.Millisecond)
	if h.Module(id).Running() {
		t.Fatal("module running after disable")
	}
	if !first.closed {
		t.Error("old instance not closed")
	}

	h.SetEnabled(id, true)
	h.Tick(time.Millisecond)
	waitLoaded(t, h, id)

	if f.made() != 2 {
		t.Fatalf("factory invoked %d times, want 2", f.made())
	}
	fresh := f.last()
	if fresh == first {
		t.Fatal("instance was reused across reload")
	}
	if fresh.Supports("game/custom") {
		t.Error("subscriptions leaked into fresh instance")
	}
	if h.Module(id).State().SpawnedCount() != 0 {
		t.Error("spawned entities leaked into fresh state")
	}
	unloads := 0
	for _, e := range log.entries {
		if e.kind == modhost.Info && strings.Contains(e.text, "Unloaded") {
			unloads++
		}
	}
	if unloads != 1 {
		t.Errorf("unload count = %d, want 1", unloads)
	}
}

func TestStaleLoadDiscarded(t *testing.T) {
	f := &fakeFactory{gate: make(chan struct{})}
	h := newTestHost(t, Config{Factory: f.factory()})

	id := h.SpawnModule("racer", "", true)
	h.SetBytecode(id, []byte{0x01})
	h.Tick(time.Millisecond) // starts load #1, blocked on the gate
	h.Reload(id)             // starts load #2, also blocked

	f.gate <- struct{}{}
	f.gate <- struct{}{}

	// Drain until the live completion installed and the stale one was
	// discarded and closed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.deferred.Drain()
		if h.Module(id).Running() && f.made() == 2 {
			if f.instances[0].closed || f.instances[1].closed {
				break
			}
		}
		time.Sleep(time.Millisecond)
	}
	if !h.Module(id).Running() || f.made() != 2 {
		t.Fatalf("loads did not settle: running=%v factory calls=%d",
			h.Module(id).Running(), f.made())
	}
	installed := h.Module(id).State()
	if installed == nil {
		t.Fatal("no instance installed")
	}
	live, ok := installed.instance.(*fakeInstance)
	if !ok {
		t.Fatal("unexpected instance type")
	}
	stale := f.instances[0]
	if stale == live {
		stale = f.instances[1]
	}
	if live.closed {
		t.Error("installed instance was closed")
	}
	if !stale.closed {
		t.Error("stale instance leaked without Close")
	}
}

func TestDisableWhileCompiling(t *testing.T) {
	f := &fakeFactory{gate: make(chan struct{})}
	h := newTestHost(t, Config{Factory: f.factory()})

	id := h.SpawnModule("racer", "", true)
	h.SetBytecode(id, []byte{0x01})
	h.Tick(time.Millisecond) // load in flight

	h.SetEnabled(id, false)
	h.Tick(time.Millisecond)

	f.gate <- struct{}{}
	waitDeferred(t, h)

	if h.Module(id).Running() {
		t.Fatal("compile completion installed into a disabled module")
	}
	if inst := f.last(); inst != nil && !inst.closed {
		t.Error("orphaned instance not closed")
	}
}

func TestDespawnModule(t *testing.T) {
	f := &fakeFactory{}
	h := newTestHost(t, Config{Factory: f.factory()})

	id := spawnLoaded(t, h, f)
	h.DespawnModule(id)

	if h.Module(id) != nil {
		t.Error("module record survived despawn")
	}
	if h.World().Exists(id) {
		t.Error("module entity survived despawn")
	}
	if !f.last().closed {
		t.Error("instance not closed on despawn")
	}
}

func TestReloadAll(t *testing.T) {
	f := &fakeFactory{}
	h := newTestHost(t, Config{Factory: f.factory()})

	a := spawnLoaded(t, h, f)
	b := spawnLoaded(t, h, f)

	h.ReloadAll()
	waitLoaded(t, h, a)
	waitLoaded(t, h, b)

	if f.made() != 4 {
		t.Errorf("factory invoked %d times, want 4", f.made())
	}
}

func TestFactoryOutputCrossesDeferredQueue(t *testing.T) {
	log := &messageLog{}
	emitted := make(chan struct{})
	factory := func(args modhost.InstanceArgs) (modhost.Instance, error) {
		args.Stdout("compiling")
		args.Stderr("deprecated import")
		close(emitted)
		return newFakeInstance(), nil
	}
	h := newTestHost(t, Config{Factory: factory, Messenger: log.messenger()})

	id := h.SpawnModule("chatty", "", true)
	h.SetBytecode(id, []byte{0x01})
	h.Tick(time.Millisecond)
	<-emitted

	// The worker has emitted, but nothing may reach the messenger (or the
	// world) until the simulation goroutine drains the deferred queue.
	if len(log.entries) != 0 {
		t.Fatalf("messenger invoked off the drain point: %v", log.entries)
	}

	waitLoaded(t, h, id)
	if !log.contains(modhost.Stdout, "compiling") {
		t.Error("compile stdout lost")
	}
	if !log.contains(modhost.Stderr, "deprecated import") {
		t.Error("compile stderr lost")
	}
}

func TestNilFactoryFailsLoad(t *testing.T) {
	log := &messageLog{}
	h := newTestHost(t, Config{Messenger: log.messenger()})

	id := h.SpawnModule("orphan", "", true)
	h.SetBytecode(id, []byte{0x01})
	h.Tick(time.Millisecond)
	waitDeferred(t, h)

	if h.Module(id).Running() {
		t.Fatal("module running without a factory")
	}
	if !log.contains(modhost.Error, "no instance factory") {
		t.Error("missing factory error not reported")
	}
}

func TestTickAdvancesSimTime(t *testing.T) {
	f := &fakeFactory{}
	h := newTestHost(t, Config{Factory: f.factory()})

	spawnLoaded(t, h, f)
	inst := f.last()

	h.Tick(500 * time.Millisecond)
	h.Tick(500 * time.Millisecond)

	if h.Now() < 1.0 {
		t.Errorf("Now() = %f, want >= 1.0", h.Now())
	}
	calls := inst.calls
	last := calls[len(calls)-1]
	if last.EventName != EventFrame {
		t.Fatalf("last event = %q, want frame", last.EventName)
	}
	if last.Time < 1.0 {
		t.Errorf("frame timestamp = %f, want >= 1.0", last.Time)
	}
}
