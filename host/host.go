package host

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/world"
)

// Config holds the external collaborators of a Host. Factory and Messenger
// are explicit dependencies with the lifetime of the simulation session,
// never ambient globals.
type Config struct {
	// Factory compiles bytecode into instances. Required for loads; a
	// Host with a nil Factory fails every load.
	Factory modhost.Factory

	// Messenger receives every host-visible notification. Optional;
	// defaults to a no-op.
	Messenger modhost.Messenger

	// Physics supplies collision data for event synthesis. Optional;
	// collision events are skipped when nil.
	Physics CollisionSource

	// Logger receives host diagnostics. Optional; defaults to a no-op.
	Logger *zap.Logger
}

// Host owns every module and drives it between desired and actual state,
// each tick. All methods except Defer must be called from the simulation
// goroutine.
//
// Host implements modhost.HostBindings: Send, SpawnEntity and
// DespawnEntity are the capabilities guest code reaches during dispatch.
type Host struct {
	world     *world.World
	factory   modhost.Factory
	messenger modhost.Messenger
	physics   CollisionSource
	log       *zap.Logger

	deferred deferredQueue

	modules map[world.EntityID]*Module
	// order keeps module-creation order so per-tick dispatch is stable.
	order []world.EntityID

	pending []queuedMessage

	elapsed time.Duration
}

var _ modhost.HostBindings = (*Host)(nil)

func New(w *world.World, cfg Config) *Host {
	messenger := cfg.Messenger
	if messenger == nil {
		messenger = func(*world.World, world.EntityID, modhost.MessageKind, string) {}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Host{
		world:     w,
		factory:   cfg.Factory,
		messenger: messenger,
		physics:   cfg.Physics,
		log:       log,
		modules:   make(map[world.EntityID]*Module),
	}
}

// World returns the entity store the host mutates.
func (h *Host) World() *world.World {
	return h.world
}

// Now returns the simulation time in seconds.
func (h *Host) Now() float64 {
	return h.elapsed.Seconds()
}

// Defer schedules fn to run on the simulation goroutine at the start of
// the next tick. Safe to call from any goroutine; this queue is the only
// way worker threads reach the world.
func (h *Host) Defer(fn func()) {
	h.deferred.Push(fn)
}

// SpawnModule creates a new module record with empty bytecode and error
// log, attached to a fresh entity. No compilation is triggered until
// bytecode is set.
func (h *Host) SpawnModule(name, description string, enabled bool) world.EntityID {
	id := h.world.Spawn(world.Entity{
		"name":        name,
		"description": description,
	})
	m := &Module{
		ID:          id,
		Name:        name,
		Description: description,
		Enabled:     enabled,
	}
	h.modules[id] = m
	h.order = append(h.order, id)
	return id
}

// Module returns the record for id, or nil. The returned pointer belongs
// to the simulation goroutine.
func (h *Host) Module(id world.EntityID) *Module {
	return h.modules[id]
}

// EachModule calls f for every module in creation order.
func (h *Host) EachModule(f func(*Module)) {
	for _, id := range h.order {
		f(h.modules[id])
	}
}

// SetBytecode replaces the module's bytecode and marks it for change
// detection. Replacing the bytecode of a running module does not reload
// it by itself; call Reload for a hot swap.
func (h *Host) SetBytecode(id world.EntityID, bytecode []byte) {
	m := h.modules[id]
	if m == nil {
		return
	}
	m.Bytecode = bytecode
	m.dirty = true
}

// SetEnabled flips the desired run state. Idempotent: setting the current
// value is not a change.
func (h *Host) SetEnabled(id world.EntityID, enabled bool) {
	m := h.modules[id]
	if m == nil || m.Enabled == enabled {
		return
	}
	m.Enabled = enabled
	m.dirty = true
}

// Reload unconditionally unloads the module, then loads the current
// bytecode if the module is enabled and the bytecode is non-empty.
func (h *Host) Reload(id world.EntityID) {
	m := h.modules[id]
	if m == nil {
		return
	}
	h.Unload(id, "reloading")
	if m.Enabled && len(m.Bytecode) > 0 {
		h.load(m)
	}
}

// ReloadAll reloads every module.
func (h *Host) ReloadAll() {
	for _, id := range h.order {
		h.Reload(id)
	}
}

// load spawns compilation on its own goroutine so that a slow or
// malicious compile cannot stall the tick loop. The goroutine owns
// nothing but a bytecode copy; the result crosses back through the
// deferred queue. Completions are sequence-stamped so a stale compile
// never overwrites a newer lifecycle transition.
func (h *Host) load(m *Module) {
	m.loadSeq++
	seq := m.loadSeq
	id := m.ID
	bytecode := append([]byte(nil), m.Bytecode...)
	factory := h.factory

	// The sinks may fire on the load worker (compile output); the text
	// crosses back through the deferred queue so the messenger and the
	// world are only ever touched on the simulation goroutine.
	stdout := func(text string) {
		h.deferred.Push(func() { h.messenger(h.world, id, modhost.Stdout, text) })
	}
	stderr := func(text string) {
		h.deferred.Push(func() { h.messenger(h.world, id, modhost.Stderr, text) })
	}

	go func() {
		var instance modhost.Instance
		var errText string
		failed := factory == nil
		if failed {
			errText = "no instance factory configured"
		} else {
			instance, errText, failed = runAndCatchPanics(func() (modhost.Instance, error) {
				return factory(modhost.InstanceArgs{
					Bytecode: bytecode,
					ModuleID: id,
					Stdout:   stdout,
					Stderr:   stderr,
					Host:     h,
				})
			})
		}

		h.deferred.Push(func() {
			h.installLoaded(id, seq, instance, errText, failed)
		})
	}()
}

// installLoaded runs on the simulation goroutine with a compile result.
func (h *Host) installLoaded(id world.EntityID, seq uint64, instance modhost.Instance, errText string, failed bool) {
	m := h.modules[id]
	if m == nil || m.loadSeq != seq || !m.Enabled {
		// The module was unloaded, reloaded or despawned while this
		// compile was in flight.
		if instance != nil {
			_ = instance.Close()
		}
		h.log.Debug("discarded stale load",
			zap.Uint64("module", uint64(id)),
			zap.Uint64("seq", seq))
		return
	}

	if failed {
		h.recordError(id, errText)
		return
	}

	st := newState(instance)
	st.Subscribe(EventFrame)
	st.Subscribe(EventModuleLoad)
	m.state = st

	h.log.Debug("module loaded", zap.Uint64("module", uint64(id)), zap.String("name", m.Name))
	h.dispatchTo(m, EventModuleLoad, world.Entity{})
}

// Unload tears down the module's instance. No-op when not running, but
// always invalidates in-flight loads. Dispatches the unload event before
// teardown so guest code can release its own resources, then despawns
// every spawned entity not marked persistent, clears the error log, and
// notifies the messenger. A guest failure during the unload-event
// dispatch is recorded like any other but never re-enters the teardown.
func (h *Host) Unload(id world.EntityID, reason string) {
	m := h.modules[id]
	if m == nil {
		return
	}
	m.loadSeq++

	if m.state == nil || m.unloading {
		return
	}
	m.unloading = true
	defer func() { m.unloading = false }()

	h.dispatchTo(m, EventModuleUnload, world.Entity{})

	st := m.state
	spawned := st.DrainSpawnedEntities()
	m.Errors = nil
	m.state = nil

	if err := st.instance.Close(); err != nil {
		h.log.Warn("instance close failed",
			zap.Uint64("module", uint64(id)), zap.Error(err))
	}

	for _, eid := range spawned {
		if !h.world.Has(eid, world.DontDespawnOnUnload) {
			h.world.Despawn(eid)
		}
	}

	h.messenger(h.world, id, modhost.Info, fmt.Sprintf("Unloaded (reason: %s)", reason))
}

// DespawnModule unloads a module and removes its record and entity.
func (h *Host) DespawnModule(id world.EntityID) {
	m := h.modules[id]
	if m == nil {
		return
	}
	h.Unload(id, "despawned")
	delete(h.modules, id)
	for i, e := range h.order {
		if e == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.world.Despawn(id)
}

// Tick advances the simulation by dt and runs the per-tick systems in
// their fixed order: deferred callbacks, change detection, frame event,
// collision events, collider-loads event, queued messages.
func (h *Host) Tick(dt time.Duration) {
	h.elapsed += dt

	h.deferred.Drain()
	h.detectChanged()

	h.DispatchSystemEvent(EventFrame, world.Entity{})

	if h.physics != nil {
		for _, pair := range h.physics.DrainCollisions() {
			h.DispatchSystemEvent(EventCollision, world.Entity{
				"a": pair[0],
				"b": pair[1],
			})
		}
		if loads := h.physics.DrainColliderLoads(); len(loads) > 0 {
			h.DispatchSystemEvent(EventColliderLoads, world.Entity{
				"entities": loads,
			})
		}
	}

	h.drainMessages()
}

// detectChanged reloads every module whose desired state diverged from its
// actual state since the last tick.
func (h *Host) detectChanged() {
	for _, id := range h.order {
		m := h.modules[id]
		if !m.dirty {
			continue
		}
		m.dirty = false
		if m.Enabled != m.Running() {
			h.Reload(id)
		}
	}
}

// SpawnEntity implements modhost.HostBindings. The entity is tracked
// against the owning module for cleanup on unload.
func (h *Host) SpawnEntity(from world.EntityID, data world.Entity) world.EntityID {
	id := h.world.Spawn(data)
	if m := h.modules[from]; m != nil && m.state != nil {
		m.state.recordSpawned(id)
	}
	return id
}

// DespawnEntity implements modhost.HostBindings.
func (h *Host) DespawnEntity(from world.EntityID, id world.EntityID) bool {
	if m := h.modules[from]; m != nil && m.state != nil {
		m.state.forgetSpawned(id)
	}
	return h.world.Despawn(id)
}
