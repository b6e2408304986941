package host

import (
	"sort"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/world"
)

// ErrorLimit is the maximum tolerated accumulated error count per module.
// The push that would exceed it force-unloads the module.
const ErrorLimit = 5

// Module is the persistent record of one guest script, attached one-to-one
// to a host entity. Bytecode and Enabled describe the desired state; the
// presence of a running instance is the actual state. Mutate Bytecode and
// Enabled through Host.SetBytecode and Host.SetEnabled so change detection
// picks them up.
type Module struct {
	// ID is the host entity the module is attached to.
	ID world.EntityID

	Name        string
	Description string

	// Bytecode is the compiled guest program blob. Empty means
	// "no program".
	Bytecode []byte

	// Enabled is the desired run state, distinct from whether the module
	// is currently compiled and running.
	Enabled bool

	// Errors is the bounded, most-recent-last failure log. Its length
	// never exceeds ErrorLimit: the overflowing push unloads the module,
	// and unload clears the log.
	Errors []string

	// RemotePairedID links to a counterpart module on another logical
	// side (e.g. an authoritative copy paired with a presentation copy).
	// Informational only; it may refer to a module that no longer exists.
	RemotePairedID world.EntityID

	// ClientBytecodeURL is an optional asset URL for the bytecode of the
	// paired client-side module. Carried, never fetched, by this core.
	ClientBytecodeURL string

	// state is present iff the module is compiled and active.
	state *State

	// loadSeq stamps load requests. A compile completion whose stamp no
	// longer matches is stale and discarded.
	loadSeq uint64

	// dirty marks the module for change detection on the next tick.
	dirty bool

	// unloading is set while Unload runs so a failure in the guest's
	// unload handler cannot re-enter the teardown.
	unloading bool
}

// Running reports whether the module has a live instance.
func (m *Module) Running() bool {
	return m.state != nil
}

// State returns the running instance wrapper, or nil when unloaded.
func (m *Module) State() *State {
	return m.state
}

// LastError returns the most recent error string, or "".
func (m *Module) LastError() string {
	if len(m.Errors) == 0 {
		return ""
	}
	return m.Errors[len(m.Errors)-1]
}

// State wraps a running instance together with the entities it has spawned.
// It is owned exclusively by its Module while running and destroyed on
// unload.
type State struct {
	instance modhost.Instance
	spawned  map[world.EntityID]struct{}
}

func newState(instance modhost.Instance) *State {
	return &State{
		instance: instance,
		spawned:  make(map[world.EntityID]struct{}),
	}
}

// Subscribe adds an event name to the instance's subscriptions. Idempotent.
func (s *State) Subscribe(event string) {
	s.instance.Subscribe(event)
}

// Supports reports whether the instance subscribed to the event name.
func (s *State) Supports(event string) bool {
	return s.instance.Supports(event)
}

func (s *State) recordSpawned(id world.EntityID) {
	s.spawned[id] = struct{}{}
}

func (s *State) forgetSpawned(id world.EntityID) {
	delete(s.spawned, id)
}

// SpawnedCount returns how many entities the instance currently owns.
func (s *State) SpawnedCount() int {
	return len(s.spawned)
}

// DrainSpawnedEntities hands over every entity the instance has spawned,
// in ascending id order, and resets the set.
func (s *State) DrainSpawnedEntities() []world.EntityID {
	out := make([]world.EntityID, 0, len(s.spawned))
	for id := range s.spawned {
		out = append(out, id)
	}
	s.spawned = make(map[world.EntityID]struct{})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
