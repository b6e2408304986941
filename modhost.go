package modhost

import "github.com/dimworks/modhost/world"

// MessageKind classifies a host notification about a module.
type MessageKind int

const (
	Info MessageKind = iota
	Warn
	Error
	Stdout
	Stderr
)

func (k MessageKind) String() string {
	switch k {
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Messenger receives every host-visible notification about a module:
// load/unload notices, guest stdout/stderr, and errors. It is invoked
// synchronously on the simulation goroutine.
type Messenger func(w *world.World, module world.EntityID, kind MessageKind, text string)

// RunContext parameterizes one event delivery to a running instance.
// It is built fresh per dispatch and discarded after the call.
type RunContext struct {
	// EventName is the full event name, e.g. "core/module/frame".
	EventName string
	// EventData is the structured event payload. Treated opaquely by the
	// router; the instance decides how to surface it to guest code.
	EventData world.Entity
	// Time is the simulation time in seconds at dispatch.
	Time float64
}

// Instance is a live, compiled guest program. Instances are created by a
// Factory on a worker goroutine but afterwards belong exclusively to the
// simulation goroutine; they are never shared or cloned.
type Instance interface {
	// Run delivers one event. A returned error is a recoverable guest
	// failure; it is accumulated against the owning module, never fatal
	// to the host.
	Run(rc RunContext) error

	// Supports reports whether the instance subscribed to the event name.
	Supports(event string) bool

	// Subscribe adds an event name to the instance's subscriptions.
	// Idempotent.
	Subscribe(event string)

	// Close releases the instance's execution resources. Called exactly
	// once, on unload.
	Close() error
}

// HostBindings is the world-facing capability set handed to guest code.
// Its methods are only ever called from inside Instance.Run, on the
// simulation goroutine.
type HostBindings interface {
	// Send queues a guest-originated message for delivery on the next
	// message drain. Names under the reserved debug namespace are
	// silently dropped.
	Send(from world.EntityID, name string, data world.Entity)

	// SpawnEntity creates an entity on behalf of a module. The entity is
	// despawned when the module unloads unless it carries the
	// world.DontDespawnOnUnload marker.
	SpawnEntity(from world.EntityID, data world.Entity) world.EntityID

	// DespawnEntity removes an entity previously spawned by the module.
	DespawnEntity(from world.EntityID, id world.EntityID) bool
}

// InstanceArgs carries everything a Factory needs to build an Instance.
type InstanceArgs struct {
	// Bytecode is a private copy of the guest program blob.
	Bytecode []byte
	// ModuleID is the entity the module is attached to.
	ModuleID world.EntityID
	// Stdout and Stderr receive guest program output, one line at a time.
	// Safe to call from any goroutine: the text reaches the Messenger
	// through the host's deferred queue, on the simulation goroutine.
	Stdout func(text string)
	Stderr func(text string)
	// Host is the capability set exposed to the guest during Run.
	Host HostBindings
}

// Factory compiles bytecode into a running Instance. It is the sandboxed
// execution boundary: implementations run on a worker goroutine with no
// access to the live world, and report failure through the returned error.
type Factory func(args InstanceArgs) (Instance, error)
