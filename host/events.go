package host

import "github.com/dimworks/modhost/world"

// DebugNamespace is the reserved event-name prefix for host-internal
// diagnostic signals. Guest-originated sends under this prefix are
// silently dropped and never reach other guests.
const DebugNamespace = "dims/"

// moduleMessageRoot is the namespace for module-scoped system messages.
// A message with id X is delivered under "core/module/X".
const moduleMessageRoot = "core/module"

// System event names synthesized by the host.
const (
	// EventFrame fires once per tick. Every module is subscribed to it
	// at install time.
	EventFrame = moduleMessageRoot + "/frame"

	// EventModuleLoad fires once, right after a module's instance is
	// installed. Every module is subscribed to it at install time.
	EventModuleLoad = moduleMessageRoot + "/module_load"

	// EventModuleUnload fires right before a module's instance is torn
	// down. Modules subscribe to it explicitly to release resources.
	EventModuleUnload = moduleMessageRoot + "/module_unload"

	// EventCollision fires once per colliding actor pair, carrying the
	// two entity ids as "a" and "b".
	EventCollision = moduleMessageRoot + "/collision"

	// EventColliderLoads fires once per tick with the batch of entities
	// whose colliders just finished loading, under "entities".
	EventColliderLoads = moduleMessageRoot + "/collider_loads"
)

// ModuleMessage returns the full event name for a module-scoped message id.
func ModuleMessage(id string) string {
	return moduleMessageRoot + "/" + id
}

// CollisionSource is the narrow interface to the physics engine. Both
// methods hand over and reset the accumulated data for the current tick.
// A Host with a nil CollisionSource skips collision event synthesis.
type CollisionSource interface {
	DrainCollisions() [][2]world.EntityID
	DrainColliderLoads() []world.EntityID
}
