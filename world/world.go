// Package world is a minimal in-memory entity store.
//
// The simulation core treats the real entity/component engine as an external
// collaborator; this package provides the narrow surface the module host
// needs from it: spawn/despawn, named component access, and iteration in
// creation order so per-tick dispatch stays reproducible.
package world

import "fmt"

// EntityID identifies one entity. Nil is never a live entity.
type EntityID uint64

// Nil is the zero, never-assigned entity id.
const Nil EntityID = 0

// Entity is a bag of named components.
type Entity map[string]any

// DontDespawnOnUnload marks an entity that survives the unload of the module
// that spawned it.
const DontDespawnOnUnload = "dont_despawn_on_unload"

// World stores entities and their components. Not safe for concurrent use;
// the simulation mutates it from a single goroutine.
type World struct {
	entities map[EntityID]Entity
	order    []EntityID
	nextID   EntityID
}

func New() *World {
	return &World{
		entities: make(map[EntityID]Entity),
	}
}

// Spawn creates an entity with the given components and returns its id.
// A nil data spawns an empty entity.
func (w *World) Spawn(data Entity) EntityID {
	w.nextID++
	id := w.nextID
	if data == nil {
		data = Entity{}
	}
	w.entities[id] = data
	w.order = append(w.order, id)
	return id
}

// Despawn removes an entity. Returns false if it does not exist.
func (w *World) Despawn(id EntityID) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	for i, e := range w.order {
		if e == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return true
}

func (w *World) Exists(id EntityID) bool {
	_, ok := w.entities[id]
	return ok
}

// Get returns the named component of an entity.
func (w *World) Get(id EntityID, name string) (any, bool) {
	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	v, ok := e[name]
	return v, ok
}

// Has reports whether the entity exists and carries the named component.
func (w *World) Has(id EntityID, name string) bool {
	_, ok := w.Get(id, name)
	return ok
}

// Set attaches or replaces the named component of an entity.
func (w *World) Set(id EntityID, name string, value any) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("set %q: entity %d does not exist", name, id)
	}
	e[name] = value
	return nil
}

// Remove detaches the named component if present.
func (w *World) Remove(id EntityID, name string) {
	if e, ok := w.entities[id]; ok {
		delete(e, name)
	}
}

// Len returns the number of live entities.
func (w *World) Len() int {
	return len(w.entities)
}

// Each calls f for every entity in creation order. f must not spawn or
// despawn entities.
func (w *World) Each(f func(id EntityID, data Entity)) {
	for _, id := range w.order {
		f(id, w.entities[id])
	}
}

// GetString returns a string component, or "" when absent or not a string.
func (w *World) GetString(id EntityID, name string) string {
	v, ok := w.Get(id, name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
