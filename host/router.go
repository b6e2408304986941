package host

import (
	"strings"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/world"
)

// queuedMessage is a guest- or host-originated message waiting for the
// per-tick drain point.
type queuedMessage struct {
	name string
	data world.Entity
}

// DispatchSystemEvent delivers one event to every running module that
// subscribed to it, in module-creation order. A module that errors during
// delivery is handled by fault containment and never blocks delivery to
// the remaining modules.
func (h *Host) DispatchSystemEvent(name string, data world.Entity) {
	rc := modhost.RunContext{
		EventName: name,
		EventData: data,
		Time:      h.Now(),
	}
	for _, id := range h.order {
		m := h.modules[id]
		if m.state == nil || !m.state.Supports(name) {
			continue
		}
		h.runModule(m, rc)
	}
}

// dispatchTo delivers one event to a single module, subject to the same
// subscription check and fault containment as a broadcast.
func (h *Host) dispatchTo(m *Module, name string, data world.Entity) {
	if m.state == nil || !m.state.Supports(name) {
		return
	}
	h.runModule(m, modhost.RunContext{
		EventName: name,
		EventData: data,
		Time:      h.Now(),
	})
}

// Send implements modhost.HostBindings: queue a message for delivery at
// the next drain point. Never re-entrant: a send during dispatch is
// delivered on a later drain, so guest code cannot trigger host dispatch
// recursively. Names under the reserved debug namespace are dropped.
func (h *Host) Send(from world.EntityID, name string, data world.Entity) {
	if strings.HasPrefix(name, DebugNamespace) {
		return
	}
	h.pending = append(h.pending, queuedMessage{name: name, data: data})
}

// drainMessages runs every queued message, one by one. Messages queued
// while draining wait for the next tick.
func (h *Host) drainMessages() {
	msgs := h.pending
	h.pending = nil
	for _, msg := range msgs {
		h.DispatchSystemEvent(msg.name, msg.data)
	}
}

// runModule invokes one delivery inside the protective boundary.
func (h *Host) runModule(m *Module, rc modhost.RunContext) {
	st := m.state
	_, errText, failed := runAndCatchPanics(func() (struct{}, error) {
		return struct{}{}, st.instance.Run(rc)
	})
	if failed {
		h.recordError(m.ID, errText)
	}
}
