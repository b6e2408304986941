package engine

import (
	"context"
	"encoding/json"

	"github.com/tetratelabs/wazero/api"

	"github.com/dimworks/modhost"
	"github.com/dimworks/modhost/errors"
	"github.com/dimworks/modhost/world"
)

// Guest ABI export names.
const (
	exportRun        = "run"
	exportAlloc      = "alloc"
	exportInitialize = "_initialize"
)

// eventEnvelope is the JSON payload handed to the guest's run export.
type eventEnvelope struct {
	Time float64      `json:"time"`
	Data world.Entity `json:"data"`
}

// wasmInstance is one live guest program. Created on the load worker,
// afterwards owned by the simulation goroutine; never shared.
type wasmInstance struct {
	ctx      context.Context
	moduleID world.EntityID
	host     modhost.HostBindings

	mod        api.Module
	run        api.Function
	alloc      api.Function
	initialize api.Function
	started    bool

	stdout *lineWriter
	stderr *lineWriter

	subscribed map[string]struct{}
}

func (i *wasmInstance) Subscribe(event string) {
	i.subscribed[event] = struct{}{}
}

func (i *wasmInstance) Supports(event string) bool {
	_, ok := i.subscribed[event]
	return ok
}

// Run delivers one event: the name and a JSON envelope are written into
// guest memory through the guest's own allocator, then the run export is
// invoked. The guest owns the passed buffers.
func (i *wasmInstance) Run(rc modhost.RunContext) error {
	ctx := withInstance(i.ctx, i)

	if !i.started {
		i.started = true
		if i.initialize != nil {
			if _, err := i.initialize.Call(ctx); err != nil {
				return errors.Wrap(errors.PhaseDispatch, errors.KindGuestPanic, err, "guest init trapped")
			}
		}
	}

	payload, err := json.Marshal(eventEnvelope{Time: rc.Time, Data: rc.EventData})
	if err != nil {
		return errors.Wrap(errors.PhaseDispatch, errors.KindInvalidInput, err, "encode event payload")
	}
	name := []byte(rc.EventName)

	namePtr, err := i.write(ctx, name)
	if err != nil {
		return err
	}
	dataPtr, err := i.write(ctx, payload)
	if err != nil {
		return err
	}

	results, err := i.run.Call(ctx,
		uint64(namePtr), uint64(len(name)),
		uint64(dataPtr), uint64(len(payload)))
	if err != nil {
		// A trap is an abnormal termination, not a normal failure result.
		return errors.New(errors.PhaseDispatch, errors.KindGuestPanic).
			Module(i.moduleID).
			Event(rc.EventName).
			Cause(err).
			Build()
	}
	if len(results) > 0 && api.DecodeI32(results[0]) != 0 {
		return errors.New(errors.PhaseDispatch, errors.KindRuntimeError).
			Module(i.moduleID).
			Event(rc.EventName).
			Detail("guest returned status %d", api.DecodeI32(results[0])).
			Build()
	}
	return nil
}

// write allocates guest memory and copies data into it. A zero-length
// buffer is passed as a null pointer.
func (i *wasmInstance) write(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	results, err := i.alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, errors.New(errors.PhaseDispatch, errors.KindGuestPanic).
			Module(i.moduleID).
			Cause(err).
			Detail("guest allocator trapped").
			Build()
	}
	ptr := api.DecodeU32(results[0])
	if !i.mod.Memory().Write(ptr, data) {
		return 0, errors.New(errors.PhaseDispatch, errors.KindRuntimeError).
			Module(i.moduleID).
			Detail("allocator returned out-of-range pointer %d for %d bytes", ptr, len(data)).
			Build()
	}
	return ptr, nil
}

// Close flushes buffered guest output and releases the instance.
func (i *wasmInstance) Close() error {
	i.stdout.Flush()
	i.stderr.Flush()
	return i.mod.Close(i.ctx)
}
