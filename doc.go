// Package modhost hosts untrusted, hot-reloadable guest modules inside a
// single-threaded tick simulation.
//
// Each module is attached to an entity in a running world, carries compiled
// bytecode, and is driven by simulation events (per-tick frame events,
// physics collisions, guest messages) without being able to crash or stall
// the host. Compilation is the only operation that leaves the simulation
// goroutine; a failing module accumulates errors and is force-unloaded past
// a fixed threshold while the tick proceeds unaffected.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	modhost/         Root package with the Instance, Factory and Messenger interfaces
//	├── host/        Module lifecycle, event routing, fault containment, tick systems
//	├── engine/      wazero-backed instance factory and guest host functions
//	├── world/       Minimal in-memory entity store (stand-in for the real ECS)
//	├── config/      Module manifest (YAML) and environment configuration
//	└── errors/      Structured error types for debugging
//
// # Quick Start
//
// Build an engine-backed host and drive it from a tick loop:
//
//	eng, err := engine.New(ctx, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	h := host.New(world.New(), host.Config{
//	    Factory:   eng.Factory(ctx),
//	    Messenger: messenger,
//	})
//
//	id := h.SpawnModule("mover", "moves things", true)
//	h.SetBytecode(id, bytecode)
//
//	for range ticker.C {
//	    h.Tick(tickInterval)
//	}
//
// # Thread Safety
//
// The host, the world and every running instance belong to the simulation
// goroutine. The only concurrency in the system is bytecode compilation,
// which runs on its own goroutine per load and hands its result back through
// the host's deferred-callback queue, drained at the start of each tick.
package modhost
