// Package engine provides the wazero-backed instance factory.
//
// The engine is the sandboxed execution boundary: it compiles guest
// bytecode into WebAssembly instances and exposes the host capability set
// to them under the "dims" import namespace (subscribe, send, spawn,
// despawn). Guest programs follow a small core-module ABI:
//
//	(memory (export "memory") ...)
//	(func (export "alloc") (param i32) (result i32))
//	(func (export "run") (param i32 i32 i32 i32) (result i32))
//
// run receives the event name and a JSON envelope {"time": …, "data": …}
// as (ptr, len) pairs allocated through the guest's own alloc, and returns
// zero on success. A non-zero status is a recoverable guest failure; a
// trap is reported as an abnormal termination. An optional "_initialize"
// export runs lazily before the first event, on the simulation goroutine.
//
// Compilation and instantiation happen on whichever goroutine calls the
// factory (the host's load worker); everything after that belongs to the
// simulation goroutine.
package engine
