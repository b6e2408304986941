// Package host drives guest modules through their lifecycle inside a
// single-threaded simulation tick.
//
// A Host owns the module records, the event router and the fault-containment
// policy. Each call to Tick runs the per-tick systems in a fixed order:
// drain deferred callbacks (compile completions), detect modules whose
// desired state changed, synthesize the frame / collision / collider-loads
// events, then drain queued guest messages. Compilation is the only work
// that leaves the simulation goroutine; its result crosses back through the
// deferred-callback queue.
//
// A module that fails — a compile error, a guest runtime error, or a caught
// panic — accumulates error strings in a bounded log. The moment the log
// would exceed ErrorLimit the module is force-unloaded with reason
// "too many errors". Unload clears the log, so a reload always starts with
// a clean slate.
package host
