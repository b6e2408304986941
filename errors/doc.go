// Package errors provides structured error types for the module host.
//
// Errors carry a Phase (where in the lifecycle they occurred) and a Kind
// (what went wrong), plus the owning module id and event name when known.
// Two errors match under errors.Is when their Phase and Kind agree, so
// callers can test categories without string comparison.
package errors
