// Package engine implements the deferred binding engine.
//
// The engine is the heart of graft - it attaches binding declarations to
// tree nodes, resolves their sources through the tree lifecycle, and keeps
// targets updated as sources change.
//
// ARCHITECTURE:
//
// Single-Writer Dispatch Loop:
// Every session mutation runs on one dispatch loop goroutine. This
// ensures:
// - Predictable ordering of resolution, propagation, and teardown
// - Reproducible traces for identical scenarios
// - Simple reasoning about causality (no locks in session code)
//
// Binding Session Flow:
// 1. Attach validates the declaration and opens a Session
// 2. Resolution runs immediately; pending outcomes arm one lifecycle retry
//    (initialized for nodes under construction, loaded otherwise)
// 3. A successful resolution applies the binding and subscribes to source
//    changes through the bridge
// 4. Change deliveries refresh the target, subject to the debounce window,
//    the type gate, and the reentry guard
// 5. Unload releases the transient wiring; reload re-resolves; Close ends
//    the session
//
// Note: sources notify from arbitrary goroutines. The bridge and the timer
// host marshal every delivery onto the dispatch loop before session code
// sees it.
//
// The engine is designed for correctness and determinism, not throughput.
// Source mutation may happen anywhere, but the core binding loop is
// strictly single-threaded.
//
// CRITICAL PATTERNS:
//
// Logical Clock:
// All trace events are stamped with a monotonic seq counter from
// Clock.Next(). NEVER use wall-clock timestamps for ordering.
//
// Definitive Outcomes:
// A resolution that fails after the loaded checkpoint is definitive.
// Retries exist only on the ladder up to loaded; afterwards, only an
// ambient-context change can re-open resolution.
package engine
