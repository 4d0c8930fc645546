// Package trace records the diagnostic timeline of binding sessions.
//
// The engine emits one event per observable step - resolution attempts,
// retries armed, subscriptions, propagations, gate transitions, teardown -
// tagged with the owning session's token. Recorders receive them:
//   - Nop: discards everything (the default; tracing is opt-in)
//   - Memory: in-memory timeline for the harness and golden comparison
//   - Store: SQLite-backed durable timeline for the CLI
//
// # Determinism
//
// Ordering uses seq INTEGER (the engine's logical clock), never
// timestamps, so identical scenario runs produce identical timelines.
// Queries order by seq ASC, id ASC. Event details and golden traces are
// serialized as RFC 8785 canonical JSON: sorted keys (UTF-16 code units),
// NFC-normalized strings, no HTML escaping, no floats, no null.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Writes are idempotent: sessions conflict on token, events on
// (session, seq), both with ON CONFLICT DO NOTHING, so replaying a
// scenario into an existing store cannot duplicate its timeline.
package trace
