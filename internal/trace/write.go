package trace

import (
	"context"
	"fmt"
)

// WriteSession inserts a session record.
// Uses ON CONFLICT(token) DO NOTHING for idempotency - re-running a
// scenario against the same store is silently absorbed. Other constraint
// violations (e.g., NOT NULL) still return errors.
//
// The declaration summary is serialized to canonical JSON per RFC 8785 so
// identical declarations produce identical rows.
func (s *Store) WriteSession(ctx context.Context, rec SessionRecord) error {
	declared := rec.Declared
	if declared == nil {
		declared = map[string]any{}
	}
	declaredJSON, err := MarshalCanonical(declared)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions
		(token, target, property, mode, declared)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(token) DO NOTHING
	`,
		rec.Token,
		rec.Target,
		rec.Property,
		rec.Mode,
		string(declaredJSON),
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	return nil
}

// WriteEvent appends one event to a session's timeline.
// Uses ON CONFLICT DO NOTHING for idempotency - a (session, seq) pair is
// written at most once, so replaying a scenario into the same store cannot
// duplicate its timeline.
//
// Note: The session referenced by ev.Session must exist (foreign key
// constraint).
func (s *Store) WriteEvent(ctx context.Context, ev Event) error {
	detail := ev.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	detailJSON, err := MarshalCanonical(detail)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events
		(session_token, seq, kind, detail)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_token, seq) DO NOTHING
	`,
		ev.Session,
		ev.Seq,
		string(ev.Kind),
		string(detailJSON),
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}

	return nil
}

// OpenSession implements Recorder.
func (s *Store) OpenSession(rec SessionRecord) error {
	return s.WriteSession(context.Background(), rec)
}

// Record implements Recorder.
func (s *Store) Record(ev Event) error {
	return s.WriteEvent(context.Background(), ev)
}
