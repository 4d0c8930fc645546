package trace

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// ReadSession retrieves a session record by token.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadSession(ctx context.Context, token string) (SessionRecord, error) {
	var rec SessionRecord
	var declaredJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT token, target, property, mode, declared
		FROM sessions
		WHERE token = ?
	`, token).Scan(&rec.Token, &rec.Target, &rec.Property, &rec.Mode, &declaredJSON)
	if err != nil {
		return SessionRecord{}, err
	}

	if err := json.Unmarshal([]byte(declaredJSON), &rec.Declared); err != nil {
		return SessionRecord{}, fmt.Errorf("read session %s: parse declared: %w", token, err)
	}
	return rec, nil
}

// ReadEvents returns a session's timeline. A non-empty kind restricts the
// result to that event kind.
//
// Results are ordered deterministically: ORDER BY seq ASC, id ASC.
// Returns an empty slice (not nil) if no events exist for the token.
func (s *Store) ReadEvents(ctx context.Context, token string, kind Kind) ([]Event, error) {
	query := `
		SELECT session_token, seq, kind, detail
		FROM events
		WHERE session_token = ?
	`
	args := []any{token}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY seq ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var kind, detailJSON string
	if err := rows.Scan(&ev.Session, &ev.Seq, &kind, &detailJSON); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Kind = Kind(kind)

	if err := json.Unmarshal([]byte(detailJSON), &ev.Detail); err != nil {
		return Event{}, fmt.Errorf("scan event seq %d: parse detail: %w", ev.Seq, err)
	}
	return ev, nil
}

// ListSessions returns all session tokens in the store, ordered by token.
// UUIDv7 tokens sort by creation time.
func (s *Store) ListSessions(ctx context.Context) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT token, target, property, mode, declared
		FROM sessions
		ORDER BY token ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var declaredJSON string
		if err := rows.Scan(&rec.Token, &rec.Target, &rec.Property, &rec.Mode, &declaredJSON); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if err := json.Unmarshal([]byte(declaredJSON), &rec.Declared); err != nil {
			return nil, fmt.Errorf("session %s: parse declared: %w", rec.Token, err)
		}
		sessions = append(sessions, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

// Stats summarizes a session's timeline for the CLI.
type Stats struct {
	Total  int
	ByKind map[Kind]int
}

// SessionStats returns per-kind event counts for a session.
func (s *Store) SessionStats(ctx context.Context, token string) (Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*)
		FROM events
		WHERE session_token = ?
		GROUP BY kind
		ORDER BY kind ASC
	`, token)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := Stats{ByKind: map[Kind]int{}}
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.ByKind[Kind(kind)] = count
		stats.Total += count
	}

	if err := rows.Err(); err != nil {
		return Stats{}, fmt.Errorf("iterate stats: %w", err)
	}

	return stats, nil
}
