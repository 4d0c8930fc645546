package trace

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newReadTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "trace.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReadSession_RoundTrip(t *testing.T) {
	s := newReadTestStore(t)
	ctx := context.Background()

	rec := SessionRecord{
		Token:    "sess-1",
		Target:   "Label",
		Property: "Text",
		Mode:     "one_way",
		Declared: map[string]any{"source": "name:orders"},
	}
	if err := s.WriteSession(ctx, rec); err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}

	got, err := s.ReadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ReadSession() failed: %v", err)
	}

	if got.Token != rec.Token {
		t.Errorf("token = %q, want %q", got.Token, rec.Token)
	}
	if got.Target != rec.Target {
		t.Errorf("target = %q, want %q", got.Target, rec.Target)
	}
	if got.Property != rec.Property {
		t.Errorf("property = %q, want %q", got.Property, rec.Property)
	}
	if got.Mode != rec.Mode {
		t.Errorf("mode = %q, want %q", got.Mode, rec.Mode)
	}
	if got.Declared["source"] != "name:orders" {
		t.Errorf("declared[source] = %v, want %q", got.Declared["source"], "name:orders")
	}
}

func TestReadSession_NotFound(t *testing.T) {
	s := newReadTestStore(t)

	_, err := s.ReadSession(context.Background(), "nonexistent")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestReadEvents_OrderedBySeq(t *testing.T) {
	s := newReadTestStore(t)
	ctx := context.Background()

	if err := s.WriteSession(ctx, SessionRecord{Token: "sess-1", Target: "Label", Property: "Text", Mode: "one_way"}); err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}

	// Write out of seq order; reads must come back sorted
	for _, seq := range []int64{5, 1, 3} {
		ev := Event{Seq: seq, Session: "sess-1", Kind: KindResolved}
		if err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent(seq=%d) failed: %v", seq, err)
		}
	}

	events, err := s.ReadEvents(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []int64{1, 3, 5} {
		if events[i].Seq != want {
			t.Errorf("events[%d].Seq = %d, want %d", i, events[i].Seq, want)
		}
	}
}

func TestReadEvents_KindFilter(t *testing.T) {
	s := newReadTestStore(t)
	ctx := context.Background()

	if err := s.WriteSession(ctx, SessionRecord{Token: "sess-1", Target: "Label", Property: "Text", Mode: "one_way"}); err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}

	writes := []Event{
		{Seq: 1, Session: "sess-1", Kind: KindSessionOpened},
		{Seq: 2, Session: "sess-1", Kind: KindResolved},
		{Seq: 3, Session: "sess-1", Kind: KindPropagated},
		{Seq: 4, Session: "sess-1", Kind: KindPropagated},
	}
	for _, ev := range writes {
		if err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent(seq=%d) failed: %v", ev.Seq, err)
		}
	}

	events, err := s.ReadEvents(ctx, "sess-1", KindPropagated)
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	for i, ev := range events {
		if ev.Kind != KindPropagated {
			t.Errorf("events[%d].Kind = %q, want %q", i, ev.Kind, KindPropagated)
		}
	}
}

func TestReadEvents_EmptyNotNil(t *testing.T) {
	s := newReadTestStore(t)

	events, err := s.ReadEvents(context.Background(), "nonexistent", "")
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}
	if events == nil {
		t.Error("ReadEvents() returned nil, want empty slice")
	}
	if len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
}

func TestReadEvents_DetailRoundTrip(t *testing.T) {
	s := newReadTestStore(t)
	ctx := context.Background()

	if err := s.WriteSession(ctx, SessionRecord{Token: "sess-1", Target: "Label", Property: "Text", Mode: "one_way"}); err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}

	ev := Event{
		Seq:     1,
		Session: "sess-1",
		Kind:    KindResolved,
		Detail: map[string]any{
			"value":        "hello",
			"from_context": true,
		},
	}
	if err := s.WriteEvent(ctx, ev); err != nil {
		t.Fatalf("WriteEvent() failed: %v", err)
	}

	events, err := s.ReadEvents(ctx, "sess-1", "")
	if err != nil {
		t.Fatalf("ReadEvents() failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	got := events[0].Detail
	if got["value"] != "hello" {
		t.Errorf("detail[value] = %v, want %q", got["value"], "hello")
	}
	if got["from_context"] != true {
		t.Errorf("detail[from_context] = %v, want true", got["from_context"])
	}
}

func TestListSessions_OrderedByToken(t *testing.T) {
	s := newReadTestStore(t)
	ctx := context.Background()

	// Insert out of order; UUIDv7 tokens sort by creation time, so token
	// order is the display order
	for _, token := range []string{"sess-c", "sess-a", "sess-b"} {
		if err := s.WriteSession(ctx, SessionRecord{Token: token, Target: "Label", Property: "Text", Mode: "one_way"}); err != nil {
			t.Fatalf("WriteSession(%q) failed: %v", token, err)
		}
	}

	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}

	if len(sessions) != 3 {
		t.Fatalf("got %d sessions, want 3", len(sessions))
	}
	for i, want := range []string{"sess-a", "sess-b", "sess-c"} {
		if sessions[i].Token != want {
			t.Errorf("sessions[%d].Token = %q, want %q", i, sessions[i].Token, want)
		}
	}
}

func TestListSessions_EmptyNotNil(t *testing.T) {
	s := newReadTestStore(t)

	sessions, err := s.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions() failed: %v", err)
	}
	if sessions == nil {
		t.Error("ListSessions() returned nil, want empty slice")
	}
}

func TestSessionStats_CountsByKind(t *testing.T) {
	s := newReadTestStore(t)
	ctx := context.Background()

	if err := s.WriteSession(ctx, SessionRecord{Token: "sess-1", Target: "Label", Property: "Text", Mode: "one_way"}); err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}
	if err := s.WriteSession(ctx, SessionRecord{Token: "sess-2", Target: "Input", Property: "Value", Mode: "two_way"}); err != nil {
		t.Fatalf("WriteSession() failed: %v", err)
	}

	writes := []Event{
		{Seq: 1, Session: "sess-1", Kind: KindSessionOpened},
		{Seq: 2, Session: "sess-1", Kind: KindResolved},
		{Seq: 3, Session: "sess-1", Kind: KindPropagated},
		{Seq: 4, Session: "sess-1", Kind: KindPropagated},
		{Seq: 5, Session: "sess-2", Kind: KindResolved}, // other session, excluded
	}
	for _, ev := range writes {
		if err := s.WriteEvent(ctx, ev); err != nil {
			t.Fatalf("WriteEvent(seq=%d) failed: %v", ev.Seq, err)
		}
	}

	stats, err := s.SessionStats(ctx, "sess-1")
	if err != nil {
		t.Fatalf("SessionStats() failed: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("Total = %d, want 4", stats.Total)
	}
	if stats.ByKind[KindPropagated] != 2 {
		t.Errorf("ByKind[propagated] = %d, want 2", stats.ByKind[KindPropagated])
	}
	if stats.ByKind[KindSessionOpened] != 1 {
		t.Errorf("ByKind[session_opened] = %d, want 1", stats.ByKind[KindSessionOpened])
	}
	if stats.ByKind[KindResolved] != 1 {
		t.Errorf("ByKind[resolved] = %d, want 1", stats.ByKind[KindResolved])
	}
}

func TestSessionStats_EmptySession(t *testing.T) {
	s := newReadTestStore(t)

	stats, err := s.SessionStats(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("SessionStats() failed: %v", err)
	}
	if stats.Total != 0 {
		t.Errorf("Total = %d, want 0", stats.Total)
	}
	if len(stats.ByKind) != 0 {
		t.Errorf("ByKind has %d entries, want 0", len(stats.ByKind))
	}
}
