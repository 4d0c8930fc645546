package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Kind     string // optional - filter to one event kind
	List     bool
}

// TimelineEvent is one trace event as the CLI renders it.
type TimelineEvent struct {
	Seq    int64          `json:"seq"`
	Kind   string         `json:"kind"`
	Detail map[string]any `json:"detail,omitempty"`
}

// SessionInfo describes the session header.
type SessionInfo struct {
	Token    string         `json:"token"`
	Target   string         `json:"target"`
	Property string         `json:"property"`
	Mode     string         `json:"mode"`
	Declared map[string]any `json:"declared,omitempty"`
}

// TraceResult holds the complete trace output for one session.
type TraceResult struct {
	Session  SessionInfo     `json:"session"`
	Timeline []TimelineEvent `json:"timeline"`
	Stats    TraceStats      `json:"stats"`
}

// TraceStats summarizes a session's timeline.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	ByKind      map[string]int `json:"by_kind,omitempty"`
}

// SessionList is the --list output.
type SessionList struct {
	Sessions []SessionInfo `json:"sessions"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Query a binding session's diagnostic timeline",
		Long: `Query a binding session's diagnostic timeline from a trace store.

Shows the session header (target, property, declaration summary), the
event timeline in logical-clock order, and per-kind event counts.

Examples:
  graft trace --db ./graft-trace.db --list
  graft trace --db ./graft-trace.db --session 0190c7e4-...
  graft trace --db ./graft-trace.db --session s1 --kind propagated
  graft trace --db ./graft-trace.db --session s1 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the SQLite trace store (default: config trace.database)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session token to trace")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter the timeline to one event kind")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list the sessions in the store instead of tracing one")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	db := opts.Database
	if db == "" {
		db = opts.Config().Trace.Database
	}
	if db == "" {
		return NewExitError(ExitCommandError, "no trace database: pass --db or set trace.database in graft.yaml")
	}

	st, err := trace.Open(db)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace store", err)
	}
	defer st.Close()

	if opts.List {
		return runTraceList(ctx, opts, st, cmd)
	}
	if opts.Session == "" {
		return NewExitError(ExitCommandError, "either --session or --list is required")
	}

	rec, err := st.ReadSession(ctx, opts.Session)
	if errors.Is(err, sql.ErrNoRows) {
		return NewExitError(ExitCommandError, fmt.Sprintf("session not found: %s", opts.Session))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}

	events, err := st.ReadEvents(ctx, opts.Session, trace.Kind(opts.Kind))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}
	stats, err := st.SessionStats(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read stats", err)
	}

	result := TraceResult{
		Session: SessionInfo{
			Token:    rec.Token,
			Target:   rec.Target,
			Property: rec.Property,
			Mode:     rec.Mode,
			Declared: rec.Declared,
		},
		Timeline: make([]TimelineEvent, 0, len(events)),
		Stats:    TraceStats{TotalEvents: stats.Total, ByKind: map[string]int{}},
	}
	for _, ev := range events {
		result.Timeline = append(result.Timeline, TimelineEvent{
			Seq:    ev.Seq,
			Kind:   string(ev.Kind),
			Detail: ev.Detail,
		})
	}
	for k, n := range stats.ByKind {
		result.Stats.ByKind[string(k)] = n
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(Response{Status: "ok", Data: result})
	}
	return outputTraceText(cmd, result)
}

func runTraceList(ctx context.Context, opts *TraceOptions, st *trace.Store, cmd *cobra.Command) error {
	recs, err := st.ListSessions(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	list := SessionList{Sessions: make([]SessionInfo, 0, len(recs))}
	for _, rec := range recs {
		list.Sessions = append(list.Sessions, SessionInfo{
			Token:    rec.Token,
			Target:   rec.Target,
			Property: rec.Property,
			Mode:     rec.Mode,
		})
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(Response{Status: "ok", Data: list})
	}
	w := cmd.OutOrStdout()
	if len(list.Sessions) == 0 {
		fmt.Fprintln(w, "No sessions in store.")
		return nil
	}
	for _, s := range list.Sessions {
		fmt.Fprintf(w, "%s  %s.%s  (%s)\n", s.Token, s.Target, s.Property, s.Mode)
	}
	return nil
}

func outputTraceText(cmd *cobra.Command, result TraceResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Session: %s\n", result.Session.Token)
	fmt.Fprintf(w, "Target:  %s.%s (%s)\n", result.Session.Target, result.Session.Property, result.Session.Mode)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Timeline:")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, ev := range result.Timeline {
		if len(ev.Detail) == 0 {
			fmt.Fprintf(w, "  %6d  %s\n", ev.Seq, ev.Kind)
			continue
		}
		fmt.Fprintf(w, "  %6d  %-16s %s\n", ev.Seq, ev.Kind, formatDetail(ev.Detail))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Stats: %d events\n", result.Stats.TotalEvents)
	kinds := make([]string, 0, len(result.Stats.ByKind))
	for k := range result.Stats.ByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-18s %d\n", k, result.Stats.ByKind[k])
	}
	return nil
}

// formatDetail renders a detail map as stable key=value pairs.
func formatDetail(detail map[string]any) string {
	keys := make([]string, 0, len(detail))
	for k := range detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, detail[k]))
	}
	return strings.Join(parts, " ")
}
