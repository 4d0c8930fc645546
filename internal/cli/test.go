package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/harness"
	"github.com/graftkit/graft/internal/metrics"
)

// TestOptions holds test command flags.
type TestOptions struct {
	// Metrics serves a Prometheus endpoint for the duration of the run.
	Metrics bool
	// MetricsListen overrides the config's metrics.listen address.
	MetricsListen string
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{}

	cmd := &cobra.Command{
		Use:   "test <scenario-file-or-dir>...",
		Short: "Run conformance scenarios",
		Long: `Run declarative conformance scenarios through the binding harness.

Each scenario builds an element tree, attaches binding declarations,
scripts lifecycle and mutation steps, and asserts on the resulting
trace and final state. Directories are walked recursively for .yaml
and .yml files.

With --metrics (or metrics.enabled in graft.yaml) the run counts engine
activity on a Prometheus registry and serves it on /metrics at the
configured listen address until the command exits.

Exit codes:
  0 - all scenarios passed
  1 - one or more scenarios failed
  2 - command error (missing paths, unreadable files)

Examples:
  graft test ./scenarios
  graft test ./scenarios/late-load.yaml
  graft test ./scenarios --format json
  graft test ./scenarios --metrics --metrics-listen :9090`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(rootOpts, opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "serve Prometheus metrics during the run")
	cmd.Flags().StringVar(&opts.MetricsListen, "metrics-listen", "", "metrics listen address (default from config)")

	return cmd
}

func runTests(opts *RootOptions, testOpts *TestOptions, roots []string, cmd *cobra.Command) error {
	seen := map[string]bool{}
	var files []string
	for _, root := range roots {
		found, err := harness.FindScenarios(root)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario path %s", root), err)
		}
		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				files = append(files, f)
			}
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return NewExitError(ExitCommandError, "no scenario files found")
	}

	var runOpts []harness.Option
	cfg := opts.Config()
	if testOpts.Metrics || cfg.Metrics.Enabled {
		listen := testOpts.MetricsListen
		if listen == "" {
			listen = cfg.Metrics.Listen
		}
		reg := prometheus.NewRegistry()
		runOpts = append(runOpts, harness.WithMetrics(metrics.NewPrometheus(reg)))

		srv, err := serveMetrics(listen, reg)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("metrics listener %s", listen), err)
		}
		defer srv.Close()
		slog.Info("metrics endpoint up", "addr", srv.Addr())
	}

	result := harness.RunFiles(files, runOpts...)

	if opts.Format == "json" {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(Response{Status: "ok", Data: result}); err != nil {
			return err
		}
	} else {
		outputTestText(cmd, result)
	}

	if !result.Pass() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

func outputTestText(cmd *cobra.Command, result *harness.SuiteResult) {
	w := cmd.OutOrStdout()
	for _, r := range result.Results {
		name := r.Scenario
		if name == "" {
			name = r.Path
		}
		switch {
		case r.Error != "":
			fmt.Fprintf(w, "ERR   %s  (%s)\n", name, r.Path)
			fmt.Fprintf(w, "      %s\n", r.Error)
		case r.Pass:
			fmt.Fprintf(w, "PASS  %s\n", name)
		default:
			fmt.Fprintf(w, "FAIL  %s  (%s)\n", name, r.Path)
			for _, f := range r.Failures {
				fmt.Fprintf(w, "      %s\n", f)
			}
		}
	}
	fmt.Fprintf(w, "\n%d scenarios: %d passed, %d failed\n", result.Total, result.Passed, result.Failed)
}

// metricsServer exposes a Prometheus registry over HTTP for the lifetime
// of a test run.
type metricsServer struct {
	ln  net.Listener
	srv *http.Server
}

// serveMetrics binds listen and serves reg on /metrics in the background.
func serveMetrics(listen string, reg *prometheus.Registry) (*metricsServer, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s := &metricsServer{ln: ln, srv: &http.Server{Handler: mux}}
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics endpoint failed", "error", err)
		}
	}()
	return s, nil
}

// Addr returns the bound address, with any ephemeral port resolved.
func (s *metricsServer) Addr() string { return s.ln.Addr().String() }

// Close drains and stops the endpoint.
func (s *metricsServer) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}
