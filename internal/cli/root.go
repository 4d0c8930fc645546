package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/config"
	"github.com/graftkit/graft/internal/logging"
)

// RootOptions holds global flags and the loaded configuration, shared by
// all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string

	cfg *config.Config
}

// Config returns the configuration loaded during command setup. Falls back
// to defaults when setup has not run (unit tests constructing commands
// directly).
func (o *RootOptions) Config() *config.Config {
	if o.cfg == nil {
		return config.DefaultConfig()
	}
	return o.cfg
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the graft CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "graft",
		Short: "graft - deferred binding engine tooling",
		Long: `Tooling for the graft deferred-binding engine.

Query binding session diagnostics from a trace store, run declarative
conformance scenarios, and validate scenario documents against the
scenario schema.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}

			cfg, err := loadConfig(opts.ConfigPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg

			level, err := logging.ParseLevel(cfg.Log.Level)
			if err != nil {
				return err
			}
			if opts.Verbose {
				level = slog.LevelDebug
			}
			return logging.Setup(logging.Options{
				Level:  level,
				Format: cfg.Log.Format,
				Writer: cmd.ErrOrStderr(),
			})
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default: nearest graft.yaml)")

	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}

// loadConfig resolves the effective configuration: an explicit --config
// file when given, the nearest project graft.yaml otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
