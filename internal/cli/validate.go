package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/graftkit/graft/internal/harness"
)

// FileValidation holds the validation outcome for one scenario file.
type FileValidation struct {
	Path   string   `json:"path"`
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidationResult aggregates a validation run.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario-file-or-dir>...",
		Short: "Validate scenario documents without running them",
		Long: `Validate scenario documents against the scenario schema.

Checks each document against the embedded schema, then decodes it
strictly and verifies internal consistency (every element, source, and
session a step or assertion references must be declared). Nothing is
executed. Faster than a full test run for editing feedback.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, roots []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

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
	formatter.VerboseLog("Validating %d scenario file(s)", len(files))

	result := ValidationResult{Valid: true}
	for _, f := range files {
		fv := validateFile(f)
		if !fv.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	if opts.Format == "json" {
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(Response{Status: "ok", Data: result}); err != nil {
			return err
		}
	} else {
		outputValidateText(cmd, result)
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// validateFile checks one document: schema first, then strict decode and
// consistency. LoadScenarioBytes runs both, so one call yields everything
// the harness itself would reject.
func validateFile(file string) FileValidation {
	fv := FileValidation{Path: file}

	data, err := os.ReadFile(file)
	if err != nil {
		fv.Errors = append(fv.Errors, err.Error())
		return fv
	}

	if _, err := harness.LoadScenarioBytes(data); err != nil {
		var schemaErrs *harness.SchemaErrors
		if errors.As(err, &schemaErrs) {
			for _, se := range schemaErrs.Errs {
				fv.Errors = append(fv.Errors, se.Error())
			}
		} else {
			fv.Errors = append(fv.Errors, err.Error())
		}
		return fv
	}

	fv.Valid = true
	return fv
}

func outputValidateText(cmd *cobra.Command, result ValidationResult) {
	w := cmd.OutOrStdout()
	for _, fv := range result.Files {
		if fv.Valid {
			fmt.Fprintf(w, "OK    %s\n", fv.Path)
			continue
		}
		fmt.Fprintf(w, "BAD   %s\n", fv.Path)
		for _, e := range fv.Errors {
			fmt.Fprintf(w, "      %s\n", e)
		}
	}
}
