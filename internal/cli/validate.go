package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nova-rey/crapssim-control/internal/rules"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Spec  string `json:"spec"`
	Rules int    `json:"rules,omitempty"`
	Error string `json:"error,omitempty"`
}

func (r ValidationResult) String() string {
	if r.Valid {
		return fmt.Sprintf("%s: valid (%d rules)", r.Spec, r.Rules)
	}
	return fmt.Sprintf("%s: invalid: %s", r.Spec, r.Error)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <spec.yaml>",
		Short: "Validate a strategy spec without running it",
		Long: `Validate a strategy spec: schema shape, verb names, WHEN/THEN
sentence syntax, expression compilation and duplicate rule IDs.

Exit code 1 means the spec is invalid; 2 means the file could not be read.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, specPath string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	data, err := os.ReadFile(specPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read spec", err)
	}

	spec, err := rules.Parse(data)
	if err != nil {
		result := ValidationResult{Valid: false, Spec: specPath, Error: err.Error()}
		if fmtErr := formatter.Success(result); fmtErr != nil {
			return WrapExitError(ExitCommandError, "failed to render result", fmtErr)
		}
		return NewExitError(ExitFailure, "spec is invalid")
	}

	return formatter.Success(ValidationResult{
		Valid: true,
		Spec:  specPath,
		Rules: len(spec.Rules),
	})
}
