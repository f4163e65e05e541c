package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/verdict/internal/config"
	"github.com/roach88/verdict/internal/harness"
)

// Validation error codes.
const (
	ErrCodeSuiteInvalid  = "E301" // suite file cannot be read or is malformed
	ErrCodeConfigInvalid = "E302" // run configuration is invalid
)

// ValidationIssue is one problem found by validate.
type ValidationIssue struct {
	File    string `json:"file"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	ConfigFile string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <suite.yaml>...",
		Short: "Validate suite files without running them",
		Long: `Validate suite files and their run configuration without running them.

Checks the suite structure, step actions, assertions, the config section
and every known issue pattern. With --config, the given configuration file
is validated as well.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "also validate this YAML run configuration")

	return cmd
}

func runValidate(opts *ValidateOptions, files []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	var issues []ValidationIssue
	if opts.ConfigFile != "" {
		formatter.VerboseLog("Validating config: %s", opts.ConfigFile)
		issues = append(issues, validateConfigFile(opts.ConfigFile)...)
	}
	for _, file := range files {
		formatter.VerboseLog("Validating suite: %s", file)
		issues = append(issues, validateSuiteFile(file)...)
	}

	if len(issues) > 0 {
		return outputValidationErrors(formatter, issues)
	}
	return outputValidateSuccess(formatter, len(files))
}

func validateSuiteFile(file string) []ValidationIssue {
	suite, err := harness.LoadSuite(file)
	if err != nil {
		return []ValidationIssue{{File: file, Code: ErrCodeSuiteInvalid, Message: err.Error()}}
	}
	cfg, err := suite.Configuration()
	if err != nil {
		return []ValidationIssue{{File: file, Code: ErrCodeConfigInvalid, Message: err.Error()}}
	}
	return validateKnownIssues(file, cfg)
}

func validateConfigFile(file string) []ValidationIssue {
	cfg, err := config.LoadConfig(file)
	if err != nil {
		return []ValidationIssue{{File: file, Code: ErrCodeConfigInvalid, Message: err.Error()}}
	}
	return validateKnownIssues(file, cfg)
}

// validateKnownIssues compiles the known issue patterns.
func validateKnownIssues(file string, cfg *config.Config) []ValidationIssue {
	if _, err := cfg.KnownIssueRegistry(); err != nil {
		return []ValidationIssue{{File: file, Code: ErrCodeConfigInvalid, Message: err.Error()}}
	}
	return nil
}

// outputValidateSuccess outputs a successful validation result.
func outputValidateSuccess(formatter *OutputFormatter, count int) error {
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{Valid: true})
	}
	fmt.Fprintf(formatter.Writer, "✓ %d suite(s) valid\n", count)
	return nil
}

// outputValidationErrors outputs validation errors and returns an ExitError.
func outputValidationErrors(formatter *OutputFormatter, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: issues},
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: fmt.Sprintf("%d validation error(s)", len(issues)),
			},
		}
		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, issue := range issues {
			fmt.Fprintf(formatter.Writer, "%s\n  %s: %s\n\n", issue.File, issue.Code, issue.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%d validation error(s)", len(issues)))
}
