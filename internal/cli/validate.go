package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/latentrec/internal/compiler"
	"github.com/roach88/latentrec/internal/ir"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool                       `json:"valid"`
	Models int                        `json:"models"`
	Errors []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <model-path>",
		Short: "Validate models without writing IR",
		Long: `Validate CUE latent tree models.

Checks that every model has exactly one root, known and acyclic parents,
at least two states per variable, and row-stochastic CPTs. All errors are
reported, not just the first.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := LoadModels(path, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseLoadError(loadErrors[0])
		return formatter.Fail(ExitCommandError, code, message)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	var validationErrors []compiler.ValidationError
	for _, err := range loadErrors {
		code, message := parseLoadError(err)
		validationErrors = append(validationErrors, compiler.ValidationError{
			Field:   "load",
			Message: message,
			Code:    code,
		})
	}
	for i := range loadResult.Models {
		spec := &loadResult.Models[i]
		formatter.VerboseLog("Validating model: %s", spec.Name)
		validationErrors = append(validationErrors, validateSpec(spec)...)
	}

	if len(validationErrors) > 0 {
		return outputValidationErrors(formatter, validationErrors)
	}
	return outputValidateSuccess(formatter, len(loadResult.Models))
}

// validateSpec prefixes each field with the model name.
func validateSpec(spec *ir.ModelSpec) []compiler.ValidationError {
	errs := compiler.Validate(spec)
	for i := range errs {
		errs[i].Field = spec.Name + "." + errs[i].Field
	}
	return errs
}

func outputValidateSuccess(formatter *OutputFormatter, models int) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Models: models})
	}
	fmt.Fprintf(formatter.Writer, "✓ All models valid (%d)\n", models)
	return nil
}

func outputValidationErrors(formatter *OutputFormatter, errs []compiler.ValidationError) error {
	if formatter.JSON() {
		if err := formatter.Respond(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error:  &CLIError{Code: errs[0].Code, Message: errs[0].Message},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Validation failed")
	fmt.Fprintln(w)
	for _, err := range errs {
		fmt.Fprintf(w, "%s\n  %s: %s\n\n", err.Field, err.Code, err.Message)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
