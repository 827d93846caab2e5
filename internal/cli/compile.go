package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/latentrec/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string
}

// CompiledModel is one model of a compilation result.
type CompiledModel struct {
	Hash  string       `json:"hash"`
	Model ir.ModelSpec `json:"model"`
}

// CompilationResult holds the compiled models.
type CompilationResult struct {
	FormatVersion string          `json:"format_version"`
	Models        []CompiledModel `json:"models"`
}

// ModelStats summarizes one compiled model.
type ModelStats struct {
	Name      string
	Variables int
	Leaves    int
	Latents   int
	Levels    int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <model-path>",
		Short: "Compile CUE models to canonical IR",
		Long: `Compile CUE latent tree models to their IR form.

The path is a .cue file or a directory holding one CUE package. Every model
declared under "model" is compiled, validated and hashed.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	loadResult, loadErrors := LoadModels(path, LoadModeCollectAll)
	if loadResult == nil && len(loadErrors) > 0 {
		code, message := parseLoadError(loadErrors[0])
		return formatter.Fail(ExitCommandError, code, message)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	result := &CompilationResult{FormatVersion: ir.FormatVersion}
	var stats []ModelStats
	for i := range loadResult.Models {
		spec := &loadResult.Models[i]
		formatter.VerboseLog("Compiling model: %s", spec.Name)

		m, err := validateAndBuild(spec)
		if err != nil {
			loadErrors = append(loadErrors, err)
			continue
		}
		hash, err := ir.ModelHash(*spec)
		if err != nil {
			loadErrors = append(loadErrors, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("hashing %s: %v", spec.Name, err)})
			continue
		}
		result.Models = append(result.Models, CompiledModel{Hash: hash, Model: *spec})
		stats = append(stats, modelStats(m))
	}

	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	if opts.Output != "" {
		if err := writeIRToFile(result, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err))
		}
	}

	return outputCompileSuccess(formatter, result, stats, opts.Output)
}

// validateAndBuild returns the first validation error as a LoadError.
func validateAndBuild(spec *ir.ModelSpec) (*ir.Model, error) {
	if errs := validateSpec(spec); len(errs) > 0 {
		return nil, &LoadError{Code: errs[0].Code, Message: fmt.Sprintf("%s: %s: %s", spec.Name, errs[0].Field, errs[0].Message)}
	}
	m, err := ir.Build(*spec)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}
	return m, nil
}

func modelStats(m *ir.Model) ModelStats {
	return ModelStats{
		Name:      m.Name(),
		Variables: m.Len(),
		Leaves:    len(m.Leaves()),
		Latents:   len(m.Latents()),
		Levels:    len(m.Levels()),
	}
}

func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, stats []ModelStats, outputFile string) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %d model(s)\n\n", len(result.Models))
	for i, s := range stats {
		fmt.Fprintf(w, "  %s: %d variable(s), %d leaves, %d latent(s), %d level(s)\n",
			s.Name, s.Variables, s.Leaves, s.Latents, s.Levels)
		fmt.Fprintf(w, "    hash %s\n", result.Models[i].Hash)
	}
	fmt.Fprintln(w)

	if outputFile != "" {
		fmt.Fprintf(w, "Wrote canonical IR to %s\n", outputFile)
	}
	return nil
}

func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	if formatter.JSON() {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			code, message := parseLoadError(err)
			cliErrors[i] = CLIError{Code: code, Message: message}
		}
		if err := formatter.Respond(CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors,
		}); err != nil {
			return err
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	w := formatter.Writer
	fmt.Fprintln(w, "✗ Compilation failed")
	fmt.Fprintln(w)
	for _, err := range errs {
		code, message := parseLoadError(err)
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Pos.IsValid() {
			fmt.Fprintf(w, "%s:%d:%d\n", loadErr.Pos.Filename(), loadErr.Pos.Line(), loadErr.Pos.Column())
		}
		fmt.Fprintf(w, "  %s: %s\n\n", code, message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// parseLoadError extracts error code and message from an error.
func parseLoadError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	return ErrCodeGeneric, err.Error()
}

// writeIRToFile writes the result as indented JSON. Hashes use the
// canonical form; the file is for reading.
func writeIRToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling IR: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}
	return nil
}
