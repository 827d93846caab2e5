package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/latentrec/internal/batch"
	"github.com/roach88/latentrec/internal/engine"
)

// AssignOptions holds flags for the assign command.
type AssignOptions struct {
	*RootOptions
	Database  string
	Model     string
	ModelName string
	Entities  bool // list every entity's states
}

// AssignResult holds the hard assignment of every entity.
type AssignResult struct {
	Factors  []string           `json:"factors"`
	Counts   [][]int            `json:"counts"`
	Entities map[string][]int   `json:"entities,omitempty"`
	Failures []FactorRowFailure `json:"failures,omitempty"`
}

// NewAssignCommand creates the assign command.
func NewAssignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AssignOptions{RootOptions: rootOpts}
	var settings factorSettings

	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Assign every entity its most probable latent states",
		Long: `Assign every entity the most probable state of each latent at the
chosen level, given its positive items, and report how many entities fall
into each state. Nothing is stored.

Examples:
  latentrec assign --db ./latentrec.db --model ./models/movies.cue
  latentrec assign --model ./models/movies.cue --level 2 --entities --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAssign(opts, settings, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model file or directory (required)")
	cmd.Flags().StringVar(&opts.ModelName, "model-name", "", "model to use when the path declares several")
	cmd.Flags().BoolVar(&opts.Entities, "entities", false, "list the states of every entity")
	addSettingsFlags(cmd, &settings)
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func runAssign(opts *AssignOptions, flags factorSettings, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	settings, err := mergeSettings(opts.RootOptions, cmd, flags)
	if err != nil {
		return err
	}
	dbPath, err := resolveDatabase(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	st, err := openExistingStore(formatter, dbPath)
	if err != nil {
		return err
	}
	defer closeStore(st)

	in, err := prepareBatch(ctx, st, opts.Model, opts.ModelName, settings)
	if err != nil {
		return failRun(formatter, err)
	}
	assignment, err := batch.HardAssign(ctx, in.cfg)
	if err != nil {
		return failRun(formatter, err)
	}

	result := AssignResult{
		Factors: factorNames(in.model, in.cfg.Factors),
		Counts:  assignment.Counts,
	}
	if opts.Entities {
		result.Entities = make(map[string][]int, len(assignment.States))
		for u, states := range assignment.States {
			if states == nil || slices.Contains(states, -1) {
				continue
			}
			result.Entities[in.cfg.Feedback.EntityID(u)] = states
		}
	}
	for _, f := range assignment.Failures {
		result.Failures = append(result.Failures, FactorRowFailure{
			Entity: f.ID,
			Code:   string(engine.CodeOf(f.Err)),
			Error:  f.Err.Error(),
		})
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Assigned %d entities\n\n", in.cfg.Feedback.Entities()-len(result.Failures))
	for k, name := range result.Factors {
		fmt.Fprintf(w, "  %-12s", name)
		for s, n := range result.Counts[k] {
			fmt.Fprintf(w, " %d:%d", s, n)
		}
		fmt.Fprintln(w)
	}
	if opts.Entities {
		fmt.Fprintln(w)
		for u := 0; u < in.cfg.Feedback.Entities(); u++ {
			id := in.cfg.Feedback.EntityID(u)
			if states, ok := result.Entities[id]; ok {
				fmt.Fprintf(w, "  %s %v\n", id, states)
			}
		}
	}
	if len(result.Failures) > 0 {
		fmt.Fprintf(w, "\n  ✗ %d failed row(s):\n", len(result.Failures))
		for _, f := range result.Failures {
			fmt.Fprintf(w, "    %s: %s\n", f.Entity, f.Code)
		}
	}
	return nil
}
