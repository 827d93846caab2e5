package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/latentrec/internal/engine"
	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/potential"
)

// BeliefOptions holds flags for the belief command.
type BeliefOptions struct {
	*RootOptions
	Model      string
	ModelName  string
	Evidence   string
	Positives  []string
	Query      []string
	Family     []string
	Restricted bool
	TopLevel   int
}

// FamilyPosterior is the joint posterior of a variable and its parent,
// row-major with the variable with the larger ID varying fastest.
type FamilyPosterior struct {
	Variables []string  `json:"variables"`
	Cells     []float64 `json:"cells"`
}

// BeliefResult holds the posteriors of one query.
type BeliefResult struct {
	Model         string                     `json:"model"`
	Likelihood    float64                    `json:"likelihood"`
	LogLikelihood float64                    `json:"log_likelihood"`
	Focused       int                        `json:"focused,omitempty"`
	Beliefs       map[string][]float64       `json:"beliefs"`
	Families      map[string]FamilyPosterior `json:"families,omitempty"`
	OutOfScope    []string                   `json:"out_of_scope,omitempty"`

	order []string
}

// NewBeliefCommand creates the belief command.
func NewBeliefCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BeliefOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "belief",
		Short: "Compute posteriors for one set of evidence",
		Long: `Propagate evidence through a model and print posteriors.

Evidence is either a JSON object of observed states, or a list of positive
leaves: every listed leaf is observed in state 1 and every other leaf in
state 0. Without --query the posteriors of all latent variables are
printed.

--restricted propagates only over the range the positives touch; beliefs
outside it are reported as out of scope.

Examples:
  latentrec belief --model ./models/star.cue --evidence '{"X1":1}'
  latentrec belief --model ./models/tree.cue --positives X1,X3 --restricted
  latentrec belief --model ./models/tree.cue --evidence '{"X1":1}' --family A`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBelief(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Model, "model", "", "model file or directory (required)")
	cmd.Flags().StringVar(&opts.ModelName, "model-name", "", "model to use when the path declares several")
	cmd.Flags().StringVar(&opts.Evidence, "evidence", "", `observed states as JSON, e.g. '{"X1":1}'`)
	cmd.Flags().StringSliceVar(&opts.Positives, "positives", nil, "leaves observed in state 1, all others 0")
	cmd.Flags().StringSliceVar(&opts.Query, "query", nil, "variables to report (default all latents)")
	cmd.Flags().StringSliceVar(&opts.Family, "family", nil, "variables whose family posterior to report")
	cmd.Flags().BoolVar(&opts.Restricted, "restricted", false, "propagate over the positives' range only")
	cmd.Flags().IntVar(&opts.TopLevel, "top-level", 0, "model level partitioning the tree for --restricted")
	_ = cmd.MarkFlagRequired("model")
	cmd.MarkFlagsMutuallyExclusive("evidence", "positives")

	return cmd
}

func runBelief(opts *BeliefOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	var evidence map[string]int
	if opts.Evidence != "" {
		if err := json.Unmarshal([]byte(opts.Evidence), &evidence); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("invalid --evidence JSON: %v", err))
		}
	}

	m, _, err := buildModel(opts.Model, opts.ModelName)
	if err != nil {
		code, message := parseLoadError(err)
		return formatter.Fail(ExitCommandError, code, message)
	}

	ctx := commandContext(cmd)
	var sessionOpts []engine.SessionOption
	if opts.Restricted {
		top, err := topLevelVariables(m, opts.TopLevel)
		if err != nil {
			code, message := parseLoadError(err)
			return formatter.Fail(ExitCommandError, code, message)
		}
		sessionOpts = append(sessionOpts, engine.WithTopLevel(top...))
	}
	session, err := engine.NewSession(ctx, m, sessionOpts...)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeInference, err.Error())
	}

	result, err := queryBeliefs(ctx, session.NewEngine(), m, opts, evidence)
	if err != nil {
		code := string(engine.CodeOf(err))
		if code == "" {
			code = ErrCodeInference
		}
		return formatter.Fail(ExitFailure, code, err.Error())
	}

	return outputBelief(formatter, result)
}

func lookupVars(m *ir.Model, names []string) ([]potential.Variable, error) {
	vars := make([]potential.Variable, len(names))
	for i, name := range names {
		id, ok := m.Lookup(name)
		if !ok {
			return nil, engine.NewPreconditionError(name, "unknown variable")
		}
		vars[i] = m.Variable(id)
	}
	return vars, nil
}

func queryBeliefs(ctx context.Context, eng *engine.Engine, m *ir.Model, opts *BeliefOptions, evidence map[string]int) (*BeliefResult, error) {
	if len(opts.Positives) > 0 {
		positive, err := lookupVars(m, opts.Positives)
		if err != nil {
			return nil, err
		}
		var leaves []potential.Variable
		for _, id := range m.Leaves() {
			leaves = append(leaves, m.Variable(id))
		}
		if err := eng.SetPositiveOnlyEvidence(positive, leaves); err != nil {
			return nil, err
		}
	} else {
		names := make([]string, 0, len(evidence))
		for name := range evidence {
			names = append(names, name)
		}
		slices.Sort(names)
		vars, err := lookupVars(m, names)
		if err != nil {
			return nil, err
		}
		states := make([]int, len(names))
		for i, name := range names {
			states[i] = evidence[name]
		}
		if err := eng.SetEvidence(vars, states); err != nil {
			return nil, err
		}
	}

	result := &BeliefResult{Model: m.Name(), Beliefs: map[string][]float64{}}
	if opts.Restricted {
		rng, err := eng.FindAndSetPropagationRange()
		if err != nil {
			return nil, err
		}
		result.Focused = len(rng)
	}

	if _, err := eng.Propagate(ctx); err != nil {
		return nil, err
	}
	result.Likelihood, _ = eng.Likelihood()
	result.LogLikelihood, _ = eng.LogLikelihood()

	query := opts.Query
	if len(query) == 0 {
		for _, id := range m.Latents() {
			query = append(query, m.Variable(id).Name)
		}
	}
	vars, err := lookupVars(m, query)
	if err != nil {
		return nil, err
	}
	for _, v := range vars {
		if !eng.InScope(v) {
			result.OutOfScope = append(result.OutOfScope, v.Name)
			continue
		}
		b, err := eng.Belief(v)
		if err != nil {
			return nil, err
		}
		result.Beliefs[v.Name] = b.Cells()
		result.order = append(result.order, v.Name)
	}

	family, err := lookupVars(m, opts.Family)
	if err != nil {
		return nil, err
	}
	for _, v := range family {
		if !eng.InScope(v) {
			result.OutOfScope = append(result.OutOfScope, v.Name)
			continue
		}
		b, err := eng.FamilyBelief(v)
		if err != nil {
			return nil, err
		}
		fp := FamilyPosterior{Cells: b.Cells()}
		for _, fv := range b.Vars() {
			fp.Variables = append(fp.Variables, fv.Name)
		}
		if result.Families == nil {
			result.Families = map[string]FamilyPosterior{}
		}
		result.Families[v.Name] = fp
	}
	slices.Sort(result.OutOfScope)
	result.OutOfScope = slices.Compact(result.OutOfScope)
	return result, nil
}

func outputBelief(formatter *OutputFormatter, result *BeliefResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Model %s\n", result.Model)
	fmt.Fprintf(w, "  likelihood:     %.6g\n", result.Likelihood)
	fmt.Fprintf(w, "  log-likelihood: %.6f\n", result.LogLikelihood)
	if result.Focused > 0 {
		fmt.Fprintf(w, "  focused:        %d clique(s)\n", result.Focused)
	}
	fmt.Fprintln(w)
	for _, name := range result.order {
		fmt.Fprintf(w, "  %-12s %s\n", name, formatCells(result.Beliefs[name]))
	}
	if len(result.Families) > 0 {
		names := make([]string, 0, len(result.Families))
		for name := range result.Families {
			names = append(names, name)
		}
		slices.Sort(names)
		fmt.Fprintln(w)
		for _, name := range names {
			fp := result.Families[name]
			fmt.Fprintf(w, "  %-12s %v %s\n", name, fp.Variables, formatCells(fp.Cells))
		}
	}
	if len(result.OutOfScope) > 0 {
		fmt.Fprintf(w, "\n  out of scope: %v\n", result.OutOfScope)
	}
	return nil
}

func formatCells(cells []float64) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = strconv.FormatFloat(c, 'f', 6, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
