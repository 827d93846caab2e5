package cli

import (
	"context"
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	Model     string
	ModelName string
	Run       string // optional, defaults to the latest run
}

// ReplayMismatch is one row whose recomputed factors differ from the
// stored ones.
type ReplayMismatch struct {
	Kind string `json:"kind"` // "user" | "item" | "model"
	ID   string `json:"id"`
	Note string `json:"note"`
}

// ReplayResult holds the outcome of recomputing a stored run.
type ReplayResult struct {
	RunID         string           `json:"run_id"`
	Model         string           `json:"model"`
	Users         int              `json:"users"`
	Items         int              `json:"items"`
	Deterministic bool             `json:"deterministic"`
	Mismatches    []ReplayMismatch `json:"mismatches,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}
	var settings factorSettings

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Recompute a stored run and verify determinism",
		Long: `Recompute a stored run from the stored feedback and the model, and
compare every factor row bit for bit with what the run stored.

The level, restriction and history size come from the run record; the
parallelism and pool size may differ from the original run.

Exit codes:
  0 - The run was reproduced exactly
  1 - Differences detected
  2 - Command error (database not found, etc.)

Examples:
  latentrec replay --db ./latentrec.db --model ./models/movies.cue
  latentrec replay --model ./models/movies.cue --run 0190a6f2-... --parallelism 1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, settings, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model file or directory (required)")
	cmd.Flags().StringVar(&opts.ModelName, "model-name", "", "model to use when the path declares several")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run ID (default latest)")
	cmd.Flags().IntVar(&settings.TopLevel, "top-level", 0, "model level partitioning the tree for restricted runs (default from config)")
	cmd.Flags().IntVar(&settings.Parallelism, "parallelism", 0, "leaf task bound (default from config)")
	cmd.Flags().IntVar(&settings.PoolCapacity, "pool", 0, "pooled engine count (default from config)")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func runReplay(opts *ReplayOptions, flags factorSettings, cmd *cobra.Command) error {
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

	run, err := findRun(ctx, st, opts.Run)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error())
	}
	settings.Level = run.Level
	settings.Restricted = run.Restricted
	settings.HistorySize = run.HistorySize

	recomputed, err := computeFactors(ctx, st, opts.Model, opts.ModelName, settings)
	if err != nil {
		return failRun(formatter, err)
	}

	result, err := compareRun(ctx, st, run, recomputed)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}
	return outputReplay(formatter, result)
}

// compareRun checks a recomputed run against the stored one. Rows that
// failed in the recomputation must be absent from the store; every other
// row must be stored with identical bits.
func compareRun(ctx context.Context, st *store.Store, run store.Run, recomputed *factorRun) (*ReplayResult, error) {
	result := &ReplayResult{RunID: run.ID, Model: run.ModelName, Deterministic: true}
	mismatch := func(kind, id, note string) {
		result.Deterministic = false
		result.Mismatches = append(result.Mismatches, ReplayMismatch{Kind: kind, ID: id, Note: note})
	}

	hash, err := ir.ModelHash(*recomputed.spec)
	if err != nil {
		return nil, err
	}
	if hash != run.ModelHash {
		mismatch("model", recomputed.model.Name(), fmt.Sprintf("model hash %s differs from stored %s", truncateID(hash), truncateID(run.ModelHash)))
		return result, nil
	}
	if got := factorNames(recomputed.model, recomputed.factors); len(got) != len(run.Factors) {
		mismatch("model", recomputed.model.Name(), fmt.Sprintf("%d factor(s), stored %d", len(got), len(run.Factors)))
		return result, nil
	}

	storedUsers, storedItems, err := st.CountFactorRows(ctx, run.ID)
	if err != nil {
		return nil, err
	}

	fb := recomputed.fb
	for u := 0; u < fb.Entities(); u++ {
		row := mat.Row(nil, u, recomputed.users.Factors)
		if hasNaN(row) {
			continue
		}
		result.Users++
		id := fb.EntityID(u)
		stored, err := st.ReadUserFactors(ctx, run.ID, id)
		if err != nil {
			mismatch("user", id, "not stored")
			continue
		}
		if !sameBits(row, stored) {
			mismatch("user", id, "factors differ")
		}
	}
	if result.Users != storedUsers {
		mismatch("user", "*", fmt.Sprintf("%d row(s) recomputed, %d stored", result.Users, storedUsers))
	}

	itemIDs, items, err := st.ReadItemFactors(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	storedRow := make(map[string]int, len(itemIDs))
	for i, id := range itemIDs {
		storedRow[id] = i
	}
	for i, id := range fb.ItemIDs() {
		row := mat.Row(nil, i, recomputed.items.Factors)
		if hasNaN(row) {
			continue
		}
		result.Items++
		j, ok := storedRow[id]
		if !ok {
			mismatch("item", id, "not stored")
			continue
		}
		if !sameBits(row, items.RawRowView(j)) {
			mismatch("item", id, "factors differ")
		}
	}
	if result.Items != storedItems {
		mismatch("item", "*", fmt.Sprintf("%d row(s) recomputed, %d stored", result.Items, storedItems))
	}
	return result, nil
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func sameBits(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Float64bits(a[i]) != math.Float64bits(b[i]) {
			return false
		}
	}
	return true
}

func outputReplay(formatter *OutputFormatter, result *ReplayResult) error {
	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Deterministic {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeMismatch,
				Message: fmt.Sprintf("run %s differs in %d place(s)", result.RunID, len(result.Mismatches)),
			}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		if result.Deterministic {
			fmt.Fprintf(w, "✓ Run %s reproduced\n", result.RunID)
			fmt.Fprintf(w, "  users: %d\n", result.Users)
			fmt.Fprintf(w, "  items: %d\n", result.Items)
		} else {
			fmt.Fprintf(w, "✗ Run %s differs in %d place(s)\n", result.RunID, len(result.Mismatches))
			for _, m := range result.Mismatches {
				fmt.Fprintf(w, "  %s %s: %s\n", m.Kind, m.ID, m.Note)
			}
		}
	}
	if !result.Deterministic {
		return NewExitError(ExitFailure, fmt.Sprintf("%s: run %s is not reproducible", ErrCodeMismatch, result.RunID))
	}
	return nil
}
