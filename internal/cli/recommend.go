package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/latentrec/internal/recommend"
	"github.com/roach88/latentrec/internal/store"
)

// RecommendOptions holds flags for the recommend command.
type RecommendOptions struct {
	*RootOptions
	Database    string
	Run         string
	User        string
	N           int
	IncludeSeen bool
}

// Recommendation is one ranked item.
type Recommendation struct {
	Item  string  `json:"item"`
	Score float64 `json:"score"`
}

// RecommendResult holds the ranking for one user.
type RecommendResult struct {
	RunID string           `json:"run_id"`
	User  string           `json:"user"`
	Items []Recommendation `json:"items"`
}

// NewRecommendCommand creates the recommend command.
func NewRecommendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecommendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Rank items for a user from a stored run",
		Long: `Rank items for a user by the dot product of the user's factor row
with every item's factor row. Items the user already touched are skipped
unless --include-seen is set. Without --run the latest run is used.

Examples:
  latentrec recommend --db ./latentrec.db --user alice
  latentrec recommend --run 0190a6f2-... --user alice --n 20 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecommend(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "run ID (default latest)")
	cmd.Flags().StringVar(&opts.User, "user", "", "entity to recommend for (required)")
	cmd.Flags().IntVar(&opts.N, "n", 10, "number of items")
	cmd.Flags().BoolVar(&opts.IncludeSeen, "include-seen", false, "keep items the user already touched")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runRecommend(opts *RecommendOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	if opts.N < 0 {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("--n must be >= 0, got %d", opts.N))
	}

	dbPath, err := resolveDatabase(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}
	st, err := openExistingStore(formatter, dbPath)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx := commandContext(cmd)
	run, err := findRun(ctx, st, opts.Run)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error())
	}

	user, err := st.ReadUserFactors(ctx, run.ID, opts.User)
	if errors.Is(err, store.ErrNotFound) {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no factors for user %q in run %s", opts.User, run.ID))
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}
	itemIDs, items, err := st.ReadItemFactors(ctx, run.ID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}

	result := RecommendResult{RunID: run.ID, User: opts.User, Items: []Recommendation{}}
	if items != nil {
		var seen func(int) bool
		if !opts.IncludeSeen {
			touched, err := touchedItems(ctx, st, opts.User)
			if err != nil {
				return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
			}
			seen = func(i int) bool { return touched[itemIDs[i]] }
		}
		ranked, err := recommend.TopN(user, items, opts.N, seen)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, err.Error())
		}
		for _, r := range ranked {
			result.Items = append(result.Items, Recommendation{Item: itemIDs[r.Item], Score: r.Score})
		}
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "Recommendations for %s (run %s)\n\n", result.User, truncateID(result.RunID))
	if len(result.Items) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for i, r := range result.Items {
		fmt.Fprintf(w, "  %2d. %-20s %.6f\n", i+1, r.Item, r.Score)
	}
	return nil
}

// findRun returns the run with the given ID, or the latest run.
func findRun(ctx context.Context, st *store.Store, id string) (store.Run, error) {
	if id == "" {
		run, err := st.LatestRun(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return run, fmt.Errorf("no runs in database; run factors first")
		}
		return run, err
	}
	run, err := st.ReadRun(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return run, fmt.Errorf("run not found: %s", id)
	}
	return run, err
}

func touchedItems(ctx context.Context, st *store.Store, entity string) (map[string]bool, error) {
	records, err := st.ReadFeedback(ctx)
	if err != nil {
		return nil, err
	}
	touched := make(map[string]bool)
	for _, r := range records {
		if r.Entity == entity {
			touched[r.Item] = true
		}
	}
	return touched, nil
}
