package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/latentrec/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database string
	Run      string // optional, show one run in detail
}

// RunSummary is one row of the run listing.
type RunSummary struct {
	ID          string `json:"id"`
	Seq         int64  `json:"seq"`
	Model       string `json:"model"`
	ModelHash   string `json:"model_hash"`
	Level       int    `json:"level"`
	Restricted  bool   `json:"restricted"`
	HistorySize int    `json:"history_size,omitempty"`
	Failures    int    `json:"failures"`
}

// RunFactorInfo describes one factor column of a run.
type RunFactorInfo struct {
	Variable      string  `json:"variable"`
	Normalization float64 `json:"normalization"`
}

// RunDetail is the full description of one run.
type RunDetail struct {
	RunSummary
	EngineVersion string          `json:"engine_version"`
	IRVersion     string          `json:"ir_version"`
	Factors       []RunFactorInfo `json:"factors"`
	Users         int             `json:"users"`
	Items         int             `json:"items"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored factor runs",
		Long: `List the factor runs stored in the database, newest first. With --run
show one run in detail: its factor variables, their normalization and the
number of stored user and item rows.

Examples:
  latentrec runs --db ./latentrec.db
  latentrec runs --run 0190a6f2-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show one run in detail")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

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
	if opts.Run != "" {
		run, err := findRun(ctx, st, opts.Run)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, err.Error())
		}
		users, items, err := st.CountFactorRows(ctx, run.ID)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
		}
		return outputRunDetail(formatter, runDetail(run, users, items))
	}

	runs, err := st.ListRuns(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}
	summaries := make([]RunSummary, len(runs))
	for i, r := range runs {
		summaries[i] = runSummary(r)
	}
	return outputRunList(formatter, summaries)
}

func runSummary(r store.Run) RunSummary {
	return RunSummary{
		ID:          r.ID,
		Seq:         r.Seq,
		Model:       r.ModelName,
		ModelHash:   r.ModelHash,
		Level:       r.Level,
		Restricted:  r.Restricted,
		HistorySize: r.HistorySize,
		Failures:    r.Failures,
	}
}

func runDetail(r store.Run, users, items int) RunDetail {
	d := RunDetail{
		RunSummary:    runSummary(r),
		EngineVersion: r.EngineVersion,
		IRVersion:     r.IRVersion,
		Factors:       make([]RunFactorInfo, len(r.Factors)),
		Users:         users,
		Items:         items,
	}
	for i, f := range r.Factors {
		d.Factors[i] = RunFactorInfo{Variable: f.Variable, Normalization: f.Normalization}
	}
	return d
}

func outputRunList(formatter *OutputFormatter, runs []RunSummary) error {
	if formatter.JSON() {
		return formatter.Success(runs)
	}

	w := formatter.Writer
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found in database.")
		return nil
	}
	fmt.Fprintf(w, "%-5s %-38s %-16s %-5s %-10s %s\n", "SEQ", "RUN", "MODEL", "LEVEL", "RESTRICTED", "FAILURES")
	for _, r := range runs {
		fmt.Fprintf(w, "%-5d %-38s %-16s %-5d %-10t %d\n", r.Seq, r.ID, r.Model, r.Level, r.Restricted, r.Failures)
	}
	return nil
}

func outputRunDetail(formatter *OutputFormatter, d RunDetail) error {
	if formatter.JSON() {
		return formatter.Success(d)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Run %s (seq %d)\n", d.ID, d.Seq)
	fmt.Fprintf(w, "  model:      %s (%s)\n", d.Model, truncateID(d.ModelHash))
	fmt.Fprintf(w, "  level:      %d\n", d.Level)
	fmt.Fprintf(w, "  restricted: %t\n", d.Restricted)
	if d.HistorySize > 0 {
		fmt.Fprintf(w, "  history:    %d\n", d.HistorySize)
	}
	fmt.Fprintf(w, "  versions:   engine %s, ir %s\n", d.EngineVersion, d.IRVersion)
	fmt.Fprintf(w, "  users:      %d (%d failed)\n", d.Users, d.Failures)
	fmt.Fprintf(w, "  items:      %d\n", d.Items)
	fmt.Fprintln(w, "  factors:")
	for _, f := range d.Factors {
		fmt.Fprintf(w, "    %-12s norm %.6g\n", f.Variable, f.Normalization)
	}
	return nil
}
