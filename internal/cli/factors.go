package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/roach88/latentrec/internal/batch"
	"github.com/roach88/latentrec/internal/engine"
	"github.com/roach88/latentrec/internal/feedback"
	"github.com/roach88/latentrec/internal/ir"
	"github.com/roach88/latentrec/internal/metrics"
	"github.com/roach88/latentrec/internal/pool"
	"github.com/roach88/latentrec/internal/store"
)

// FactorsOptions holds flags for the factors command.
type FactorsOptions struct {
	*RootOptions
	Database  string
	Model     string
	ModelName string
	Metrics   string // optional Prometheus text file

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to store.UUIDv7Generator.
	RunIDs store.RunIDGenerator
}

// factorSettings are the inputs that determine a run's factors.
type factorSettings struct {
	Level        int
	TopLevel     int
	Restricted   bool
	HistorySize  int
	Parallelism  int
	PoolCapacity int
}

// factorRun is a computed but not yet stored run.
type factorRun struct {
	model   *ir.Model
	spec    *ir.ModelSpec
	fb      *feedback.Matrix
	factors []int
	users   *batch.Result
	items   *batch.Result
}

// FactorsResult summarizes a stored run.
type FactorsResult struct {
	RunID         string             `json:"run_id"`
	Model         string             `json:"model"`
	ModelHash     string             `json:"model_hash"`
	Factors       []string           `json:"factors"`
	Normalization []float64          `json:"normalization"`
	Users         int                `json:"users"`
	Items         int                `json:"items"`
	Failures      []FactorRowFailure `json:"failures,omitempty"`
	Propagations  float64            `json:"propagations"`
}

// FactorRowFailure is one failed user row.
type FactorRowFailure struct {
	Entity string `json:"entity"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// NewFactorsCommand creates the factors command.
func NewFactorsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FactorsOptions{RootOptions: rootOpts}
	var settings factorSettings

	cmd := &cobra.Command{
		Use:   "factors",
		Short: "Compute user and item factors from stored feedback",
		Long: `Compute latent factors for every entity and item in the database.

Each entity's positive items become evidence on the model's leaves; the
posterior P(Z=1) of every latent Z at the chosen level is the entity's
factor vector. Item factors are the normalized sums of the factors of the
entities that touched them. The run is stored under a new run ID.

Rows whose inference fails are reported and not stored. Interrupting the
command (Ctrl-C) aborts the run without storing anything.

Examples:
  latentrec factors --db ./latentrec.db --model ./models/movies.cue
  latentrec factors --model ./models --model-name Movies --level 2 --restricted`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFactors(opts, settings, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model file or directory (required)")
	cmd.Flags().StringVar(&opts.ModelName, "model-name", "", "model to use when the path declares several")
	cmd.Flags().StringVar(&opts.Metrics, "metrics", "", "write Prometheus metrics to this file")
	addSettingsFlags(cmd, &settings)
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

// addSettingsFlags registers the flags that override factorSettings.
func addSettingsFlags(cmd *cobra.Command, settings *factorSettings) {
	cmd.Flags().IntVar(&settings.Level, "level", 0, "model level of the factor variables (default from config)")
	cmd.Flags().IntVar(&settings.TopLevel, "top-level", 0, "model level partitioning the tree for --restricted (default from config)")
	cmd.Flags().BoolVar(&settings.Restricted, "restricted", false, "restrict each propagation to the evidence range")
	cmd.Flags().IntVar(&settings.HistorySize, "history", 0, "use only each entity's latest N items (default from config)")
	cmd.Flags().IntVar(&settings.Parallelism, "parallelism", 0, "leaf task bound (default from config)")
	cmd.Flags().IntVar(&settings.PoolCapacity, "pool", 0, "pooled engine count (default from config)")
}

// mergeSettings fills unset flags from the configuration.
func mergeSettings(opts *RootOptions, cmd *cobra.Command, flags factorSettings) (factorSettings, error) {
	cfg, err := opts.Settings()
	if err != nil {
		return factorSettings{}, err
	}
	s := factorSettings{
		Level:        cfg.FactorLevel,
		TopLevel:     cfg.TopLevel,
		Restricted:   cfg.Restricted,
		HistorySize:  cfg.HistorySize,
		Parallelism:  cfg.Parallelism,
		PoolCapacity: cfg.PoolCapacity,
	}
	changed := cmd.Flags().Changed
	if changed("level") {
		s.Level = flags.Level
	}
	if changed("top-level") {
		s.TopLevel = flags.TopLevel
	}
	if changed("restricted") {
		s.Restricted = flags.Restricted
	}
	if changed("history") {
		s.HistorySize = flags.HistorySize
	}
	if changed("parallelism") {
		s.Parallelism = flags.Parallelism
	}
	if changed("pool") {
		s.PoolCapacity = flags.PoolCapacity
	}
	if s.Level < 1 || s.TopLevel < 0 || s.HistorySize < 0 || s.Parallelism < 0 || s.PoolCapacity < 0 {
		return s, NewExitError(ExitCommandError, "level must be >= 1; top-level, history, parallelism and pool must be >= 0")
	}
	return s, nil
}

func runFactors(opts *FactorsOptions, flags factorSettings, cmd *cobra.Command) error {
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

	before := propagationCount()
	run, err := computeFactors(ctx, st, opts.Model, opts.ModelName, settings)
	if err != nil {
		return failRun(formatter, err)
	}

	result, err := storeRun(ctx, st, run, settings, opts.RunIDs)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error())
	}
	result.Propagations = propagationCount() - before

	if opts.Metrics != "" {
		if err := prometheus.WriteToTextfile(opts.Metrics, metrics.Registry); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, fmt.Sprintf("writing metrics: %v", err))
		}
	}

	return outputFactors(formatter, result)
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, aborting run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// batchInputs is a model and the stored feedback, ready for a driver.
type batchInputs struct {
	model *ir.Model
	spec  *ir.ModelSpec
	cfg   batch.Config
}

// prepareBatch builds the session, engine pool and driver config for the
// stored feedback.
func prepareBatch(ctx context.Context, st *store.Store, modelPath, modelName string, s factorSettings) (*batchInputs, error) {
	m, spec, err := buildModel(modelPath, modelName)
	if err != nil {
		return nil, err
	}

	records, err := st.ReadFeedback(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "no feedback in database; run import first"}
	}
	fb := feedback.Build(records)

	mapping, err := st.ReadItemVariables(ctx)
	if err != nil {
		return nil, err
	}

	factorIDs, err := m.Level(s.Level)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}

	var sessionOpts []engine.SessionOption
	if s.Restricted {
		top, err := topLevelVariables(m, s.TopLevel)
		if err != nil {
			return nil, err
		}
		sessionOpts = append(sessionOpts, engine.WithTopLevel(top...))
	}
	session, err := engine.NewSession(ctx, m, sessionOpts...)
	if err != nil {
		return nil, err
	}
	group, err := pool.New(session.NewEngine(), s.PoolCapacity)
	if err != nil {
		return nil, err
	}

	cfg := batch.Config{
		Session:     session,
		Pool:        group,
		Feedback:    fb,
		Items:       batch.ItemVariables(m, fb, mapping),
		Factors:     factorIDs,
		Parallelism: s.Parallelism,
		Restricted:  s.Restricted,
		HistorySize: s.HistorySize,
	}
	if unmapped := countUnmapped(cfg.Items); unmapped > 0 {
		slog.Warn("items outside the model are ignored", "items", unmapped)
	}
	slog.Info("batch ready",
		"model", m.Name(),
		"entities", fb.Entities(),
		"items", fb.Items(),
		"factors", len(factorIDs),
		"restricted", s.Restricted,
		"pool_capacity", group.Capacity(),
	)
	return &batchInputs{model: m, spec: spec, cfg: cfg}, nil
}

// computeFactors runs both factor drivers over the stored feedback.
func computeFactors(ctx context.Context, st *store.Store, modelPath, modelName string, s factorSettings) (*factorRun, error) {
	in, err := prepareBatch(ctx, st, modelPath, modelName, s)
	if err != nil {
		return nil, err
	}
	users, err := batch.UserFactors(ctx, in.cfg)
	if err != nil {
		return nil, err
	}
	items, err := batch.ItemFactors(ctx, users, in.cfg.Feedback, s.Parallelism)
	if err != nil {
		return nil, err
	}
	slog.Info("factors computed", "user_failures", len(users.Failures))

	return &factorRun{
		model:   in.model,
		spec:    in.spec,
		fb:      in.cfg.Feedback,
		factors: in.cfg.Factors,
		users:   users,
		items:   items,
	}, nil
}

// topLevelVariables resolves the partitioning level. Level 0 selects the
// children of the root, or the root itself when one of them is a leaf.
func topLevelVariables(m *ir.Model, k int) ([]int, error) {
	if k > 0 {
		ids, err := m.Level(k)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
		}
		return ids, nil
	}
	children := m.Node(m.Root()).Children
	if slices.ContainsFunc(children, m.IsLeaf) {
		return []int{m.Root()}, nil
	}
	return slices.Clone(children), nil
}

func countUnmapped(items []int) int {
	n := 0
	for _, id := range items {
		if id < 0 {
			n++
		}
	}
	return n
}

// storeRun writes the run record, then both factor tables.
func storeRun(ctx context.Context, st *store.Store, run *factorRun, s factorSettings, ids store.RunIDGenerator) (FactorsResult, error) {
	if ids == nil {
		ids = store.UUIDv7Generator{}
	}
	hash, err := ir.ModelHash(*run.spec)
	if err != nil {
		return FactorsResult{}, err
	}
	seq, err := st.MaxRunSeq(ctx)
	if err != nil {
		return FactorsResult{}, err
	}

	names := factorNames(run.model, run.factors)
	rec := store.Run{
		ID:            ids.Generate(),
		ModelName:     run.model.Name(),
		ModelHash:     hash,
		Level:         s.Level,
		Restricted:    s.Restricted,
		HistorySize:   s.HistorySize,
		Failures:      len(run.users.Failures),
		Seq:           store.NewClockAt(seq).Next(),
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.FormatVersion,
	}
	for k, name := range names {
		rec.Factors = append(rec.Factors, store.RunFactor{
			Position:      k,
			Variable:      name,
			Normalization: run.users.Normalization[k],
		})
	}
	if err := st.WriteRun(ctx, rec); err != nil {
		return FactorsResult{}, err
	}

	entities := make([]string, run.fb.Entities())
	for u := range entities {
		entities[u] = run.fb.EntityID(u)
	}
	users, err := st.WriteUserFactors(ctx, rec.ID, entities, run.users.Factors)
	if err != nil {
		return FactorsResult{}, err
	}
	items, err := st.WriteItemFactors(ctx, rec.ID, run.fb.ItemIDs(), run.items.Factors)
	if err != nil {
		return FactorsResult{}, err
	}
	slog.Info("run stored", "run_id", rec.ID, "seq", rec.Seq, "users", users, "items", items)

	result := FactorsResult{
		RunID:         rec.ID,
		Model:         rec.ModelName,
		ModelHash:     hash,
		Factors:       names,
		Normalization: run.users.Normalization,
		Users:         users,
		Items:         items,
	}
	for _, f := range run.users.Failures {
		result.Failures = append(result.Failures, FactorRowFailure{
			Entity: f.ID,
			Code:   string(engine.CodeOf(f.Err)),
			Error:  f.Err.Error(),
		})
	}
	return result, nil
}

func factorNames(m *ir.Model, ids []int) []string {
	names := make([]string, len(ids))
	for k, id := range ids {
		names[k] = m.Variable(id).Name
	}
	return names
}

// failRun maps a compute error to an exit code: bad inputs are command
// errors, inference failures are run failures.
func failRun(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return formatter.Fail(ExitCommandError, loadErr.Code, loadErr.Message)
	}
	if errors.Is(err, batch.ErrInvalidConfig) {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error())
	}
	if errors.Is(err, context.Canceled) || engine.IsInterrupted(err) {
		return formatter.Fail(ExitFailure, ErrCodeInference, "run interrupted; nothing stored")
	}
	return formatter.Fail(ExitFailure, ErrCodeInference, err.Error())
}

// propagationCount sums the completed propagations of every scope.
func propagationCount() float64 {
	families, err := metrics.Registry.Gather()
	if err != nil {
		return 0
	}
	return counterSum(families, "latentrec_engine_propagations_total")
}

func counterSum(families []*dto.MetricFamily, name string) float64 {
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func outputFactors(formatter *OutputFormatter, result FactorsResult) error {
	if formatter.JSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Run %s\n", result.RunID)
	fmt.Fprintf(w, "  model:   %s (%s)\n", result.Model, truncateID(result.ModelHash))
	fmt.Fprintf(w, "  users:   %d\n", result.Users)
	fmt.Fprintf(w, "  items:   %d\n", result.Items)
	fmt.Fprintln(w, "  factors:")
	for k, name := range result.Factors {
		fmt.Fprintf(w, "    %-12s norm %.6g\n", name, result.Normalization[k])
	}
	if len(result.Failures) > 0 {
		fmt.Fprintf(w, "  ✗ %d failed row(s):\n", len(result.Failures))
		for _, f := range result.Failures {
			fmt.Fprintf(w, "    %s: %s\n", f.Entity, f.Code)
		}
	}
	formatter.VerboseLog("%.0f propagation(s)", result.Propagations)
	return nil
}

// truncateID shortens long identifiers for display.
func truncateID(id string) string {
	if len(id) > 16 {
		return id[:16] + "..."
	}
	return id
}
