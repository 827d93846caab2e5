package cli

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/latentrec/internal/feedback"
	"github.com/roach88/latentrec/internal/store"
)

// ImportOptions holds flags for the import command.
type ImportOptions struct {
	*RootOptions
	Database string
	Items    string // optional item -> variable mapping file
}

// ImportResult summarizes an import.
type ImportResult struct {
	Records       int `json:"records"`
	ItemVariables int `json:"item_variables"`
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ImportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import <feedback.tsv>",
		Short: "Import feedback records into the database",
		Long: `Import implicit feedback from a tab-separated file.

Each line holds an entity, an item and an optional integer timestamp:

  alice	movie-1	1700000000
  bob	movie-3

Blank lines and lines starting with # are skipped. A repeated
(entity, item) pair keeps the latest timestamp.

--items names a second file of "item<TAB>variable" lines mapping items to
leaf variables whose names differ from the item IDs.

Examples:
  latentrec import --db ./latentrec.db ratings.tsv
  latentrec import --db ./latentrec.db ratings.tsv --items items.tsv`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Items, "items", "", "item to variable mapping file")

	return cmd
}

func runImport(opts *ImportOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	dbPath, err := resolveDatabase(opts.RootOptions, opts.Database)
	if err != nil {
		return err
	}

	records, err := readFeedbackFile(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error())
	}
	var mapping map[string]string
	if opts.Items != "" {
		if mapping, err = readItemMappingFile(opts.Items); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, err.Error())
		}
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("failed to open database: %v", err))
	}
	defer closeStore(st)

	ctx := commandContext(cmd)
	n, err := st.WriteFeedback(ctx, records)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error())
	}
	if len(mapping) > 0 {
		if err := st.WriteItemVariables(ctx, mapping); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeWriteFailed, err.Error())
		}
	}
	slog.Info("feedback imported", "path", path, "records", n, "item_variables", len(mapping))

	result := ImportResult{Records: n, ItemVariables: len(mapping)}
	if formatter.JSON() {
		return formatter.Success(result)
	}
	fmt.Fprintf(formatter.Writer, "✓ Imported %d record(s)", result.Records)
	if result.ItemVariables > 0 {
		fmt.Fprintf(formatter.Writer, ", %d item mapping(s)", result.ItemVariables)
	}
	fmt.Fprintln(formatter.Writer)
	return nil
}

// readTSV returns the non-comment rows of a tab-separated file.
func readTSV(path string, fn func(line int, fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = '\t'
	r.Comment = '#'
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		line, _ := r.FieldPos(0)
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		if err := fn(line, fields); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
	}
}

func readFeedbackFile(path string) ([]feedback.Record, error) {
	var records []feedback.Record
	err := readTSV(path, func(_ int, fields []string) error {
		if len(fields) < 2 || len(fields) > 3 {
			return fmt.Errorf("want entity, item and optional timestamp, got %d field(s)", len(fields))
		}
		rec := feedback.Record{Entity: fields[0], Item: fields[1]}
		if rec.Entity == "" || rec.Item == "" {
			return fmt.Errorf("empty entity or item")
		}
		if len(fields) == 3 && fields[2] != "" {
			ts, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid timestamp %q", fields[2])
			}
			rec.Time = ts
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: no feedback records", path)
	}
	return records, nil
}

func readItemMappingFile(path string) (map[string]string, error) {
	mapping := make(map[string]string)
	err := readTSV(path, func(_ int, fields []string) error {
		if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
			return fmt.Errorf("want item and variable")
		}
		mapping[fields[0]] = fields[1]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mapping, nil
}

// resolveDatabase prefers the flag over the configured database.
func resolveDatabase(opts *RootOptions, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	cfg, err := opts.Settings()
	if err != nil {
		return "", err
	}
	return cfg.Database, nil
}

// openExistingStore refuses to create a database as a side effect of a
// read-only command.
func openExistingStore(formatter *OutputFormatter, path string) (*store.Store, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", path))
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("failed to open database: %v", err))
	}
	return st, nil
}

func closeStore(st *store.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
