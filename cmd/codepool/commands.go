package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/phrazzld/codepool/internal/config"
	"github.com/phrazzld/codepool/internal/domain"
	"github.com/phrazzld/codepool/internal/platform/postgres"
	"github.com/phrazzld/codepool/internal/service"
	"github.com/spf13/cobra"
)

func withApp(ctx context.Context, app *application) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

func appFrom(cmd *cobra.Command) *application {
	if cmd.Context() == nil {
		return nil
	}
	app, _ := cmd.Context().Value(appKey{}).(*application)
	return app
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|status|reset]",
		Short:     "Run database migrations",
		Long:      `Apply, roll back or report the embedded schema migrations (default: up).`,
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "status", "reset"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)
			if app.db == nil {
				return fmt.Errorf("migrations require the %s driver", config.DriverPostgres)
			}

			command := postgres.MigrateUp
			if len(args) > 0 {
				command = postgres.MigrationCommand(args[0])
			}
			return postgres.Migrate(cmd.Context(), app.db, command, app.logger)
		},
	}
}

func importCmd() *cobra.Command {
	var (
		file    string
		batchID string
		source  string
		async   bool
	)

	cmd := &cobra.Command{
		Use:   "import [codes...]",
		Short: "Import a batch of codes",
		Long: `Import codes given as arguments or read from --file (one per line, '-' for stdin).
Blank lines and lines starting with '#' are ignored. Codes already in the pool are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)

			codes := args
			if file != "" {
				parsed, err := readCodes(cmd, file)
				if err != nil {
					return err
				}
				codes = append(codes, parsed...)
			}
			if len(codes) == 0 {
				return errors.New("no codes given; pass codes as arguments or use --file")
			}
			if source == "" {
				source = file
			}

			if async {
				work, resolvedBatch, err := app.importer.ImportWork(codes, batchID, source)
				if err != nil {
					return err
				}
				if err := app.runInBackground(cmd.Context(), "import batch "+resolvedBatch, work); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"batch_id": resolvedBatch, "submitted": len(codes)})
			}

			result, err := app.importer.ImportBatch(cmd.Context(), codes, batchID, source)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read codes from a file ('-' for stdin)")
	cmd.Flags().StringVar(&batchID, "batch", "", "batch ID (default: generated)")
	cmd.Flags().StringVar(&source, "source", "", "provenance label (default: the file name)")
	cmd.Flags().BoolVar(&async, "async", false, "run the import on the background worker")

	return cmd
}

func readCodes(cmd *cobra.Command, path string) ([]string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	return service.ParseCodes(r)
}

func claimCmd() *cobra.Command {
	var (
		count    int
		claimant string
	)

	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the next available code",
		Long:  `Claim the oldest available code, or up to -n codes. Exits with status 3 when the pool is exhausted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)

			if cmd.Flags().Changed("count") {
				if claimant != "" {
					return errors.New("--claimant cannot be combined with -n")
				}
				items, err := app.allocator.ClaimBatch(cmd.Context(), count)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					return domain.ErrPoolExhausted
				}
				return printJSON(cmd, items)
			}

			var (
				item *domain.PoolItem
				err  error
			)
			if claimant != "" {
				item, err = app.allocator.ClaimNextFor(cmd.Context(), claimant)
			} else {
				item, err = app.allocator.ClaimNext(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, item)
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 1, "claim up to this many codes")
	cmd.Flags().StringVar(&claimant, "claimant", "", "record who the code was issued to")

	return cmd
}

func peekCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peek",
		Short: "Show the code the next claim would most likely get",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := appFrom(cmd).allocator.PeekNext(cmd.Context())
			if err != nil {
				return err
			}
			if item == nil {
				return domain.ErrPoolExhausted
			}
			return printJSON(cmd, item)
		},
	}
}

func markCmd() *cobra.Command {
	var (
		id       int64
		claimant string
	)

	cmd := &cobra.Command{
		Use:   "mark --id ID --claimant KEY",
		Short: "Record the claimant of an already claimed code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appFrom(cmd).allocator.MarkClaimed(cmd.Context(), id, claimant); err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"id": id, "claimant_key": claimant})
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "pool item ID")
	cmd.Flags().StringVar(&claimant, "claimant", "", "claimant key")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("claimant")

	return cmd
}

func purgeCmd() *cobra.Command {
	var async bool

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Permanently delete used codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := appFrom(cmd)

			if async {
				if err := app.runInBackground(cmd.Context(), "purge used codes", app.purger.PurgeWork()); err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"submitted": true})
			}

			removed, err := app.purger.PurgeUsed(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"removed": removed})
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "run the purge on the background worker")

	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count codes by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := appFrom(cmd).allocator.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func batchesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batches",
		Short: "Summarise codes per import batch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			batches, err := appFrom(cmd).importer.ListBatches(cmd.Context())
			if err != nil {
				return err
			}
			if batches == nil {
				batches = []domain.BatchSummary{}
			}
			return printJSON(cmd, batches)
		},
	}
}

func lookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup CODE",
		Short: "Show the stored record for a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := appFrom(cmd).allocator.Lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, item)
		},
	}
}
