package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"photo-indexer/internal/pipeline"
)

func newImportCitiesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import-cities",
		Short: "Load the city dataset used for reverse geocoding",
		Long: `Load the GeoNames city dataset named by CITIES_FILE.

The import is skipped when cities are already present. It holds the pipeline
lock so it never overlaps a scan against the same data directory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			lock := flock.New(cfg.LockPath)
			locked, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire pipeline lock: %w", err)
			}
			if !locked {
				return fmt.Errorf("import not started: %w", pipeline.ErrAlreadyRunning)
			}
			defer lock.Unlock()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(runCtx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			printer := newProgressPrinter(out)
			report := func(percent int) {
				printer.update(pipeline.Progress{Stage: pipeline.StageReferenceImport, Label: "Importing cities", Percent: percent})
			}
			if err := a.importer.Run(runCtx, report); err != nil {
				printer.finish()
				return fmt.Errorf("import cities: %w", err)
			}
			printer.finish()

			count, err := a.db.CityCount(runCtx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%d cities loaded\n", count)
			return nil
		},
	}
}
