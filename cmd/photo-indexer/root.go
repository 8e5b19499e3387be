package main

import (
	"sync"

	"github.com/spf13/cobra"

	"photo-indexer/internal/logging"
	"photo-indexer/internal/startup"
)

type commandContext struct {
	verbose bool

	configOnce sync.Once
	config     *startup.Config
	configErr  error

	// loadConfig and people are replaced in tests.
	loadConfig func() (*startup.Config, error)
	people     peopleStore
}

func newCommandContext() *commandContext {
	return &commandContext{loadConfig: startup.LoadConfig}
}

func (c *commandContext) ensureConfig() (*startup.Config, error) {
	c.configOnce.Do(func() {
		c.config, c.configErr = c.loadConfig()
	})
	return c.config, c.configErr
}

func newRootCommand() *cobra.Command {
	return newRootCommandWith(newCommandContext())
}

func newRootCommandWith(ctx *commandContext) *cobra.Command {
	serve := newServeCommand(ctx)

	rootCmd := &cobra.Command{
		Use:           "photo-indexer",
		Short:         "Index a photo library and manage face identities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if ctx.verbose {
				logging.SetLevel(logging.LevelDebug)
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: serve.RunE,
	}

	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serve)
	rootCmd.AddCommand(newScanCommand(ctx))
	rootCmd.AddCommand(newImportCitiesCommand(ctx))
	rootCmd.AddCommand(newPeopleCommand(ctx))

	return rootCmd
}
