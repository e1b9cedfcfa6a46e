package main

import (
	"fmt"
	"os"

	"github.com/phrazzld/codepool/internal/config"
	"github.com/phrazzld/codepool/internal/platform/logger"
	"github.com/spf13/cobra"
)

type appKey struct{}

// session owns the application built for one invocation. Cobra skips post-run
// hooks when a command fails, so the caller closes the session after Execute.
type session struct {
	app *application
}

func (s *session) Close() {
	if s.app != nil {
		s.app.Close()
		s.app = nil
	}
}

// newRootCmd builds the command tree. Every subcommand that touches the pool
// gets its application from appFrom.
func newRootCmd(s *session) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "codepool",
		Short:         "Administer a pool of single-use codes",
		Long:          `codepool imports batches of unique codes and hands each one out exactly once, oldest first.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if skipsSetup(cmd) {
				return nil
			}

			cfg, err := loadConfig(configFile)
			if err != nil {
				return err
			}

			log, err := logger.Setup(logger.LoggerConfig{Level: cfg.Log.Level, Output: cmd.ErrOrStderr()})
			if err != nil {
				return fmt.Errorf("failed to set up logger: %w", err)
			}

			app, err := newApplication(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			s.app = app
			cmd.SetContext(withApp(logger.WithLogger(cmd.Context(), log), app))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./config.yaml or /etc/codepool/config.yaml)")

	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(importCmd())
	cmd.AddCommand(claimCmd())
	cmd.AddCommand(peekCmd())
	cmd.AddCommand(markCmd())
	cmd.AddCommand(purgeCmd())
	cmd.AddCommand(statsCmd())
	cmd.AddCommand(batchesCmd())
	cmd.AddCommand(lookupCmd())

	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("CODEPOOL_CONFIG")
	}
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// skipsSetup reports whether cmd is one of cobra's built-in commands, which
// need neither config nor a database.
func skipsSetup(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd, "completion":
			return true
		}
	}
	return false
}
