/*
Package cmd implements the companion command-line interface: the serve,
migrate and version commands.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/becomeliminal/nim-companion/config"
)

var (
	cfgFile string
	cfg     *config.Config

	rootCmd = &cobra.Command{
		Use:           "companion",
		Short:         "Memory-backed conversational companion with live audio",
		Long:          longRoot,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == versionCmd.Name() {
				return nil
			}
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := setupLogging(loaded.Log); err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
)

/*
ExecuteContext runs the root command. Subcommands see ctx through
cmd.Context() and stop when it is cancelled.
*/
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		os.Getenv("COMPANION_CONFIG"),
		"config file (YAML); COMPANION_* environment variables override it",
	)
}

// setupLogging configures the default charmbracelet logger. Components derive
// their prefixed loggers from it.
func setupLogging(c config.LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	log.SetLevel(level)
	log.SetReportTimestamp(true)
	if strings.EqualFold(c.Format, "json") {
		log.SetFormatter(log.JSONFormatter)
	} else {
		log.SetFormatter(log.TextFormatter)
	}
	return nil
}

var longRoot = `
companion runs a set of conversational agents (vibe, planner, knowledge)
behind a keyword router, with two-tier memory and a live audio stream.

Configuration comes from built-in defaults, an optional YAML file passed with
--config and COMPANION_* environment variables, e.g. COMPANION_LOG_LEVEL=debug.
`
