// Package cli implements the postgate command line: the HTTP server, a
// one-shot reminder sweep, schema migration and a queue tail for local runs.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/postgate/internal/config"
	"github.com/tbourn/postgate/internal/sysutil"
)

// Version is stamped at build time with -ldflags.
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	EnvFile  string
	LogLevel string

	cfg config.Config
}

// Config returns the configuration loaded before the command ran.
func (o *RootOptions) Config() config.Config { return o.cfg }

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "postgate",
		Short:         "postgate - moderated publishing to a broadcast channel",
		Long:          "Accepts posts from users, queues free submissions for moderation and publishes approved content to the configured channel.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file to load before reading the environment")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL (debug|info|warn|error)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTailCommand(opts))

	return cmd
}

// load reads the env file (missing is fine), loads config and configures
// the global logger.
func (o *RootOptions) load() error {
	if o.EnvFile != "" {
		if err := godotenv.Load(o.EnvFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", o.EnvFile, err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	o.cfg = cfg

	sysutil.SetLogLevel(sysutil.FirstNonEmpty(o.LogLevel, cfg.LogLevel))
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    sysutil.IsTruthy(os.Getenv("NO_COLOR")),
		})
	}
	return nil
}
