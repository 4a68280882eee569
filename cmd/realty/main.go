// Command realty runs the marketplace auth stack and drives a session from the
// terminal.
//
//	realty serve                 backend API and web front end
//	realty signup                register an account (then verify the email)
//	realty login / logout        sign the CLI session in or out
//	realty status                show the settled session
//	realty resend                send the verification email again
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// app is shared by all commands
type app struct {
	configPath string
	overrides  Config

	cfg    *Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "realty",
		Short:         "Marketplace authentication and session tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", DefaultConfigPath(), "config file")
	flags.StringVar(&a.overrides.Provider, "provider", "", "identity provider: local or firebase")
	flags.StringVar(&a.overrides.DataDir, "data-dir", "", "directory for accounts, stores and sessions")
	flags.StringVar(&a.overrides.BackendURL, "backend-url", "", "backend API base URL")
	flags.StringVar(&a.overrides.Session.Store, "session-store", "", "session store: fs or redis")
	flags.StringVar(&a.overrides.Log.Level, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.overrides.Log.Format, "log-format", "", "log format: text or json")

	root.AddCommand(
		newServeCmd(a),
		newLoginCmd(a),
		newSignupCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
		newResendCmd(a),
	)
	return root
}

// load reads the config and applies flags set on the command line
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := LoadConfig(a.configPath, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	o := a.overrides
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Provider, o.Provider)
	override(&cfg.DataDir, o.DataDir)
	override(&cfg.BackendURL, o.BackendURL)
	override(&cfg.Session.Store, o.Session.Store)
	override(&cfg.Log.Level, o.Log.Level)
	override(&cfg.Log.Format, o.Log.Format)

	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	a.cfg, a.logger = cfg, logger
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
