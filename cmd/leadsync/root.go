package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/app"
	"github.com/shpitdev/leadsync/internal/config"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	ConfigPath    string
	Verbose       bool
	LogFormat     string
	Store         string
	StateDir      string
	SpreadsheetID string
	DailyLimit    int
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "leadsync",
		Short: "Enrich spreadsheet leads with website analysis",
		Long: `leadsync reads business leads from an inbound table, analyzes each lead's website
with a text generation model and appends the result to an outbound table.

Duplicates are suppressed by phone or name fingerprint across restarts and
concurrent writers. Processing is paced and capped per day.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&opts.LogFormat, "log-format", "console", "log format (console|json)")
	pf.StringVar(&opts.Store, "store", "", "store backend (sheets|sqlite|postgres|memory)")
	pf.StringVar(&opts.StateDir, "state-dir", "", "directory for quota, cache and registry files")
	pf.StringVar(&opts.SpreadsheetID, "spreadsheet-id", "", "Google spreadsheet ID")
	pf.IntVar(&opts.DailyLimit, "daily-limit", 0, "items to process per calendar day")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newOnceCommand(opts))
	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// loadConfig applies defaults, the config file, the environment and finally
// any flag the user set explicitly.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return config.Config{}, configError("config error", err)
	}
	flags := cmd.Flags()
	if flags.Changed("store") {
		cfg.Store.Backend = o.Store
	}
	if flags.Changed("state-dir") {
		cfg.StateDir = o.StateDir
	}
	if flags.Changed("spreadsheet-id") {
		cfg.Sheets.SpreadsheetID = o.SpreadsheetID
	}
	if flags.Changed("daily-limit") {
		cfg.Schedule.DailyLimit = o.DailyLimit
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, configError("config error", err)
	}
	return cfg, nil
}

// open builds the logger and the wired application. Callers close the App and
// sync the logger.
func (o *rootOptions) open(cmd *cobra.Command) (*app.App, *zap.Logger, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := app.NewLogger(o.Verbose, o.LogFormat)
	if err != nil {
		return nil, nil, configError("config error", err)
	}
	logger = logger.With(zap.String("run", app.NewRunID()))

	a, err := app.Open(cmd.Context(), cfg, app.Options{Logger: logger})
	if err != nil {
		_ = logger.Sync()
		return nil, nil, configError("startup failed", err)
	}
	return a, logger, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *zap.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func closeApp(a *app.App, logger *zap.Logger) {
	if err := a.Close(); err != nil {
		logger.Warn("close store", zap.Error(err))
	}
	_ = logger.Sync()
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
