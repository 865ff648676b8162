package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shpitdev/leadsync/internal/app"
	"github.com/shpitdev/leadsync/internal/engine"
	"github.com/shpitdev/leadsync/internal/version"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process leads until interrupted",
		Long: `Run the processing loop: select the first pending lead, analyze it, append the
result and mark the lead complete. The loop paces itself, rests between batches,
waits for the next day once the daily limit is reached and polls when idle.

Example:
  leadsync run --config leadsync.yaml
  LEADSYNC_STORE=sqlite leadsync run --daily-limit 20`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()

			eng, err := a.NewEngine(ctx, app.EngineDeps{})
			if err != nil {
				return configError("startup failed", err)
			}
			if err := eng.Run(ctx); err != nil {
				return err
			}
			st := eng.Stats()
			logger.Info("stopped",
				zap.Int("processed", st.Processed),
				zap.Int("skipped", st.Skipped),
				zap.Int("failed", st.Failed),
			)
			return nil
		},
	}
}

func newOnceCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Process at most one pending lead and exit",
		Long: `Process the first pending lead, if any, and exit. Exits non-zero when the item
fails or the daily limit is already reached. Suitable for cron.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			ctx, cancel := signalContext(cmd.Context(), logger)
			defer cancel()

			eng, err := a.NewEngine(ctx, app.EngineDeps{})
			if err != nil {
				return configError("startup failed", err)
			}
			out, ok, err := eng.RunOnce(ctx)
			if errors.Is(err, engine.ErrQuotaExhausted) {
				return err
			}
			if err != nil {
				return fmt.Errorf("process: %w", err)
			}
			if !ok {
				printf(cmd, "no pending leads\n")
				return nil
			}
			printf(cmd, "%s\n", out)
			if out.Kind == engine.Failed {
				return fmt.Errorf("row %d failed: %w", out.Item.Row, out.Err)
			}
			return nil
		},
	}
}

func newStatusCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:           "status",
		Short:         "Show daily quota, registry and table counts",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, logger, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			st, err := a.Status(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			printf(cmd, "backend:         %s\n", st.Backend)
			printf(cmd, "date:            %s\n", st.Date)
			printf(cmd, "processed today: %d/%d\n", st.ProcessedToday, st.DailyLimit)
			printf(cmd, "registry keys:   %d\n", st.RegistryKeys)
			if st.RegistryUpdate != "" {
				printf(cmd, "registry update: %s\n", st.RegistryUpdate)
			}
			printf(cmd, "leads:           %d (%d pending)\n", st.Leads, st.Pending)
			printf(cmd, "results:         %d\n", st.Results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print status as JSON")
	return cmd
}

func newExportCommand(root *rootOptions) *cobra.Command {
	var output, table string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the results or leads table as CSV",
		Example: `  leadsync export --output results.csv
  leadsync export --table leads --output -`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if table != "results" && table != "leads" {
				return configError("config error", fmt.Errorf("invalid table %q: must be results or leads", table))
			}
			a, logger, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			w, done, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			var n int
			if table == "leads" {
				n, err = a.ExportLeads(cmd.Context(), w)
			} else {
				n, err = a.ExportResults(cmd.Context(), w)
			}
			if cerr := done(); err == nil {
				err = cerr
			}
			if err != nil {
				return fmt.Errorf("export %s: %w", table, err)
			}
			logger.Info("exported", zap.String("table", table), zap.Int("rows", n), zap.String("output", output))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output CSV path, - for stdout")
	cmd.Flags().StringVar(&table, "table", "results", "table to export (results|leads)")
	return cmd
}

func newImportCommand(root *rootOptions) *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Append leads from a CSV file to the inbound table",
		Long: `Append leads from a CSV file to the inbound table. Recognized columns are
"Restaurant Name" (or name), Rating, Website (or url), "Phone Number" (or phone)
and Status; a name column is required.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(input)
			if err != nil {
				return configError("open input", err)
			}
			defer f.Close()

			a, logger, err := root.open(cmd)
			if err != nil {
				return err
			}
			defer closeApp(a, logger)

			n, err := a.ImportLeads(cmd.Context(), f)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}
			printf(cmd, "imported %d leads\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "input CSV path (required)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the leadsync version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printf(cmd, "leadsync %s\n", version.Current)
		},
	}
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}
