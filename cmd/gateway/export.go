package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hubenschmidt/advisor-avatar/gateway/internal/analytics"
)

func newAnalyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Inspect recorded usage",
	}
	cmd.AddCommand(newExportCmd(), newPruneCmd())
	return cmd
}

func newExportCmd() *cobra.Command {
	var period, out string
	var auto bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write usage records for a period as CSV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := analytics.ParsePeriod(period)
			if err != nil {
				return err
			}
			store, err := openStore(activeCfg.Analytics)
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := analytics.NewService(store).Records(cmd.Context(), p)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if out == "" && auto {
				out = analytics.ExportFilename(p, time.Now())
			}
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := analytics.WriteCSV(w, records); err != nil {
				return fmt.Errorf("write csv: %w", err)
			}
			slog.Info("analytics exported", "period", p, "records", len(records), "file", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", "today", "Period to export (today|week|month|all)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")
	cmd.Flags().BoolVar(&auto, "auto-name", false, "Name the file like the dashboard download")
	return cmd
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete usage records older than the retention window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(activeCfg.Analytics)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			n, err := analytics.NewService(store).Prune(ctx, activeCfg.Analytics.Retention)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", n)
			return nil
		},
	}
}

// openStore opens the configured persistent store. The memory driver has
// nothing to export outside a running server.
func openStore(cfg AnalyticsConfig) (analytics.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return analytics.OpenPostgres(cfg.DatabaseURL)
	case "sqlite":
		return analytics.OpenSQLite(cfg.SQLitePath)
	}
	return nil, fmt.Errorf("analytics driver %q is not persistent; use postgres or sqlite", cfg.Driver)
}
