package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/analytics"
	"github.com/sells-group/serp-monitor/internal/export"
	"github.com/sells-group/serp-monitor/internal/store"
)

var (
	exportDays   int
	exportURL    string
	exportOutDir string
)

var exportCmd = &cobra.Command{
	Use:       "export [daily|history|summary]",
	Short:     "Write an Excel workbook of a tenant's rankings",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"daily", "history", "summary"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		st, err := env.Stores.Resolve(ctx, siteID)
		if err != nil {
			return err
		}

		now := time.Now()
		path, err := writeExport(ctx, st, args[0], now)
		if err != nil {
			return err
		}
		zap.L().Info("export written", zap.String("kind", args[0]), zap.String("path", path))
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

// writeExport renders the workbook of kind into exportOutDir and returns the
// file path.
func writeExport(ctx context.Context, st store.Store, kind string, now time.Time) (string, error) {
	a := analytics.New(st, siteID, analytics.WithClock(func() time.Time { return now }))
	since := a.Since(exportDays)

	var buf bytes.Buffer
	var name string
	switch kind {
	case "daily", "history":
		snaps, err := st.ListSnapshots(ctx, store.SnapshotFilter{Since: since, Limit: store.NoLimit})
		if err != nil {
			return "", err
		}
		if kind == "daily" {
			name = "daily"
			err = export.DailyPositions(&buf, snaps)
		} else {
			if exportURL == "" {
				return "", eris.New("export history: --url is required")
			}
			name = "position_history"
			err = export.PositionHistory(&buf, snaps, exportURL)
		}
		if err != nil {
			return "", err
		}
	case "summary":
		stats, err := a.Stats(ctx)
		if err != nil {
			return "", err
		}
		links, err := a.LinkStats(ctx, since, time.Time{}, 0)
		if err != nil {
			return "", err
		}
		name = "summary"
		if err := export.Summary(&buf, stats, links); err != nil {
			return "", err
		}
	default:
		return "", eris.Errorf("export: unknown kind %q", kind)
	}

	if err := os.MkdirAll(exportOutDir, 0o755); err != nil {
		return "", eris.Wrap(err, "export: create output dir")
	}
	path := filepath.Join(exportOutDir, export.Filename(name, now))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", eris.Wrap(err, "export: write file")
	}
	return path, nil
}

func init() {
	exportCmd.Flags().StringVar(&siteID, "site-id", "default", "tenant to export")
	exportCmd.Flags().IntVar(&exportDays, "days", 30, "days of history to include")
	exportCmd.Flags().StringVar(&exportURL, "url", "", "result URL (history export)")
	exportCmd.Flags().StringVarP(&exportOutDir, "out", "o", ".", "output directory")
	rootCmd.AddCommand(exportCmd)
}
