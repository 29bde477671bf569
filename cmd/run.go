package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/settings"
)

var runAll bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion cycle now and exit",
	Long:  "Searches every query term of the selected tenant (or of every known tenant with --all), stores the results and delivers change notifications.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			env.Close(shCtx)
		}()

		tenants := []string{siteID}
		if runAll {
			tenants, err = env.Stores.Tenants(ctx)
			if err != nil {
				return err
			}
		}

		if failed := runTenants(ctx, env, tenants, cmd.OutOrStdout()); failed > 0 {
			return fmt.Errorf("%d of %d tenants failed", failed, len(tenants))
		}
		return nil
	},
}

// runTenants runs one cycle per tenant in order, printing each report, and
// returns how many tenants failed.
func runTenants(ctx context.Context, env *monitorEnv, tenants []string, w io.Writer) int {
	svc := settings.New(env.Stores, nil, defaultSettings())
	failed := 0
	for _, id := range tenants {
		// Seed defaults so a tenant's first run is not skipped.
		if _, err := svc.Get(ctx, id); err != nil {
			zap.L().Error("load settings", zap.String("tenant_id", id), zap.Error(err))
			failed++
			continue
		}
		report, err := env.Ingester.RunCycle(ctx, id)
		if err != nil {
			zap.L().Error("cycle failed", zap.String("tenant_id", id), zap.Error(err))
			failed++
			continue
		}
		printReport(w, report)
	}
	return failed
}

func printReport(w io.Writer, r *model.CycleReport) {
	if r.Skipped {
		fmt.Fprintf(w, "%s: skipped (%s)\n", r.TenantID, r.Reason)
		return
	}
	fmt.Fprintf(w, "%s: %d/%d terms succeeded in %s\n",
		r.TenantID, r.Succeeded(), len(r.Terms), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	for _, t := range r.Terms {
		switch t.Status {
		case model.TermSuccess:
			fmt.Fprintf(w, "  %-30s %3d links  %2d changes\n", t.Term, t.Links, t.Events)
		default:
			fmt.Fprintf(w, "  %-30s error: %s\n", t.Term, t.Detail)
		}
	}
}

func init() {
	runCmd.Flags().StringVar(&siteID, "site-id", "default", "tenant to run")
	runCmd.Flags().BoolVar(&runAll, "all", false, "run every known tenant")
	rootCmd.AddCommand(runCmd)
}
