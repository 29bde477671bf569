package main

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/serp-monitor/internal/analytics"
	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/schedule"
	"github.com/sells-group/serp-monitor/internal/store"
)

var statusAll bool

// tenantStatus is the status command's view of one tenant.
type tenantStatus struct {
	Schedule *schedule.Status `yaml:"schedule"`
	Settings *model.Settings  `yaml:"settings"`
	Stats    *analytics.Stats `yaml:"stats"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show settings, schedule and totals of a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		tenants := []string{siteID}
		if statusAll {
			if tenants, err = env.Stores.Tenants(ctx); err != nil {
				return err
			}
		}

		out := make(map[string]*tenantStatus, len(tenants))
		for _, id := range tenants {
			ts, err := collectStatus(ctx, env.Stores, id, time.Now())
			if err != nil {
				return err
			}
			out[model.SanitizeTenantID(id)] = ts
		}
		return writeYAML(cmd.OutOrStdout(), out)
	},
}

// collectStatus reports what the scheduler would do for a tenant without
// starting it. NextFireTime is where a fresh serve process would fire.
func collectStatus(ctx context.Context, stores *store.Registry, tenantID string, now time.Time) (*tenantStatus, error) {
	defaults := defaultSettings()
	mgr := schedule.New(nil, stores, schedule.Options{
		Defaults:     defaults,
		CatchUpDelay: time.Duration(cfg.Schedule.CatchUpDelaySecs) * time.Second,
		Now:          func() time.Time { return now },
	})
	sched, err := mgr.Status(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	st, err := stores.Resolve(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	settings, err := st.EnsureSettings(ctx, defaults)
	if err != nil {
		return nil, eris.Wrapf(err, "status: settings for %s", tenantID)
	}
	latest, err := st.LatestSnapshot(ctx)
	if err != nil {
		return nil, eris.Wrapf(err, "status: latest snapshot for %s", tenantID)
	}
	if settings.Enabled {
		var last *time.Time
		if latest != nil {
			last = &latest.SearchDate
		}
		next := schedule.NextFireTime(now, last, settings.Interval(), time.Duration(cfg.Schedule.CatchUpDelaySecs)*time.Second)
		sched.NextFireTime = &next
	}

	stats, err := analytics.New(st, sched.TenantID, analytics.WithClock(func() time.Time { return now })).Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &tenantStatus{Schedule: sched, Settings: settings, Stats: stats}, nil
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return eris.Wrap(err, "encode yaml")
	}
	return enc.Close()
}

func init() {
	statusCmd.Flags().StringVar(&siteID, "site-id", "default", "tenant to show")
	statusCmd.Flags().BoolVar(&statusAll, "all", false, "show every known tenant")
	rootCmd.AddCommand(statusCmd)
}
