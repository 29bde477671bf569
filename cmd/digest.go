package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/serp-monitor/internal/digest"
	"github.com/sells-group/serp-monitor/internal/notify"
)

var (
	digestDate string
	digestSend bool
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Build the daily digest of a tenant, or send every tenant's digest",
	Long:  "Prints the digest of --date (default yesterday, UTC) for --site-id. With --send the digests of all tenants are delivered to the configured notification sinks instead.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		day, err := parseDigestDate(digestDate, time.Now())
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			env.Close(shCtx)
		}()

		if !digestSend {
			d, err := digest.New(env.Stores, nil, cfg.Digest).Collect(ctx, siteID, day)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), d)
		}

		n, err := notify.New(ctx, cfg.Notify)
		if err != nil {
			return eris.Wrap(err, "init notifier")
		}
		env.Dispatcher = notify.NewDispatcher(n, cfg.Notify.QueueSize)

		sent, err := digest.New(env.Stores, env.Dispatcher, cfg.Digest).RunOnce(ctx, day)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d digests queued for %s\n", sent, day.Format(time.DateOnly))
		return nil
	},
}

// parseDigestDate parses YYYY-MM-DD, defaulting to the UTC day before now.
func parseDigestDate(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now.UTC().AddDate(0, 0, -1), nil
	}
	day, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, eris.Wrap(err, "digest: --date must be YYYY-MM-DD")
	}
	return day, nil
}

func init() {
	digestCmd.Flags().StringVar(&siteID, "site-id", "default", "tenant to print")
	digestCmd.Flags().StringVar(&digestDate, "date", "", "day to summarize, YYYY-MM-DD (default yesterday)")
	digestCmd.Flags().BoolVar(&digestSend, "send", false, "deliver every tenant's digest to the notification sinks")
	rootCmd.AddCommand(digestCmd)
}
