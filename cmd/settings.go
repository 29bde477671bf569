package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/internal/settings"
)

var (
	setQuery    string
	setLocation string
	setInterval int
	setEnabled  bool
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change a tenant's search settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the tenant's settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		st, err := settings.New(env.Stores, nil, defaultSettings()).Get(ctx, siteID)
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), st)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Update the tenant's settings",
	Long:  "Updates only the flags given. A running serve process picks up schedule changes on its next start.",
	RunE: func(cmd *cobra.Command, args []string) error {
		u := settingsUpdateFromFlags(cmd)
		if u == (model.SettingsUpdate{}) {
			return errors.New("nothing to update: pass at least one of --query, --location, --interval, --enabled")
		}

		ctx := cmd.Context()
		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		st, err := settings.New(env.Stores, nil, defaultSettings()).Update(ctx, siteID, u)
		if err != nil {
			return err
		}
		return writeYAML(cmd.OutOrStdout(), st)
	},
}

// settingsUpdateFromFlags turns the flags the user actually passed into a
// partial update.
func settingsUpdateFromFlags(cmd *cobra.Command) model.SettingsUpdate {
	var u model.SettingsUpdate
	flags := cmd.Flags()
	if flags.Changed("query") {
		q := setQuery
		u.SearchQuery = &q
	}
	if flags.Changed("location") {
		l := setLocation
		u.Location = &l
	}
	if flags.Changed("interval") {
		h := setInterval
		u.IntervalHours = &h
	}
	if flags.Changed("enabled") {
		e := setEnabled
		u.Enabled = &e
	}
	return u
}

func init() {
	settingsCmd.PersistentFlags().StringVar(&siteID, "site-id", "default", "tenant to read or change")

	settingsSetCmd.Flags().StringVar(&setQuery, "query", "", "comma-separated query terms")
	settingsSetCmd.Flags().StringVar(&setLocation, "location", "", "search location")
	settingsSetCmd.Flags().IntVar(&setInterval, "interval", 0, "hours between runs")
	settingsSetCmd.Flags().BoolVar(&setEnabled, "enabled", true, "enable or disable scheduled runs")

	settingsCmd.AddCommand(settingsShowCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
