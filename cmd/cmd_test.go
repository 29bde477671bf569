package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/serp-monitor/internal/config"
	"github.com/sells-group/serp-monitor/internal/model"
	"github.com/sells-group/serp-monitor/pkg/serpapi"
)

// fakeSerpAPI serves one fixed ranking per query and counts requests.
func fakeSerpAPI(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		q := r.URL.Query().Get("q")
		resp := serpapi.SearchResponse{
			OrganicResults: []serpapi.OrganicResult{
				{Link: "https://www.example.com/" + q, Title: "Example " + q},
				{Link: "https://other.org/" + q, Title: "Other " + q},
			},
			SearchInformation: serpapi.SearchInformation{TotalResults: 1200},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

// useTestConfig installs a complete sqlite config for the duration of a test.
func useTestConfig(t *testing.T, serpURL string) {
	t.Helper()
	prev := cfg
	cfg = &config.Config{
		Store: config.StoreConfig{Driver: "sqlite", DataDir: t.TempDir()},
		SerpAPI: config.SerpAPIConfig{
			Key:         "test-key",
			BaseURL:     serpURL,
			TimeoutSecs: 5,
			Retries:     0,
			RateLimit:   0,
		},
		Schedule: config.ScheduleConfig{CatchUpDelaySecs: 3600, StartConcurrency: 2},
		Detect:   config.DetectConfig{ChangeThreshold: 3, CriticalDrop: 5},
		Notify:   config.NotifyConfig{Sinks: []string{"log"}, QueueSize: 16},
		Digest:   config.DigestConfig{Enabled: true, IntervalHours: 24, TopN: 5},
		Defaults: config.DefaultsConfig{SearchQuery: "alpha, beta", Location: "Istanbul", Enabled: true, IntervalHours: 12},
		Server:   config.ServerConfig{Port: 8080, AllowedOrigins: []string{"*"}},
		Tenants:  []string{"default"},
	}
	t.Cleanup(func() { cfg = prev })
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"serve", "run", "status", "settings", "export", "digest"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "serp-monitor", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		flag string
		def  string
	}{
		{serveCmd, "port", "0"},
		{runCmd, "site-id", "default"},
		{runCmd, "all", "false"},
		{statusCmd, "all", "false"},
		{exportCmd, "days", "30"},
		{exportCmd, "out", "."},
		{digestCmd, "send", "false"},
	}
	for _, tt := range tests {
		t.Run(tt.cmd.Name()+"/"+tt.flag, func(t *testing.T) {
			f := tt.cmd.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
	assert.NotNil(t, settingsCmd.PersistentFlags().Lookup("site-id"))
}

func TestInitEnv_ValidatesMode(t *testing.T) {
	useTestConfig(t, "")
	cfg.SerpAPI.Key = ""

	_, err := initEnv(context.Background(), "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "serpapi.key")

	env, err := initEnv(context.Background(), "cli")
	require.NoError(t, err)
	assert.Nil(t, env.Ingester)
	assert.Nil(t, env.Dispatcher)
	env.Close(context.Background())
}

func TestInitStores_UnknownDriver(t *testing.T) {
	useTestConfig(t, "")
	cfg.Store.Driver = "mysql"
	_, _, err := initStores(context.Background())
	assert.Error(t, err)
}

func TestDefaultSettings(t *testing.T) {
	useTestConfig(t, "")
	st := defaultSettings()
	assert.Equal(t, []string{"alpha", "beta"}, st.Terms())
	assert.Equal(t, 12*time.Hour, st.Interval())
	assert.True(t, st.Enabled)
}

func TestRunTenants(t *testing.T) {
	srv, calls := fakeSerpAPI(t)
	useTestConfig(t, srv.URL)

	env, err := initEnv(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close(context.Background())

	var out bytes.Buffer
	failed := runTenants(context.Background(), env, []string{"acme"}, &out)
	assert.Zero(t, failed)
	assert.EqualValues(t, 2, calls.Load())
	assert.Contains(t, out.String(), "acme: 2/2 terms succeeded")

	st, err := env.Stores.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	latest, err := st.LatestSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Len(t, latest.Links, 2)
	assert.Equal(t, "example.com", latest.Links[0].Domain)
}

func TestPrintReport(t *testing.T) {
	var out bytes.Buffer
	printReport(&out, &model.CycleReport{TenantID: "acme", Skipped: true, Reason: "nothing to do"})
	assert.Equal(t, "acme: skipped (nothing to do)\n", out.String())

	out.Reset()
	start := time.Date(2026, 3, 11, 10, 0, 0, 0, time.UTC)
	printReport(&out, &model.CycleReport{
		TenantID:   "acme",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Terms: []model.TermStatus{
			{Term: "alpha", Status: model.TermSuccess, Links: 10, Events: 2},
			{Term: "beta", Status: model.TermError, Detail: "quota exceeded"},
		},
	})
	assert.Contains(t, out.String(), "acme: 1/2 terms succeeded in 1.5s")
	assert.Contains(t, out.String(), "error: quota exceeded")
}

func TestServe_StartsAndShutsDown(t *testing.T) {
	srv, _ := fakeSerpAPI(t)
	useTestConfig(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env, err := initEnv(ctx, "serve")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- serve(ctx, env, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close() //nolint:errcheck
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/api/search/status")
	require.NoError(t, err)
	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, true, status["is_running"], "configured tenant is scheduled at startup")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestCollectStatus(t *testing.T) {
	srv, _ := fakeSerpAPI(t)
	useTestConfig(t, srv.URL)

	env, err := initEnv(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close(context.Background())
	require.Zero(t, runTenants(context.Background(), env, []string{"default"}, &bytes.Buffer{}))

	now := time.Now().Add(time.Minute)
	ts, err := collectStatus(context.Background(), env.Stores, "default", now)
	require.NoError(t, err)
	assert.False(t, ts.Schedule.IsRunning)
	assert.True(t, ts.Schedule.IsEnabled)
	require.NotNil(t, ts.Schedule.NextFireTime)
	assert.True(t, ts.Schedule.NextFireTime.After(now.Add(11*time.Hour)), "next run is one interval after the last snapshot")
	assert.Equal(t, 2, ts.Stats.TotalSearches)
	assert.Equal(t, "alpha, beta", ts.Settings.SearchQuery)

	var out bytes.Buffer
	require.NoError(t, writeYAML(&out, map[string]*tenantStatus{"default": ts}))
	var decoded map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &decoded))
	assert.Contains(t, decoded["default"], "stats")
}

func TestSettingsUpdateFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().StringVar(&setQuery, "query", "", "")
	cmd.Flags().StringVar(&setLocation, "location", "", "")
	cmd.Flags().IntVar(&setInterval, "interval", 0, "")
	cmd.Flags().BoolVar(&setEnabled, "enabled", true, "")

	assert.Equal(t, model.SettingsUpdate{}, settingsUpdateFromFlags(cmd))

	require.NoError(t, cmd.Flags().Parse([]string{"--interval", "6", "--enabled=false"}))
	u := settingsUpdateFromFlags(cmd)
	assert.Nil(t, u.SearchQuery)
	assert.Nil(t, u.Location)
	require.NotNil(t, u.IntervalHours)
	assert.Equal(t, 6, *u.IntervalHours)
	require.NotNil(t, u.Enabled)
	assert.False(t, *u.Enabled)
}

func TestWriteExport(t *testing.T) {
	srv, _ := fakeSerpAPI(t)
	useTestConfig(t, srv.URL)

	env, err := initEnv(context.Background(), "run")
	require.NoError(t, err)
	defer env.Close(context.Background())
	require.Zero(t, runTenants(context.Background(), env, []string{"default"}, &bytes.Buffer{}))

	st, err := env.Stores.Resolve(context.Background(), "default")
	require.NoError(t, err)

	prevDir, prevDays, prevURL, prevSite := exportOutDir, exportDays, exportURL, siteID
	t.Cleanup(func() { exportOutDir, exportDays, exportURL, siteID = prevDir, prevDays, prevURL, prevSite })
	exportOutDir, exportDays, siteID = t.TempDir(), 30, "default"

	now := time.Now()
	for _, kind := range []string{"daily", "summary"} {
		path, err := writeExport(context.Background(), st, kind, now)
		require.NoError(t, err, kind)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(b, []byte("PK")), "%s is an xlsx archive", kind)
	}

	exportURL = ""
	_, err = writeExport(context.Background(), st, "history", now)
	assert.ErrorContains(t, err, "--url")

	exportURL = "https://www.example.com/alpha"
	path, err := writeExport(context.Background(), st, "history", now)
	require.NoError(t, err)
	assert.True(t, strings.Contains(path, "serp_monitor_position_history_"))
}

func TestParseDigestDate(t *testing.T) {
	now := time.Date(2026, 3, 11, 1, 0, 0, 0, time.UTC)

	day, err := parseDigestDate("", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", day.Format(time.DateOnly))

	day, err = parseDigestDate("2026-02-28", now)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-28", day.Format(time.DateOnly))

	_, err = parseDigestDate("28.02.2026", now)
	assert.Error(t, err)
}
