package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/serp-monitor/internal/api"
	"github.com/sells-group/serp-monitor/internal/digest"
	"github.com/sells-group/serp-monitor/internal/schedule"
	"github.com/sells-group/serp-monitor/internal/settings"
)

// shutdownTimeout bounds the graceful shutdown of the server, the scheduler
// and the notification queue together.
const shutdownTimeout = 60 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler, the digest loop and the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			env.Close(shCtx)
			return eris.Wrap(err, "server listen")
		}
		return serve(ctx, env, ln)
	},
}

// serve runs every background component and the API on ln until ctx ends,
// then shuts them down in dependency order: HTTP first so no new runs are
// requested, then the scheduler, then the notification queue and stores.
func serve(ctx context.Context, env *monitorEnv, ln net.Listener) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	mgr := schedule.New(env.Ingester, env.Stores, schedule.Options{
		Defaults:         defaultSettings(),
		CatchUpDelay:     time.Duration(cfg.Schedule.CatchUpDelaySecs) * time.Second,
		StartConcurrency: cfg.Schedule.StartConcurrency,
	})
	svc := settings.New(env.Stores, mgr, defaultSettings())

	if err := mgr.StartAll(ctx); err != nil {
		zap.L().Warn("some tenants failed to start", zap.Error(err))
	}

	digestDone := make(chan struct{})
	if cfg.Digest.Enabled {
		runner := digest.New(env.Stores, env.Dispatcher, cfg.Digest)
		go func() {
			defer close(digestDone)
			runner.Run(ctx)
		}()
	} else {
		close(digestDone)
	}

	handler := api.New(env.Stores, svc, mgr, api.WithAllowedOrigins(cfg.Server.AllowedOrigins)).Handler()
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			serveErr = eris.Wrap(err, "server listen")
		}
	}

	cancelRun()
	zap.L().Info("shutting down server")
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
	if err := mgr.Shutdown(shCtx); err != nil {
		zap.L().Warn("scheduler shutdown", zap.Error(err))
	}
	<-digestDone
	env.Close(shCtx)

	return serveErr
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
