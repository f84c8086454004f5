package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vango-go/callsim/internal/dotenv"
	"github.com/vango-go/callsim/pkg/gateway/config"
	gatewayserver "github.com/vango-go/callsim/pkg/gateway/server"
)

type appDeps struct {
	loadConfig   func() (config.Config, error)
	newApp       func(context.Context, config.Config, *slog.Logger) (*app, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultAppDeps() appDeps {
	return appDeps{
		loadConfig: config.LoadFromEnv,
		newApp:     newApp,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func run(ctx context.Context, logger *slog.Logger, deps appDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.newApp == nil {
		return errors.New("missing newApp dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	a, err := deps.newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	httpSrv := buildHTTPServer(cfg, a.server.Handler())
	logger.Info("starting callsim",
		"addr", cfg.Addr,
		"synthesis", a.features.synthesis,
		"persistence", a.features.persistence,
		"analysis", a.features.analysis,
		"scenarios", a.scenarios,
	)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	drain(a.server, httpSrv, cfg, logger)

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("callsim stopped")
	return nil
}

// drain stops new calls, lets live calls finish within the grace period and
// cancels the rest. Cancelled calls are still saved by their sessions.
func drain(gw *gatewayserver.Server, httpSrv *http.Server, cfg config.Config, logger *slog.Logger) {
	gw.SetDraining()
	warned := gw.WarnLiveSessionsDraining()
	logger.Info("draining", "live_sessions", warned, "grace", cfg.ShutdownGracePeriod)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown http server", "error", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	if gw.WaitLiveSessions(waitCtx) {
		return
	}
	canceled := gw.CancelLiveSessions()
	logger.Warn("grace period elapsed; cancelling live calls", "canceled", canceled)

	teardownCtx, teardownCancel := context.WithTimeout(context.Background(), cfg.TeardownTimeout)
	defer teardownCancel()
	if !gw.WaitLiveSessions(teardownCtx) {
		logger.Error("live calls did not finish teardown", "remaining", gw.LiveSessionCount())
	}
}

func runMain(ctx context.Context, stderr io.Writer, deps appDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env", ".env.local"); err != nil {
		fmt.Fprintf(stderr, "callsim: %v\n", err)
		return 1
	}

	if err := run(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "callsim: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultAppDeps()))
}
