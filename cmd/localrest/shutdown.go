package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyrodovalexey/localrest/internal/listener"
	"github.com/vyrodovalexey/localrest/internal/observability"
	"github.com/vyrodovalexey/localrest/internal/settings"
)

const shutdownTimeout = 30 * time.Second

// runService activates the service and blocks until a shutdown signal.
func runService(app *application, logger observability.Logger) {
	ctx := context.Background()

	if err := startService(ctx, app, logger); err != nil {
		fatalWithSync(logger, "failed to start", observability.Error(err))
		return // unreachable in production; allows test to continue
	}

	sig := waitForSignal()
	logger.Info("received shutdown signal", observability.String("signal", sig.String()))

	stopService(app, logger)
}

// startService activates the controller and, for file stores, starts
// watching the settings file.
func startService(ctx context.Context, app *application, logger observability.Logger) error {
	if err := app.controller.Activate(ctx); err != nil {
		return err
	}

	logRefresh(app, logger)

	if fileStore, ok := app.store.(*settings.FileStore); ok && app.watch {
		if err := app.controller.Watch(ctx, fileStore); err != nil {
			logger.Warn("settings file will not be watched", observability.Error(err))
		}
	}

	return nil
}

// stopService shuts every component down within shutdownTimeout.
func stopService(app *application, logger observability.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.controller.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to stop gracefully", observability.Error(err))
	}

	if err := app.closeStore(); err != nil {
		logger.Error("failed to close settings store", observability.Error(err))
	}

	logger.Info("localrest stopped")
}

func logRefresh(app *application, logger observability.Logger) {
	result := app.controller.LastRefresh()
	if result == nil {
		return
	}

	logger.Info("listeners refreshed",
		observability.String("state", app.orchestrator.State().String()),
		observability.String("secure", app.orchestrator.Addr(listener.KindSecure)),
		observability.String("insecure", app.orchestrator.Addr(listener.KindInsecure)),
	)
	if err := result.Err(); err != nil {
		logger.Error("some listeners failed to bind", observability.Error(err))
	}
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	return <-sigCh
}
