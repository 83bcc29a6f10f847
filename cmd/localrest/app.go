package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/vyrodovalexey/localrest/internal/controller"
	"github.com/vyrodovalexey/localrest/internal/credential"
	"github.com/vyrodovalexey/localrest/internal/listener"
	"github.com/vyrodovalexey/localrest/internal/observability"
	"github.com/vyrodovalexey/localrest/internal/router"
	"github.com/vyrodovalexey/localrest/internal/settings"
)

// application holds all application components.
type application struct {
	store        settings.Store
	controller   *controller.Controller
	orchestrator *listener.Orchestrator
	router       *router.Router
	metrics      *observability.Metrics
	watch        bool
}

// initApplication initializes all application components.
func initApplication(flags cliFlags, logger observability.Logger) (*application, error) {
	store, err := settings.OpenStore(flags.settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings store: %w", err)
	}

	var metrics *observability.Metrics
	if flags.enableMetrics {
		metrics = observability.NewMetrics("localrest")
	}

	generator := credential.NewGenerator(
		credential.WithLogger(logger),
		credential.WithMetrics(metrics),
	)

	// The router reads from the controller, which drives the listeners that
	// serve the router. Requests only arrive after activation, by which time
	// rt is set.
	var rt *router.Router
	orchestrator := listener.NewOrchestrator(
		http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rt.Handler().ServeHTTP(w, req)
		}),
		listener.WithLogger(logger),
		listener.WithMetrics(metrics),
	)

	ctrl := controller.New(store, generator, orchestrator,
		controller.WithLogger(logger),
		controller.WithMetrics(metrics),
		controller.WithDebounce(flags.debounce),
	)

	rt = router.New(ctrl,
		router.WithLogger(logger),
		router.WithMetrics(metrics),
		router.WithVersion(version),
	)

	return &application{
		store:        store,
		controller:   ctrl,
		orchestrator: orchestrator,
		router:       rt,
		metrics:      metrics,
		watch:        flags.watch,
	}, nil
}

// closeStore releases stores that hold resources, such as the bbolt file
// lock.
func (a *application) closeStore() error {
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
