// Package observability provides logging and metrics for the local REST
// service.
//
// # Logging
//
// The Logger interface wraps zap for structured logging:
//
//	logger, err := observability.NewLogger(observability.DefaultLogConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("listener bound",
//	    observability.String("listener", "secure"),
//	    observability.String("addr", "127.0.0.1:27124"),
//	)
//
// # Metrics
//
// Metrics owns a private Prometheus registry with collectors for listener
// state, credential generation, certificate health and settings persistence:
//
//	metrics := observability.NewMetrics("localrest")
//	handler := metrics.Handler()
package observability
