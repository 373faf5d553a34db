// Package observability provides structured logging, Prometheus metrics, and
// health checks for the Curio registry.
//
// # Structured Logging
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("artifact", id).Info("version created")
//
// Loggers travel through context; FromContext enriches them with the request
// id and authenticated principal set by the request middleware.
//
// # Prometheus Metrics
//
// Initialize metrics against a registry:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.HTTPRequestsTotal.WithLabelValues("GET", "/artifacts", "200").Inc()
//
// # Health Checks
//
// Configure a health checker with whichever dependencies are in play:
//
//	checker := observability.NewHealthChecker(db, redisClient, backend)
//	status := checker.Check(ctx)
package observability
