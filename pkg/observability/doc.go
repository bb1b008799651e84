// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("client", key).Warn("rate limit exceeded")
//
// Request-scoped loggers carry the request and user IDs:
//
//	observability.FromContext(r.Context()).Info("login")
//
// # Prometheus Metrics
//
// NewMetrics registers storefront_* collectors (HTTP, auth operations,
// issued tokens, cleanup passes, rate limit decisions). A nil *Metrics
// records nothing.
//
// # Tracing
//
// InitOTel installs OTLP gRPC tracer and meter providers; HTTPHandler wraps
// the API with otelhttp.
//
// # Health and Shutdown
//
// HealthChecker aggregates named probes (DatabaseCheck, RedisCheck) behind
// /health/live and /health/ready. ShutdownManager stops registered
// components newest first.
package observability
