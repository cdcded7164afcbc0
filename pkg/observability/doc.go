// Package observability provides structured logging, Prometheus metrics,
// health checks, panic recovery, and graceful shutdown for cloudscope
// services.
package observability
