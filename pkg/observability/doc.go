// Package observability bundles the operational concerns of the identity
// provider: structured JSON logging with request context, Prometheus
// metrics for the HTTP surface, directory lookups and issuance outcomes,
// liveness/readiness probes, optional OTLP tracing, panic recovery and
// graceful shutdown.
package observability
