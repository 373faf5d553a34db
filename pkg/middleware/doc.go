// Package middleware provides the HTTP middleware chain: bearer token
// authentication resolving requests to callers, and per-request logging
// with ID propagation and Prometheus metrics.
package middleware
