// Package main is the entry point for the dashkeeper service.
//
// dashkeeper keeps a WordPress database performance dashboard healthy: it
// polls the monitoring API, pushes panel updates through a throttled,
// lock-serialized engine, and recovers corrupted or runaway panels via
// snapshot rollback and recreation.
//
// The status API exposes engine state, the recovery event log, Prometheus
// metrics, manual recovery controls, and a WebSocket event stream.
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML or TOML config file (-config)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Production mode
//	./dashboard -port 8090 -source http://localhost:3000
//
//	# Development mode (colored logs, debug level)
//	./dashboard -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
