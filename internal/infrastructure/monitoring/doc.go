/*
Package monitoring provides Prometheus-based metrics collection.

# Overview

This package tracks HTTP requests, PTY session lifecycle and throughput,
install step timings, status transitions, and WebSocket connections. All
metrics live on a private registry so multiple collectors can coexist in
tests.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Expose the registry
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
