/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the
runtime service, tracking HTTP requests, module loads, package installs,
sandbox boundary traffic, and REPL sessions.

# Usage

	// Create metrics collector
	metrics := monitoring.NewMetrics()

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Record domain metrics
	metrics.RecordRequire("ok")
	metrics.RecordInstall("success", 12, time.Since(start))
	metrics.RecordSandboxCall("execute", "ok", time.Since(start))

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
