// Package observability wires the Prometheus collectors to the capture loop
// and serves them over HTTP.
package observability

import "github.com/printfarm/enclosure-cam/internal/logger"

// Package-level cached logger instance.
var log = logger.Global().Module("telemetry")
