// Package telemetry provides Prometheus instrumentation for a broadcast node.
package telemetry
