// Package infra holds the adapters to external systems: the zerolog
// logger, the Prometheus and InfluxDB metrics sinks and the MQTT result
// publisher. Core packages never import them.
package infra
