// Package config defines the YAML configuration for an installation
// deployment: node identity, the topology chain, link tuning, reservoir
// and training parameters, the servo table, the vector source, and the
// telemetry and monitor surfaces. Configuration is loaded once at
// startup, validated, then treated as immutable.
package config
