// Package monitor serves the observation surface for the installation:
// a websocket feed of live pipeline snapshots at /ws, Prometheus
// exposition at /metrics, and a liveness probe at /healthz. It can
// bridge the NATS telemetry bus into the feed so gallery dashboards
// need only a browser.
package monitor
