package config

import (
	"fmt"
	"time"

	"github.com/otelhan/venice/actuation"
	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/link"
	"github.com/otelhan/venice/pkg/retry"
	"github.com/otelhan/venice/reservoir"
	"github.com/otelhan/venice/topology"
	"github.com/otelhan/venice/training"
)

// Config is the complete deployment configuration for one node.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Topology  TopologyConfig  `yaml:"topology"`
	Link      LinkConfig      `yaml:"link,omitempty"`
	Reservoir ReservoirConfig `yaml:"reservoir,omitempty"`
	Training  TrainingConfig  `yaml:"training,omitempty"`
	Actuation ActuationConfig `yaml:"actuation,omitempty"`
	Source    SourceConfig    `yaml:"source,omitempty"`
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`
	Monitor   MonitorConfig   `yaml:"monitor,omitempty"`
	Metrics   MetricsConfig   `yaml:"metrics,omitempty"`
}

// NodeConfig identifies which topology node this process runs as.
type NodeConfig struct {
	Name string `yaml:"name"`
}

// TopologyConfig lists every node and the directed edges of the chain.
// The whole installation shares one topology file.
type TopologyConfig struct {
	Nodes []TopologyNode `yaml:"nodes"`
	Edges []TopologyEdge `yaml:"edges"`
}

// TopologyNode declares one node of the installation.
type TopologyNode struct {
	Name string `yaml:"name"`
	Addr string `yaml:"addr"`
	Role string `yaml:"role"`
}

// TopologyEdge is one directed hop of the chain.
type TopologyEdge struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// LinkConfig tunes the reliable delivery layer. Zero values take the
// installation defaults.
type LinkConfig struct {
	AckTimeout     Duration `yaml:"ack_timeout,omitempty"`
	MaxAckTimeout  Duration `yaml:"max_ack_timeout,omitempty"`
	BackoffFactor  float64  `yaml:"backoff_factor,omitempty"`
	MaxAttempts    int      `yaml:"max_attempts,omitempty"`
	Window         int      `yaml:"window,omitempty"`
	ReorderTimeout Duration `yaml:"reorder_timeout,omitempty"`
}

// ReservoirConfig sets the echo state network parameters.
type ReservoirConfig struct {
	Dimension int     `yaml:"dimension,omitempty"`
	LeakRate  float64 `yaml:"leak_rate,omitempty"`
	Seed      int64   `yaml:"seed,omitempty"`
}

// TrainingConfig sets the online training cadence and readout fit.
type TrainingConfig struct {
	Capacity        int      `yaml:"capacity,omitempty"`
	MinExamples     int      `yaml:"min_examples,omitempty"`
	Interval        Duration `yaml:"interval,omitempty"`
	SplitRatio      float64  `yaml:"split_ratio,omitempty"`
	Lambda          float64  `yaml:"lambda,omitempty"`
	MediumThreshold float64  `yaml:"medium_threshold,omitempty"`
	HighThreshold   float64  `yaml:"high_threshold,omitempty"`
}

// ServoConfig clamps one cube servo's travel.
type ServoConfig struct {
	ID       int     `yaml:"id"`
	MinAngle float64 `yaml:"min_angle"`
	MaxAngle float64 `yaml:"max_angle"`
}

// ActuationConfig describes the physical output stage on the terminal
// node: the serial device, the cube servo table, the clock servo, and
// the wavemaker relay threshold.
type ActuationConfig struct {
	SerialDevice   string        `yaml:"serial_device,omitempty"`
	MoveMillis     int           `yaml:"move_millis,omitempty"`
	Servos         []ServoConfig `yaml:"servos,omitempty"`
	ClockServoID   int           `yaml:"clock_servo_id,omitempty"`
	TickInterval   Duration      `yaml:"tick_interval,omitempty"`
	RelayThreshold float64       `yaml:"relay_threshold,omitempty"`
}

// Source kinds.
const (
	SourceCSV = "csv"
	SourceSim = "sim"
)

// SourceConfig selects the motion vector source on the origin node.
type SourceConfig struct {
	Kind    string   `yaml:"kind,omitempty"`
	Path    string   `yaml:"path,omitempty"`
	Tick    Duration `yaml:"tick,omitempty"`
	Loop    bool     `yaml:"loop,omitempty"`
	Regions int      `yaml:"regions,omitempty"`
	Seed    int64    `yaml:"seed,omitempty"`
}

// TelemetryConfig enables the NATS snapshot bus.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Prefix  string `yaml:"prefix,omitempty"`
}

// MonitorConfig enables the websocket observation server.
type MonitorConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Addr    string `yaml:"addr,omitempty"`
	BusURL  string `yaml:"bus_url,omitempty"`
}

// MetricsConfig enables per-node Prometheus exposition.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Port    int    `yaml:"port,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// ApplyDefaults fills every zero field with the installation default.
func (c *Config) ApplyDefaults() {
	if c.Link.Window <= 0 {
		c.Link.Window = 1024
	}
	if c.Link.ReorderTimeout <= 0 {
		c.Link.ReorderTimeout = Duration(2 * time.Second)
	}
	if c.Link.AckTimeout <= 0 {
		c.Link.AckTimeout = Duration(500 * time.Millisecond)
	}
	if c.Link.MaxAckTimeout <= 0 {
		c.Link.MaxAckTimeout = Duration(8 * time.Second)
	}
	if c.Link.BackoffFactor <= 0 {
		c.Link.BackoffFactor = 2.0
	}
	if c.Link.MaxAttempts <= 0 {
		c.Link.MaxAttempts = 5
	}

	if c.Reservoir.Dimension <= 0 {
		c.Reservoir.Dimension = reservoir.DefaultDimension
	}
	if c.Reservoir.LeakRate <= 0 {
		c.Reservoir.LeakRate = reservoir.DefaultLeakRate
	}
	if c.Reservoir.Seed == 0 {
		c.Reservoir.Seed = 1
	}

	if c.Training.Capacity <= 0 {
		c.Training.Capacity = 500
	}
	if c.Training.MinExamples <= 0 {
		c.Training.MinExamples = 50
	}
	if c.Training.Interval <= 0 {
		c.Training.Interval = Duration(60 * time.Second)
	}
	if c.Training.SplitRatio <= 0 {
		c.Training.SplitRatio = 0.7
	}
	if c.Training.Lambda <= 0 {
		c.Training.Lambda = training.DefaultLambda
	}
	if c.Training.MediumThreshold <= 0 {
		c.Training.MediumThreshold = training.DefaultThresholds().Medium
	}
	if c.Training.HighThreshold <= 0 {
		c.Training.HighThreshold = training.DefaultThresholds().High
	}

	if len(c.Actuation.Servos) == 0 {
		def := actuation.DefaultConfig()
		for _, s := range def.Servos {
			c.Actuation.Servos = append(c.Actuation.Servos, ServoConfig{
				ID: s.ID, MinAngle: s.MinAngle, MaxAngle: s.MaxAngle,
			})
		}
	}
	if c.Actuation.ClockServoID <= 0 {
		c.Actuation.ClockServoID = actuation.DefaultConfig().ClockServoID
	}
	if c.Actuation.TickInterval <= 0 {
		c.Actuation.TickInterval = Duration(actuation.DefaultConfig().TickInterval)
	}
	if c.Actuation.RelayThreshold <= 0 {
		c.Actuation.RelayThreshold = actuation.DefaultConfig().RelayThreshold
	}
	if c.Actuation.MoveMillis <= 0 {
		c.Actuation.MoveMillis = actuation.DefaultMoveMillis
	}

	if c.Source.Kind == "" {
		c.Source.Kind = SourceSim
	}
	if c.Source.Tick <= 0 {
		c.Source.Tick = Duration(time.Second)
	}
	if c.Source.Regions <= 0 {
		c.Source.Regions = 30
	}
	if c.Source.Seed == 0 {
		c.Source.Seed = 1
	}

	if c.Telemetry.Prefix == "" {
		c.Telemetry.Prefix = "venice"
	}
	if c.Monitor.Addr == "" {
		c.Monitor.Addr = ":8080"
	}
	if c.Metrics.Port <= 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration after defaults are applied.
func (c *Config) Validate() error {
	if c.Node.Name == "" {
		return configErr("node.name is required")
	}
	if len(c.Topology.Nodes) == 0 {
		return configErr("topology.nodes is required")
	}

	found := false
	for i, n := range c.Topology.Nodes {
		if n.Name == "" {
			return configErr(fmt.Sprintf("topology.nodes[%d].name is required", i))
		}
		if n.Addr == "" {
			return configErr(fmt.Sprintf("topology.nodes[%d].addr is required", i))
		}
		if _, err := topology.ParseRole(n.Role); err != nil {
			return configErr(fmt.Sprintf("topology.nodes[%d].role %q is not a known role", i, n.Role))
		}
		if n.Name == c.Node.Name {
			found = true
		}
	}
	if !found {
		return configErr(fmt.Sprintf("node.name %q is not listed in topology.nodes", c.Node.Name))
	}

	for i, e := range c.Topology.Edges {
		if e.From == "" || e.To == "" {
			return configErr(fmt.Sprintf("topology.edges[%d] needs both from and to", i))
		}
	}

	if c.Training.SplitRatio >= 1 {
		return configErr("training.split_ratio must be below 1")
	}
	if c.Training.HighThreshold <= c.Training.MediumThreshold {
		return configErr("training.high_threshold must exceed medium_threshold")
	}
	if c.Reservoir.LeakRate > 1 {
		return configErr("reservoir.leak_rate must be at most 1")
	}

	seen := make(map[int]bool)
	for i, s := range c.Actuation.Servos {
		if s.ID <= 0 {
			return configErr(fmt.Sprintf("actuation.servos[%d].id must be positive", i))
		}
		if seen[s.ID] {
			return configErr(fmt.Sprintf("actuation.servos[%d].id %d is duplicated", i, s.ID))
		}
		seen[s.ID] = true
	}
	if seen[c.Actuation.ClockServoID] {
		return configErr("actuation.clock_servo_id collides with a cube servo")
	}

	switch c.Source.Kind {
	case SourceCSV:
		if c.Source.Path == "" {
			return configErr("source.path is required for the csv source")
		}
	case SourceSim:
	default:
		return configErr(fmt.Sprintf("source.kind %q is not csv or sim", c.Source.Kind))
	}

	if c.Telemetry.Enabled && c.Telemetry.URL == "" {
		return configErr("telemetry.url is required when telemetry is enabled")
	}

	return nil
}

func configErr(msg string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg),
		"Config", "Validate", "check configuration")
}

// TopologyNodes converts the declared nodes into router form.
func (c *Config) TopologyNodes() ([]topology.Node, error) {
	nodes := make([]topology.Node, 0, len(c.Topology.Nodes))
	for _, n := range c.Topology.Nodes {
		role, err := topology.ParseRole(n.Role)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, topology.Node{Name: n.Name, ListenAddr: n.Addr, Role: role})
	}
	return nodes, nil
}

// TopologyEdges converts the declared edges into router form.
func (c *Config) TopologyEdges() []topology.Edge {
	edges := make([]topology.Edge, 0, len(c.Topology.Edges))
	for _, e := range c.Topology.Edges {
		edges = append(edges, topology.Edge{From: e.From, To: e.To})
	}
	return edges
}

// LinkSettings converts the link section into the endpoint's config.
func (c *Config) LinkSettings() link.Config {
	return link.Config{
		Window:         c.Link.Window,
		ReorderTimeout: time.Duration(c.Link.ReorderTimeout),
		Retry: retry.Config{
			MaxAttempts:  c.Link.MaxAttempts,
			InitialDelay: time.Duration(c.Link.AckTimeout),
			MaxDelay:     time.Duration(c.Link.MaxAckTimeout),
			Multiplier:   c.Link.BackoffFactor,
		},
	}
}

// TrainingSettings converts the training section into the supervisor's
// config.
func (c *Config) TrainingSettings() training.Config {
	return training.Config{
		Capacity:    c.Training.Capacity,
		MinExamples: c.Training.MinExamples,
		Interval:    time.Duration(c.Training.Interval),
		SplitRatio:  c.Training.SplitRatio,
		Lambda:      c.Training.Lambda,
		Dimension:   c.Reservoir.Dimension,
	}
}

// Thresholds converts the activity class boundaries.
func (c *Config) Thresholds() training.Thresholds {
	return training.Thresholds{
		Medium: c.Training.MediumThreshold,
		High:   c.Training.HighThreshold,
	}
}

// ActuationSettings converts the actuation section into the mapper's
// config.
func (c *Config) ActuationSettings() actuation.Config {
	servos := make([]actuation.ServoConfig, 0, len(c.Actuation.Servos))
	for _, s := range c.Actuation.Servos {
		servos = append(servos, actuation.ServoConfig{
			ID: s.ID, MinAngle: s.MinAngle, MaxAngle: s.MaxAngle,
		})
	}
	return actuation.Config{
		Servos:         servos,
		ClockServoID:   c.Actuation.ClockServoID,
		TickInterval:   time.Duration(c.Actuation.TickInterval),
		RelayThreshold: c.Actuation.RelayThreshold,
	}
}
