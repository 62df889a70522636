package actuation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/otelhan/venice/errors"
	"github.com/otelhan/venice/metric"
)

// Movement value range entering the mapper. 20 is the enforced minimum
// non-zero actuation; 127 the maximum.
const (
	MinValue = 20.0
	MaxValue = 127.0
)

// ServoConfig is one cube servo's identity and safety clamp.
type ServoConfig struct {
	ID       int
	MinAngle float64
	MaxAngle float64
}

// Config tunes the mapper.
type Config struct {
	// Servos are the cube servos in bin order.
	Servos []ServoConfig

	// ClockServoID is the time-of-day servo.
	ClockServoID int

	// TickInterval rate-limits each servo to one command per interval.
	TickInterval time.Duration

	// RelayThreshold is the mean movement magnitude at or above which
	// the wavemaker relay switches on.
	RelayThreshold float64
}

// DefaultConfig returns the installation's physical layout: cube servos
// 1 through 5 with full travel, clock servo 6.
func DefaultConfig() Config {
	servos := make([]ServoConfig, 5)
	for i := range servos {
		servos[i] = ServoConfig{ID: i + 1, MinAngle: MinAngle, MaxAngle: MaxAngle}
	}
	return Config{
		Servos:         servos,
		ClockServoID:   6,
		TickInterval:   time.Second,
		RelayThreshold: 70,
	}
}

// Deps holds the dependencies for a Mapper.
type Deps struct {
	NodeID   string
	Driver   Driver
	Logger   *slog.Logger
	Registry *metric.MetricsRegistry
	Config   Config
}

// Mapper turns the terminal stage's value vector into servo commands.
// Physical actuation is best effort: failed or rate-limited commands are
// logged and dropped, never retried, so the pipeline can't stall on a
// stuck serial line.
type Mapper struct {
	cfg     Config
	driver  Driver
	logger  *slog.Logger
	metrics *mapperMetrics

	limiters []*rate.Limiter

	mu         sync.Mutex
	clockAngle float64
	clockSet   bool
	relayOn    bool
	relaySet   bool
}

// NewMapper creates a mapper from its dependencies.
func NewMapper(deps Deps) (*Mapper, error) {
	if deps.Driver == nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("driver required"), "Mapper", "New", "validate dependencies")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cfg := deps.Config
	if len(cfg.Servos) == 0 {
		cfg = DefaultConfig()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if cfg.ClockServoID == 0 {
		cfg.ClockServoID = DefaultConfig().ClockServoID
	}
	for _, s := range cfg.Servos {
		if s.MinAngle < MinAngle || s.MaxAngle > MaxAngle || s.MinAngle > s.MaxAngle {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: servo %d clamp [%g, %g]", errors.ErrActuatorRange, s.ID, s.MinAngle, s.MaxAngle),
				"Mapper", "New", "clamp validation")
		}
	}

	limiters := make([]*rate.Limiter, len(cfg.Servos))
	for i := range limiters {
		limiters[i] = rate.NewLimiter(rate.Every(cfg.TickInterval), 1)
	}

	return &Mapper{
		cfg:      cfg,
		driver:   deps.Driver,
		logger:   logger.With("component", "actuation", "node", deps.NodeID),
		metrics:  newMapperMetrics(deps.Registry, deps.NodeID),
		limiters: limiters,
	}, nil
}

// Apply distributes a value vector across the cube servos: the vector is
// split into one contiguous bin per servo, each bin's average is mapped
// linearly from [MinValue, MaxValue] onto the angle range, and the result
// is clamped to that servo's configured travel before dispatch. The
// returned map holds the clamped target angle per servo id, including
// commands a rate limiter or driver failure kept off the wire.
func (m *Mapper) Apply(ctx context.Context, values []float64) map[int]float64 {
	angles := m.binAngles(values)
	targets := make(map[int]float64, len(angles))
	for i, servo := range m.cfg.Servos {
		angle, ok := angles[i]
		if !ok {
			continue // empty bin, hold position
		}

		clamped := clamp(angle, servo.MinAngle, servo.MaxAngle)
		targets[servo.ID] = clamped
		label := strconv.Itoa(servo.ID)

		if !m.limiters[i].Allow() {
			m.metrics.recordRateLimited(label)
			continue
		}
		if err := m.driver.SetAngle(ctx, servo.ID, clamped); err != nil {
			m.metrics.recordDropped(label)
			m.logger.Warn("servo write failed, dropping command",
				"servo", servo.ID, "angle", clamped, "error", err)
			continue
		}
		m.metrics.recordMove(label)
	}
	return targets
}

// binAngles splits values into one bin per servo and converts each
// non-empty bin's average to an unclamped angle.
func (m *Mapper) binAngles(values []float64) map[int]float64 {
	out := make(map[int]float64, len(m.cfg.Servos))
	if len(values) == 0 {
		return out
	}

	bins := len(m.cfg.Servos)
	per := len(values) / bins
	rem := len(values) % bins

	start := 0
	for i := 0; i < bins; i++ {
		size := per
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		sum := 0.0
		for _, v := range values[start : start+size] {
			sum += v
		}
		avg := sum / float64(size)
		out[i] = valueToAngle(avg)
		start += size
	}
	return out
}

// valueToAngle maps a movement value onto the full angle range.
func valueToAngle(v float64) float64 {
	v = clamp(v, MinValue, MaxValue)
	return MinAngle + (v-MinValue)/(MaxValue-MinValue)*(MaxAngle-MinAngle)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// UpdateClock points the clock servo at the current sector. Repeated
// calls within the same sector are suppressed; the servo only moves six
// times a day.
func (m *Mapper) UpdateClock(ctx context.Context, now time.Time) {
	angle := ClockAngle(now)

	m.mu.Lock()
	unchanged := m.clockSet && m.clockAngle == angle
	m.mu.Unlock()
	if unchanged {
		return
	}

	label := strconv.Itoa(m.cfg.ClockServoID)
	if err := m.driver.SetAngle(ctx, m.cfg.ClockServoID, angle); err != nil {
		m.metrics.recordDropped(label)
		m.logger.Warn("clock servo write failed, dropping command",
			"servo", m.cfg.ClockServoID, "angle", angle, "error", err)
		return
	}
	m.metrics.recordMove(label)

	m.mu.Lock()
	m.clockAngle = angle
	m.clockSet = true
	m.mu.Unlock()
}

// UpdateWave drives the wavemaker relay from mean movement magnitude,
// switching only on state changes.
func (m *Mapper) UpdateWave(ctx context.Context, meanMagnitude float64) {
	on := meanMagnitude >= m.cfg.RelayThreshold

	m.mu.Lock()
	unchanged := m.relaySet && m.relayOn == on
	m.mu.Unlock()
	if unchanged {
		return
	}

	if err := m.driver.SetRelay(ctx, on); err != nil {
		m.logger.Warn("relay write failed, dropping command", "on", on, "error", err)
		return
	}
	m.metrics.recordRelaySwitch()

	m.mu.Lock()
	m.relayOn = on
	m.relaySet = true
	m.mu.Unlock()
}

// WaveOn reports the last commanded wavemaker relay state.
func (m *Mapper) WaveOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relaySet && m.relayOn
}

// ClockPosition returns the last commanded clock angle, false before
// the first successful clock command.
func (m *Mapper) ClockPosition() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clockAngle, m.clockSet
}
