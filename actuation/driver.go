// Package actuation maps final reservoir output to physical motion: five
// cube servos, a time-of-day clock servo, and the wavemaker relay. The
// serial line itself stays outside the core behind the Driver interface;
// this package owns the command vocabulary and the safety clamps.
package actuation

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/otelhan/venice/errors"
)

// Servo angle and pulse limits for the Waveshare bus servos driving the
// installation. Pulse positions 500 to 2500 span -150 to +150 degrees.
const (
	MinAngle = -150.0
	MaxAngle = 150.0
	MinPulse = 500
	MaxPulse = 2500

	// DefaultMoveMillis is the default servo travel time per command.
	DefaultMoveMillis = 1000
)

// Driver is the external actuator contract. Implementations talk to the
// servo controller; failures are reported, never retried here.
type Driver interface {
	// SetAngle moves one servo to the given angle in degrees.
	SetAngle(ctx context.Context, servoID int, angle float64) error

	// SetRelay switches the wavemaker relay.
	SetRelay(ctx context.Context, on bool) error
}

// AngleToPulse converts degrees in [-150, 150] to a pulse position in
// [500, 2500], clamping out-of-range input.
func AngleToPulse(angle float64) int {
	if angle < MinAngle {
		angle = MinAngle
	}
	if angle > MaxAngle {
		angle = MaxAngle
	}
	span := float64(MaxPulse - MinPulse)
	return MinPulse + int(math.Round((angle-MinAngle)/(MaxAngle-MinAngle)*span))
}

// PulseToAngle converts a pulse position back to degrees.
func PulseToAngle(pulse int) float64 {
	if pulse < MinPulse {
		pulse = MinPulse
	}
	if pulse > MaxPulse {
		pulse = MaxPulse
	}
	return MinAngle + float64(pulse-MinPulse)/float64(MaxPulse-MinPulse)*(MaxAngle-MinAngle)
}

// FormatMove renders the bus-servo move command understood by the
// controller: #<id>P<pos>T<time_ms> followed by CRLF.
func FormatMove(servoID int, angle float64, moveMillis int) string {
	return fmt.Sprintf("#%dP%dT%d\r\n", servoID, AngleToPulse(angle), moveMillis)
}

// SerialDriver writes text commands to an already-open serial port (or
// any writer standing in for one). It holds no reconnect logic; the port
// lifecycle belongs to the caller.
type SerialDriver struct {
	mu         sync.Mutex
	port       io.Writer
	moveMillis int
}

// NewSerialDriver wraps an open port. moveMillis <= 0 selects the default
// travel time.
func NewSerialDriver(port io.Writer, moveMillis int) *SerialDriver {
	if moveMillis <= 0 {
		moveMillis = DefaultMoveMillis
	}
	return &SerialDriver{port: port, moveMillis: moveMillis}
}

// SetAngle writes one move command.
func (d *SerialDriver) SetAngle(_ context.Context, servoID int, angle float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := io.WriteString(d.port, FormatMove(servoID, angle, d.moveMillis)); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: servo %d: %v", errors.ErrActuatorWrite, servoID, err),
			"SerialDriver", "SetAngle", "port write")
	}
	return nil
}

// SetRelay writes the wavemaker on/off command.
func (d *SerialDriver) SetRelay(_ context.Context, on bool) error {
	cmd := "off\r\n"
	if on {
		cmd = "on\r\n"
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := io.WriteString(d.port, cmd); err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: relay: %v", errors.ErrActuatorWrite, err),
			"SerialDriver", "SetRelay", "port write")
	}
	return nil
}
