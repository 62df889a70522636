package actuation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otelhan/venice/errors"
)

type fakeDriver struct {
	mu     sync.Mutex
	angles map[int][]float64
	relays []bool
	fail   bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{angles: make(map[int][]float64)}
}

func (d *fakeDriver) SetAngle(_ context.Context, servoID int, angle float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.WrapTransient(errors.ErrActuatorWrite, "fakeDriver", "SetAngle", "injected failure")
	}
	d.angles[servoID] = append(d.angles[servoID], angle)
	return nil
}

func (d *fakeDriver) SetRelay(_ context.Context, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail {
		return errors.WrapTransient(errors.ErrActuatorWrite, "fakeDriver", "SetRelay", "injected failure")
	}
	d.relays = append(d.relays, on)
	return nil
}

func (d *fakeDriver) lastAngle(servoID int) (float64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	moves := d.angles[servoID]
	if len(moves) == 0 {
		return 0, false
	}
	return moves[len(moves)-1], true
}

func newTestMapper(t *testing.T, driver Driver, cfg Config) *Mapper {
	t.Helper()
	m, err := NewMapper(Deps{NodeID: "node-output", Driver: driver, Config: cfg})
	require.NoError(t, err)
	return m
}

func TestClockSectorTable(t *testing.T) {
	tests := []struct {
		clock string
		want  float64
	}{
		{"02:00", -150},
		{"10:30", -30},
		{"23:59", 150},
		{"04:00", -90}, // lower edge inclusive
		{"00:00", -150},
		{"03:59", -150},
		{"07:59", -90},
		{"12:00", 30},
		{"15:59", 30},
		{"16:00", 90},
		{"20:00", 150},
	}
	for _, tt := range tests {
		parsed, err := time.Parse("15:04", tt.clock)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ClockAngle(parsed), "clock %s", tt.clock)
	}
}

func TestAnglePulseConversion(t *testing.T) {
	assert.Equal(t, 500, AngleToPulse(-150))
	assert.Equal(t, 1500, AngleToPulse(0))
	assert.Equal(t, 2500, AngleToPulse(150))

	// Out-of-range input clamps to the travel limits.
	assert.Equal(t, 500, AngleToPulse(-999))
	assert.Equal(t, 2500, AngleToPulse(999))

	assert.InDelta(t, -150, PulseToAngle(500), 1e-9)
	assert.InDelta(t, 0, PulseToAngle(1500), 1e-9)
	assert.InDelta(t, 150, PulseToAngle(2500), 1e-9)
}

func TestFormatMove(t *testing.T) {
	assert.Equal(t, "#3P1500T1000\r\n", FormatMove(3, 0, 1000))
	assert.Equal(t, "#1P500T250\r\n", FormatMove(1, -150, 250))
}

func TestSerialDriverWritesCommands(t *testing.T) {
	var buf strings.Builder
	d := NewSerialDriver(&buf, 500)

	require.NoError(t, d.SetAngle(context.Background(), 2, 150))
	require.NoError(t, d.SetRelay(context.Background(), true))
	require.NoError(t, d.SetRelay(context.Background(), false))

	assert.Equal(t, "#2P2500T500\r\non\r\noff\r\n", buf.String())
}

func TestApplyBinsValuesAcrossServos(t *testing.T) {
	driver := newFakeDriver()
	m := newTestMapper(t, driver, DefaultConfig())

	// 30 values, 6 per bin. Bin averages 20, 46.75, 73.5, 100.25, 127
	// map linearly onto -150..150.
	values := make([]float64, 30)
	levels := []float64{20, 46.75, 73.5, 100.25, 127}
	for i := range values {
		values[i] = levels[i/6]
	}
	m.Apply(context.Background(), values)

	wantAngles := []float64{-150, -75, 0, 75, 150}
	for i, want := range wantAngles {
		got, ok := driver.lastAngle(i + 1)
		require.True(t, ok, "servo %d never moved", i+1)
		assert.InDelta(t, want, got, 1e-9, "servo %d", i+1)
	}
}

func TestApplyClampsPerServo(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Servos[0].MinAngle = -45
	cfg.Servos[0].MaxAngle = 45

	driver := newFakeDriver()
	m := newTestMapper(t, driver, cfg)

	// All values at maximum would command +150; servo 1 is clamped to 45.
	values := make([]float64, 30)
	for i := range values {
		values[i] = 127
	}
	m.Apply(context.Background(), values)

	got, ok := driver.lastAngle(1)
	require.True(t, ok)
	assert.Equal(t, 45.0, got)

	got, ok = driver.lastAngle(2)
	require.True(t, ok)
	assert.Equal(t, 150.0, got)
}

// The clamp must be idempotent: values beyond the range and values
// pre-clamped to the range produce identical commands.
func TestClampIdempotent(t *testing.T) {
	overRange := newFakeDriver()
	preClamped := newFakeDriver()

	over := make([]float64, 10)
	pre := make([]float64, 10)
	for i := range over {
		over[i] = 5000
		pre[i] = MaxValue
	}

	newTestMapper(t, overRange, DefaultConfig()).Apply(context.Background(), over)
	newTestMapper(t, preClamped, DefaultConfig()).Apply(context.Background(), pre)

	for id := 1; id <= 5; id++ {
		a, okA := overRange.lastAngle(id)
		b, okB := preClamped.lastAngle(id)
		require.True(t, okA)
		require.True(t, okB)
		assert.Equal(t, b, a, "servo %d", id)
	}
}

func TestRateLimiterSuppressesBursts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour

	driver := newFakeDriver()
	m := newTestMapper(t, driver, cfg)

	values := []float64{50, 50, 50, 50, 50}
	m.Apply(context.Background(), values)
	m.Apply(context.Background(), values)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	for id := 1; id <= 5; id++ {
		assert.Len(t, driver.angles[id], 1, "servo %d must move once per interval", id)
	}
}

func TestFailedWritesAreDroppedNotRetried(t *testing.T) {
	driver := newFakeDriver()
	driver.fail = true
	m := newTestMapper(t, driver, DefaultConfig())

	// Must not panic, block, or retry.
	m.Apply(context.Background(), []float64{60, 60, 60, 60, 60})
	m.UpdateClock(context.Background(), time.Now())
	m.UpdateWave(context.Background(), 100)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Empty(t, driver.angles)
	assert.Empty(t, driver.relays)
}

func TestUpdateClockMovesOncePerSector(t *testing.T) {
	driver := newFakeDriver()
	m := newTestMapper(t, driver, DefaultConfig())

	ten, _ := time.Parse("15:04", "10:00")
	eleven, _ := time.Parse("15:04", "11:00")
	noon, _ := time.Parse("15:04", "12:00")

	m.UpdateClock(context.Background(), ten)
	m.UpdateClock(context.Background(), eleven) // same sector, no move
	m.UpdateClock(context.Background(), noon)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	require.Len(t, driver.angles[6], 2)
	assert.Equal(t, []float64{-30, 30}, driver.angles[6])
}

func TestUpdateWaveSwitchesOnStateChange(t *testing.T) {
	driver := newFakeDriver()
	m := newTestMapper(t, driver, DefaultConfig()) // threshold 70

	m.UpdateWave(context.Background(), 90) // on
	m.UpdateWave(context.Background(), 95) // still on, no switch
	m.UpdateWave(context.Background(), 30) // off
	m.UpdateWave(context.Background(), 10) // still off

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Equal(t, []bool{true, false}, driver.relays)
}

func TestNewMapperValidation(t *testing.T) {
	_, err := NewMapper(Deps{})
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.Servos[0].MinAngle = -500
	_, err = NewMapper(Deps{Driver: newFakeDriver(), Config: cfg})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrActuatorRange)

	cfg = DefaultConfig()
	cfg.Servos[0].MinAngle = 90
	cfg.Servos[0].MaxAngle = -90
	_, err = NewMapper(Deps{Driver: newFakeDriver(), Config: cfg})
	require.Error(t, err)
}

func TestEmptyValuesHoldPosition(t *testing.T) {
	driver := newFakeDriver()
	m := newTestMapper(t, driver, DefaultConfig())

	m.Apply(context.Background(), nil)

	driver.mu.Lock()
	defer driver.mu.Unlock()
	assert.Empty(t, driver.angles, "no values means no motion")
}

func ExampleFormatMove() {
	fmt.Print(FormatMove(1, 90, 1500))
	// Output: #1P2100T1500
}
