package reservoir

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStaysBounded(t *testing.T) {
	r, err := New(DefaultDimension, DefaultLeakRate, 42)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(1))
	scales := []float64{0.01, 1, 127, 1e6, 1e12}

	for _, scale := range scales {
		for step := 0; step < 200; step++ {
			input := make([]float64, DefaultDimension)
			for i := range input {
				input[i] = (2*rng.Float64() - 1) * scale
			}
			state := r.Update(input)
			for i, v := range state {
				if v < -1 || v > 1 || math.IsNaN(v) {
					t.Fatalf("state[%d] = %v out of [-1,1] at scale %g step %d", i, v, scale, step)
				}
			}
		}
	}
}

func TestSameSeedSameTrajectory(t *testing.T) {
	a, err := New(32, 0.3, 7)
	require.NoError(t, err)
	b, err := New(32, 0.3, 7)
	require.NoError(t, err)

	input := make([]float64, 30)
	for i := range input {
		input[i] = float64(20 + i)
	}

	for step := 0; step < 10; step++ {
		assert.Equal(t, a.Update(input), b.Update(input), "step %d", step)
	}

	c, err := New(32, 0.3, 8)
	require.NoError(t, err)
	assert.NotEqual(t, a.State(), c.Update(input), "different seed must diverge")
}

func TestInputPaddedAndTruncated(t *testing.T) {
	short, err := New(8, 0.5, 3)
	require.NoError(t, err)
	long, err := New(8, 0.5, 3)
	require.NoError(t, err)

	// A short input behaves like the same input zero-padded.
	shortState := short.Update([]float64{1, 2, 3})
	longState := long.Update([]float64{1, 2, 3, 0, 0, 0, 0, 0})
	assert.Equal(t, longState, shortState)

	// Components beyond the dimension are ignored.
	short.Reset()
	long.Reset()
	shortState = short.Update([]float64{1, 2, 3, 4, 5, 6, 7, 8})
	longState = long.Update([]float64{1, 2, 3, 4, 5, 6, 7, 8, 99, 99})
	assert.Equal(t, shortState, longState)
}

func TestLeakBlendsOldState(t *testing.T) {
	r, err := New(4, 0.3, 9)
	require.NoError(t, err)

	first := r.Update([]float64{1, 1, 1, 1})
	// With zero input the state decays toward tanh(W_res·x) but retains
	// 70% of its previous value per step; it must not jump to zero.
	second := r.Update([]float64{0, 0, 0, 0})
	for i := range second {
		if first[i] != 0 {
			assert.NotZero(t, second[i], "component %d lost all memory", i)
		}
	}
}

func TestSetStateAndReset(t *testing.T) {
	r, err := New(4, 0.3, 11)
	require.NoError(t, err)

	r.SetState([]float64{0.1, -0.2})
	assert.Equal(t, []float64{0.1, -0.2, 0, 0}, r.State())

	r.Reset()
	assert.Equal(t, []float64{0, 0, 0, 0}, r.State())
}

func TestConstructorValidation(t *testing.T) {
	_, err := New(0, 0.3, 1)
	require.Error(t, err)

	_, err = New(16, 0, 1)
	require.Error(t, err)

	_, err = New(16, 1.5, 1)
	require.Error(t, err)

	_, err = New(16, 1.0, 1)
	require.NoError(t, err, "leak of exactly 1 is plain tanh, allowed")
}

func TestProcessStateString(t *testing.T) {
	assert.Equal(t, "IDLE", StateIdle.String())
	assert.Equal(t, "AWAITING_INPUT", StateAwaitingInput.String())
	assert.Equal(t, "UPDATING", StateUpdating.String())
	assert.Equal(t, "FORWARDING", StateForwarding.String())
	assert.Equal(t, "SHUT_DOWN", StateShutDown.String())
	assert.Equal(t, "UNKNOWN", ProcessState(99).String())
}

func TestUpdateReturnsCopy(t *testing.T) {
	r, err := New(4, 0.3, 5)
	require.NoError(t, err)

	state := r.Update([]float64{1, 2, 3, 4})
	state[0] = 99

	assert.NotEqual(t, 99.0, r.State()[0], "caller mutation must not reach internal state")
}
