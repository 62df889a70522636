// Package reservoir implements the per-node echo state computation: a
// fixed, randomly initialized recurrent update whose evolving state is
// read out elsewhere by a separately trained linear mapping. Only the
// readout adapts; the matrices here never change after construction.
package reservoir

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/otelhan/venice/errors"
)

// DefaultDimension is the installation's reservoir state size.
const DefaultDimension = 64

// DefaultLeakRate is the installation's leaky-integration rate.
const DefaultLeakRate = 0.3

// Reservoir holds one node's recurrent state. Not safe for concurrent
// use; each node owns exactly one and updates it from a single goroutine.
type Reservoir struct {
	dim   int
	leak  float64
	wIn   [][]float64
	wRes  [][]float64
	state []float64

	// scratch buffers so Update does not allocate per tick
	input []float64
	next  []float64
}

// New constructs a reservoir with matrices drawn once from the given
// seed. The same seed always yields the same matrices, so a restarted
// node resumes with identical dynamics.
func New(dim int, leak float64, seed int64) (*Reservoir, error) {
	if dim <= 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("dimension must be positive, got %d", dim),
			"Reservoir", "New", "dimension validation")
	}
	if leak <= 0 || leak > 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("leak rate must be in (0,1], got %g", leak),
			"Reservoir", "New", "leak rate validation")
	}

	rng := rand.New(rand.NewSource(seed))
	r := &Reservoir{
		dim:   dim,
		leak:  leak,
		wIn:   randomMatrix(rng, dim, dim, 1.0/math.Sqrt(float64(dim))),
		wRes:  randomMatrix(rng, dim, dim, 1.0/math.Sqrt(float64(dim))),
		state: make([]float64, dim),
		input: make([]float64, dim),
		next:  make([]float64, dim),
	}
	return r, nil
}

// randomMatrix draws rows×cols entries uniformly from [-scale, scale].
// Scaling by 1/sqrt(dim) keeps the pre-activation sum of dim terms at
// unit order so tanh is neither saturated nor linear from the start.
func randomMatrix(rng *rand.Rand, rows, cols int, scale float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = (2*rng.Float64() - 1) * scale
		}
	}
	return m
}

// Dimension returns the state vector size.
func (r *Reservoir) Dimension() int { return r.dim }

// Update evolves the state with one input vector and returns a copy of
// the new state. The input is padded with zeros or truncated to the
// reservoir dimension. Every component of the result lies in [-1, 1]:
// tanh bounds the activation and leaky integration is a convex blend of
// two bounded terms.
func (r *Reservoir) Update(input []float64) []float64 {
	for i := range r.input {
		if i < len(input) {
			r.input[i] = input[i]
		} else {
			r.input[i] = 0
		}
	}

	for i := 0; i < r.dim; i++ {
		sum := 0.0
		for j := 0; j < r.dim; j++ {
			sum += r.wIn[i][j]*r.input[j] + r.wRes[i][j]*r.state[j]
		}
		r.next[i] = (1-r.leak)*r.state[i] + r.leak*math.Tanh(sum)
	}
	r.state, r.next = r.next, r.state

	return r.State()
}

// State returns a copy of the current state vector.
func (r *Reservoir) State() []float64 {
	out := make([]float64, r.dim)
	copy(out, r.state)
	return out
}

// SetState overwrites the state, truncating or zero-padding to the
// reservoir dimension. Used when a node resumes from a snapshot.
func (r *Reservoir) SetState(s []float64) {
	for i := range r.state {
		if i < len(s) {
			r.state[i] = s[i]
		} else {
			r.state[i] = 0
		}
	}
}

// Reset zeroes the state while keeping the matrices.
func (r *Reservoir) Reset() {
	for i := range r.state {
		r.state[i] = 0
	}
}
