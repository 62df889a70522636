package training

import (
	"fmt"
	"math"

	"github.com/otelhan/venice/errors"
)

// DefaultLambda is the ridge regularization strength.
const DefaultLambda = 1e-2

// fitRidge fits a one-vs-all linear readout by ridge regression. Inputs
// are state vectors of dimension d; the fitted weights have shape
// NumClasses × (d+1), the trailing column multiplying a constant bias.
//
// Solves the normal equations (XᵀX + λI)Wᵀ = XᵀY directly: the system
// is only (d+1)×(d+1) and dense, small enough that Gaussian elimination
// is both exact enough and fast enough at the installation's scale.
func fitRidge(examples []Example, dim int, lambda float64) ([][]float64, error) {
	if len(examples) == 0 {
		return nil, errors.WrapInvalid(errors.ErrEmptyTrainingSplit, "Readout", "fitRidge", "train split")
	}
	cols := dim + 1

	// A = XᵀX + λI, B = XᵀY with one-hot targets.
	a := make([][]float64, cols)
	for i := range a {
		a[i] = make([]float64, cols)
		a[i][i] = lambda
	}
	b := make([][]float64, cols)
	for i := range b {
		b[i] = make([]float64, NumClasses)
	}

	row := make([]float64, cols)
	for _, ex := range examples {
		if ex.Target < 0 || ex.Target >= NumClasses {
			return nil, errors.WrapInvalid(
				fmt.Errorf("target class %d out of range", ex.Target),
				"Readout", "fitRidge", "target validation")
		}
		for j := 0; j < dim; j++ {
			if j < len(ex.State) {
				row[j] = ex.State[j]
			} else {
				row[j] = 0
			}
		}
		row[dim] = 1 // bias

		for i := 0; i < cols; i++ {
			for j := i; j < cols; j++ {
				a[i][j] += row[i] * row[j]
			}
			b[i][ex.Target] += row[i]
		}
	}
	// XᵀX is symmetric; mirror the upper triangle.
	for i := 1; i < cols; i++ {
		for j := 0; j < i; j++ {
			a[i][j] = a[j][i]
		}
	}

	z, err := solve(a, b)
	if err != nil {
		return nil, err
	}

	weights := make([][]float64, NumClasses)
	for c := range weights {
		weights[c] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			weights[c][j] = z[j][c]
		}
	}
	return weights, nil
}

// solve performs Gaussian elimination with partial pivoting on AZ = B,
// overwriting both arguments. A must be square.
func solve(a, b [][]float64) ([][]float64, error) {
	n := len(a)
	width := len(b[0])

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, errors.WrapInvalid(
				fmt.Errorf("singular system at column %d", col),
				"Readout", "solve", "pivot selection")
		}
		a[col], a[pivot] = a[pivot], a[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := a[r][col] / a[col][col]
			if f == 0 {
				continue
			}
			for j := col; j < n; j++ {
				a[r][j] -= f * a[col][j]
			}
			for j := 0; j < width; j++ {
				b[r][j] -= f * b[col][j]
			}
		}
	}

	for col := n - 1; col >= 0; col-- {
		for j := 0; j < width; j++ {
			sum := b[col][j]
			for k := col + 1; k < n; k++ {
				sum -= a[col][k] * b[k][j]
			}
			b[col][j] = sum / a[col][col]
		}
	}
	return b, nil
}

// predict scores one state against the weights and returns the argmax
// class. The state is zero-padded or truncated to the weight width.
func predict(weights [][]float64, state []float64) int {
	dim := len(weights[0]) - 1
	best, bestScore := 0, math.Inf(-1)
	for c, w := range weights {
		score := w[dim] // bias
		for j := 0; j < dim && j < len(state); j++ {
			score += w[j] * state[j]
		}
		if score > bestScore {
			best, bestScore = c, score
		}
	}
	return best
}
