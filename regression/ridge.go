// Package regression holds the trainable unit behind delay predictions.
package regression

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// DefaultLambda keeps the normal equations positive definite even for a
// single training sample.
const DefaultLambda = 1.0

var ErrNoSamples = errors.New("regression: no training samples")

// Model predicts a delay from one feature row.
type Model interface {
	Predict(x []float64) (float64, error)
}

// Ridge is an L2-regularized linear model over standardized features.
// Predictions are clamped to the label range seen during fitting.
type Ridge struct {
	Lambda    float64   `json:"lambda"`
	Means     []float64 `json:"means"`
	Scales    []float64 `json:"scales"`
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	MinY      float64   `json:"min_y"`
	MaxY      float64   `json:"max_y"`
}

// FitRidge fits a ridge model to the rows of x against y.
func FitRidge(x [][]float64, y []float64, lambda float64) (*Ridge, error) {
	n := len(x)
	if n == 0 {
		return nil, ErrNoSamples
	}
	if len(y) != n {
		return nil, fmt.Errorf("regression: %d rows but %d labels", n, len(y))
	}
	if lambda <= 0 {
		lambda = DefaultLambda
	}
	p := len(x[0])
	if p == 0 {
		return nil, errors.New("regression: rows have no columns")
	}
	for i, row := range x {
		if len(row) != p {
			return nil, fmt.Errorf("regression: row %d has %d columns, want %d", i, len(row), p)
		}
	}

	means := make([]float64, p)
	scales := make([]float64, p)
	col := make([]float64, n)
	for j := 0; j < p; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if n < 2 || std == 0 || math.IsNaN(std) {
			std = 1
		}
		means[j], scales[j] = mean, std
	}

	xs := mat.NewDense(n, p, nil)
	for i, row := range x {
		for j, v := range row {
			xs.Set(i, j, (v-means[j])/scales[j])
		}
	}
	yMean := stat.Mean(y, nil)
	yc := make([]float64, n)
	for i, v := range y {
		yc[i] = v - yMean
	}

	var xtx mat.Dense
	xtx.Mul(xs.T(), xs)
	a := mat.NewSymDense(p, nil)
	for i := 0; i < p; i++ {
		for j := i; j < p; j++ {
			v := xtx.At(i, j)
			if i == j {
				v += lambda
			}
			a.SetSym(i, j, v)
		}
	}
	var b mat.VecDense
	b.MulVec(xs.T(), mat.NewVecDense(n, yc))

	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, errors.New("regression: normal equations not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &b); err != nil {
		return nil, fmt.Errorf("regression: solve: %w", err)
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = beta.AtVec(j)
	}
	r := &Ridge{
		Lambda:    lambda,
		Means:     means,
		Scales:    scales,
		Coef:      coef,
		Intercept: yMean,
		MinY:      floats.Min(y),
		MaxY:      floats.Max(y),
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks that r can be evaluated: equal-length standardization
// and weight vectors, non-zero scales, finite parameters and an ordered
// label range.
func (r *Ridge) Validate() error {
	p := len(r.Coef)
	if p == 0 {
		return errors.New("regression: model has no coefficients")
	}
	if len(r.Means) != p || len(r.Scales) != p {
		return fmt.Errorf("regression: %d coefficients but %d means and %d scales", p, len(r.Means), len(r.Scales))
	}
	for j := 0; j < p; j++ {
		if !finite(r.Coef[j]) || !finite(r.Means[j]) || !finite(r.Scales[j]) {
			return fmt.Errorf("regression: parameters of feature %d are not finite", j)
		}
		if r.Scales[j] == 0 {
			return fmt.Errorf("regression: feature %d has zero scale", j)
		}
	}
	if !finite(r.Intercept) || !finite(r.MinY) || !finite(r.MaxY) {
		return errors.New("regression: intercept or label range is not finite")
	}
	if r.MinY > r.MaxY {
		return fmt.Errorf("regression: label range [%v, %v] is inverted", r.MinY, r.MaxY)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Predict evaluates the model on one row. It does not modify x.
func (r *Ridge) Predict(x []float64) (float64, error) {
	if len(x) != len(r.Coef) {
		return 0, fmt.Errorf("regression: got %d features, model expects %d", len(x), len(r.Coef))
	}
	z := make([]float64, len(x))
	for j, v := range x {
		if !finite(v) {
			return 0, fmt.Errorf("regression: feature %d is not finite", j)
		}
		z[j] = (v - r.Means[j]) / r.Scales[j]
	}
	out := r.Intercept + floats.Dot(z, r.Coef)
	return math.Max(r.MinY, math.Min(r.MaxY, out)), nil
}
