package regression

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFitRidgeLinearTrend(t *testing.T) {
	// y = 10*x0 + 5, x1 is noise-free but irrelevant.
	x := [][]float64{{0, 1}, {1, 1}, {2, 1}, {3, 1}, {4, 1}, {5, 1}}
	y := []float64{5, 15, 25, 35, 45, 55}

	m, err := FitRidge(x, y, 1e-6)
	require.NoError(t, err)

	got, err := m.Predict([]float64{2.5, 1})
	require.NoError(t, err)
	assert.InDelta(t, 30.0, got, 0.01)
}

func TestFitRidgeClampsToLabelRange(t *testing.T) {
	x := [][]float64{{0}, {1}, {2}}
	y := []float64{10, 20, 30}
	m, err := FitRidge(x, y, 1e-6)
	require.NoError(t, err)

	high, err := m.Predict([]float64{100})
	require.NoError(t, err)
	assert.Equal(t, 30.0, high)

	low, err := m.Predict([]float64{-100})
	require.NoError(t, err)
	assert.Equal(t, 10.0, low)
}

func TestFitRidgeSingleSample(t *testing.T) {
	m, err := FitRidge([][]float64{{0, 0, 8, 0, 40.0, -73.9}}, []float64{120}, DefaultLambda)
	require.NoError(t, err)

	got, err := m.Predict([]float64{0, -1, 9, 1, 40.01, -73.91})
	require.NoError(t, err)
	assert.Equal(t, 120.0, got)
}

func TestFitRidgeErrors(t *testing.T) {
	_, err := FitRidge(nil, nil, 1)
	assert.ErrorIs(t, err, ErrNoSamples)

	_, err = FitRidge([][]float64{{1}}, []float64{1, 2}, 1)
	assert.Error(t, err)

	_, err = FitRidge([][]float64{{1, 2}, {1}}, []float64{1, 2}, 1)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Ridge {
		return &Ridge{Lambda: 1, Means: []float64{0, 1}, Scales: []float64{1, 2}, Coef: []float64{3, 4}, MinY: -1, MaxY: 1}
	}
	require.NoError(t, valid().Validate())

	tests := map[string]func(r *Ridge){
		"no coefficients": func(r *Ridge) { r.Coef, r.Means, r.Scales = nil, nil, nil },
		"short means":     func(r *Ridge) { r.Means = r.Means[:1] },
		"long scales":     func(r *Ridge) { r.Scales = append(r.Scales, 1) },
		"zero scale":      func(r *Ridge) { r.Scales[1] = 0 },
		"nan coefficient": func(r *Ridge) { r.Coef[0] = math.NaN() },
		"infinite mean":   func(r *Ridge) { r.Means[0] = math.Inf(1) },
		"nan intercept":   func(r *Ridge) { r.Intercept = math.NaN() },
		"inverted range":  func(r *Ridge) { r.MinY, r.MaxY = 1, -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := valid()
			mutate(r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestFitRidgeRejectsNonFiniteInput(t *testing.T) {
	_, err := FitRidge([][]float64{{1}, {math.Inf(1)}}, []float64{1, 2}, 1)
	assert.Error(t, err)

	_, err = FitRidge([][]float64{{}, {}}, []float64{1, 2}, 1)
	assert.Error(t, err)
}

func TestPredictErrors(t *testing.T) {
	m, err := FitRidge([][]float64{{1}, {2}}, []float64{1, 2}, 1)
	require.NoError(t, err)

	_, err = m.Predict([]float64{1, 2})
	assert.Error(t, err)

	_, err = m.Predict([]float64{math.NaN()})
	assert.Error(t, err)
}

func TestPredictDeterministic(t *testing.T) {
	m, err := FitRidge([][]float64{{1, 3}, {2, 1}, {4, 4}}, []float64{3, 1, 7}, 0.5)
	require.NoError(t, err)

	row := []float64{2, 2}
	first, err := m.Predict(row)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := m.Predict(row)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []float64{2, 2}, row)
}
