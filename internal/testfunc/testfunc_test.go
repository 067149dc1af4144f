package testfunc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatch(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"gaussian", Spec{Family: FamilyGaussian, Width: 1.0}, false},
		{"fejer", Spec{Family: FamilyFejer, Width: 2.0}, false},
		{"hann bump", Spec{Family: FamilyHannBump, Width: 1.5}, false},
		{"unknown family", Spec{Family: "lorentzian", Width: 1.0}, true},
		{"zero width", Spec{Family: FamilyGaussian, Width: 0}, true},
		{"negative width", Spec{Family: FamilyFejer, Width: -2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, err := New(tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidSpec)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, fn.Name())
		})
	}
}

func TestEvenness(t *testing.T) {
	for _, fn := range []Function{
		Gaussian{Sigma: 0.7},
		Fejer{A: 3.0},
		HannBump{A: 2.0},
	} {
		assert.NoError(t, CheckEven(fn), fn.Name())
	}
}

func TestGaussianClosedForms(t *testing.T) {
	fn := Gaussian{Sigma: 1.5}

	assert.InDelta(t, 1.0, fn.Evaluate(0), 1e-15)
	assert.InDelta(t, 1/(2*1.5*math.Sqrt(math.Pi)), fn.FourierTransform(0), 1e-15)

	pole, ok := fn.PoleTerm()
	require.True(t, ok)
	assert.InDelta(t, 2*math.Exp(1.5*1.5/4), pole, 1e-12)

	assert.Equal(t, 0.0, fn.SupportRadius())
}

func TestFejerShape(t *testing.T) {
	fn := Fejer{A: 2.0}

	assert.InDelta(t, 2.0, fn.Evaluate(0), 1e-9)
	assert.InDelta(t, 1.0, fn.FourierTransform(0), 1e-15)
	assert.InDelta(t, 0.5, fn.FourierTransform(1.0), 1e-15)
	assert.Equal(t, 0.0, fn.FourierTransform(2.0))
	assert.Equal(t, 0.0, fn.FourierTransform(5.0))
	assert.Equal(t, 2.0, fn.SupportRadius())
}

func TestHannBumpShape(t *testing.T) {
	fn := HannBump{A: 2.0}
	b := math.Pi / 2.0

	assert.InDelta(t, 2.0, fn.Evaluate(0), 1e-8)
	// Continuity across the removable singularity at t = b.
	assert.InDelta(t, fn.Evaluate(b), fn.Evaluate(b+1e-7), 1e-4)
	assert.InDelta(t, 1.0, fn.Evaluate(b), 1e-12)
	assert.InDelta(t, 0.5, fn.FourierTransform(1.0), 1e-15)
	assert.Equal(t, 0.0, fn.FourierTransform(2.0))
	_, ok := fn.PoleTerm()
	assert.False(t, ok)
}

// numericSpectral recovers h(t) = 2*Integral_0^R g(u) cos(ut) du by the
// trapezoid rule, verifying the claimed Fourier pairs.
func numericSpectral(fn Function, t, upper float64) float64 {
	const steps = 400000
	h := upper / steps
	sum := 0.5 * fn.FourierTransform(0.0)
	for i := 1; i < steps; i++ {
		u := float64(i) * h
		sum += fn.FourierTransform(u) * math.Cos(u*t)
	}
	sum += 0.5 * fn.FourierTransform(upper) * math.Cos(upper*t)
	return 2 * h * sum
}

func TestFourierPairConsistency(t *testing.T) {
	tests := []struct {
		name  string
		fn    Function
		upper float64
	}{
		{"gaussian", Gaussian{Sigma: 1.0}, 14.0},
		{"fejer", Fejer{A: 2.5}, 2.5},
		{"hann bump", HannBump{A: 2.0}, 2.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, x := range []float64{0, 0.4, 1.1, 2.3} {
				want := tt.fn.Evaluate(x)
				got := numericSpectral(tt.fn, x, tt.upper)
				assert.InDelta(t, want, got, 1e-6, "t=%g", x)
			}
		})
	}
}

func TestFejerPoleTermMatchesQuadrature(t *testing.T) {
	fn := Fejer{A: 3.0}
	pole, ok := fn.PoleTerm()
	require.True(t, ok)

	// 4 * Integral_0^a g(u) cosh(u/2) du by trapezoid.
	const steps = 400000
	h := fn.A / steps
	sum := 0.5 * fn.FourierTransform(0.0)
	for i := 1; i < steps; i++ {
		u := float64(i) * h
		sum += fn.FourierTransform(u) * math.Cosh(u/2)
	}
	numeric := 4 * h * sum

	assert.InDelta(t, pole, numeric, 1e-6)
}
