package weil

import (
	"fmt"
	"math"
)

// adaptiveSimpson integrates f over [a, b] to the given absolute tolerance
// by recursive interval halving. Every subdivision consumes one unit of the
// shared budget; exhausting it surfaces ErrNumericDivergence so a
// pathological integrand cannot spin forever.
func adaptiveSimpson(f func(float64) float64, a, b, tol float64, budget *int) (float64, error) {
	fa, fb := f(a), f(b)
	m := (a + b) / 2
	fm := f(m)
	whole := simpson(a, b, fa, fm, fb)
	return adaptStep(f, a, b, fa, fm, fb, whole, tol, budget)
}

func simpson(a, b, fa, fm, fb float64) float64 {
	return (b - a) / 6 * (fa + 4*fm + fb)
}

func adaptStep(f func(float64) float64, a, b, fa, fm, fb, whole, tol float64, budget *int) (float64, error) {
	if *budget <= 0 {
		return 0, fmt.Errorf("%w: subdivision budget exhausted on [%g, %g]", ErrNumericDivergence, a, b)
	}
	*budget--

	m := (a + b) / 2
	lm := (a + m) / 2
	rm := (m + b) / 2
	flm, frm := f(lm), f(rm)

	left := simpson(a, m, fa, flm, fm)
	right := simpson(m, b, fm, frm, fb)
	delta := left + right - whole

	if math.Abs(delta) <= 15*tol {
		return left + right + delta/15, nil
	}

	lv, err := adaptStep(f, a, m, fa, flm, fm, left, tol/2, budget)
	if err != nil {
		return 0, err
	}
	rv, err := adaptStep(f, m, b, fm, frm, fb, right, tol/2, budget)
	if err != nil {
		return 0, err
	}
	return lv + rv, nil
}

// integrateSegments runs the adaptive rule over consecutive breakpoints,
// splitting the tolerance evenly. Breakpoints let the caller isolate the
// near-zero region of the principal-value integrand from the smooth tail.
func integrateSegments(f func(float64) float64, points []float64, tol float64, budget *int) (float64, error) {
	if len(points) < 2 {
		return 0, fmt.Errorf("%w: need at least two breakpoints", ErrInvalidInput)
	}
	perSegment := tol / float64(len(points)-1)
	total := 0.0
	for i := 0; i+1 < len(points); i++ {
		v, err := adaptiveSimpson(f, points[i], points[i+1], perSegment, budget)
		if err != nil {
			return 0, err
		}
		total += v
	}
	return total, nil
}
