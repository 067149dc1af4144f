// Package weil evaluates the three sides of the Weil explicit formula for an
// even test function h with geometric-side transform g (see package
// testfunc). In the convention used here
//
//	sum_rho h(gamma) = [h(i/2) + h(-i/2) - W_R(g)]
//	                   - 2 * sum_{p^k <= X} log(p) * p^(-k/2) * g(k*log p)
//
// where W_R(g) = (log 4pi + gamma_E)*g(0) + PV Integral_0^inf
// [g(x)e^{x/2} + g(-x)e^{-x/2} - 2g(0)] / |e^x - 1| dx is the gamma-factor
// contribution. The bracket is reported as the archimedean term, the signed
// prime-power sum as the prime term, so
//
//	residual = archimedean + primeSum - zeroSum
//
// tends to zero as the prime cutoff and zero count grow. Keeping the three
// sides separate lets a disagreement be attributed to quadrature error,
// prime truncation or zero truncation individually.
package weil

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tibesept/prime-qecc-v2/internal/testfunc"
	"github.com/tibesept/prime-qecc-v2/internal/zerosource"
)

var (
	// ErrInvalidInput marks malformed zeros, test functions or cutoffs.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNumericDivergence marks quadrature that cannot meet the requested
	// tolerance within the subdivision budget.
	ErrNumericDivergence = errors.New("numeric divergence")
)

const eulerGamma = 0.57721566490153286060651209008240243

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	// Tolerance is the absolute tolerance for the archimedean quadrature
	// and the acceptance bound for the prime-sum tail estimate.
	Tolerance float64 `json:"tolerance" yaml:"tolerance"`

	// MaxSubdivisions bounds the adaptive quadrature work per integral.
	MaxSubdivisions int `json:"max_subdivisions" yaml:"max_subdivisions"`

	// Workers bounds the parallelism of the prime sum. The reduction order
	// is fixed, so the result does not depend on this value.
	Workers int `json:"workers" yaml:"workers"`
}

func (c *Config) applyDefaults() {
	if c.Tolerance <= 0 {
		c.Tolerance = 1e-6
	}
	if c.MaxSubdivisions <= 0 {
		c.MaxSubdivisions = 1 << 16
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
}

// Engine evaluates explicit-formula terms. It is stateless between calls and
// deterministic for identical inputs.
type Engine struct {
	cfg    Config
	logger *logrus.Logger
}

func NewEngine(cfg Config, logger *logrus.Logger) *Engine {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Terms holds the three formula sides and the residual.
type Terms struct {
	Archimedean float64 `json:"archimedean" yaml:"archimedean"`
	PrimeSum    float64 `json:"prime_sum" yaml:"prime_sum"`
	ZeroSum     float64 `json:"zero_sum" yaml:"zero_sum"`
	Residual    float64 `json:"residual" yaml:"residual"`

	// PrimeTail is the estimated magnitude of the prime-power sum beyond
	// the cutoff. Degraded is set when it exceeds the tolerance; the run
	// still completes.
	PrimeTail float64 `json:"prime_tail_estimate" yaml:"prime_tail_estimate"`
	Degraded  bool    `json:"degraded,omitempty" yaml:"degraded,omitempty"`
}

// ZeroTerm is one zero's contribution m*(h(gamma)+h(-gamma)).
type ZeroTerm struct {
	Index int     `json:"index"`
	Gamma float64 `json:"gamma"`
	Value float64 `json:"value"`
}

// PrimeTerm is one prime's signed contribution to PrimeSum, summed over its
// powers below the cutoff.
type PrimeTerm struct {
	Prime int     `json:"prime"`
	Value float64 `json:"value"`
}

// Evaluation is the full engine output: the terms plus the per-zero and
// per-prime spectra consumed by the holographic connector.
type Evaluation struct {
	Terms    Terms       `json:"terms"`
	PerZero  []ZeroTerm  `json:"per_zero,omitempty"`
	PerPrime []PrimeTerm `json:"per_prime,omitempty"`
}

// ==================== ARCHIMEDEAN TERM ====================

// ComputeArchimedeanTerm returns h(i/2)+h(-i/2) - W_R(g). On quadrature
// divergence it retries once with a four-fold subdivision budget before
// surfacing the error.
func (e *Engine) ComputeArchimedeanTerm(fn testfunc.Function) (float64, error) {
	v, err := e.archimedean(fn, e.cfg.MaxSubdivisions)
	if errors.Is(err, ErrNumericDivergence) {
		e.logger.Warnf("archimedean quadrature for %s exhausted %d subdivisions, retrying relaxed",
			fn.Name(), e.cfg.MaxSubdivisions)
		v, err = e.archimedean(fn, 4*e.cfg.MaxSubdivisions)
	}
	return v, err
}

func (e *Engine) archimedean(fn testfunc.Function, subdivisions int) (float64, error) {
	budget := subdivisions

	pole, ok := fn.PoleTerm()
	if !ok {
		var err error
		pole, err = e.poleByQuadrature(fn, &budget)
		if err != nil {
			return 0, err
		}
	}

	wr, err := e.gammaFactorIntegral(fn, &budget)
	if err != nil {
		return 0, err
	}
	return pole - wr, nil
}

// poleByQuadrature computes h(i/2)+h(-i/2) = 4 * Integral_0^inf
// g(u) cosh(u/2) du for even g. Only compactly supported transforms take
// this path; an unbounded g must supply a closed form, since the integrand
// grows with cosh.
func (e *Engine) poleByQuadrature(fn testfunc.Function, budget *int) (float64, error) {
	r := fn.SupportRadius()
	if r <= 0 {
		return 0, fmt.Errorf("%w: %s has neither a closed-form pole term nor compact support",
			ErrInvalidInput, fn.Name())
	}
	integrand := func(u float64) float64 {
		return fn.FourierTransform(u) * math.Cosh(u/2)
	}
	v, err := adaptiveSimpson(integrand, 0, r, e.cfg.Tolerance/4, budget)
	if err != nil {
		return 0, err
	}
	return 4 * v, nil
}

// gammaFactorIntegral evaluates W_R(g). The integrand has a removable
// singularity at zero and decays like g(x)e^{-x/2}; beyond the numeric upper
// limit only the -2g(0)/(e^x-1) part survives and its tail is added in
// closed form.
func (e *Engine) gammaFactorIntegral(fn testfunc.Function, budget *int) (float64, error) {
	g := fn.FourierTransform
	g0 := g(0)
	part1 := (math.Log(4*math.Pi) + eulerGamma) * g0

	integrand := func(x float64) float64 {
		if x < 1e-15 {
			return 0
		}
		num := g(x)*math.Exp(x/2) + g(-x)*math.Exp(-x/2) - 2*g0
		return num / math.Abs(math.Expm1(x))
	}

	upper := e.upperLimit(fn)
	points := []float64{0, 1e-5, 1, 10}
	for points[len(points)-1] >= upper {
		points = points[:len(points)-1]
	}
	points = append(points, upper)

	pv, err := integrateSegments(integrand, points, e.cfg.Tolerance/2, budget)
	if err != nil {
		return 0, err
	}

	// Integral_L^inf -2g0/(e^x-1) dx = 2g0*log(1-e^{-L})
	tail := 2 * g0 * math.Log1p(-math.Exp(-upper))

	return part1 + pv + tail, nil
}

// upperLimit picks the numeric cutoff past which g-dependent integrand parts
// are below tolerance.
func (e *Engine) upperLimit(fn testfunc.Function) float64 {
	if r := fn.SupportRadius(); r > 0 {
		if r < 12 {
			return 12
		}
		return r + 2
	}
	limit := 12.0
	for limit < 240 {
		if math.Abs(fn.FourierTransform(limit))*math.Exp(-limit/2) < e.cfg.Tolerance/100 {
			break
		}
		limit += 12
	}
	return limit
}

// ==================== PRIME SUM ====================

// primeChunkSize fixes the reduction granularity; chunk results are combined
// in index order so the sum is independent of scheduling.
const primeChunkSize = 2048

// ComputePrimeSum returns -2 * sum over prime powers p^k <= cutoff of
// log(p) * p^(-k/2) * g(k*log p), the per-prime contributions, and a tail
// estimate for everything beyond the cutoff.
func (e *Engine) ComputePrimeSum(ctx context.Context, fn testfunc.Function, cutoff float64) (float64, []PrimeTerm, float64, error) {
	if cutoff < 2 {
		return 0, nil, 0, fmt.Errorf("%w: prime cutoff %g below 2", ErrInvalidInput, cutoff)
	}
	primes := sievePrimes(int(cutoff))
	support := fn.SupportRadius()

	numChunks := (len(primes) + primeChunkSize - 1) / primeChunkSize
	type chunkResult struct {
		sum   float64
		terms []PrimeTerm
	}
	results := make([]chunkResult, numChunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for c := 0; c < numChunks; c++ {
		chunk := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			lo := chunk * primeChunkSize
			hi := lo + primeChunkSize
			if hi > len(primes) {
				hi = len(primes)
			}
			res := chunkResult{terms: make([]PrimeTerm, 0, hi-lo)}
			for _, p := range primes[lo:hi] {
				contribution := primeContribution(fn, p, cutoff, support)
				res.sum += contribution
				res.terms = append(res.terms, PrimeTerm{Prime: p, Value: contribution})
			}
			results[chunk] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, nil, 0, err
	}

	total := 0.0
	terms := make([]PrimeTerm, 0, len(primes))
	for _, res := range results {
		total += res.sum
		terms = append(terms, res.terms...)
	}

	tail := e.primeTailEstimate(fn, cutoff)
	return total, terms, tail, nil
}

// primeContribution sums the powers of a single prime. The p^(-k/2) weight
// plus the decay of g ends the inner loop after a handful of terms.
func primeContribution(fn testfunc.Function, p int, cutoff, support float64) float64 {
	logP := math.Log(float64(p))
	inner := 0.0
	for k := 1; ; k++ {
		u := float64(k) * logP
		if u > math.Log(cutoff)+1e-12 {
			break
		}
		if support > 0 && u >= support {
			break
		}
		weight := math.Exp(-u / 2) // p^(-k/2)
		term := weight * 2 * fn.FourierTransform(u)
		inner += term
		if math.Abs(term) < 1e-300 {
			break
		}
	}
	return -logP * inner
}

// primeTailEstimate bounds the discarded prime-power mass by the smooth
// integral Integral_{log X}^inf e^{u/2} g(u) du, using the prime number
// theorem density. A compactly supported g inside the cutoff has no tail.
func (e *Engine) primeTailEstimate(fn testfunc.Function, cutoff float64) float64 {
	logX := math.Log(cutoff)
	if r := fn.SupportRadius(); r > 0 && logX >= r {
		return 0
	}
	integrand := func(u float64) float64 {
		return math.Exp(u/2) * math.Abs(fn.FourierTransform(u))
	}
	upper := logX
	for upper < logX+400 {
		if integrand(upper) < e.cfg.Tolerance/100 && upper > logX+4 {
			break
		}
		upper += 4
	}
	budget := e.cfg.MaxSubdivisions
	v, err := adaptiveSimpson(integrand, logX, upper, e.cfg.Tolerance, &budget)
	if err != nil {
		// The estimate is advisory; a divergent estimate is itself a
		// degraded-signal worst case.
		e.logger.Warnf("prime tail estimate did not converge: %v", err)
		return math.Inf(1)
	}
	return 2 * v
}

// ==================== ZERO SUM ====================

// ComputeZeroSum sums m*(h(gamma)+h(-gamma)) over the supplied heights.
// The sequence must be strictly increasing and positive.
func (e *Engine) ComputeZeroSum(zeros []zerosource.ZeroRecord, fn testfunc.Function) (float64, []ZeroTerm, error) {
	if err := zerosource.Validate(zeros); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	total := 0.0
	terms := make([]ZeroTerm, 0, len(zeros))
	for _, z := range zeros {
		v := float64(z.EffectiveMultiplicity()) * (fn.Evaluate(z.Height) + fn.Evaluate(-z.Height))
		total += v
		terms = append(terms, ZeroTerm{Index: z.Index, Gamma: z.Height, Value: v})
	}
	return total, terms, nil
}

// ==================== ASSEMBLY ====================

// AssembleExplicitFormula orchestrates the three term computations and
// returns the residual. Identical inputs produce bit-identical output.
func (e *Engine) AssembleExplicitFormula(ctx context.Context, fn testfunc.Function, zeros []zerosource.ZeroRecord, primeCutoff float64) (*Evaluation, error) {
	if err := testfunc.CheckEven(fn); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	arch, err := e.ComputeArchimedeanTerm(fn)
	if err != nil {
		return nil, err
	}
	e.logger.Debugf("[1/3] archimedean term: %.12e", arch)

	primeSum, perPrime, tail, err := e.ComputePrimeSum(ctx, fn, primeCutoff)
	if err != nil {
		return nil, err
	}
	e.logger.Debugf("[2/3] prime sum: %.12e (tail estimate %.3e)", primeSum, tail)

	zeroSum, perZero, err := e.ComputeZeroSum(zeros, fn)
	if err != nil {
		return nil, err
	}
	e.logger.Debugf("[3/3] zero sum: %.12e over %d zeros", zeroSum, len(zeros))

	terms := Terms{
		Archimedean: arch,
		PrimeSum:    primeSum,
		ZeroSum:     zeroSum,
		Residual:    arch + primeSum - zeroSum,
		PrimeTail:   tail,
		Degraded:    tail > e.cfg.Tolerance,
	}
	if terms.Degraded {
		e.logger.Warnf("prime tail estimate %.3e exceeds tolerance %.3e, marking result degraded",
			tail, e.cfg.Tolerance)
	}

	return &Evaluation{Terms: terms, PerZero: perZero, PerPrime: perPrime}, nil
}
