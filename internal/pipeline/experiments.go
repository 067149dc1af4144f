package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"

	"github.com/sirupsen/logrus"

	"github.com/tibesept/prime-qecc-v2/internal/bttree"
	"github.com/tibesept/prime-qecc-v2/internal/testfunc"
	"github.com/tibesept/prime-qecc-v2/internal/weil"
	"github.com/tibesept/prime-qecc-v2/internal/zerosource"
)

// SweepPoint is the formula outcome for one test-function width.
type SweepPoint struct {
	Width float64    `json:"width"`
	Terms weil.Terms `json:"terms"`

	// GeometricSide is archimedean + primeSum, the quantity whose
	// positivity the Weil criterion ties to the Riemann hypothesis.
	GeometricSide float64 `json:"geometric_side"`
	Positive      bool    `json:"positive"`
}

// SweepReport aggregates a width ladder.
type SweepReport struct {
	Family       string       `json:"family"`
	Points       []SweepPoint `json:"points"`
	AllPositive  bool         `json:"all_positive"`
	MinGeometric float64      `json:"min_geometric"`
}

// positivityTolerance absorbs quadrature noise around zero.
const positivityTolerance = 1e-10

// RunSweep evaluates the explicit formula across a ladder of test-function
// widths and records the Weil-positivity verdict for each. Widths are
// processed in the given order so the report is reproducible.
func RunSweep(ctx context.Context, params Params, widths []float64, zeros []zerosource.ZeroRecord, logger *logrus.Logger) (*SweepReport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if len(widths) == 0 {
		return nil, fmt.Errorf("%w: empty width ladder", weil.ErrInvalidInput)
	}

	engine := weil.NewEngine(weil.Config{
		Tolerance:       params.Tolerance,
		MaxSubdivisions: params.MaxSubdivisions,
		Workers:         params.Workers,
	}, logger)

	report := &SweepReport{
		Family:       params.TestFunction.Family,
		Points:       make([]SweepPoint, 0, len(widths)),
		AllPositive:  true,
		MinGeometric: math.Inf(1),
	}

	for _, width := range widths {
		spec := testfunc.Spec{Family: params.TestFunction.Family, Width: width}
		fn, err := testfunc.New(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", weil.ErrInvalidInput, err)
		}

		eval, err := engine.AssembleExplicitFormula(ctx, fn, zeros, params.PrimeCutoff)
		if err != nil {
			return nil, fmt.Errorf("sweep at width %g: %w", width, err)
		}

		point := SweepPoint{
			Width:         width,
			Terms:         eval.Terms,
			GeometricSide: eval.Terms.Archimedean + eval.Terms.PrimeSum,
		}
		point.Positive = point.GeometricSide >= -positivityTolerance
		if !point.Positive {
			report.AllPositive = false
			logger.Warnf("Weil positivity violated at width %g: geometric side %.6e", width, point.GeometricSide)
		} else {
			logger.Infof("width %g: geometric side %.6e", width, point.GeometricSide)
		}
		if point.GeometricSide < report.MinGeometric {
			report.MinGeometric = point.GeometricSide
		}
		report.Points = append(report.Points, point)
	}
	return report, nil
}

// PrimeDelta is the projected perturbation of one prime's contribution when
// the first zero is pushed off the critical line. Contributions carry the
// healthy-positive sign convention consumed by the edge-weight assignment:
// positive means the prime's local term is intact, negative means broken.
type PrimeDelta struct {
	Prime  int     `json:"prime"`
	Ideal  float64 `json:"ideal"`
	Broken float64 `json:"broken"`
	Delta  float64 `json:"delta"`
}

// resonanceTreeDepth bounds the comparison trees; the resonance prime can be
// large, and depth 3 keeps any prime below the arena cap.
const resonanceTreeDepth = 3

// ResonanceReport identifies the prime most sensitive to the perturbation and
// carries the healthy/broken trees built at that prime, with per-edge Weil
// weights and the fraction of unitarity-violating (negative) edges.
type ResonanceReport struct {
	Shift          float64      `json:"shift"`
	ResonancePrime int          `json:"resonance_prime"`
	MaxDelta       float64      `json:"max_delta"`
	Primes         []PrimeDelta `json:"primes"`

	HealthyTree      *bttree.Tree `json:"healthy_tree"`
	BrokenTree       *bttree.Tree `json:"broken_tree"`
	HealthyViolation float64      `json:"healthy_violation"`
	BrokenViolation  float64      `json:"broken_violation"`
}

// RunResonance shifts the first zero height by shift*i (off the critical
// line) and projects the perturbation of each prime's explicit-formula
// contribution via the wave p^(i*gamma). The prime with the largest |delta|
// is the resonance prime; trees built at that prime are where a structural
// break would first show.
func RunResonance(ctx context.Context, params Params, shift float64, zeros []zerosource.ZeroRecord, logger *logrus.Logger) (*ResonanceReport, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if len(zeros) == 0 {
		return nil, fmt.Errorf("%w: no zeros supplied", weil.ErrInvalidInput)
	}

	fn, err := testfunc.New(params.TestFunction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", weil.ErrInvalidInput, err)
	}

	engine := weil.NewEngine(weil.Config{
		Tolerance:       params.Tolerance,
		MaxSubdivisions: params.MaxSubdivisions,
		Workers:         params.Workers,
	}, logger)

	_, perPrime, _, err := engine.ComputePrimeSum(ctx, fn, params.PrimeCutoff)
	if err != nil {
		return nil, err
	}

	gammaIdeal := complex(zeros[0].Height, 0)
	gammaBroken := gammaIdeal + complex(0, shift)

	report := &ResonanceReport{
		Shift:  shift,
		Primes: make([]PrimeDelta, 0, len(perPrime)),
	}
	var resonance PrimeDelta
	for _, pt := range perPrime {
		p := float64(pt.Prime)
		logP := math.Log(p)

		waveIdeal := cmplx.Exp(complex(0, logP) * gammaIdeal)
		waveBroken := cmplx.Exp(complex(0, logP) * gammaBroken)
		delta := real(waveBroken-waveIdeal) * (logP / math.Sqrt(p)) * fn.FourierTransform(logP)

		// pt.Value is the signed explicit-formula term; the local
		// contribution itself is its negation.
		pd := PrimeDelta{
			Prime:  pt.Prime,
			Ideal:  -pt.Value,
			Broken: -pt.Value + delta,
			Delta:  delta,
		}
		report.Primes = append(report.Primes, pd)
		// First prime wins ties so a resonance prime is always chosen.
		if len(report.Primes) == 1 || math.Abs(delta) > report.MaxDelta {
			report.MaxDelta = math.Abs(delta)
			report.ResonancePrime = pt.Prime
			resonance = pd
		}
	}

	healthy, err := bttree.Build(report.ResonancePrime, resonanceTreeDepth, logger)
	if err != nil {
		return nil, err
	}
	healthy.AssignEdgeWeights(resonance.Ideal)

	// The projected perturbation rarely flips the contribution's sign on
	// its own; a still-positive broken contribution is pushed negative so
	// the broken tree actually exhibits the violation.
	wBroken := resonance.Broken
	if wBroken > 0 {
		wBroken = -math.Abs(wBroken) - 1
	}
	broken, err := bttree.Build(report.ResonancePrime, resonanceTreeDepth, logger)
	if err != nil {
		return nil, err
	}
	broken.AssignEdgeWeights(wBroken)

	report.HealthyTree = healthy
	report.BrokenTree = broken
	report.HealthyViolation = healthy.UnitarityViolation()
	report.BrokenViolation = broken.UnitarityViolation()

	logger.Infof("Resonance: shifted gamma_1 %.6f -> %.6f+%.2fi, resonance prime %d (max delta %.6e, broken violation %.2f)",
		zeros[0].Height, zeros[0].Height, shift, report.ResonancePrime, report.MaxDelta, report.BrokenViolation)
	return report, nil
}
