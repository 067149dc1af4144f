// Package pipeline wires the explicit-formula engine, the Bruhat-Tits tree
// builder and the holographic connector into the single entry point consumed
// by the CLI. Everything downstream of the zero table is deterministic:
// identical parameters and zeros produce bit-identical reports.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tibesept/prime-qecc-v2/internal/bttree"
	"github.com/tibesept/prime-qecc-v2/internal/holo"
	"github.com/tibesept/prime-qecc-v2/internal/testfunc"
	"github.com/tibesept/prime-qecc-v2/internal/weil"
	"github.com/tibesept/prime-qecc-v2/internal/zerosource"
)

// Params is one full run configuration.
type Params struct {
	P            int           `json:"p" yaml:"p" mapstructure:"p"`
	Depth        int           `json:"depth" yaml:"depth" mapstructure:"depth"`
	PrimeCutoff  float64       `json:"prime_cutoff" yaml:"prime_cutoff" mapstructure:"prime_cutoff"`
	TestFunction testfunc.Spec `json:"test_function" yaml:"test_function" mapstructure:"test_function"`

	Tolerance       float64 `json:"tolerance" yaml:"tolerance" mapstructure:"tolerance"`
	MaxSubdivisions int     `json:"max_subdivisions" yaml:"max_subdivisions" mapstructure:"max_subdivisions"`
	Workers         int     `json:"workers" yaml:"workers" mapstructure:"workers"`

	AnomalyEpsilon   float64 `json:"anomaly_epsilon" yaml:"anomaly_epsilon" mapstructure:"anomaly_epsilon"`
	MinChargedLeaves int     `json:"min_charged_leaves" yaml:"min_charged_leaves" mapstructure:"min_charged_leaves"`
}

// ConnectionReport is the stable output schema handed to the rendering
// layer: named fields only, no opaque handles.
type ConnectionReport struct {
	Params       Params            `json:"params"`
	FormulaTerms weil.Terms        `json:"formula_terms"`
	PerZero      []weil.ZeroTerm   `json:"per_zero_terms"`
	PerPrime     []weil.PrimeTerm  `json:"per_prime_terms"`
	Tree         *bttree.Tree      `json:"tree"`
	Score        *holo.Score       `json:"connection_score"`
	Warnings     []string          `json:"warnings,omitempty"`
}

// Run evaluates the explicit formula, builds the tree, connects the two and
// scores the agreement.
func Run(ctx context.Context, params Params, zeros []zerosource.ZeroRecord, logger *logrus.Logger) (*ConnectionReport, error) {
	if logger == nil {
		logger = logrus.New()
	}

	fn, err := testfunc.New(params.TestFunction)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", weil.ErrInvalidInput, err)
	}
	logger.Infof("Run: p=%d depth=%d cutoff=%g test function %s, %d zeros",
		params.P, params.Depth, params.PrimeCutoff, fn.Name(), len(zeros))

	engine := weil.NewEngine(weil.Config{
		Tolerance:       params.Tolerance,
		MaxSubdivisions: params.MaxSubdivisions,
		Workers:         params.Workers,
	}, logger)

	eval, err := engine.AssembleExplicitFormula(ctx, fn, zeros, params.PrimeCutoff)
	if err != nil {
		return nil, err
	}
	logger.Infof("Formula: archimedean=%.6e prime=%.6e zero=%.6e residual=%.6e",
		eval.Terms.Archimedean, eval.Terms.PrimeSum, eval.Terms.ZeroSum, eval.Terms.Residual)

	tree, err := bttree.Build(params.P, params.Depth, logger)
	if err != nil {
		return nil, err
	}

	connector := holo.NewConnector(holo.Config{
		Epsilon:          params.AnomalyEpsilon,
		MinChargedLeaves: params.MinChargedLeaves,
	}, logger)

	// Expected band mass: smooth zero density times the (even) test
	// function, so charges carry only the fluctuating part.
	smooth := func(gamma float64) float64 {
		return holo.RiemannVonMangoldtDensity(gamma) * (fn.Evaluate(gamma) + fn.Evaluate(-gamma))
	}

	charges, err := connector.AssignBoundaryCharges(tree, eval.PerZero, smooth)
	if err != nil {
		return nil, err
	}
	bulk, err := connector.ReconstructBulk(tree, charges)
	if err != nil {
		return nil, err
	}
	score, err := connector.ComputeScore(tree, bulk, charges)
	if err != nil {
		return nil, err
	}

	report := &ConnectionReport{
		Params:       params,
		FormulaTerms: eval.Terms,
		PerZero:      eval.PerZero,
		PerPrime:     eval.PerPrime,
		Tree:         tree,
		Score:        score,
	}
	if eval.Terms.Degraded {
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("prime sum degraded: tail estimate %.3e exceeds tolerance %.3e",
				eval.Terms.PrimeTail, params.Tolerance))
	}
	report.Warnings = append(report.Warnings, score.Warnings...)

	if score.Defined {
		logger.Infof("Connection score: correlation=%.4f anomalies=%d", score.Correlation, len(score.AnomalyVertices))
	} else {
		logger.Warn("Connection score: correlation undefined")
	}
	return report, nil
}
