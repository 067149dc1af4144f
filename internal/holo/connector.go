// Package holo maps explicit-formula output onto Bruhat-Tits tree geometry.
// Leaves receive "boundary charges" derived from the spectral residual in
// their frequency band; interior vertices aggregate subtree charges with a
// depth-geometric weight (the discrete bulk reconstruction); the resulting
// bulk field is scored against a purely geometric tree invariant.
package holo

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/tibesept/prime-qecc-v2/internal/bttree"
	"github.com/tibesept/prime-qecc-v2/internal/weil"
)

var ErrMismatchedInput = errors.New("connector input mismatch")

// WarningInsufficientData is attached when too few leaves carry charge for
// the correlation to mean anything.
const WarningInsufficientData = "insufficient data: too few charged leaves for a correlation"

// Config tunes the connector. Zero values select the defaults.
type Config struct {
	// Epsilon is the per-depth z-score above which a vertex is flagged as
	// an anomaly.
	Epsilon float64 `json:"epsilon" yaml:"epsilon"`

	// MinChargedLeaves is the smallest number of nonzero-charge leaves for
	// which a correlation is reported.
	MinChargedLeaves int `json:"min_charged_leaves" yaml:"min_charged_leaves"`
}

func (c *Config) applyDefaults() {
	if c.Epsilon <= 0 {
		c.Epsilon = 3
	}
	if c.MinChargedLeaves <= 0 {
		c.MinChargedLeaves = 4
	}
}

// Connector owns the connection score; it reads the tree and the formula
// evaluation without mutating either.
type Connector struct {
	cfg    Config
	logger *logrus.Logger
}

func NewConnector(cfg Config, logger *logrus.Logger) *Connector {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &Connector{cfg: cfg, logger: logger}
}

// Score is the structural-agreement report. PerVertexCharge is indexed by
// vertex id (the arena is contiguous), so it serializes as a plain array.
type Score struct {
	PerVertexCharge []float64 `json:"per_vertex_charge"`

	// Correlation is the Pearson coefficient between the bulk field and
	// the subtree-leaf-count invariant. Defined=false means it could not
	// be computed (insufficient data or zero variance).
	Correlation float64 `json:"correlation"`
	Defined     bool    `json:"correlation_defined"`

	AnomalyVertices []int    `json:"anomaly_vertices,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

// AssignBoundaryCharges maps each leaf to the spectral residual of its
// frequency band. Leaf j of N (in path order) covers the band
// [j*W/N, (j+1)*W/N) of zero heights, W being the full spectrum width: the
// band index <-> leaf index map is the identity, a monotonic bijection fixed
// by p and D. The charge is the summed per-zero contribution in the band
// minus the smooth Riemann-von Mangoldt prediction at the band midpoint,
// i.e. the band's share of the spectral fluctuation.
func (c *Connector) AssignBoundaryCharges(tree *bttree.Tree, perZero []weil.ZeroTerm, smooth func(gamma float64) float64) ([]float64, error) {
	n := tree.LeafCount()
	charges := make([]float64, n)
	if len(perZero) == 0 {
		return charges, nil
	}

	gammaMax := perZero[len(perZero)-1].Gamma
	width := gammaMax * (1 + 1/float64(2*len(perZero))) // keep the last zero inside the top band
	bandWidth := width / float64(n)

	for _, zt := range perZero {
		band := int(zt.Gamma / bandWidth)
		if band < 0 || band >= n {
			return nil, fmt.Errorf("%w: zero height %g outside spectrum [0, %g)", ErrMismatchedInput, zt.Gamma, width)
		}
		charges[band] += zt.Value
	}

	if smooth != nil {
		for j := range charges {
			mid := (float64(j) + 0.5) * bandWidth
			charges[j] -= smooth(mid) * bandWidth
		}
	}
	return charges, nil
}

// RiemannVonMangoldtDensity is the smooth zero-counting density
// dN/dgamma = log(gamma/2pi)/(2pi), clamped to zero below gamma = 2pi where
// the asymptotic is meaningless.
func RiemannVonMangoldtDensity(gamma float64) float64 {
	if gamma <= 2*math.Pi {
		return 0
	}
	return math.Log(gamma/(2*math.Pi)) / (2 * math.Pi)
}

// ReconstructBulk aggregates leaf charges up the tree: for a vertex at depth
// d, bulk = p^(d-D) * sum of charges over its leaf span. Every leaf of a
// subtree sits depth D-d below its root, so the single factor is exactly the
// per-leaf geometric weight p^(-(depth from vertex)). Prefix sums over the
// path-ordered leaf spans keep the combination order fixed.
func (c *Connector) ReconstructBulk(tree *bttree.Tree, leafCharges []float64) ([]float64, error) {
	n := tree.LeafCount()
	if len(leafCharges) != n {
		return nil, fmt.Errorf("%w: %d leaf charges for %d leaves", ErrMismatchedInput, len(leafCharges), n)
	}

	prefix := make([]float64, n+1)
	for i, q := range leafCharges {
		prefix[i+1] = prefix[i] + q
	}

	bulk := make([]float64, len(tree.Vertices))
	for id := range tree.Vertices {
		lo, hi, err := tree.LeafSpan(id)
		if err != nil {
			return nil, err
		}
		depth := tree.Vertices[id].Depth
		weight := math.Pow(float64(tree.P), float64(depth-tree.Depth))
		bulk[id] = weight * (prefix[hi] - prefix[lo])
	}
	return bulk, nil
}

// ComputeScore correlates the bulk field with the subtree-leaf-count
// invariant and flags per-depth outliers. Too few charged leaves yields a
// null correlation with a warning instead of a failure.
func (c *Connector) ComputeScore(tree *bttree.Tree, bulk []float64, leafCharges []float64) (*Score, error) {
	if len(bulk) != len(tree.Vertices) {
		return nil, fmt.Errorf("%w: %d bulk values for %d vertices", ErrMismatchedInput, len(bulk), len(tree.Vertices))
	}

	score := &Score{PerVertexCharge: bulk}

	charged := 0
	for _, q := range leafCharges {
		if q != 0 {
			charged++
		}
	}
	if charged < c.cfg.MinChargedLeaves {
		c.logger.Warnf("only %d of %d leaves carry charge (minimum %d), correlation undefined",
			charged, len(leafCharges), c.cfg.MinChargedLeaves)
		score.Warnings = append(score.Warnings, WarningInsufficientData)
		return score, nil
	}

	invariant := make([]float64, len(tree.Vertices))
	for id := range tree.Vertices {
		lo, hi, err := tree.LeafSpan(id)
		if err != nil {
			return nil, err
		}
		invariant[id] = float64(hi - lo)
	}

	r := stat.Correlation(bulk, invariant, nil)
	if math.IsNaN(r) {
		score.Warnings = append(score.Warnings, "correlation undefined: zero variance in bulk or invariant")
	} else {
		score.Correlation = r
		score.Defined = true
	}

	score.AnomalyVertices = c.flagAnomalies(tree, bulk)
	return score, nil
}

// flagAnomalies compares each vertex against the bulk distribution of its
// own depth level; mixing depths would conflate the geometric weight with a
// genuine deviation.
func (c *Connector) flagAnomalies(tree *bttree.Tree, bulk []float64) []int {
	byDepth := make([][]float64, tree.Depth+1)
	for id, v := range tree.Vertices {
		byDepth[v.Depth] = append(byDepth[v.Depth], bulk[id])
	}

	means := make([]float64, tree.Depth+1)
	stds := make([]float64, tree.Depth+1)
	for d, values := range byDepth {
		if len(values) < 2 {
			stds[d] = 0
			if len(values) == 1 {
				means[d] = values[0]
			}
			continue
		}
		means[d], stds[d] = stat.MeanStdDev(values, nil)
	}

	var anomalies []int
	for id, v := range tree.Vertices {
		if stds[v.Depth] == 0 {
			continue
		}
		z := math.Abs(bulk[id]-means[v.Depth]) / stds[v.Depth]
		if z > c.cfg.Epsilon {
			anomalies = append(anomalies, id)
		}
	}
	return anomalies
}
