package holo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tibesept/prime-qecc-v2/internal/bttree"
	"github.com/tibesept/prime-qecc-v2/internal/weil"
)

func buildTree(t *testing.T, p, depth int) *bttree.Tree {
	t.Helper()
	tree, err := bttree.Build(p, depth, nil)
	require.NoError(t, err)
	return tree
}

func TestAssignBoundaryChargesPreservesMass(t *testing.T) {
	tree := buildTree(t, 2, 3) // 12 leaves
	c := NewConnector(Config{}, nil)

	perZero := []weil.ZeroTerm{
		{Index: 1, Gamma: 14.1, Value: 0.5},
		{Index: 2, Gamma: 21.0, Value: 0.25},
		{Index: 3, Gamma: 25.0, Value: 0.125},
	}
	charges, err := c.AssignBoundaryCharges(tree, perZero, nil)
	require.NoError(t, err)
	require.Len(t, charges, 12)

	total := 0.0
	for _, q := range charges {
		total += q
	}
	assert.InDelta(t, 0.875, total, 1e-12)
}

func TestAssignBoundaryChargesBandOrderMonotonic(t *testing.T) {
	tree := buildTree(t, 2, 3)
	c := NewConnector(Config{}, nil)

	perZero := []weil.ZeroTerm{
		{Index: 1, Gamma: 5.0, Value: 1},
		{Index: 2, Gamma: 40.0, Value: 1},
		{Index: 3, Gamma: 90.0, Value: 1},
	}
	charges, err := c.AssignBoundaryCharges(tree, perZero, nil)
	require.NoError(t, err)

	// Lower heights land in lower bands; the top zero stays inside the arena.
	var bands []int
	for j, q := range charges {
		if q != 0 {
			bands = append(bands, j)
		}
	}
	require.Len(t, bands, 3)
	assert.IsIncreasing(t, bands)
	assert.Less(t, bands[2], 12)
}

func TestAssignBoundaryChargesSubtractsSmooth(t *testing.T) {
	tree := buildTree(t, 2, 3)
	c := NewConnector(Config{}, nil)

	perZero := []weil.ZeroTerm{{Index: 1, Gamma: 10.0, Value: 1}}
	flat := func(gamma float64) float64 { return 2.0 }

	raw, err := c.AssignBoundaryCharges(tree, perZero, nil)
	require.NoError(t, err)
	smoothed, err := c.AssignBoundaryCharges(tree, perZero, flat)
	require.NoError(t, err)

	bandWidth := 10.0 * (1 + 1.0/2.0) / 12.0
	for j := range raw {
		assert.InDelta(t, raw[j]-2.0*bandWidth, smoothed[j], 1e-12)
	}
}

func TestRiemannVonMangoldtDensity(t *testing.T) {
	assert.Equal(t, 0.0, RiemannVonMangoldtDensity(1))
	assert.Equal(t, 0.0, RiemannVonMangoldtDensity(2*math.Pi))
	assert.InDelta(t, math.Log(100/(2*math.Pi))/(2*math.Pi), RiemannVonMangoldtDensity(100), 1e-15)
}

func TestReconstructBulk(t *testing.T) {
	tree := buildTree(t, 2, 3)
	c := NewConnector(Config{}, nil)

	charges := make([]float64, 12)
	for i := range charges {
		charges[i] = float64(i)
	}
	bulk, err := c.ReconstructBulk(tree, charges)
	require.NoError(t, err)
	require.Len(t, bulk, 22)

	// Root: 2^-3 * (0+...+11) = 66/8.
	assert.InDelta(t, 8.25, bulk[0], 1e-12)

	// Leaves carry their own charge.
	for i, id := range tree.Leaves() {
		assert.InDelta(t, charges[i], bulk[id], 1e-12)
	}

	// A parent's bulk is the mean of its children scaled by 1/p... verified
	// as sum(children)/p.
	for _, v := range tree.Vertices {
		if len(v.Children) == 0 {
			continue
		}
		sum := 0.0
		for _, child := range v.Children {
			sum += bulk[child]
		}
		assert.InDelta(t, sum/float64(tree.P), bulk[v.ID], 1e-12, "vertex %d", v.ID)
	}
}

func TestReconstructBulkRejectsMismatch(t *testing.T) {
	tree := buildTree(t, 2, 3)
	c := NewConnector(Config{}, nil)
	_, err := c.ReconstructBulk(tree, make([]float64, 5))
	assert.ErrorIs(t, err, ErrMismatchedInput)
}

func TestComputeScoreInsufficientData(t *testing.T) {
	tree := buildTree(t, 2, 3)
	c := NewConnector(Config{}, nil)

	charges := make([]float64, 12)
	charges[3] = 1.0 // below the default minimum of charged leaves
	bulk, err := c.ReconstructBulk(tree, charges)
	require.NoError(t, err)

	score, err := c.ComputeScore(tree, bulk, charges)
	require.NoError(t, err)
	assert.False(t, score.Defined)
	assert.Contains(t, score.Warnings, WarningInsufficientData)
	assert.Empty(t, score.AnomalyVertices)
}

func TestComputeScoreCorrelationInRange(t *testing.T) {
	tree := buildTree(t, 2, 3)
	c := NewConnector(Config{}, nil)

	charges := make([]float64, 12)
	for i := range charges {
		charges[i] = math.Sin(float64(i)*1.3) + 0.2
	}
	bulk, err := c.ReconstructBulk(tree, charges)
	require.NoError(t, err)

	score, err := c.ComputeScore(tree, bulk, charges)
	require.NoError(t, err)
	require.True(t, score.Defined)
	assert.GreaterOrEqual(t, score.Correlation, -1.0)
	assert.LessOrEqual(t, score.Correlation, 1.0)
}

func TestComputeScoreRejectsMismatch(t *testing.T) {
	tree := buildTree(t, 2, 3)
	c := NewConnector(Config{}, nil)
	_, err := c.ComputeScore(tree, make([]float64, 3), make([]float64, 12))
	assert.ErrorIs(t, err, ErrMismatchedInput)
}

// A single spiked leaf among flat ones is an outlier at its own depth but
// washes out higher up the tree.
func TestAnomalyFlagsSpikedLeaf(t *testing.T) {
	tree := buildTree(t, 2, 3)
	c := NewConnector(Config{MinChargedLeaves: 1}, nil)

	charges := make([]float64, 12)
	spiked := 7
	charges[spiked] = 100.0
	bulk, err := c.ReconstructBulk(tree, charges)
	require.NoError(t, err)

	score, err := c.ComputeScore(tree, bulk, charges)
	require.NoError(t, err)

	spikedID := tree.Leaves()[spiked]
	require.Len(t, score.AnomalyVertices, 1)
	assert.Equal(t, spikedID, score.AnomalyVertices[0])
}

func TestNoAnomaliesOnUniformCharges(t *testing.T) {
	tree := buildTree(t, 3, 2)
	c := NewConnector(Config{MinChargedLeaves: 1}, nil)

	charges := make([]float64, tree.LeafCount())
	for i := range charges {
		charges[i] = 1.0
	}
	bulk, err := c.ReconstructBulk(tree, charges)
	require.NoError(t, err)

	score, err := c.ComputeScore(tree, bulk, charges)
	require.NoError(t, err)
	assert.Empty(t, score.AnomalyVertices)
}
