package bttree

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVertexCount(t *testing.T) {
	tests := []struct {
		p, depth int
		want     int
	}{
		{2, 1, 4},
		{2, 3, 22},
		{2, 4, 46},
		{3, 2, 17},
		{3, 4, 161},
		{5, 1, 7},
	}
	for _, tt := range tests {
		got, err := VertexCount(tt.p, tt.depth)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "p=%d depth=%d", tt.p, tt.depth)
	}
}

func TestVertexCountCap(t *testing.T) {
	_, err := VertexCount(499, 4)
	assert.ErrorIs(t, err, ErrInvalidTreeDepth)
}

func TestBuildRejectsBadParameters(t *testing.T) {
	tests := []struct {
		name     string
		p, depth int
	}{
		{"zero depth", 2, 0},
		{"negative depth", 3, -1},
		{"composite p", 4, 2},
		{"p equals one", 1, 3},
		{"arena overflow", 499, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.p, tt.depth, nil)
			assert.ErrorIs(t, err, ErrInvalidTreeDepth)
		})
	}
}

func TestBuildDegrees(t *testing.T) {
	tree, err := Build(3, 3, nil)
	require.NoError(t, err)
	require.Len(t, tree.Vertices, 53)

	root := tree.Vertices[0]
	assert.Equal(t, -1, root.Parent)
	assert.Len(t, root.Children, 4)

	for _, v := range tree.Vertices[1:] {
		neighbors, err := tree.Neighbors(v.ID)
		require.NoError(t, err)
		if v.Depth == tree.Depth {
			assert.Len(t, neighbors, 1, "leaf %d", v.ID)
		} else {
			// parent plus p children
			assert.Len(t, neighbors, 4, "interior %d", v.ID)
		}
	}
}

func TestBuildParentChildConsistency(t *testing.T) {
	tree, err := Build(2, 4, nil)
	require.NoError(t, err)

	for _, v := range tree.Vertices {
		for _, c := range v.Children {
			child := tree.Vertices[c]
			assert.Equal(t, v.ID, child.Parent)
			assert.Equal(t, v.Depth+1, child.Depth)
			require.Len(t, child.Path, len(v.Path)+1)
			assert.Equal(t, v.Path, child.Path[:len(v.Path)])
		}
	}
}

func TestDistanceMetricLaws(t *testing.T) {
	tree, err := Build(2, 3, nil)
	require.NoError(t, err)
	n := len(tree.Vertices)
	require.Equal(t, 22, n)

	for u := 0; u < n; u++ {
		duu, err := tree.Distance(u, u)
		require.NoError(t, err)
		assert.Equal(t, 0, duu)
		for v := 0; v < n; v++ {
			duv, err := tree.Distance(u, v)
			require.NoError(t, err)
			dvu, err := tree.Distance(v, u)
			require.NoError(t, err)
			assert.Equal(t, duv, dvu)
			if u != v {
				assert.Positive(t, duv)
			}
			for w := 0; w < n; w++ {
				dvw, _ := tree.Distance(v, w)
				duw, _ := tree.Distance(u, w)
				assert.LessOrEqual(t, duw, duv+dvw)
			}
		}
	}
}

func TestDistanceAcrossRoot(t *testing.T) {
	tree, err := Build(2, 3, nil)
	require.NoError(t, err)

	// Leaves in different root branches meet only at the root.
	u, err := tree.Retract(BoundaryPoint{0, 0, 0}, 3)
	require.NoError(t, err)
	v, err := tree.Retract(BoundaryPoint{2, 1, 1}, 3)
	require.NoError(t, err)

	d, err := tree.Distance(u, v)
	require.NoError(t, err)
	assert.Equal(t, 6, d)
}

func TestRetractRoundTrip(t *testing.T) {
	tree, err := Build(3, 4, nil)
	require.NoError(t, err)

	points := []BoundaryPoint{
		{0, 0, 0, 0, 2, 1},
		{3, 2, 1, 0, 0, 0},
		{1, 1, 1, 1, 1, 1},
		{2, 0, 2, 1, 2, 0},
	}
	for _, bp := range points {
		for depth := 0; depth <= tree.Depth; depth++ {
			id, err := tree.Retract(bp, depth)
			require.NoError(t, err)
			v := tree.Vertices[id]
			assert.Equal(t, depth, v.Depth)
			assert.Equal(t, []int(bp[:depth]), append([]int{}, v.Path...))
		}
	}
}

func TestRetractRejectsBadInput(t *testing.T) {
	tree, err := Build(3, 3, nil)
	require.NoError(t, err)

	_, err = tree.Retract(BoundaryPoint{0, 1}, 4)
	assert.ErrorIs(t, err, ErrInvalidTreeDepth)

	_, err = tree.Retract(BoundaryPoint{0, 1}, 3)
	assert.ErrorIs(t, err, ErrInvalidTreeDepth)

	// Leading digit may reach p, later digits may not.
	_, err = tree.Retract(BoundaryPoint{4, 0, 0}, 3)
	assert.ErrorIs(t, err, ErrInvalidTreeDepth)
	_, err = tree.Retract(BoundaryPoint{0, 3, 0}, 3)
	assert.ErrorIs(t, err, ErrInvalidTreeDepth)
	_, err = tree.Retract(BoundaryPoint{0, -1, 0}, 3)
	assert.ErrorIs(t, err, ErrInvalidTreeDepth)
	_, err = tree.Retract(BoundaryPoint{3, 0, 0}, 3)
	assert.NoError(t, err)
}

func TestLeafSpans(t *testing.T) {
	tree, err := Build(2, 3, nil)
	require.NoError(t, err)
	require.Equal(t, 12, tree.LeafCount())

	lo, hi, err := tree.LeafSpan(0)
	require.NoError(t, err)
	assert.Equal(t, 0, lo)
	assert.Equal(t, 12, hi)

	for _, id := range tree.Leaves() {
		lo, hi, err := tree.LeafSpan(id)
		require.NoError(t, err)
		assert.Equal(t, 1, hi-lo)
	}

	// Child spans tile the parent span.
	for _, v := range tree.Vertices {
		if len(v.Children) == 0 {
			continue
		}
		plo, phi, err := tree.LeafSpan(v.ID)
		require.NoError(t, err)
		cursor := plo
		for _, c := range v.Children {
			clo, chi, err := tree.LeafSpan(c)
			require.NoError(t, err)
			assert.Equal(t, cursor, clo)
			cursor = chi
		}
		assert.Equal(t, phi, cursor)
	}
}

func TestLeavesInPathOrder(t *testing.T) {
	tree, err := Build(2, 3, nil)
	require.NoError(t, err)

	leaves := tree.Leaves()
	for i := 1; i < len(leaves); i++ {
		prev := tree.Vertices[leaves[i-1]].Path
		cur := tree.Vertices[leaves[i]].Path
		assert.True(t, lexLess(prev, cur), "leaves %d and %d out of order", leaves[i-1], leaves[i])
	}
}

func lexLess(a, b []int) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Paths must serialize as digit arrays so dashboard consumers see the base-p
// expansion directly.
func TestVertexPathMarshalsAsDigitArray(t *testing.T) {
	tree, err := Build(2, 2, nil)
	require.NoError(t, err)

	data, err := json.Marshal(tree.Vertices[5])
	require.NoError(t, err)
	assert.Contains(t, string(data), `"path":[0,1]`)

	var decoded Vertex
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, tree.Vertices[5].Path, decoded.Path)
}

func TestAssignEdgeWeightsHealthy(t *testing.T) {
	tree, err := Build(3, 2, nil)
	require.NoError(t, err)

	tree.AssignEdgeWeights(0.42)
	require.Len(t, tree.EdgeWeights, len(tree.Vertices))
	for id := 1; id < len(tree.EdgeWeights); id++ {
		assert.InDelta(t, math.Log(3), tree.EdgeWeights[id], 1e-15)
	}
	assert.Equal(t, 0.0, tree.UnitarityViolation())
}

func TestAssignEdgeWeightsBroken(t *testing.T) {
	tree, err := Build(3, 2, nil)
	require.NoError(t, err)

	tree.AssignEdgeWeights(-1.5)
	for id := 1; id < len(tree.EdgeWeights); id++ {
		assert.InDelta(t, -1.5*math.Log(3), tree.EdgeWeights[id], 1e-15)
	}
	assert.Equal(t, 1.0, tree.UnitarityViolation())
}

func TestUnitarityViolationWithoutWeights(t *testing.T) {
	tree, err := Build(2, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, tree.UnitarityViolation())
}

func TestBuildDeterministic(t *testing.T) {
	first, err := Build(3, 4, nil)
	require.NoError(t, err)
	second, err := Build(3, 4, nil)
	require.NoError(t, err)
	assert.Equal(t, first.Vertices, second.Vertices)
}
