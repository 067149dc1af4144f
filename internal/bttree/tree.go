// Package bttree builds a depth-bounded piece of the Bruhat-Tits tree for
// Q_p. Vertices are homothety classes of rank-2 lattices; at finite depth D
// the tree is the root plus p+1 branches, each branching p-fold per level.
// The arena stores vertices in BFS order with closed-form level offsets, so
// parent, children and the leaf span of any subtree are index arithmetic
// rather than pointer chasing, and the whole arena serializes directly.
package bttree

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var ErrInvalidTreeDepth = errors.New("invalid tree parameters")

// MaxArenaVertices caps the arena so a careless (p, D) pair fails fast
// instead of exhausting memory.
const MaxArenaVertices = 1 << 22

// Vertex is one homothety class at finite resolution.
//
// Path holds the branch digits from the root: the first digit selects one of
// the p+1 root branches and ranges over [0, p]; every later digit ranges
// over [0, p-1]. Digits are plain ints so the path serializes as a JSON
// array, not an opaque byte string.
type Vertex struct {
	ID       int   `json:"id"`
	Depth    int   `json:"depth"`
	Path     []int `json:"path"`
	Parent   int   `json:"parent"` // -1 at the root
	Children []int `json:"children,omitempty"`
}

// Tree is the vertex arena for a fixed prime p and depth cap D.
type Tree struct {
	P        int      `json:"p"`
	Depth    int      `json:"depth"`
	Vertices []Vertex `json:"vertices"`

	// EdgeWeights holds one weight per parent-child edge, indexed by the
	// child endpoint's vertex id; entry 0 is unused since the root has no
	// parent edge. Nil until AssignEdgeWeights is called.
	EdgeWeights []float64 `json:"edge_weights,omitempty"`

	offsets []int // first vertex id of each level
}

// BoundaryPoint is a p-adic digit sequence on the tree boundary. The digit
// ranges match Vertex.Path.
type BoundaryPoint []int

// VertexCount returns 1 + sum_{i=1..depth} (p+1)*p^(i-1), the closed-form
// arena size, or an error when it exceeds the arena cap.
func VertexCount(p, depth int) (int, error) {
	count := 1
	level := p + 1
	for i := 1; i <= depth; i++ {
		count += level
		if count > MaxArenaVertices {
			return 0, fmt.Errorf("%w: p=%d depth=%d needs more than %d vertices",
				ErrInvalidTreeDepth, p, depth, MaxArenaVertices)
		}
		level *= p
	}
	return count, nil
}

func isPrime(p int) bool {
	if p < 2 {
		return false
	}
	for d := 2; d*d <= p; d++ {
		if p%d == 0 {
			return false
		}
	}
	return true
}

// Build constructs the arena for the given prime and depth. The p+1 root
// subtrees occupy disjoint id ranges, so they are filled concurrently; the
// resulting arena is identical regardless of scheduling.
func Build(p, depth int, logger *logrus.Logger) (*Tree, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if depth <= 0 {
		return nil, fmt.Errorf("%w: depth %d, want >= 1", ErrInvalidTreeDepth, depth)
	}
	if !isPrime(p) {
		return nil, fmt.Errorf("%w: p=%d is not prime", ErrInvalidTreeDepth, p)
	}
	count, err := VertexCount(p, depth)
	if err != nil {
		return nil, err
	}

	t := &Tree{
		P:        p,
		Depth:    depth,
		Vertices: make([]Vertex, count),
		offsets:  levelOffsets(p, depth),
	}

	root := &t.Vertices[0]
	root.ID = 0
	root.Depth = 0
	root.Parent = -1
	root.Children = make([]int, p+1)
	for c := 0; c <= p; c++ {
		root.Children[c] = t.offsets[1] + c
	}

	var g errgroup.Group
	for branch := 0; branch <= p; branch++ {
		b := branch
		g.Go(func() error {
			t.fillBranch(b)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Debugf("Built Bruhat-Tits arena: p=%d depth=%d vertices=%d leaves=%d",
		p, depth, count, t.LeafCount())
	return t, nil
}

// fillBranch writes every vertex whose path starts with the given root
// branch digit. Within level i the branch owns the contiguous index block
// [branch*p^(i-1), (branch+1)*p^(i-1)).
func (t *Tree) fillBranch(branch int) {
	blockSize := 1 // p^(i-1)
	for level := 1; level <= t.Depth; level++ {
		base := branch * blockSize
		for r := 0; r < blockSize; r++ {
			m := base + r
			id := t.offsets[level] + m
			v := &t.Vertices[id]
			v.ID = id
			v.Depth = level
			v.Path = t.pathOf(level, m)
			if level == 1 {
				v.Parent = 0
			} else {
				v.Parent = t.offsets[level-1] + m/t.P
			}
			if level < t.Depth {
				v.Children = make([]int, t.P)
				for d := 0; d < t.P; d++ {
					v.Children[d] = t.offsets[level+1] + m*t.P + d
				}
			}
		}
		blockSize *= t.P
	}
}

// pathOf decodes the within-level index back into branch digits.
func (t *Tree) pathOf(level, m int) []int {
	block := intPow(t.P, level-1)
	path := make([]int, level)
	path[0] = m / block
	r := m % block
	for k := level - 1; k >= 1; k-- {
		path[k] = r % t.P
		r /= t.P
	}
	return path
}

func levelOffsets(p, depth int) []int {
	offsets := make([]int, depth+1)
	offsets[0] = 0
	size := 1
	next := p + 1
	for i := 1; i <= depth; i++ {
		offsets[i] = offsets[i-1] + size
		size = next
		next = size * p
	}
	return offsets
}

func intPow(base, exp int) int {
	result := 1
	for ; exp > 0; exp-- {
		result *= base
	}
	return result
}

func (t *Tree) levelOffsets() []int {
	if t.offsets == nil {
		t.offsets = levelOffsets(t.P, t.Depth)
	}
	return t.offsets
}

func (t *Tree) checkID(id int) error {
	if id < 0 || id >= len(t.Vertices) {
		return fmt.Errorf("%w: vertex id %d out of range [0, %d)", ErrInvalidTreeDepth, id, len(t.Vertices))
	}
	return nil
}

// Neighbors returns the parent (if any) followed by the children.
func (t *Tree) Neighbors(id int) ([]int, error) {
	if err := t.checkID(id); err != nil {
		return nil, err
	}
	v := &t.Vertices[id]
	neighbors := make([]int, 0, len(v.Children)+1)
	if v.Parent >= 0 {
		neighbors = append(neighbors, v.Parent)
	}
	neighbors = append(neighbors, v.Children...)
	return neighbors, nil
}

// Distance is the tree metric depth(u) + depth(v) - 2*depth(lca), computed
// on the digit paths.
func (t *Tree) Distance(u, v int) (int, error) {
	if err := t.checkID(u); err != nil {
		return 0, err
	}
	if err := t.checkID(v); err != nil {
		return 0, err
	}
	pu, pv := t.Vertices[u].Path, t.Vertices[v].Path
	lca := 0
	for lca < len(pu) && lca < len(pv) && pu[lca] == pv[lca] {
		lca++
	}
	return len(pu) + len(pv) - 2*lca, nil
}

// Retract truncates a boundary digit sequence to the given depth and returns
// the vertex it lands on. Re-extracting the vertex path recovers the first
// `depth` digits of the sequence exactly.
func (t *Tree) Retract(bp BoundaryPoint, depth int) (int, error) {
	if depth < 0 || depth > t.Depth {
		return 0, fmt.Errorf("%w: retraction depth %d outside [0, %d]", ErrInvalidTreeDepth, depth, t.Depth)
	}
	if len(bp) < depth {
		return 0, fmt.Errorf("%w: boundary point has %d digits, need %d", ErrInvalidTreeDepth, len(bp), depth)
	}
	if depth == 0 {
		return 0, nil
	}
	if bp[0] < 0 || bp[0] > t.P {
		return 0, fmt.Errorf("%w: leading digit %d outside [0, p=%d]", ErrInvalidTreeDepth, bp[0], t.P)
	}
	m := bp[0] * intPow(t.P, depth-1)
	for k := 1; k < depth; k++ {
		if bp[k] < 0 || bp[k] >= t.P {
			return 0, fmt.Errorf("%w: digit %d at position %d outside [0, p-1=%d]", ErrInvalidTreeDepth, bp[k], k, t.P-1)
		}
		m = m + bp[k]*intPow(t.P, depth-1-k)
	}
	return t.levelOffsets()[depth] + m, nil
}

// LeafCount returns the number of depth-D vertices.
func (t *Tree) LeafCount() int {
	return (t.P + 1) * intPow(t.P, t.Depth-1)
}

// Leaves returns the ids of all depth-D vertices in ascending path order.
func (t *Tree) Leaves() []int {
	start := t.levelOffsets()[t.Depth]
	leaves := make([]int, t.LeafCount())
	for i := range leaves {
		leaves[i] = start + i
	}
	return leaves
}

// LeafSpan returns the half-open range [lo, hi) of leaf positions (indices
// into Leaves) covered by the subtree rooted at id. Leaf spans are
// contiguous because ids are assigned in path order.
func (t *Tree) LeafSpan(id int) (lo, hi int, err error) {
	if err := t.checkID(id); err != nil {
		return 0, 0, err
	}
	v := &t.Vertices[id]
	if v.Depth == 0 {
		return 0, t.LeafCount(), nil
	}
	m := id - t.levelOffsets()[v.Depth]
	width := intPow(t.P, t.Depth-v.Depth)
	return m * width, (m + 1) * width, nil
}

// AssignEdgeWeights weights every parent-child edge from the local
// explicit-formula contribution of the tree's prime. A nonnegative
// contribution keeps the uniform weight log p; a negative one scales log p
// by the contribution, turning every edge weight negative in proportion to
// the break.
func (t *Tree) AssignEdgeWeights(contribution float64) {
	base := math.Log(float64(t.P))
	w := base
	if contribution < 0 {
		w = base * contribution
	}
	weights := make([]float64, len(t.Vertices))
	for id := 1; id < len(weights); id++ {
		weights[id] = w
	}
	t.EdgeWeights = weights
}

// UnitarityViolation returns the fraction of edges carrying a negative
// weight, 0 when no weights have been assigned.
func (t *Tree) UnitarityViolation() float64 {
	if len(t.EdgeWeights) < 2 {
		return 0
	}
	negative := 0
	for id := 1; id < len(t.EdgeWeights); id++ {
		if t.EdgeWeights[id] < 0 {
			negative++
		}
	}
	return float64(negative) / float64(len(t.EdgeWeights)-1)
}
