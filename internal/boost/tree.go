// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package boost

import (
	"sort"

	"github.com/pdiddy/trip-trainer/internal/features"
	"github.com/pdiddy/trip-trainer/pkg/types"
)

// minSplitGain is the smallest loss reduction accepted for a split.
const minSplitGain = 1e-10

// Node is either a split "x[Feature] < Threshold" or a leaf holding Value.
type Node struct {
	Feature   int     `msgpack:"f"`
	Threshold float64 `msgpack:"t"`
	Left      int     `msgpack:"l"`
	Right     int     `msgpack:"r"`
	Leaf      bool    `msgpack:"leaf"`
	Value     float64 `msgpack:"v"`
}

// Tree is a regression tree stored as a flat node list rooted at index 0.
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

// Predict drops row down the tree and returns the leaf value.
func (t *Tree) Predict(row features.Row) float64 {
	n := t.Nodes[0]
	for !n.Leaf {
		if row.Value(n.Feature) < n.Threshold {
			n = t.Nodes[n.Left]
		} else {
			n = t.Nodes[n.Right]
		}
	}
	return n.Value
}

// Depth returns the number of edges on the longest root-to-leaf path.
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := t.Nodes[i]
		if n.Leaf {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

type treeBuilder struct {
	x      *features.Matrix
	grad   []float64
	hess   []float64
	params types.Hyperparams
	nodes  []Node
}

// entry is one (value, gradient, hessian) point of a feature within a node.
type entry struct {
	val float64
	g   float64
	h   float64
}

type split struct {
	feature   int
	threshold float64
	gain      float64
}

func (tb *treeBuilder) build() Tree {
	rows := make([]int, tb.x.NumRows())
	for i := range rows {
		rows[i] = i
	}
	tb.nodes = tb.nodes[:0]
	tb.grow(rows, 0)
	return Tree{Nodes: tb.nodes}
}

// grow appends the subtree for rows and returns its root index.
func (tb *treeBuilder) grow(rows []int, depth int) int {
	var sumG, sumH float64
	for _, i := range rows {
		sumG += tb.grad[i]
		sumH += tb.hess[i]
	}

	idx := len(tb.nodes)
	tb.nodes = append(tb.nodes, Node{})

	if depth < tb.params.MaxDepth && len(rows) > 1 {
		if s, ok := tb.bestSplit(rows, sumG, sumH); ok {
			var left, right []int
			for _, i := range rows {
				if tb.x.Rows[i].Value(s.feature) < s.threshold {
					left = append(left, i)
				} else {
					right = append(right, i)
				}
			}
			l := tb.grow(left, depth+1)
			r := tb.grow(right, depth+1)
			tb.nodes[idx] = Node{Feature: s.feature, Threshold: s.threshold, Left: l, Right: r}
			return idx
		}
	}

	tb.nodes[idx] = Node{Leaf: true, Value: tb.params.LearningRate * tb.leafWeight(sumG, sumH)}
	return idx
}

// bestSplit scans every feature present in rows. Rows without a stored
// entry for a feature take value zero and are scanned as one bucket.
func (tb *treeBuilder) bestSplit(rows []int, sumG, sumH float64) (split, bool) {
	byFeature := make(map[int][]entry)
	for _, i := range rows {
		r := tb.x.Rows[i]
		for k, j := range r.Indices {
			byFeature[j] = append(byFeature[j], entry{val: r.Values[k], g: tb.grad[i], h: tb.hess[i]})
		}
	}
	feats := make([]int, 0, len(byFeature))
	for j := range byFeature {
		feats = append(feats, j)
	}
	sort.Ints(feats)

	parent := tb.score(sumG, sumH)
	best := split{gain: minSplitGain}
	found := false
	for _, j := range feats {
		entries := byFeature[j]
		var nzG, nzH float64
		for _, e := range entries {
			nzG += e.g
			nzH += e.h
		}
		if zeros := len(rows) - len(entries); zeros > 0 {
			entries = append(entries, entry{val: 0, g: sumG - nzG, h: sumH - nzH})
		}
		sort.SliceStable(entries, func(a, b int) bool { return entries[a].val < entries[b].val })

		var gl, hl float64
		for k := 0; k < len(entries)-1; k++ {
			gl += entries[k].g
			hl += entries[k].h
			if entries[k].val == entries[k+1].val {
				continue
			}
			gr, hr := sumG-gl, sumH-hl
			if hl < tb.params.MinChildWeight || hr < tb.params.MinChildWeight {
				continue
			}
			gain := 0.5 * (tb.score(gl, hl) + tb.score(gr, hr) - parent)
			if gain > best.gain {
				best = split{
					feature:   j,
					threshold: (entries[k].val + entries[k+1].val) / 2,
					gain:      gain,
				}
				found = true
			}
		}
	}
	return best, found
}

// score is the structure score T(G)^2 / (H + lambda).
func (tb *treeBuilder) score(g, h float64) float64 {
	denom := h + tb.params.RegLambda
	if denom == 0 {
		return 0
	}
	t := thresholdL1(g, tb.params.RegAlpha)
	return t * t / denom
}

// leafWeight is the optimal leaf value -T(G) / (H + lambda).
func (tb *treeBuilder) leafWeight(g, h float64) float64 {
	denom := h + tb.params.RegLambda
	if denom == 0 {
		return 0
	}
	return -thresholdL1(g, tb.params.RegAlpha) / denom
}

func thresholdL1(g, alpha float64) float64 {
	switch {
	case g > alpha:
		return g - alpha
	case g < -alpha:
		return g + alpha
	}
	return 0
}
