package model

import (
	"context"
	"math"
	"math/rand"
	"slices"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Params are the boosting hyperparameters. They are fixed for a run.
type Params struct {
	NEstimators    int     `json:"n_estimators"`
	MaxDepth       int     `json:"max_depth"`
	LearningRate   float64 `json:"learning_rate"`
	Subsample      float64 `json:"subsample"`
	MinSamplesLeaf int     `json:"min_samples_leaf"`
	MaxBins        int     `json:"max_bins"`
	Seed           int64   `json:"seed"`
}

func DefaultParams() Params {
	return Params{
		NEstimators:    200,
		MaxDepth:       6,
		LearningRate:   0.1,
		Subsample:      0.8,
		MinSamplesLeaf: 5,
		MaxBins:        64,
		Seed:           42,
	}
}

func (p Params) withDefaults() Params {
	d := DefaultParams()
	if p.NEstimators <= 0 {
		p.NEstimators = d.NEstimators
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = d.MaxDepth
	}
	if p.LearningRate <= 0 {
		p.LearningRate = d.LearningRate
	}
	if p.Subsample <= 0 || p.Subsample > 1 {
		p.Subsample = d.Subsample
	}
	if p.MinSamplesLeaf <= 0 {
		p.MinSamplesLeaf = d.MinSamplesLeaf
	}
	if p.MaxBins < 2 || p.MaxBins > 255 {
		p.MaxBins = d.MaxBins
	}
	return p
}

// Node is one tree node. Leaves have Left == -1.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t"`
	Left      int     `json:"l"`
	Right     int     `json:"r"`
	Value     float64 `json:"v"`
}

type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t Tree) predict(row []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Left < 0 {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Ensemble is a fitted boosted regression model under squared loss.
type Ensemble struct {
	Init         float64 `json:"init"`
	LearningRate float64 `json:"learning_rate"`
	Features     int     `json:"n_features"`
	Trees        []Tree  `json:"trees"`
}

// Predict scores one row laid out in training column order.
func (e *Ensemble) Predict(row []float64) float64 {
	out := e.Init
	for _, t := range e.Trees {
		out += e.LearningRate * t.predict(row)
	}
	return out
}

// binned is the training matrix reduced to per-feature histogram bins.
// Bin b of feature f holds values in (thresholds[f][b-1], thresholds[f][b]].
type binned struct {
	n, p       int
	bins       [][]uint8 // [feature][row]
	thresholds [][]float64
}

func binMatrix(x *mat.Dense, maxBins int) *binned {
	n, p := x.Dims()
	b := &binned{
		n:          n,
		p:          p,
		bins:       make([][]uint8, p),
		thresholds: make([][]float64, p),
	}
	col := make([]float64, n)
	for f := 0; f < p; f++ {
		mat.Col(col, f, x)
		thr := thresholds(col, maxBins)
		bins := make([]uint8, n)
		for i, v := range col {
			bins[i] = uint8(sort.SearchFloat64s(thr, v))
		}
		b.bins[f] = bins
		b.thresholds[f] = thr
	}
	return b
}

// thresholds picks at most maxBins-1 split points: midpoints between
// distinct values when there are few, otherwise empirical quantiles.
func thresholds(col []float64, maxBins int) []float64 {
	sorted := slices.Clone(col)
	slices.Sort(sorted)
	distinct := slices.Compact(slices.Clone(sorted))
	if len(distinct) <= 1 {
		return nil
	}
	if len(distinct) <= maxBins {
		out := make([]float64, len(distinct)-1)
		for i := range out {
			out[i] = (distinct[i] + distinct[i+1]) / 2
		}
		return out
	}
	out := make([]float64, 0, maxBins-1)
	for k := 1; k < maxBins; k++ {
		q := stat.Quantile(float64(k)/float64(maxBins), stat.Empirical, sorted, nil)
		if q >= sorted[len(sorted)-1] {
			continue
		}
		if len(out) == 0 || q > out[len(out)-1] {
			out = append(out, q)
		}
	}
	return out
}

type treeBuilder struct {
	data     *binned
	grad     []float64
	maxDepth int
	minLeaf  int
	nodes    []Node

	count []int
	sum   []float64
}

func (tb *treeBuilder) build(idx []int, depth int) int {
	self := len(tb.nodes)
	total := 0.0
	for _, i := range idx {
		total += tb.grad[i]
	}
	tb.nodes = append(tb.nodes, Node{Left: -1, Right: -1, Value: total / float64(len(idx))})

	if depth >= tb.maxDepth || len(idx) < 2*tb.minLeaf {
		return self
	}
	feature, bin, ok := tb.bestSplit(idx, total)
	if !ok {
		return self
	}

	col := tb.data.bins[feature]
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if int(col[i]) <= bin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := tb.build(left, depth+1)
	r := tb.build(right, depth+1)
	tb.nodes[self].Feature = feature
	tb.nodes[self].Threshold = tb.data.thresholds[feature][bin]
	tb.nodes[self].Left = l
	tb.nodes[self].Right = r
	return self
}

// bestSplit scans every feature histogram for the split that most reduces
// squared error. Ties keep the lowest feature and bin.
func (tb *treeBuilder) bestSplit(idx []int, total float64) (feature, bin int, ok bool) {
	n := float64(len(idx))
	parent := total * total / n
	bestGain := 1e-12

	for f := 0; f < tb.data.p; f++ {
		thr := tb.data.thresholds[f]
		if len(thr) == 0 {
			continue
		}
		nb := len(thr) + 1
		count := tb.count[:nb]
		sum := tb.sum[:nb]
		clear(count)
		clear(sum)
		col := tb.data.bins[f]
		for _, i := range idx {
			b := col[i]
			count[b]++
			sum[b] += tb.grad[i]
		}

		nl, sl := 0, 0.0
		for b := 0; b < nb-1; b++ {
			nl += count[b]
			sl += sum[b]
			nr := len(idx) - nl
			if nl < tb.minLeaf {
				continue
			}
			if nr < tb.minLeaf {
				break
			}
			sr := total - sl
			gain := sl*sl/float64(nl) + sr*sr/float64(nr) - parent
			if gain > bestGain {
				bestGain, feature, bin, ok = gain, f, b, true
			}
		}
	}
	return feature, bin, ok
}

// fitEnsemble boosts trees on x against y. It is deterministic for a given
// Params.Seed.
func fitEnsemble(ctx context.Context, x *mat.Dense, y []float64, p Params) (*Ensemble, []float64, error) {
	n, cols := x.Dims()
	data := binMatrix(x, p.MaxBins)
	rng := rand.New(rand.NewSource(p.Seed))

	e := &Ensemble{
		Init:         stat.Mean(y, nil),
		LearningRate: p.LearningRate,
		Features:     cols,
		Trees:        make([]Tree, 0, p.NEstimators),
	}

	pred := make([]float64, n)
	for i := range pred {
		pred[i] = e.Init
	}
	grad := make([]float64, n)
	sampleSize := max(1, int(math.Round(p.Subsample*float64(n))))

	tb := &treeBuilder{
		data:     data,
		grad:     grad,
		maxDepth: p.MaxDepth,
		minLeaf:  p.MinSamplesLeaf,
		count:    make([]int, p.MaxBins+1),
		sum:      make([]float64, p.MaxBins+1),
	}

	for t := 0; t < p.NEstimators; t++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		for i := range grad {
			grad[i] = y[i] - pred[i]
		}
		sample := rng.Perm(n)[:sampleSize]
		slices.Sort(sample)

		tb.nodes = nil
		tb.build(sample, 0)
		tree := Tree{Nodes: tb.nodes}
		e.Trees = append(e.Trees, tree)

		for i := 0; i < n; i++ {
			pred[i] += p.LearningRate * tree.predict(x.RawRowView(i))
		}
	}
	return e, pred, nil
}
