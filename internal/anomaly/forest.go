// Package anomaly implements C4: an Isolation Forest anomaly detector over
// engineered feature vectors, per spec.md §4.3. No repo in the example pack
// implements tree ensembles or anomaly scoring, so this package is built
// directly from the spec's formulas rather than adapted from a teacher
// file; it still follows the teacher's encoding/json-first persistence
// style (server/internal/api/types.go) and its JSON field-naming
// conventions.
package anomaly

import (
	"encoding/json"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/pipewatch/pipewatch/internal/domain"
	"github.com/pipewatch/pipewatch/internal/errs"
)

// DefaultNumTrees and DefaultSubsampleSize are the spec's documented
// hyperparameter defaults.
const (
	DefaultNumTrees      = 100
	DefaultSubsampleSize = 256
)

// LabeledSample is one training example. Label is used only for post-hoc
// metrics; it plays no role in tree construction.
type LabeledSample struct {
	Features map[string]float64
	Label    string // "normal" | "anomaly"
}

// modelBlobVersion is the persisted schema version written by Marshal and
// checked (informationally) by callers of Unmarshal.
const modelBlobVersion = 1

// node is one isolation-tree node: either a split or a leaf, wire-compatible
// with spec.md §6's {leaf:true, size:int} / {feature, split, left, right}.
type node struct {
	Leaf    bool    `json:"leaf"`
	Size    int     `json:"size,omitempty"`
	Feature string  `json:"feature,omitempty"`
	Split   float64 `json:"split,omitempty"`
	Left    *node   `json:"left,omitempty"`
	Right   *node   `json:"right,omitempty"`
}

// modelBlob is the JSON-serializable persisted form of a Forest, matching
// spec.md §6's persistence shape exactly: mu/sigma are feature-keyed
// objects, not positional arrays, so a consumer can look up a feature's
// normalization parameters without also holding the features array.
type modelBlob struct {
	Version       int                `json:"version"`
	Features      []string           `json:"features"`
	Mu            map[string]float64 `json:"mu"`
	Sigma         map[string]float64 `json:"sigma"`
	NumTrees      int                `json:"numTrees"`
	SubsampleSize int                `json:"subsampleSize"`
	Trees         []*node            `json:"trees"`
}

// Forest is an Isolation Forest. Scoring is lock-free against the frozen
// tree set (spec.md §5); Train acquires the writer lock and atomically
// swaps the trained model in.
type Forest struct {
	numTrees      int
	subsampleSize int

	mu             sync.RWMutex
	blob           *modelBlob
	imputedCounter func()
}

// Option configures an optional counter hook wired by the pipeline for
// telemetry; New works with no options for simple use.
type Option func(*Forest)

// WithImputedFeatureCounter registers a callback invoked once per feature
// absent from the trained schema and imputed as 0 during Predict.
func WithImputedFeatureCounter(f func()) Option {
	return func(fo *Forest) { fo.imputedCounter = f }
}

// New returns an untrained Forest with the given hyperparameters. Passing
// 0 for either uses the documented default.
func New(numTrees, subsampleSize int, opts ...Option) *Forest {
	if numTrees <= 0 {
		numTrees = DefaultNumTrees
	}
	if subsampleSize <= 0 {
		subsampleSize = DefaultSubsampleSize
	}
	f := &Forest{numTrees: numTrees, subsampleSize: subsampleSize}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Ready reports whether the forest has a trained model.
func (f *Forest) Ready() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.blob != nil
}

// Train fits the forest on dataset using rng for all random choices — pass
// rand.New(rand.NewSource(seed)) for deterministic training.
func (f *Forest) Train(dataset []LabeledSample, rng *rand.Rand) error {
	if len(dataset) == 0 {
		return errs.ErrNoTrainingData
	}

	featureSet := map[string]struct{}{}
	for _, s := range dataset {
		for k := range s.Features {
			featureSet[k] = struct{}{}
		}
	}
	features := make([]string, 0, len(featureSet))
	for k := range featureSet {
		features = append(features, k)
	}
	sort.Strings(features)

	rows := make([][]float64, len(dataset))
	for i, s := range dataset {
		row := make([]float64, len(features))
		for j, feat := range features {
			row[j] = s.Features[feat]
		}
		rows[i] = row
	}

	mu := make([]float64, len(features))
	sigma := make([]float64, len(features))
	for j := range features {
		var sum float64
		for _, row := range rows {
			sum += row[j]
		}
		mean := sum / float64(len(rows))
		var sumSq float64
		for _, row := range rows {
			d := row[j] - mean
			sumSq += d * d
		}
		mu[j] = mean
		sigma[j] = math.Sqrt(sumSq / float64(len(rows)))
	}

	normalized := make([][]float64, len(rows))
	for i, row := range rows {
		normalized[i] = normalizeRow(row, mu, sigma)
	}

	trees := make([]*node, f.numTrees)
	for t := 0; t < f.numTrees; t++ {
		sub := make([][]float64, f.subsampleSize)
		for i := range sub {
			sub[i] = normalized[rng.Intn(len(normalized))]
		}
		trees[t] = buildTree(sub, features, rng)
	}

	muByFeature := make(map[string]float64, len(features))
	sigmaByFeature := make(map[string]float64, len(features))
	for j, feat := range features {
		muByFeature[feat] = mu[j]
		sigmaByFeature[feat] = sigma[j]
	}

	f.mu.Lock()
	f.blob = &modelBlob{
		Version:       modelBlobVersion,
		Features:      features,
		Mu:            muByFeature,
		Sigma:         sigmaByFeature,
		NumTrees:      f.numTrees,
		SubsampleSize: f.subsampleSize,
		Trees:         trees,
	}
	f.mu.Unlock()
	return nil
}

func normalizeRow(row, mu, sigma []float64) []float64 {
	out := make([]float64, len(row))
	for j := range row {
		if sigma[j] == 0 {
			out[j] = 0
			continue
		}
		out[j] = (row[j] - mu[j]) / sigma[j]
	}
	return out
}

func buildTree(sub [][]float64, features []string, rng *rand.Rand) *node {
	if len(sub) <= 1 {
		return &node{Leaf: true, Size: len(sub)}
	}
	featIdx := rng.Intn(len(features))
	min, max := sub[0][featIdx], sub[0][featIdx]
	for _, row := range sub[1:] {
		if row[featIdx] < min {
			min = row[featIdx]
		}
		if row[featIdx] > max {
			max = row[featIdx]
		}
	}
	if min == max {
		return &node{Leaf: true, Size: len(sub)}
	}
	split := min + rng.Float64()*(max-min)

	var left, right [][]float64
	for _, row := range sub {
		if row[featIdx] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &node{
		Feature: features[featIdx],
		Split:   split,
		Left:    buildTree(left, features, rng),
		Right:   buildTree(right, features, rng),
	}
}

// Predict scores a feature map against the trained model, per spec.md §4.3.
func (f *Forest) Predict(feats map[string]float64) (domain.AnomalyScore, error) {
	f.mu.RLock()
	blob := f.blob
	f.mu.RUnlock()

	if blob == nil {
		return domain.AnomalyScore{}, errs.ErrModelNotReady
	}

	row := make([]float64, len(blob.Features))
	for j, feat := range blob.Features {
		v, ok := feats[feat]
		if !ok {
			if f.imputedCounter != nil {
				f.imputedCounter()
			}
			v = blob.Mu[feat] // imputed as 0 after z-score: (mu-mu)/sigma = 0
		}
		sigma := blob.Sigma[feat]
		if sigma == 0 {
			row[j] = 0
			continue
		}
		row[j] = (v - blob.Mu[feat]) / sigma
	}

	var totalPathLen float64
	for _, tree := range blob.Trees {
		totalPathLen += pathLength(tree, row, blob.Features, 0)
	}
	hbar := totalPathLen / float64(len(blob.Trees))

	cSub := cFactor(blob.SubsampleSize)
	score := math.Pow(2, -hbar/cSub)
	confidence := math.Abs(score-0.5) * 2

	return domain.AnomalyScore{
		Score:      score,
		IsAnomaly:  score > 0.5,
		Confidence: confidence,
	}, nil
}

func pathLength(n *node, row []float64, features []string, depth float64) float64 {
	if n.Leaf {
		return depth + cFactor(n.Size)
	}
	idx := indexOf(features, n.Feature)
	if row[idx] < n.Split {
		return pathLength(n.Left, row, features, depth+1)
	}
	return pathLength(n.Right, row, features, depth+1)
}

func indexOf(features []string, feat string) int {
	for i, f := range features {
		if f == feat {
			return i
		}
	}
	return 0
}

// cFactor is c(n) from spec.md §4.3: the expected path length of an
// unsuccessful search in a binary search tree of n items.
func cFactor(n int) float64 {
	if n <= 1 {
		return 0
	}
	const eulerGamma = 0.5772156649
	nf := float64(n)
	return 2*(math.Log(nf-1)+eulerGamma) - 2*(nf-1)/nf
}

// Marshal serializes the trained model to its persistence blob.
func (f *Forest) Marshal() ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.blob == nil {
		return nil, errs.ErrModelNotReady
	}
	return json.Marshal(f.blob)
}

// Unmarshal loads a previously persisted model, replacing any trained
// state atomically.
func (f *Forest) Unmarshal(data []byte) error {
	var blob modelBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return err
	}
	f.mu.Lock()
	f.blob = &blob
	f.numTrees = blob.NumTrees
	f.subsampleSize = blob.SubsampleSize
	f.mu.Unlock()
	return nil
}
