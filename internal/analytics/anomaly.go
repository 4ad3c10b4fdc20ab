package analytics

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/shizukutanaka/logpulse/internal/common"
)

const (
	// MinWindowsForScoring is the smallest window count worth modeling
	MinWindowsForScoring = 5

	defaultTrees     = 100
	defaultSubsample = 256

	eulerGamma = 0.5772156649015329
)

// ScorerConfig configures the anomaly scorer
type ScorerConfig struct {
	// Contamination is the expected fraction of anomalous windows, in (0, 0.5)
	Contamination float64
	// Seed fixes the model so identical input yields identical scores
	Seed  int64
	Trees int
}

// Scorer assigns each feature window an anomaly score in [0, 1] using an
// isolation forest. Higher scores are more anomalous.
type Scorer struct {
	contamination float64
	seed          int64
	trees         int
	logger        *zap.Logger
}

// WindowScore is one scored window
type WindowScore struct {
	Window    FeatureWindow
	Score     float64
	Anomalous bool
}

// NewScorer creates an anomaly scorer
func NewScorer(cfg ScorerConfig, logger *zap.Logger) *Scorer {
	if cfg.Contamination <= 0 || cfg.Contamination >= 0.5 {
		cfg.Contamination = 0.1
	}
	if cfg.Trees <= 0 {
		cfg.Trees = defaultTrees
	}
	return &Scorer{
		contamination: cfg.Contamination,
		seed:          cfg.Seed,
		trees:         cfg.Trees,
		logger:        logger,
	}
}

// Score fits an isolation forest on the window features and scores every
// window. Windows scoring above the (1 - contamination) quantile are flagged
// anomalous. Returns common.ErrInsufficientData when there are fewer than
// MinWindowsForScoring windows.
func (s *Scorer) Score(windows []FeatureWindow) ([]WindowScore, float64, error) {
	if len(windows) < MinWindowsForScoring {
		return nil, 0, common.ErrInsufficientData
	}

	data := make([][]float64, len(windows))
	for i, w := range windows {
		data[i] = w.Vector()
	}

	forest := buildForest(data, s.trees, s.seed)

	scores := make([]float64, len(windows))
	for i, row := range data {
		scores[i] = forest.score(row)
	}

	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)
	threshold := stat.Quantile(1-s.contamination, stat.Empirical, sorted, nil)

	scored := make([]WindowScore, len(windows))
	anomalous := 0
	for i, w := range windows {
		scored[i] = WindowScore{
			Window:    w,
			Score:     scores[i],
			Anomalous: scores[i] > threshold,
		}
		if scored[i].Anomalous {
			anomalous++
		}
	}

	s.logger.Debug("Scored windows",
		zap.Int("windows", len(windows)),
		zap.Int("anomalous", anomalous),
		zap.Float64("threshold", threshold),
	)

	return scored, threshold, nil
}

// Describe summarizes a window for human readers
func Describe(w FeatureWindow) string {
	return fmt.Sprintf("%d events, %d errors (%.2f%% error rate), %d warnings, %d services",
		w.TotalCount, w.ErrorCount, w.ErrorRate*100, w.WarnCount, w.UniqueServices)
}

// isoNode is one node of an isolation tree. Leaves have a nil left child.
type isoNode struct {
	feature     int
	split       float64
	left, right *isoNode
	size        int
}

type isoForest struct {
	trees     []*isoNode
	subsample int
}

// buildForest grows trees on random subsamples. All randomness comes from one
// seeded source, so the forest is a pure function of data, trees and seed.
func buildForest(data [][]float64, trees int, seed int64) *isoForest {
	rng := rand.New(rand.NewSource(seed))

	psi := len(data)
	if psi > defaultSubsample {
		psi = defaultSubsample
	}
	heightLimit := int(math.Ceil(math.Log2(float64(psi))))

	forest := &isoForest{
		trees:     make([]*isoNode, 0, trees),
		subsample: psi,
	}
	sample := make([][]float64, psi)
	for i := 0; i < trees; i++ {
		for j := range sample {
			sample[j] = data[rng.Intn(len(data))]
		}
		forest.trees = append(forest.trees, buildTree(sample, 0, heightLimit, rng))
	}

	return forest
}

// buildTree recursively splits on a random feature at a random point between
// the feature's observed bounds. Features with no spread cannot split; when
// none has spread the node becomes a leaf.
func buildTree(data [][]float64, depth, limit int, rng *rand.Rand) *isoNode {
	if depth >= limit || len(data) <= 1 {
		return &isoNode{size: len(data)}
	}

	for _, feature := range rng.Perm(len(data[0])) {
		lo, hi := data[0][feature], data[0][feature]
		for _, row := range data[1:] {
			if row[feature] < lo {
				lo = row[feature]
			}
			if row[feature] > hi {
				hi = row[feature]
			}
		}
		if hi <= lo {
			continue
		}

		split := lo + rng.Float64()*(hi-lo)
		var left, right [][]float64
		for _, row := range data {
			if row[feature] < split {
				left = append(left, row)
			} else {
				right = append(right, row)
			}
		}

		return &isoNode{
			feature: feature,
			split:   split,
			left:    buildTree(left, depth+1, limit, rng),
			right:   buildTree(right, depth+1, limit, rng),
			size:    len(data),
		}
	}

	return &isoNode{size: len(data)}
}

func (n *isoNode) pathLength(x []float64, depth float64) float64 {
	if n.left == nil {
		return depth + avgPathLength(float64(n.size))
	}
	if x[n.feature] < n.split {
		return n.left.pathLength(x, depth+1)
	}
	return n.right.pathLength(x, depth+1)
}

// score is 2^(-E[h(x)] / c(psi)), which lies in (0, 1]. Short average paths
// mean easy isolation, so scores near 1 are anomalous.
func (f *isoForest) score(x []float64) float64 {
	var sum float64
	for _, tree := range f.trees {
		sum += tree.pathLength(x, 0)
	}
	mean := sum / float64(len(f.trees))

	c := avgPathLength(float64(f.subsample))
	if c == 0 {
		return 0
	}
	return math.Pow(2, -mean/c)
}

// avgPathLength is c(n), the average path length of an unsuccessful search in
// a binary search tree of n nodes
func avgPathLength(n float64) float64 {
	if n <= 1 {
		return 0
	}
	return 2*(math.Log(n-1)+eulerGamma) - 2*(n-1)/n
}
