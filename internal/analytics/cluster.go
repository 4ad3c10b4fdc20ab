package analytics

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/shizukutanaka/logpulse/internal/common"
	"github.com/shizukutanaka/logpulse/internal/database"
)

const (
	// MinMessagesForClustering is the smallest corpus worth clustering
	MinMessagesForClustering = 2

	// Tokens appearing in more than this fraction of messages carry no signal
	maxDocFrequency = 0.95

	topKeywords      = 5
	kmeansIterations = 100
)

// Common words that never identify an error class
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"but": {}, "by": {}, "for": {}, "from": {}, "has": {}, "have": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "not": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "will": {}, "with": {},
}

// ClustererConfig configures error message clustering
type ClustererConfig struct {
	// MaxClusters caps the cluster count regardless of corpus size
	MaxClusters int
	// MaxVocabulary caps the TF-IDF vocabulary, keeping the most frequent terms
	MaxVocabulary int
	// Seed fixes centroid initialization so identical input yields identical clusters
	Seed int64
}

// Clusterer groups error messages by TF-IDF similarity
type Clusterer struct {
	maxClusters   int
	maxVocabulary int
	seed          int64
	logger        *zap.Logger
}

// Cluster is one group of similar error messages
type Cluster struct {
	Label     int
	Example   string
	Keywords  []string
	Count     int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// NewClusterer creates an error message clusterer
func NewClusterer(cfg ClustererConfig, logger *zap.Logger) *Clusterer {
	if cfg.MaxClusters < 2 {
		cfg.MaxClusters = 20
	}
	if cfg.MaxVocabulary <= 0 {
		cfg.MaxVocabulary = 1000
	}
	return &Clusterer{
		maxClusters:   cfg.MaxClusters,
		maxVocabulary: cfg.MaxVocabulary,
		seed:          cfg.Seed,
		logger:        logger,
	}
}

// Cluster vectorizes the messages with TF-IDF and partitions them with
// k-means, k = min(maxClusters, max(2, n/5)) capped at n. Clusters come back
// ordered by member count, largest first, relabeled from zero. Returns
// common.ErrInsufficientData below MinMessagesForClustering and
// common.ErrEmptyVocabulary when no message yields a usable token.
func (c *Clusterer) Cluster(messages []database.ErrorMessage) ([]Cluster, error) {
	n := len(messages)
	if n < MinMessagesForClustering {
		return nil, common.ErrInsufficientData
	}

	docs := make([][]string, n)
	for i, m := range messages {
		docs[i] = tokenize(m.Message)
	}

	terms, index := c.buildVocabulary(docs)
	if len(terms) == 0 {
		return nil, common.ErrEmptyVocabulary
	}

	tfidf := vectorize(docs, terms, index)

	k := n / 5
	if k < 2 {
		k = 2
	}
	if k > c.maxClusters {
		k = c.maxClusters
	}
	if k > n {
		k = n
	}

	assignments, centroids := kmeans(tfidf, k, c.seed)

	clusters := c.collect(messages, tfidf, assignments, centroids, terms)

	c.logger.Debug("Clustered error messages",
		zap.Int("messages", n),
		zap.Int("clusters", len(clusters)),
	)

	return clusters, nil
}

// tokenize lowercases and splits on non-alphanumerics, dropping stopwords and
// single characters
func tokenize(message string) []string {
	fields := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, ok := stopwords[f]; ok {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// buildVocabulary keeps the maxVocabulary most frequent terms, excluding those
// present in more than maxDocFrequency of the documents. Ties break
// lexicographically so the vocabulary is deterministic.
func (c *Clusterer) buildVocabulary(docs [][]string) ([]string, map[string]int) {
	termFreq := make(map[string]int)
	docFreq := make(map[string]int)

	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, t := range doc {
			termFreq[t]++
			seen[t] = struct{}{}
		}
		for t := range seen {
			docFreq[t]++
		}
	}

	dfLimit := int(maxDocFrequency * float64(len(docs)))
	terms := make([]string, 0, len(termFreq))
	for t := range termFreq {
		if len(docs) > 1 && docFreq[t] > dfLimit {
			continue
		}
		terms = append(terms, t)
	}

	sort.Slice(terms, func(i, j int) bool {
		if termFreq[terms[i]] != termFreq[terms[j]] {
			return termFreq[terms[i]] > termFreq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > c.maxVocabulary {
		terms = terms[:c.maxVocabulary]
	}

	index := make(map[string]int, len(terms))
	for i, t := range terms {
		index[t] = i
	}
	return terms, index
}

// vectorize builds the l2-normalized TF-IDF matrix, one row per document.
// IDF is smoothed: ln((1+n)/(1+df)) + 1.
func vectorize(docs [][]string, terms []string, index map[string]int) *mat.Dense {
	n := len(docs)

	docFreq := make([]int, len(terms))
	for _, doc := range docs {
		seen := make(map[int]struct{}, len(doc))
		for _, t := range doc {
			if i, ok := index[t]; ok {
				seen[i] = struct{}{}
			}
		}
		for i := range seen {
			docFreq[i]++
		}
	}

	idf := make([]float64, len(terms))
	for i, df := range docFreq {
		idf[i] = math.Log(float64(1+n)/float64(1+df)) + 1
	}

	tfidf := mat.NewDense(n, len(terms), nil)
	row := make([]float64, len(terms))
	for d, doc := range docs {
		for i := range row {
			row[i] = 0
		}
		for _, t := range doc {
			if i, ok := index[t]; ok {
				row[i] += idf[i]
			}
		}
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
		tfidf.SetRow(d, row)
	}

	return tfidf
}

// kmeans partitions the rows of x into k clusters with seeded k-means++
// initialization. Returns per-row assignments and the final centroids.
func kmeans(x *mat.Dense, k int, seed int64) ([]int, [][]float64) {
	n, dims := x.Dims()
	rng := rand.New(rand.NewSource(seed))

	centroids := make([][]float64, 0, k)
	first := make([]float64, dims)
	copy(first, x.RawRowView(rng.Intn(n)))
	centroids = append(centroids, first)

	// k-means++: each next centroid is drawn weighted by squared distance to
	// the nearest existing centroid
	dist2 := make([]float64, n)
	for len(centroids) < k {
		var sum float64
		for i := 0; i < n; i++ {
			best := math.Inf(1)
			for _, c := range centroids {
				d := floats.Distance(x.RawRowView(i), c, 2)
				if d*d < best {
					best = d * d
				}
			}
			dist2[i] = best
			sum += best
		}

		pick := rng.Intn(n)
		if sum > 0 {
			r := rng.Float64() * sum
			var acc float64
			for i := 0; i < n; i++ {
				acc += dist2[i]
				if acc >= r {
					pick = i
					break
				}
			}
		}

		next := make([]float64, dims)
		copy(next, x.RawRowView(pick))
		centroids = append(centroids, next)
	}

	assignments := make([]int, n)
	counts := make([]int, k)
	for iter := 0; iter < kmeansIterations; iter++ {
		changed := false
		for i := 0; i < n; i++ {
			best, bestDist := 0, math.Inf(1)
			for j, c := range centroids {
				if d := floats.Distance(x.RawRowView(i), c, 2); d < bestDist {
					best, bestDist = j, d
				}
			}
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if iter > 0 && !changed {
			break
		}

		for j := range centroids {
			counts[j] = 0
			for d := range centroids[j] {
				centroids[j][d] = 0
			}
		}
		for i := 0; i < n; i++ {
			j := assignments[i]
			counts[j]++
			floats.Add(centroids[j], x.RawRowView(i))
		}
		for j := range centroids {
			// Empty centroids keep their position
			if counts[j] > 0 {
				floats.Scale(1/float64(counts[j]), centroids[j])
			}
		}
	}

	return assignments, centroids
}

// collect materializes clusters from the k-means output: member counts, the
// member closest to the centroid as the example, the top centroid terms as
// keywords, and the member timestamp range. Empty clusters are dropped and
// the rest relabeled by size.
func (c *Clusterer) collect(
	messages []database.ErrorMessage,
	tfidf *mat.Dense,
	assignments []int,
	centroids [][]float64,
	terms []string,
) []Cluster {
	type member struct {
		index int
		dist  float64
	}
	groups := make(map[int][]member)
	for i, label := range assignments {
		groups[label] = append(groups[label], member{
			index: i,
			dist:  floats.Distance(tfidf.RawRowView(i), centroids[label], 2),
		})
	}

	clusters := make([]Cluster, 0, len(groups))
	for label, members := range groups {
		example := members[0]
		first := messages[members[0].index].Timestamp
		last := first
		for _, m := range members[1:] {
			if m.dist < example.dist {
				example = m
			}
			ts := messages[m.index].Timestamp
			if ts.Before(first) {
				first = ts
			}
			if ts.After(last) {
				last = ts
			}
		}

		clusters = append(clusters, Cluster{
			Label:     label,
			Example:   messages[example.index].Message,
			Keywords:  topTerms(centroids[label], terms, topKeywords),
			Count:     int64(len(members)),
			FirstSeen: first,
			LastSeen:  last,
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Example < clusters[j].Example
	})
	for i := range clusters {
		clusters[i].Label = i
	}

	return clusters
}

// topTerms returns the highest-weighted vocabulary terms of a centroid
func topTerms(centroid []float64, terms []string, limit int) []string {
	order := make([]int, len(centroid))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		if centroid[order[a]] != centroid[order[b]] {
			return centroid[order[a]] > centroid[order[b]]
		}
		return terms[order[a]] < terms[order[b]]
	})

	keywords := make([]string, 0, limit)
	for _, i := range order {
		if centroid[i] <= 0 || len(keywords) == limit {
			break
		}
		keywords = append(keywords, terms[i])
	}
	return keywords
}
