package vision

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"feedback-service/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultTopK is how many candidates an identification returns when the
// caller does not ask for a specific count.
const DefaultTopK = 5

// Fallback confidence band for simulated results.
const (
	fallbackConfidenceMin  = 75.0
	fallbackConfidenceSpan = 20.0
)

// Scorer produces raw per-class scores for a preprocessed image tensor.
// Scores are probability-like values in [0,1], one per catalog class.
// The model behind it is an external collaborator.
type Scorer interface {
	Scores(ctx context.Context, tensor []float32) ([]float64, error)
}

// Result is a confidence-ranked identification. Simulated marks
// placeholder results produced without a working classifier; consumers
// must never mistake those for genuine predictions.
type Result struct {
	Matches   []models.Candidate `json:"matches"`
	Simulated bool               `json:"simulated"`
}

// Ranker turns raw classifier scores into ranked top-k candidates.
// Inference runs through a bounded pool so slow or failing scorer calls
// never starve the feedback path.
type Ranker struct {
	scorer  Scorer
	catalog *Catalog
	sem     *semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger
}

// NewRanker creates a ranker. scorer may be nil, in which case every
// identification takes the fallback path.
func NewRanker(scorer Scorer, catalog *Catalog, maxConcurrent int, timeout time.Duration, logger *zap.Logger) *Ranker {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Ranker{
		scorer:  scorer,
		catalog: catalog,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		timeout: timeout,
		logger:  logger,
	}
}

// Ready reports whether a real scorer is wired in.
func (r *Ranker) Ready() bool {
	return r.scorer != nil && r.catalog.Len() > 0
}

// Identify ranks the top-k classes for an image. Any failure along the
// inference path (no scorer, bad image, scorer error, timeout) degrades
// to a simulated single-candidate result rather than an error.
func (r *Ranker) Identify(ctx context.Context, imageBytes []byte, topK int) *Result {
	if topK <= 0 {
		topK = DefaultTopK
	}

	if r.scorer == nil {
		return r.fallback("no classifier loaded")
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return r.fallback("inference pool unavailable: " + err.Error())
	}
	defer r.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tensor, err := Preprocess(imageBytes)
	if err != nil {
		return r.fallback("preprocess failed: " + err.Error())
	}

	scores, err := r.scorer.Scores(ctx, tensor)
	if err != nil {
		return r.fallback("inference failed: " + err.Error())
	}

	return &Result{Matches: r.TopK(scores, topK)}
}

// TopK selects the k highest-scoring classes, sorted descending with
// ties broken by class index, and converts scores to percentage
// confidences clamped to [0,100]. Indices beyond the catalog are
// dropped.
func (r *Ranker) TopK(scores []float64, k int) []models.Candidate {
	indices := make([]int, len(scores))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return scores[indices[a]] > scores[indices[b]]
	})

	matches := make([]models.Candidate, 0, k)
	for _, idx := range indices {
		if len(matches) == k {
			break
		}
		plantID, ok := r.catalog.ClassID(idx)
		if !ok {
			continue
		}
		matches = append(matches, models.Candidate{
			PlantID:    plantID,
			Confidence: clampConfidence(scores[idx] * 100),
		})
	}
	return matches
}

// fallback returns a single plausible candidate from the catalog,
// explicitly flagged as simulated.
func (r *Ranker) fallback(reason string) *Result {
	r.logger.Warn("Identification degraded to simulated result", zap.String("reason", reason))

	ids := r.catalog.IDs()
	if len(ids) == 0 {
		return &Result{Matches: []models.Candidate{}, Simulated: true}
	}

	return &Result{
		Matches: []models.Candidate{{
			PlantID:    ids[rand.Intn(len(ids))],
			Confidence: fallbackConfidenceMin + rand.Float64()*fallbackConfidenceSpan,
		}},
		Simulated: true,
	}
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
