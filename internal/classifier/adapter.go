package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/features"
)

// sumTolerance is how far a distribution may stray from 1 before it is
// rejected instead of renormalised.
const sumTolerance = 0.02

// Adapter validates backend output and maps class ids to names.
type Adapter struct {
	model   Model
	labels  map[string]string
	timeout time.Duration
}

func NewAdapter(model Model, labels map[string]string, timeout time.Duration) *Adapter {
	copied := make(map[string]string, len(labels))
	for k, v := range labels {
		copied[k] = v
	}
	return &Adapter{model: model, labels: copied, timeout: timeout}
}

// Classify runs one fresh forward pass. No results are cached.
func (a *Adapter) Classify(ctx context.Context, fv features.FeatureVector) (Result, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	pred, err := a.model.Predict(ctx, fv)
	if err != nil {
		return Result{}, fmt.Errorf("predict: %w", err)
	}
	return a.normalize(pred)
}

func (a *Adapter) normalize(pred Prediction) (Result, error) {
	if len(pred.Probabilities) == 0 {
		return Result{}, ErrEmptyDistribution
	}
	dist := make(map[string]float64, len(pred.Probabilities))
	var sum float64
	for key, p := range pred.Probabilities {
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 1+sumTolerance {
			return Result{}, fmt.Errorf("%w: %s=%v", ErrInvalidDistribution, key, p)
		}
		dist[a.name(key)] += p
		sum += p
	}
	if math.Abs(sum-1) > sumTolerance {
		return Result{}, fmt.Errorf("%w: probabilities sum to %v", ErrInvalidDistribution, sum)
	}
	for k := range dist {
		dist[k] /= sum
	}

	label := a.name(pred.Label)
	if pred.Label == "" {
		label = argmax(dist)
	}
	conf, ok := dist[label]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrMissingLabel, label)
	}
	return Result{Label: label, Confidence: conf, Distribution: dist}, nil
}

func (a *Adapter) name(key string) string {
	if n, ok := a.labels[key]; ok {
		return n
	}
	return key
}

func argmax(dist map[string]float64) string {
	keys := make([]string, 0, len(dist))
	for k := range dist {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := keys[0]
	for _, k := range keys[1:] {
		if dist[k] > dist[best] {
			best = k
		}
	}
	return best
}
