package classifier

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/loqalabs/loqa-gesture/internal/features"
	"gonum.org/v1/gonum/floats"
)

// CentroidModel scores each label by squared distance to its centroid and
// turns the scores into probabilities with a softmax. Lower sharpness gives
// peakier distributions.
type CentroidModel struct {
	labels    []string
	centroids [][]float64
	sharpness float64
}

func NewCentroidModel(centroids map[string][]float64, sharpness float64) (*CentroidModel, error) {
	if len(centroids) == 0 {
		return nil, fmt.Errorf("centroid model needs at least one label")
	}
	if sharpness <= 0 {
		return nil, fmt.Errorf("centroid sharpness must be > 0, got %v", sharpness)
	}
	m := &CentroidModel{sharpness: sharpness}
	for label := range centroids {
		m.labels = append(m.labels, label)
	}
	sort.Strings(m.labels)
	for _, label := range m.labels {
		c := centroids[label]
		if len(c) != 6 {
			return nil, fmt.Errorf("centroid %q has %d values, want 6", label, len(c))
		}
		m.centroids = append(m.centroids, append([]float64(nil), c...))
	}
	return m, nil
}

func (m *CentroidModel) Predict(ctx context.Context, fv features.FeatureVector) (Prediction, error) {
	if err := ctx.Err(); err != nil {
		return Prediction{}, err
	}
	x := fv[:]
	scores := make([]float64, len(m.centroids))
	for i, c := range m.centroids {
		d := floats.Distance(x, c, 2)
		scores[i] = -(d * d) / m.sharpness
	}
	maxScore := floats.Max(scores)
	for i := range scores {
		scores[i] = math.Exp(scores[i] - maxScore)
	}
	floats.Scale(1/floats.Sum(scores), scores)

	probs := make(map[string]float64, len(m.labels))
	for i, label := range m.labels {
		probs[label] = scores[i]
	}
	return Prediction{Label: m.labels[floats.MaxIdx(scores)], Probabilities: probs}, nil
}
