// Package classifier maps averaged feature vectors to a gesture label and a
// probability distribution through a pluggable model backend.
package classifier

import (
	"context"
	"errors"

	"github.com/loqalabs/loqa-gesture/internal/features"
)

var (
	ErrEmptyDistribution   = errors.New("classifier returned an empty distribution")
	ErrInvalidDistribution = errors.New("classifier returned an invalid distribution")
	ErrMissingLabel        = errors.New("classifier label not present in distribution")
)

// Result is the validated output of one forward pass.
type Result struct {
	Label        string             `json:"label"`
	Confidence   float64            `json:"confidence"`
	Distribution map[string]float64 `json:"distribution"`
}

// Prediction is what a backend returns. Keys may be class names or numeric
// class ids; Label may be empty, in which case the most probable key wins.
type Prediction struct {
	Label         string             `json:"label,omitempty"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Model is a black-box classification function. Implementations must be safe
// to call from one goroutine at a time; they are never retried.
type Model interface {
	Predict(ctx context.Context, fv features.FeatureVector) (Prediction, error)
}

// modelRequest is the JSON body sent to exec, http and wasm backends.
type modelRequest struct {
	Features [6]float64 `json:"features"`
	Columns  []string   `json:"columns"`
}

var featureColumns = []string{"xAccel", "yAccel", "zAccel", "xRot", "yRot", "zRot"}

func newModelRequest(fv features.FeatureVector) modelRequest {
	return modelRequest{Features: fv, Columns: featureColumns}
}
