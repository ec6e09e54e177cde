package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-gesture/internal/config"
	"github.com/loqalabs/loqa-gesture/internal/features"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubModel struct {
	pred  Prediction
	err   error
	calls int
}

func (s *stubModel) Predict(ctx context.Context, _ features.FeatureVector) (Prediction, error) {
	s.calls++
	return s.pred, s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdapterMapsClassIDs(t *testing.T) {
	model := &stubModel{pred: Prediction{
		Label:         "5",
		Probabilities: map[string]float64{"0": 0.1, "5": 0.9},
	}}
	a := NewAdapter(model, map[string]string{"0": "hello", "5": "clench"}, 0)

	res, err := a.Classify(context.Background(), features.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, "clench", res.Label)
	assert.InDelta(t, 0.9, res.Confidence, 1e-12)
	assert.InDelta(t, 0.1, res.Distribution["hello"], 1e-12)
}

func TestAdapterNoCaching(t *testing.T) {
	model := &stubModel{pred: Prediction{Probabilities: map[string]float64{"a": 1}}}
	a := NewAdapter(model, nil, 0)
	for i := 0; i < 3; i++ {
		_, err := a.Classify(context.Background(), features.FeatureVector{1, 2, 3})
		require.NoError(t, err)
	}
	assert.Equal(t, 3, model.calls)
}

func TestAdapterArgmaxWhenLabelMissing(t *testing.T) {
	a := NewAdapter(&stubModel{pred: Prediction{
		Probabilities: map[string]float64{"world": 0.3, "hello": 0.7},
	}}, nil, 0)
	res, err := a.Classify(context.Background(), features.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Label)
}

func TestAdapterRenormalisesWithinTolerance(t *testing.T) {
	a := NewAdapter(&stubModel{pred: Prediction{
		Label:         "a",
		Probabilities: map[string]float64{"a": 0.505, "b": 0.505},
	}}, nil, 0)
	res, err := a.Classify(context.Background(), features.FeatureVector{})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Confidence, 1e-12)
}

func TestAdapterRejects(t *testing.T) {
	cases := map[string]struct {
		pred Prediction
		err  error
	}{
		"empty":        {Prediction{}, ErrEmptyDistribution},
		"bad sum":      {Prediction{Probabilities: map[string]float64{"a": 0.4}}, ErrInvalidDistribution},
		"negative":     {Prediction{Probabilities: map[string]float64{"a": 1.2, "b": -0.2}}, ErrInvalidDistribution},
		"label absent": {Prediction{Label: "c", Probabilities: map[string]float64{"a": 1}}, ErrMissingLabel},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			a := NewAdapter(&stubModel{pred: tc.pred}, nil, 0)
			_, err := a.Classify(context.Background(), features.FeatureVector{})
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestAdapterPropagatesModelError(t *testing.T) {
	boom := errors.New("boom")
	a := NewAdapter(&stubModel{err: boom}, nil, 0)
	_, err := a.Classify(context.Background(), features.FeatureVector{})
	assert.ErrorIs(t, err, boom)
}

func TestCentroidModelNearestWins(t *testing.T) {
	cfg := config.Default().Classifier
	m, err := NewCentroidModel(cfg.Centroids, cfg.Sharpness)
	require.NoError(t, err)

	for label, c := range cfg.Centroids {
		var fv features.FeatureVector
		copy(fv[:], c)
		pred, err := m.Predict(context.Background(), fv)
		require.NoError(t, err)
		assert.Equal(t, label, pred.Label)

		var sum float64
		for _, p := range pred.Probabilities {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
		assert.Greater(t, pred.Probabilities[label], 0.8, "centroid %s should be confident", label)
	}
}

func TestCentroidModelValidation(t *testing.T) {
	_, err := NewCentroidModel(nil, 1)
	assert.Error(t, err)
	_, err = NewCentroidModel(map[string][]float64{"a": {1, 2, 3}}, 1)
	assert.Error(t, err)
	_, err = NewCentroidModel(map[string][]float64{"a": {1, 2, 3, 4, 5, 6}}, 0)
	assert.Error(t, err)
}

func TestHTTPModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predict", r.URL.Path)
		var req modelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, [6]float64{1, 0, 0, 0, 0, 0}, req.Features)
		_ = json.NewEncoder(w).Encode(Prediction{Label: "2", Probabilities: map[string]float64{"2": 0.95, "4": 0.05}})
	}))
	defer srv.Close()

	a := NewAdapter(NewHTTPModel(srv.URL+"/", nil), map[string]string{"2": "connect", "4": "silence"}, time.Second)
	res, err := a.Classify(context.Background(), features.FeatureVector{1})
	require.NoError(t, err)
	assert.Equal(t, "connect", res.Label)
}

func TestHTTPModelStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPModel(srv.URL, nil).Predict(context.Background(), features.FeatureVector{})
	assert.ErrorContains(t, err, "model not loaded")
}

func TestExecModel(t *testing.T) {
	script := filepath.Join(t.TempDir(), "model.sh")
	body := "#!/bin/sh\ncat > /dev/null\necho '{\"label\":\"1\",\"probabilities\":{\"0\":0.25,\"1\":0.75}}'\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	m, err := NewExecModel("sh " + script)
	require.NoError(t, err)
	a := NewAdapter(m, map[string]string{"0": "hello", "1": "empower"}, 5*time.Second)
	res, err := a.Classify(context.Background(), features.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, "empower", res.Label)
	assert.InDelta(t, 0.75, res.Confidence, 1e-12)

	_, err = NewExecModel("")
	assert.Error(t, err)
}

func TestFactoryDefaultsToCentroid(t *testing.T) {
	a, closer, err := New(context.Background(), config.Default().Classifier, testLogger())
	require.NoError(t, err)
	defer closer(context.Background())

	res, err := a.Classify(context.Background(), features.FeatureVector{0, 0, -1, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, "silence", res.Label)

	bad := config.Default().Classifier
	bad.Mode = "svm"
	_, _, err = New(context.Background(), bad, testLogger())
	assert.Error(t, err)
}
