package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-gesture/internal/features"
)

// HTTPModel posts the feature vector to `{endpoint}/predict`.
type HTTPModel struct {
	endpoint string
	client   *http.Client
}

func NewHTTPModel(endpoint string, client *http.Client) *HTTPModel {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPModel{endpoint: strings.TrimRight(endpoint, "/"), client: client}
}

func (m *HTTPModel) Predict(ctx context.Context, fv features.FeatureVector) (Prediction, error) {
	body, err := json.Marshal(newModelRequest(fv))
	if err != nil {
		return Prediction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+"/predict", bytes.NewReader(body))
	if err != nil {
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return Prediction{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Prediction{}, fmt.Errorf("classifier returned status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, fmt.Errorf("decode classifier response: %w", err)
	}
	return pred, nil
}
