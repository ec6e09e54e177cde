package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/loqalabs/loqa-gesture/internal/features"
	"github.com/mattn/go-shellwords"
)

// ExecModel runs an external command per prediction. The request is written
// as JSON to stdin and a Prediction is read from stdout.
type ExecModel struct {
	cmd []string
	mu  sync.Mutex
}

func NewExecModel(command string) (*ExecModel, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse classifier command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("classifier command empty")
	}
	return &ExecModel{cmd: args}, nil
}

func (m *ExecModel) Predict(ctx context.Context, fv features.FeatureVector) (Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	input, err := json.Marshal(newModelRequest(fv))
	if err != nil {
		return Prediction{}, err
	}
	cmd := exec.CommandContext(ctx, m.cmd[0], m.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return Prediction{}, fmt.Errorf("classifier exec command failed: %w", err)
	}
	var pred Prediction
	if err := json.Unmarshal(output, &pred); err != nil {
		return Prediction{}, fmt.Errorf("decode classifier exec response: %w", err)
	}
	return pred, nil
}
