package ml

import (
	"context"
	"fmt"
	"time"

	"lsfts/internal/dataset"

	"github.com/go-resty/resty/v2"
)

// RemoteModel is a Model backed by a Server in another process. Weight paths
// are interpreted on the server's filesystem.
type RemoteModel struct {
	base string
	rest *resty.Client
}

// NewRemoteModel creates a client for the model server at base.
func NewRemoteModel(base string, timeout time.Duration) *RemoteModel {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Minute)
	}
	return &RemoteModel{base: base, rest: r}
}

func (c *RemoteModel) post(ctx context.Context, path string, body, result any) error {
	errResp := &errorResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(result).
		SetError(errResp).
		Post(c.base + path)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("model server %s: status %d: %s", path, resp.StatusCode(), errResp.Error)
	}
	return nil
}

// InferBatch implements Inferer.
func (c *RemoteModel) InferBatch(ctx context.Context, x dataset.Features, stochastic bool) ([][]float64, error) {
	var out logitsResponse
	if err := c.post(ctx, "/v1/infer", inferRequest{X: x, Stochastic: stochastic}, &out); err != nil {
		return nil, err
	}
	return out.Logits, nil
}

// Predict implements Model.
func (c *RemoteModel) Predict(ctx context.Context, x dataset.Features, batchSize int) ([][]float64, error) {
	var out logitsResponse
	if err := c.post(ctx, "/v1/predict", predictRequest{X: x, BatchSize: batchSize}, &out); err != nil {
		return nil, err
	}
	return out.Logits, nil
}

// Fit implements Model.
func (c *RemoteModel) Fit(ctx context.Context, req FitRequest) (History, error) {
	var hist History
	err := c.post(ctx, "/v1/fit", req, &hist)
	return hist, err
}

// Evaluate implements Model.
func (c *RemoteModel) Evaluate(ctx context.Context, x dataset.Features, y []int) (Evaluation, error) {
	var ev Evaluation
	err := c.post(ctx, "/v1/evaluate", evaluateRequest{X: x, Y: y}, &ev)
	return ev, err
}

// SaveWeights implements Model.
func (c *RemoteModel) SaveWeights(path string) error {
	return c.post(context.Background(), "/v1/weights/save", weightsRequest{Path: path}, &map[string]string{})
}

// LoadWeights implements Model.
func (c *RemoteModel) LoadWeights(path string) error {
	return c.post(context.Background(), "/v1/weights/load", weightsRequest{Path: path}, &map[string]string{})
}

// Reset asks the server to replace its model with a freshly constructed one.
func (c *RemoteModel) Reset(ctx context.Context, cfg ModelConfig) error {
	req := resetRequest{Config: cfg}
	if d, ok := cfg.Schedule.(PolynomialDecay); ok {
		req.Decay = &d
	}
	return c.post(ctx, "/v1/reset", req, &map[string]string{})
}

// RemoteConstructor returns a Constructor that resets the model served at
// base and hands back a client for it. Every model it returns shares the one
// server-side model, so only the most recent one is live.
func RemoteConstructor(base string, timeout time.Duration) Constructor {
	return func(cfg ModelConfig) (Model, error) {
		m := NewRemoteModel(base, timeout)
		if err := m.Reset(context.Background(), cfg); err != nil {
			return nil, err
		}
		return m, nil
	}
}

// SharesWeights implements SharedWeights.
func (c *RemoteModel) SharesWeights() bool { return true }

// Health checks that the server answers.
func (c *RemoteModel) Health(ctx context.Context) error {
	resp, err := c.rest.R().SetContext(ctx).Get(c.base + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("health check: status %d", resp.StatusCode())
	}
	return nil
}
