// Package registry implements the external model-registry client used to
// derive per-model kudos multipliers from total parameter counts.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Client queries a model registry over HTTP. Lookups are retried with
// exponential backoff; an unknown model surfaces as an error and the broker
// falls back to a multiplier of 1.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a registry client against the given base URL.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type modelInfo struct {
	ID string `json:"id"`
	// SafeTensors carries the parameter inventory for hosted models.
	SafeTensors struct {
		Total float64 `json:"total"`
	} `json:"safetensors"`
}

// ParamsBillions returns the model's total parameter count in billions.
func (c *Client) ParamsBillions(ctx context.Context, model string) (float64, error) {
	if model == "" {
		return 0, fmt.Errorf("model name required")
	}
	var info modelInfo
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			c.baseURL+"/api/models/"+url.PathEscape(model), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("model %q not found in registry", model))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("registry returned status %d", resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
			return backoff.Permanent(fmt.Errorf("decode registry response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.httpClient.Timeout
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return 0, err
	}
	if info.SafeTensors.Total <= 0 {
		return 0, fmt.Errorf("registry has no parameter count for model %q", model)
	}
	return info.SafeTensors.Total / 1e9, nil
}
