package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPConfig configures the HTTP adapter implementation.
type HTTPConfig struct {
	Endpoint    string
	HeaderName  string
	HeaderValue string
	Timeout     time.Duration
}

// HTTPAdapter talks to the engine over HTTP with a configurable
// authentication header.
type HTTPAdapter struct {
	cfg    HTTPConfig
	client *http.Client
	logger *slog.Logger
}

// NewHTTPAdapter creates an HTTPAdapter.
func NewHTTPAdapter(cfg HTTPConfig, logger *slog.Logger) *HTTPAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAdapter{cfg: cfg, client: &http.Client{Timeout: timeout}, logger: logger}
}

type triggerWire struct {
	Kind        string            `json:"kind"`
	Application string            `json:"application"`
	Pipeline    string            `json:"pipeline"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

type triggerResponseWire struct {
	ExecutionID string `json:"executionId"`
}

func (a *HTTPAdapter) Trigger(ctx context.Context, req TriggerRequest) (string, error) {
	body, err := json.Marshal(triggerWire{
		Kind:        req.Kind,
		Application: req.Application,
		Pipeline:    req.Pipeline,
		Parameters:  req.Parameters,
	})
	if err != nil {
		return "", &ErrTriggerFailed{Reason: "encode request"}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Endpoint+"/executions", bytes.NewReader(body))
	if err != nil {
		return "", &ErrTriggerFailed{Reason: "build request"}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	a.setAuthHeader(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.logger.Warn("engine trigger request failed", "error", err)
		return "", &ErrTriggerFailed{Reason: "request failed"}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Warn("engine trigger returned non-2xx", "status", resp.StatusCode)
		return "", &ErrTriggerFailed{Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var wire triggerResponseWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return "", &ErrTriggerFailed{Reason: "decode response"}
	}
	if wire.ExecutionID == "" {
		return "", &ErrTriggerFailed{Reason: "empty execution id"}
	}
	return wire.ExecutionID, nil
}

type statusWire struct {
	State    string          `json:"state"`
	Failures []failureWire   `json:"failures"`
}

type failureWire struct {
	Category string `json:"category"`
	Summary  string `json:"summary"`
	Detail   string `json:"detail"`
}

func (a *HTTPAdapter) Status(ctx context.Context, executionID string) (StatusResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.Endpoint+"/executions/"+executionID, nil)
	if err != nil {
		return StatusResult{}, err
	}
	a.setAuthHeader(httpReq)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return StatusResult{}, fmt.Errorf("engine: status request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StatusResult{}, fmt.Errorf("engine: status returned %d", resp.StatusCode)
	}

	var wire statusWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return StatusResult{}, fmt.Errorf("engine: decode status response")
	}

	return StatusResult{
		State:    State(wire.State),
		Failures: normalizeFailures(wire.Failures),
	}, nil
}

func (a *HTTPAdapter) Failures(ctx context.Context, executionID string) ([]Failure, error) {
	result, err := a.Status(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return result.Failures, nil
}

func (a *HTTPAdapter) setAuthHeader(req *http.Request) {
	if a.cfg.HeaderName != "" {
		req.Header.Set(a.cfg.HeaderName, a.cfg.HeaderValue)
	}
}
