// Package mlclient talks to the external model-serving API that scores
// preprocessed images. The model itself (architecture, training) lives
// entirely behind this HTTP boundary.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the model scoring API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ScoreRequest carries one preprocessed image tensor.
type ScoreRequest struct {
	Inputs   []float32 `json:"inputs"`
	Width    int       `json:"width"`
	Height   int       `json:"height"`
	Channels int       `json:"channels"`
}

// ScoreResponse is the raw per-class score vector.
type ScoreResponse struct {
	Scores           []float64 `json:"scores"`
	ModelVersion     string    `json:"model_version,omitempty"`
	ProcessingTimeMs float64   `json:"processing_time_ms,omitempty"`
}

// HealthResponse reports whether the model is loaded and serving.
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	NumClasses  int    `json:"num_classes"`
	Message     string `json:"message,omitempty"`
}

// NewClient creates a new scoring client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Scores sends a preprocessed tensor and returns the raw class scores.
// Implements vision.Scorer.
func (c *Client) Scores(ctx context.Context, tensor []float32) ([]float64, error) {
	reqBody := ScoreRequest{
		Inputs:   tensor,
		Width:    224,
		Height:   224,
		Channels: 3,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/scores", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("scoring service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result ScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Scores, nil
}

// HealthCheck checks if the scoring service is healthy.
func (c *Client) HealthCheck(ctx context.Context) (*HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("scoring service returned status %d: %s", resp.StatusCode, string(body))
	}

	var result HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}
