/**
 * @description
 * This package provides a client for the external generation provider API. It
 * encapsulates the logic for making authenticated HTTP requests to the provider's
 * image, video, and ad-copy endpoints, handling request body construction, and
 * parsing responses.
 *
 * @notes
 * - Provider calls are bounded by the HTTP client timeout so a hung provider can
 *   never strand a paid-for job; the orchestrator's compensation path stays
 *   reachable.
 * - Failures surface as *APIError carrying the upstream status code, which the
 *   retry executor uses to classify transient errors.
 */
package providerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the generation provider API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new provider client with the given request timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ImageRequest is the payload for the provider's image endpoint.
type ImageRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Count       int    `json:"count"`
}

// VideoRequest is the payload for the provider's video endpoint.
type VideoRequest struct {
	Prompt          string `json:"prompt"`
	AspectRatio     string `json:"aspect_ratio,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Count           int    `json:"count"`
}

// CopyRequest is the payload for the provider's ad-copy endpoint.
type CopyRequest struct {
	ProductDescription string `json:"product_description"`
	Tone               string `json:"tone,omitempty"`
	Count              int    `json:"count"`
}

// MediaResponse is the provider's response for image and video generation:
// one output URL per generated unit.
type MediaResponse struct {
	URLs []string `json:"urls"`
}

// CopyResponse is the provider's response for ad-copy generation.
type CopyResponse struct {
	Copies []string `json:"copies"`
}

// APIError represents an error response from the provider API.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Detail     string `json:"detail"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("provider api error (%d): %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("provider api error (%d)", e.StatusCode)
}

// HTTPStatus exposes the upstream status code to the retry classifier.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// GenerateImages requests count image outputs from the provider.
func (c *Client) GenerateImages(ctx context.Context, req ImageRequest) (*MediaResponse, error) {
	var resp MediaResponse
	if err := c.doRequest(ctx, "/v1/images/generations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateVideos requests count video outputs from the provider.
func (c *Client) GenerateVideos(ctx context.Context, req VideoRequest) (*MediaResponse, error) {
	var resp MediaResponse
	if err := c.doRequest(ctx, "/v1/videos/generations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GenerateAdCopy requests count ad-copy variants from the provider.
func (c *Client) GenerateAdCopy(ctx context.Context, req CopyRequest) (*CopyResponse, error) {
	var resp CopyResponse
	if err := c.doRequest(ctx, "/v1/copy/generations", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) doRequest(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal provider request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build provider request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("read provider response: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: httpResp.StatusCode}
		// Best effort: the body may not be the documented error shape.
		_ = json.Unmarshal(respBody, apiErr)
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode provider response: %w", err)
		}
	}
	return nil
}
