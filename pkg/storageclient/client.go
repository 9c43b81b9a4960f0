/**
 * @description
 * This package provides a client for the asset-storage collaborator. It
 * encapsulates the logic for asking the storage service to ingest a provider
 * output (by source URL) and return a durable URL owned by the platform.
 */
package storageclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the asset-storage service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new storage service client.
func NewClient(baseURL string, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// StoreRequest asks the storage service to fetch and persist one asset.
type StoreRequest struct {
	SourceURL string `json:"source_url"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
}

// StoreResponse carries the durable URL of the persisted asset.
type StoreResponse struct {
	URL string `json:"url"`
}

// Store persists one provider output and returns its durable URL. The provider
// URL is typically short-lived, so this must happen before the job is committed.
func (c *Client) Store(ctx context.Context, sourceURL, userID, kind string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("storage service base url is empty")
	}

	payload := StoreRequest{SourceURL: sourceURL, UserID: userID, Kind: kind}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/assets", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("storage service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var stored StoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&stored); err != nil {
		return "", fmt.Errorf("failed to decode storage response: %w", err)
	}
	if stored.URL == "" {
		return "", fmt.Errorf("storage service returned an empty url")
	}
	return stored.URL, nil
}
