package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const backendTimeout = 30 * time.Second

// Backend calls the Mayari HTTP API.
type Backend struct {
	baseURL string
	client  *http.Client
}

// NewBackend returns a client for baseURL. A nil client gets a 30 second
// timeout.
func NewBackend(baseURL string, client *http.Client) *Backend {
	if client == nil {
		client = &http.Client{Timeout: backendTimeout}
	}
	return &Backend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

// URL returns the backend base URL.
func (b *Backend) URL() string { return b.baseURL }

// absolute prefixes server-relative paths with the backend URL.
func (b *Backend) absolute(path string) string {
	if strings.HasPrefix(path, "/") {
		return b.baseURL + path
	}
	return path
}

// Do sends a JSON request and decodes the JSON object in the response.
func (b *Backend) Do(ctx context.Context, method, path string, payload any) (map[string]any, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return nil, fmt.Errorf("backend unavailable: %v", urlErr.Err)
		}
		return nil, fmt.Errorf("backend unavailable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(data))
		if text == "" {
			text = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, text)
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}
	return out, nil
}
