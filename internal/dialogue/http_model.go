package dialogue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// HTTPModel posts the prompt as JSON to a model endpoint and reads {"text": "..."}.
type HTTPModel struct {
	url    string
	apiKey string
	client *http.Client
}

// NewHTTPModel creates an HTTP model backend. A zero timeout means 45 seconds.
func NewHTTPModel(url, apiKey string, timeout time.Duration) *HTTPModel {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &HTTPModel{url: url, apiKey: apiKey, client: &http.Client{Timeout: timeout}}
}

type httpModelReply struct {
	Text string `json:"text"`
}

// Generate implements Model.
func (m *HTTPModel) Generate(ctx context.Context, p Prompt) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build model request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read model reply: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model returned status %d", resp.StatusCode)
	}
	var reply httpModelReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("decode model reply: %w", err)
	}
	if reply.Text == "" {
		return "", errEmptyReply
	}
	return reply.Text, nil
}
