package dialogue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// ErrRemote is wrapped by every Client error that carries a service failure message.
var ErrRemote = errors.New("dialogue service error")

// Client calls a remote dialogue service.
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a Client for the endpoint at url. A zero timeout means 45 seconds.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

// Respond posts req and decodes the reply. A 429 yields a rate-limited Response, not an error.
func (c *Client) Respond(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encode dialogue request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("build dialogue request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The service keys its rate limit on the end user, not on this process.
	if key := ClientKeyFromContext(ctx); key != "" {
		httpReq.Header.Set("X-Forwarded-For", key)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("dialogue request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRequestBodySize))
	if err != nil {
		return Response{}, fmt.Errorf("read dialogue reply: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var out Response
		if err := json.Unmarshal(data, &out); err != nil {
			return Response{}, fmt.Errorf("decode dialogue reply: %w", err)
		}
		return out, nil
	case http.StatusTooManyRequests:
		return Response{Response: RateLimitMessage, RateLimited: true}, nil
	default:
		var f Failure
		if err := json.Unmarshal(data, &f); err != nil || f.Message == "" {
			return Response{}, fmt.Errorf("%w: status %d", ErrRemote, resp.StatusCode)
		}
		return Response{}, fmt.Errorf("%w: %s", ErrRemote, f.Message)
	}
}
