package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

// Service is the remote endpoint the adapter talks to. The production
// implementation is Client; tests substitute an in-memory fake.
type Service interface {
	Sync(ctx context.Context, req *Request) (*Response, error)
}

// Client implements Service over HTTP.
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
	logger  *log.Logger
}

// NewClient creates an HTTP client for the sync endpoint.
// If logger is nil, a default logger writing to stderr is used.
func NewClient(baseURL, token string, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[remote] ", log.LstdFlags)
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

// Sync posts one request to the /sync endpoint and decodes the
// response. Transport and auth failures are returned as errors for the
// caller to degrade into per-operation retries; they are never fatal.
func (c *Client) Sync(ctx context.Context, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("sync request rejected: %s (check API token)", httpResp.Status)
	case httpResp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("sync request failed: %s: %s", httpResp.Status, strings.TrimSpace(string(msg)))
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return &resp, nil
}
