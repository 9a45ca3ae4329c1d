package sse

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// Client subscribes to a workspace event stream.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient creates a Client. A nil httpClient falls back to
// http.DefaultClient; streaming connections must not carry a client timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{BaseURL: baseURL, HTTP: httpClient}
}

// Subscribe streams the workspace's events from the given version until ctx
// is canceled or the handler returns an error. The handler sees catch-up and
// live events uniformly, in version order.
func (c *Client) Subscribe(ctx context.Context, workspaceID string, from int64, handler func(Envelope) error) error {
	u := fmt.Sprintf("%s/v1/workspaces/%s/stream?from=%d", c.BaseURL, url.PathEscape(workspaceID), from)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream rejected with status %d", resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 10<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		var env Envelope
		if err := json.Unmarshal(bytes.TrimPrefix(line, []byte("data: ")), &env); err != nil {
			return fmt.Errorf("failed to decode stream frame: %w", err)
		}
		if err := handler(env); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stream read failed: %w", err)
	}
	return nil
}
