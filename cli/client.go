package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/devrenanferrari/genesis/core"
	"github.com/devrenanferrari/genesis/server"
)

// maxFrameBytes bounds one NDJSON frame; patch frames carry whole files.
const maxFrameBytes = 8 << 20

// Client calls a running Genesis server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

// GenerateProject posts r to /generate_project and calls onFrame for every
// frame until the server closes the stream.
func (c *Client) GenerateProject(ctx context.Context, r *core.Request, onFrame func(server.Frame)) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("error marshaling request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/generate_project", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var f server.Frame
		if err := json.Unmarshal(line, &f); err != nil {
			return fmt.Errorf("invalid frame from server: %w", err)
		}
		onFrame(f)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading project stream: %w", err)
	}
	return nil
}

// Download requests the zip archive of a project. The caller closes the body.
func (c *Client) Download(ctx context.Context, userID, project string) (*http.Response, error) {
	path := fmt.Sprintf("/projects/%s/%s/download", url.PathEscape(userID), url.PathEscape(project))
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/zip")

	client := &http.Client{Timeout: 30 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, fmt.Errorf("token is invalid or has expired")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "application/zip" && contentType != "application/octet-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type: %s", contentType)
	}
	return resp, nil
}

func responseError(resp *http.Response) error {
	var body struct {
		Detail string `json:"detail"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err == nil && body.Detail != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Detail)
	}
	return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
}
