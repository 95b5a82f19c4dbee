package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"folio/pkg/platform/middleware/admin"
)

var (
	serverURL  string
	adminToken string
)

// addClientFlags registers the flags shared by commands that call a running
// server's admin API.
func addClientFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "admin API base URL (default derived from server.addr)")
	cmd.PersistentFlags().StringVar(&adminToken, "admin-token", "", "admin token (default admin.token)")
}

// adminClient talks to the admin API of a running folio server.
type adminClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newAdminClient() *adminClient {
	base := serverURL
	if base == "" {
		base = baseURLFromAddr(cfg.Server.Addr)
	}
	token := adminToken
	if token == "" {
		token = cfg.Admin.Token
	}
	return &adminClient{
		baseURL:    strings.TrimRight(base, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// baseURLFromAddr turns a listen address such as ":8080" into a dialable URL.
func baseURLFromAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// apiError is the admin API's JSON error envelope.
type apiError struct {
	Status      int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *apiError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("admin api: HTTP %d %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("admin api: HTTP %d %s", e.Status, e.Code)
}

// do sends body as JSON and decodes a successful response into out. A nil out
// discards the response body.
func (c *adminClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(admin.HeaderToken, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort cleanup

	if resp.StatusCode >= 400 {
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
