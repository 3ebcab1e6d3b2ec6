package dataagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type remoteEndpoint struct {
	use    string
	short  string
	method string
	path   string
	// body builds the JSON request from positional args; nil means no body.
	body func(args []string) (any, error)
}

var remoteEndpoints = []remoteEndpoint{
	{use: "health", short: "GET /v1/health", method: http.MethodGet, path: "/v1/health"},
	{use: "ready", short: "GET /v1/ready", method: http.MethodGet, path: "/v1/ready"},
	{use: "tables", short: "GET /v1/tables", method: http.MethodGet, path: "/v1/tables"},
	{use: "tables-count", short: "GET /v1/tables/count", method: http.MethodGet, path: "/v1/tables/count"},
	{use: "table-rows", short: "GET /v1/tables/rows", method: http.MethodGet, path: "/v1/tables/rows"},
	{use: "nl2sql <question>", short: "POST /v1/nl2sql", method: http.MethodPost, path: "/v1/nl2sql", body: questionBody},
	{use: "nl2py <question>", short: "POST /v1/nl2py", method: http.MethodPost, path: "/v1/nl2py", body: questionBody},
}

func questionBody(args []string) (any, error) {
	question, err := questionArg(args)
	if err != nil {
		return nil, err
	}
	return map[string]string{"question": question}, nil
}

type remoteClient struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

func newRemoteCmd(ctx context.Context, s *session) *cobra.Command {
	remote := &remoteClient{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Call a running dataagent API server",
	}
	cmd.PersistentFlags().StringVar(&remote.baseURL, "base-url", envOr(s.opts.Lookup, "DATA_AGENT_API_URL", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVar(&remote.apiKey, "api-key", envOr(s.opts.Lookup, "DATA_AGENT_API_KEY", ""), "API key for authenticated requests")
	cmd.PersistentFlags().DurationVar(&remote.timeout, "timeout", 2*time.Minute, "HTTP timeout")

	for _, endpoint := range remoteEndpoints {
		args := cobra.NoArgs
		if endpoint.body != nil {
			args = cobra.MinimumNArgs(1)
		}
		cmd.AddCommand(&cobra.Command{
			Use:   endpoint.use,
			Short: endpoint.short,
			Args:  args,
			RunE: func(_ *cobra.Command, args []string) error {
				var payload any
				if endpoint.body != nil {
					built, err := endpoint.body(args)
					if err != nil {
						return err
					}
					payload = built
				}
				return remote.call(ctx, s, endpoint.method, endpoint.path, payload)
			},
		})
	}

	var limit int
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "GET /v1/audit",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			path := "/v1/audit"
			if limit > 0 {
				path += "?" + url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
			}
			return remote.call(ctx, s, http.MethodGet, path, nil)
		},
	}
	auditCmd.Flags().IntVar(&limit, "limit", 0, "entries to list; 0 uses the server default")
	cmd.AddCommand(auditCmd)
	return cmd
}

func (c *remoteClient) call(ctx context.Context, s *session, method, path string, payload any) error {
	client := c.client
	if client == nil {
		client = &http.Client{Timeout: c.timeout}
	}
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	endpoint := strings.TrimRight(c.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(c.apiKey); key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if pretty, ok := prettyJSON(responseBody); ok {
		_, _ = fmt.Fprintln(s.opts.Stdout, pretty)
	} else if len(responseBody) > 0 {
		_, _ = fmt.Fprintln(s.opts.Stdout, string(responseBody))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d from %s %s", resp.StatusCode, method, path)
	}
	return nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(decoded, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func envOr(lookup func(string) (string, bool), key, fallback string) string {
	if lookup == nil {
		return fallback
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}
