// Package openai implements llm.Completer for OpenAI-compatible chat
// completion APIs (OpenAI, OpenRouter, vLLM and similar).
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"folio/internal/llm"
)

const providerName = "openai"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 4096

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	name       string
	now        func() time.Time
}

type Option func(*Client)

// WithHTTPClient overrides the transport, e.g. to set timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			client.httpClient = c
		}
	}
}

// WithName labels errors with a provider name other than "openai".
func WithName(name string) Option {
	return func(client *Client) {
		if name != "" {
			client.name = name
		}
	}
}

// WithClock is used to resolve HTTP-date Retry-After headers.
func WithClock(now func() time.Time) Option {
	return func(client *Client) {
		if now != nil {
			client.now = now
		}
	}
}

// New creates a client posting to {baseURL}/chat/completions.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		name:       providerName,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	wire := wireRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		temperature := req.Temperature
		wire.Temperature = &temperature
	}
	for _, m := range req.Conversation() {
		wire.Messages = append(wire.Messages, wireMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("llm/%s: marshaling request: %w", c.name, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm/%s: creating request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.transportError(ctx, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, c.readError(httpResp)
	}

	var decoded wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("llm/%s: decoding response: %w", c.name, err)
	}
	resp := &llm.Response{
		Model: decoded.Model,
		Usage: llm.Usage{
			PromptTokens:     decoded.Usage.PromptTokens,
			CompletionTokens: decoded.Usage.CompletionTokens,
		},
	}
	if len(decoded.Choices) > 0 {
		resp.Content = decoded.Choices[0].Message.Content
	}
	return resp, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	kind := llm.KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = llm.KindTimeout
	} else if errors.Is(err, context.Canceled) {
		return err
	}
	return &llm.Error{Provider: c.name, Kind: kind, Message: err.Error(), Err: err}
}

// readError parses {"error":{"type":"...","message":"..."}} bodies.
func (c *Client) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := strings.TrimSpace(string(body))
	var wireErr struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireErr) == nil && wireErr.Error.Message != "" {
		message = wireErr.Error.Message
	}

	e := &llm.Error{
		Provider:   c.name,
		Kind:       llm.KindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    message,
	}
	if e.Kind == llm.KindRateLimited {
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), c.now())
	}
	return e
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		if seconds <= 0 {
			return 0
		}
		return time.Duration(seconds * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
