// Package openai implements the gateway.Provider adapter for the OpenAI
// chat completions API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/provider"
	"github.com/lkgate/lkgate/internal/provider/sseutil"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	providerName   = "openai"
)

var _ gateway.Provider = (*Client)(nil)

// Client is an OpenAI provider adapter.
type Client struct {
	core    provider.Core
	apiKey  string
	baseURL string
}

// New creates an OpenAI Client. If baseURL is empty, it defaults to
// "https://api.openai.com/v1".
func New(apiKey, baseURL string, httpClient *http.Client, obs provider.Observer) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		core:    provider.NewCore(providerName, httpClient, obs),
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Name returns the provider identifier.
func (c *Client) Name() string { return providerName }

// wireRequest is the OpenAI chat completions request body.
type wireRequest struct {
	Model         string            `json:"model"`
	Messages      []gateway.Message `json:"messages"`
	Temperature   float64           `json:"temperature"`
	MaxTokens     *int              `json:"max_tokens,omitempty"`
	Tools         json.RawMessage   `json:"tools,omitempty"`
	ToolChoice    json.RawMessage   `json:"tool_choice,omitempty"`
	Stream        bool              `json:"stream,omitempty"`
	StreamOptions *streamOptions    `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type wireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *Client) buildRequest(ctx context.Context, req *gateway.CompletionRequest, stream bool) func() (*http.Request, error) {
	wire := wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		Stream:      stream,
	}
	if stream {
		wire.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return func() (*http.Request, error) {
		body, err := json.Marshal(&wire)
		if err != nil {
			return nil, fmt.Errorf("openai: marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("openai: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		if req.RequestID != "" {
			httpReq.Header.Set("X-Request-ID", req.RequestID)
		}
		return httpReq, nil
	}
}

// Complete sends a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResult, error) {
	resp, err := c.core.Do(ctx, req.Model, c.buildRequest(ctx, req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	var out wireResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	content := out.Choices[0].Message.Content
	usage := gateway.Usage{
		PromptTokens:     out.Usage.PromptTokens,
		CompletionTokens: out.Usage.CompletionTokens,
	}
	if usage.PromptTokens == 0 {
		usage.PromptTokens = provider.EstimateMessageTokens(req.Messages)
	}
	if usage.CompletionTokens == 0 {
		usage.CompletionTokens = provider.EstimateTokens(content)
	}

	c.core.Observer.RequestCount(providerName, req.Model, "success")
	c.core.Observer.Usage(providerName, req.Model, usage)

	return &gateway.CompletionResult{
		Provider:     providerName,
		Model:        req.Model,
		Content:      content,
		Usage:        usage,
		FinishReason: out.Choices[0].FinishReason,
		Raw:          raw,
	}, nil
}

// Stream sends a streaming chat completion request. The final chunk carries
// the finish reason and usage (provider-reported when available, estimated
// otherwise).
func (c *Client) Stream(ctx context.Context, req *gateway.CompletionRequest) (<-chan gateway.StreamChunk, error) {
	httpReq, err := c.buildRequest(ctx, req, true)()
	if err != nil {
		return nil, err
	}
	resp, err := c.core.DoOnce(ctx, req.Model, httpReq)
	if err != nil {
		return nil, err
	}

	ch := make(chan gateway.StreamChunk, 8)
	go c.readStream(ctx, req, resp.Body, ch)
	return ch, nil
}

func (c *Client) readStream(ctx context.Context, req *gateway.CompletionRequest, body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	usage := gateway.Usage{PromptTokens: provider.EstimateMessageTokens(req.Messages)}
	usageReported := false
	finishReason := ""

	emitFinal := func() {
		if finishReason == "" {
			finishReason = "stop"
		}
		c.core.Observer.RequestCount(providerName, req.Model, "success")
		c.core.Observer.Usage(providerName, req.Model, usage)
		ch <- gateway.StreamChunk{FinishReason: finishReason, Usage: &usage}
	}

	scanner := sseutil.NewDataScanner(body)
	for {
		data, ok := scanner.Next()
		if !ok {
			break
		}
		if data == "[DONE]" {
			emitFinal()
			return
		}

		r := gjson.Parse(data)
		if u := r.Get("usage"); u.IsObject() {
			usage.PromptTokens = int(u.Get("prompt_tokens").Int())
			usage.CompletionTokens = int(u.Get("completion_tokens").Int())
			usageReported = true
		}
		if fr := r.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
			finishReason = fr.String()
		}
		delta := r.Get("choices.0.delta.content").String()
		if delta == "" {
			continue
		}
		if !usageReported {
			usage.CompletionTokens += provider.EstimateTokens(delta)
		}
		select {
		case ch <- gateway.StreamChunk{Delta: delta}:
		case <-ctx.Done():
			c.core.Observer.RequestCount(providerName, req.Model, "error")
			ch <- gateway.StreamChunk{Err: ctx.Err()}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.core.Observer.RequestCount(providerName, req.Model, "error")
		ch <- gateway.StreamChunk{Err: fmt.Errorf("openai: read stream: %w", err)}
		return
	}
	// EOF without [DONE]: treat what we have as complete.
	emitFinal()
}
