// Package anthropic implements the gateway.Provider adapter for the
// Anthropic messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/provider"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	providerName     = "anthropic"
	anthropicVersion = "2023-06-01"

	// The messages API requires max_tokens; used when the caller omits it.
	defaultMaxTokens = 1024
)

var _ gateway.Provider = (*Client)(nil)

// Client is an Anthropic provider adapter.
type Client struct {
	core    provider.Core
	apiKey  string
	baseURL string
}

// New creates an Anthropic Client. If baseURL is empty, it defaults to
// "https://api.anthropic.com/v1".
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

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	System      string          `json:"system,omitempty"`
	Tools       json.RawMessage `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// translateMessages splits system messages out into the system prompt and
// maps the rest onto Anthropic roles.
func translateMessages(messages []gateway.Message) ([]wireMessage, string) {
	var systemParts []string
	converted := make([]wireMessage, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, m.Content)
		case "assistant":
			converted = append(converted, wireMessage{Role: "assistant", Content: m.Content})
		default:
			converted = append(converted, wireMessage{Role: "user", Content: m.Content})
		}
	}
	return converted, strings.Join(systemParts, "\n")
}

// mapStopReason converts Anthropic stop reasons to the unified vocabulary.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

func (c *Client) buildRequest(ctx context.Context, req *gateway.CompletionRequest, stream bool) func() (*http.Request, error) {
	messages, system := translateMessages(req.Messages)
	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	wire := wireRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		System:      system,
		Tools:       req.Tools,
		Stream:      stream,
	}
	return func() (*http.Request, error) {
		body, err := json.Marshal(&wire)
		if err != nil {
			return nil, fmt.Errorf("anthropic: marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("anthropic: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
		if req.RequestID != "" {
			httpReq.Header.Set("X-Request-ID", req.RequestID)
		}
		return httpReq, nil
	}
}

// Complete sends a non-streaming messages request.
func (c *Client) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResult, error) {
	resp, err := c.core.Do(ctx, req.Model, c.buildRequest(ctx, req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}
	var out wireResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := sb.String()

	usage := gateway.Usage{
		PromptTokens:     out.Usage.InputTokens,
		CompletionTokens: out.Usage.OutputTokens,
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
		FinishReason: mapStopReason(out.StopReason),
		Raw:          raw,
	}, nil
}

// Stream sends a streaming messages request.
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
