// Package gemini implements the gateway.Provider adapter for the Google
// Gemini generateContent API.
package gemini

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
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	providerName   = "gemini"

	defaultMaxOutputTokens = 2048
)

var _ gateway.Provider = (*Client)(nil)

// Client is a Gemini provider adapter.
type Client struct {
	core    provider.Core
	apiKey  string
	baseURL string
}

// New creates a Gemini Client. If baseURL is empty, it defaults to
// "https://generativelanguage.googleapis.com/v1beta".
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

type wirePart struct {
	Text string `json:"text"`
}

type wireContent struct {
	Role  string     `json:"role"`
	Parts []wirePart `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type wireRequest struct {
	Contents         []wireContent    `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []wirePart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// translateMessages maps unified roles onto Gemini's user/model pair. Gemini
// has no system role, so system messages go through as user turns.
func translateMessages(messages []gateway.Message) []wireContent {
	contents := make([]wireContent, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		contents = append(contents, wireContent{
			Role:  role,
			Parts: []wirePart{{Text: m.Content}},
		})
	}
	return contents
}

// mapFinishReason converts Gemini finish reasons to the unified vocabulary.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}

func (c *Client) buildRequest(ctx context.Context, req *gateway.CompletionRequest, stream bool) func() (*http.Request, error) {
	maxTokens := defaultMaxOutputTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	wire := wireRequest{
		Contents: translateMessages(req.Messages),
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: maxTokens,
		},
	}
	endpoint := c.baseURL + "/models/" + req.Model + ":generateContent"
	if stream {
		endpoint = c.baseURL + "/models/" + req.Model + ":streamGenerateContent?alt=sse"
	}
	return func() (*http.Request, error) {
		body, err := json.Marshal(&wire)
		if err != nil {
			return nil, fmt.Errorf("gemini: marshal request: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gemini: create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
		if req.RequestID != "" {
			httpReq.Header.Set("X-Request-ID", req.RequestID)
		}
		return httpReq, nil
	}
}

// Complete sends a non-streaming generateContent request.
func (c *Client) Complete(ctx context.Context, req *gateway.CompletionRequest) (*gateway.CompletionResult, error) {
	resp, err := c.core.Do(ctx, req.Model, c.buildRequest(ctx, req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("gemini: read response: %w", err)
	}
	var out wireResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("gemini: response has no candidates")
	}

	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	content := sb.String()

	usage := gateway.Usage{
		PromptTokens:     out.UsageMetadata.PromptTokenCount,
		CompletionTokens: out.UsageMetadata.CandidatesTokenCount,
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
		FinishReason: mapFinishReason(out.Candidates[0].FinishReason),
		Raw:          raw,
	}, nil
}

// Stream sends a streaming generateContent request. The stream has no
// explicit terminator; it ends at EOF.
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
