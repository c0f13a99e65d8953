package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/router"
)

// defaultCacheTTL applies when a request enables caching without a TTL.
const defaultCacheTTL = 300 * time.Second

type chatRequest struct {
	Model       string            `json:"model"`
	Messages    []gateway.Message `json:"messages"`
	Temperature float64           `json:"temperature"`
	MaxTokens   *int              `json:"max_tokens"`
	Tools       json.RawMessage   `json:"tools"`
	ToolChoice  json.RawMessage   `json:"tool_choice"`
	Stream      bool              `json:"stream"`
	Cache       chatCacheOpts     `json:"cache"`
	Fallback    chatFallbackOpts  `json:"fallback"`
	Metadata    map[string]string `json:"metadata"`
	RequestID   string            `json:"request_id"`
}

type chatCacheOpts struct {
	Enabled bool `json:"enabled"`
	TTL     *int `json:"ttl"` // seconds
}

type chatFallbackOpts struct {
	Enabled bool     `json:"enabled"`
	Models  []string `json:"models"`
}

type chatChoice struct {
	Index        int             `json:"index"`
	Message      gateway.Message `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" || len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("model and messages are required"))
		return
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = gateway.RequestIDFromContext(r.Context())
	}
	upReq := &gateway.CompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Tools:       req.Tools,
		ToolChoice:  req.ToolChoice,
		RequestID:   requestID,
		Metadata:    req.Metadata,
	}

	cacheOpts := router.CacheOptions{Enabled: req.Cache.Enabled, TTL: defaultCacheTTL}
	if req.Cache.TTL != nil && *req.Cache.TTL > 0 {
		cacheOpts.TTL = time.Duration(*req.Cache.TTL) * time.Second
	}
	fbOpts := router.FallbackOptions{Enabled: req.Fallback.Enabled, Models: req.Fallback.Models}

	ctx := r.Context()
	if s.deps.UpstreamTimeout > 0 && !req.Stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.deps.UpstreamTimeout)
		defer cancel()
	}

	out, err := s.deps.Router.Route(ctx, upReq, cacheOpts, fbOpts, req.Stream)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	h := w.Header()
	h.Set("X-Provider", out.Decision.Provider)
	h.Set("X-Model", out.Decision.ProviderModel)
	if out.Decision.FromCache {
		h.Set("X-Cache", "HIT")
	} else {
		h.Set("X-Cache", "MISS")
	}

	switch {
	case out.Cached != nil:
		writeJSON(w, http.StatusOK, chatResponse{
			ID:     requestID,
			Object: "chat.completion",
			Model:  out.Cached.Model,
			Choices: []chatChoice{{
				Message:      gateway.Message{Role: "assistant", Content: out.Cached.Content},
				FinishReason: out.Cached.FinishReason,
			}},
			Usage: toUsage(out.Cached.Usage),
		})
	case out.Stream != nil:
		s.streamChatCompletion(w, r, requestID, upReq, out.Stream)
	default:
		writeJSON(w, http.StatusOK, chatResponse{
			ID:     requestID,
			Object: "chat.completion",
			Model:  out.Result.Model,
			Choices: []chatChoice{{
				Message:      gateway.Message{Role: "assistant", Content: out.Result.Content},
				FinishReason: out.Result.FinishReason,
			}},
			Usage: toUsage(out.Result.Usage),
		})
	}
}

func toUsage(u gateway.Usage) chatUsage {
	return chatUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.Total(),
	}
}

type streamDelta struct {
	Content string `json:"content,omitempty"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamLine struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Choices []streamChoice `json:"choices"`
}

// streamChatCompletion relays the upstream stream as newline-delimited JSON.
// Once the first line is flushed there is no fallback; upstream failure ends
// the stream.
func (s *server) streamChatCompletion(w http.ResponseWriter, r *http.Request, requestID string, req *gateway.CompletionRequest, session *router.StreamSession) {
	// Client gone before the upstream call: release the permit without
	// charging the breaker a failure.
	if r.Context().Err() != nil {
		session.Cancel()
		return
	}

	ch, err := session.Start(r.Context(), req)
	if err != nil {
		writeJSON(w, errorStatus(err), errorResponse(err.Error()))
		return
	}

	h := w.Header()
	h["Content-Type"] = jsonCT
	h.Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	writeLine := func(delta string, finish *string) {
		enc.Encode(streamLine{
			ID:      requestID,
			Object:  "chat.completion.chunk",
			Choices: []streamChoice{{Delta: streamDelta{Content: delta}, FinishReason: finish}},
		})
		if flusher != nil {
			flusher.Flush()
		}
	}

	for chunk := range ch {
		if chunk.Err != nil {
			slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
				slog.String("error", chunk.Err.Error()),
				slog.String("request_id", requestID))
			return
		}
		if chunk.FinishReason != "" {
			finish := chunk.FinishReason
			writeLine(chunk.Delta, &finish)
			return
		}
		if chunk.Delta != "" {
			writeLine(chunk.Delta, nil)
		}
	}
}
