package anthropic

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/lkgate/lkgate/internal"
)

func testRequest() *gateway.CompletionRequest {
	return &gateway.CompletionRequest{
		Model: "claude-3-5-sonnet",
		Messages: []gateway.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
		Temperature: 0.5,
	}
}

func TestTranslateMessages(t *testing.T) {
	t.Parallel()
	msgs, system := translateMessages([]gateway.Message{
		{Role: "system", Content: "one"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "yes"},
		{Role: "system", Content: "two"},
	})
	if system != "one\ntwo" {
		t.Errorf("system = %q", system)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestMapStopReason(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"end_turn":      "stop",
		"stop_sequence": "stop",
		"max_tokens":    "length",
		"tool_use":      "tool_calls",
		"other":         "other",
	}
	for in, want := range cases {
		if got := mapStopReason(in); got != want {
			t.Errorf("mapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant" {
			t.Errorf("api key header = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("version header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var wire map[string]any
		if err := json.Unmarshal(body, &wire); err != nil {
			t.Fatal(err)
		}
		if wire["system"] != "be brief" {
			t.Errorf("system = %v", wire["system"])
		}
		// max_tokens defaults when the caller omits it.
		if wire["max_tokens"] != float64(defaultMaxTokens) {
			t.Errorf("max_tokens = %v", wire["max_tokens"])
		}
		io.WriteString(w, `{
			"content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],
			"stop_reason":"end_turn",
			"usage":{"input_tokens":15,"output_tokens":3}
		}`)
	}))
	defer srv.Close()

	c := New("sk-ant", srv.URL, srv.Client(), nil)
	res, err := c.Complete(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Hi there" {
		t.Errorf("content = %q", res.Content)
	}
	if res.FinishReason != "stop" {
		t.Errorf("finish = %q", res.FinishReason)
	}
	if res.Usage.PromptTokens != 15 || res.Usage.CompletionTokens != 3 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestStream(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: message_start\n")
		io.WriteString(w, "data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":20}}}\n\n")
		io.WriteString(w, "event: content_block_delta\n")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n")
		io.WriteString(w, "event: content_block_delta\n")
		io.WriteString(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n")
		io.WriteString(w, "event: message_delta\n")
		io.WriteString(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":2}}\n\n")
		io.WriteString(w, "event: message_stop\n")
		io.WriteString(w, "data: {\"type\":\"message_stop\"}\n\n")
	}))
	defer srv.Close()

	c := New("sk-ant", srv.URL, srv.Client(), nil)
	ch, err := c.Stream(context.Background(), testRequest())
	if err != nil {
		t.Fatal(err)
	}

	var text strings.Builder
	var final *gateway.StreamChunk
	for chunk := range ch {
		if chunk.Err != nil {
			t.Fatal(chunk.Err)
		}
		text.WriteString(chunk.Delta)
		if chunk.FinishReason != "" {
			cp := chunk
			final = &cp
		}
	}
	if text.String() != "Hello" {
		t.Errorf("assembled = %q", text.String())
	}
	if final == nil {
		t.Fatal("no final chunk")
	}
	if final.FinishReason != "stop" {
		t.Errorf("finish = %q", final.FinishReason)
	}
	if final.Usage == nil || final.Usage.PromptTokens != 20 || final.Usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v", final.Usage)
	}
}

func TestStreamOverloaded(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
	}))
	defer srv.Close()

	c := New("sk-ant", srv.URL, srv.Client(), nil)
	if _, err := c.Stream(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error from upstream 529")
	}
}
