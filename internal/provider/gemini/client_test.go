package gemini

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
		Model: "gemini-1.5-pro",
		Messages: []gateway.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
		Temperature: 0.2,
	}
}

func TestTranslateMessages(t *testing.T) {
	t.Parallel()
	contents := translateMessages([]gateway.Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "yes"},
	})
	if len(contents) != 3 {
		t.Fatalf("len = %d", len(contents))
	}
	// No system role: system messages pass through as user turns.
	if contents[0].Role != "user" || contents[1].Role != "user" || contents[2].Role != "model" {
		t.Errorf("roles = %s,%s,%s", contents[0].Role, contents[1].Role, contents[2].Role)
	}
}

func TestComplete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-1.5-pro:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "gk-test" {
			t.Errorf("api key header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		var wire wireRequest
		if err := json.Unmarshal(body, &wire); err != nil {
			t.Fatal(err)
		}
		if wire.GenerationConfig.MaxOutputTokens != defaultMaxOutputTokens {
			t.Errorf("maxOutputTokens = %d", wire.GenerationConfig.MaxOutputTokens)
		}
		io.WriteString(w, `{
			"candidates":[{"content":{"parts":[{"text":"Hi "},{"text":"there"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":8,"candidatesTokenCount":3}
		}`)
	}))
	defer srv.Close()

	c := New("gk-test", srv.URL, srv.Client(), nil)
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
	if res.Usage.PromptTokens != 8 || res.Usage.CompletionTokens != 3 {
		t.Errorf("usage = %+v", res.Usage)
	}
}

func TestMapFinishReason(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"STOP":       "stop",
		"":           "stop",
		"MAX_TOKENS": "length",
		"SAFETY":     "safety",
	}
	for in, want := range cases {
		if got := mapFinishReason(in); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStream(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-1.5-pro:streamGenerateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q", r.URL.Query().Get("alt"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"Hel\"}]}}],\"usageMetadata\":{\"promptTokenCount\":8,\"candidatesTokenCount\":1}}\n\n")
		io.WriteString(w, "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"lo\"}]},\"finishReason\":\"STOP\"}],\"usageMetadata\":{\"promptTokenCount\":8,\"candidatesTokenCount\":2}}\n\n")
	}))
	defer srv.Close()

	c := New("gk-test", srv.URL, srv.Client(), nil)
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
	// Cumulative usage: the last chunk's counts win.
	if final.Usage == nil || final.Usage.PromptTokens != 8 || final.Usage.CompletionTokens != 2 {
		t.Errorf("usage = %+v", final.Usage)
	}
}
