package gemini

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/provider"
	"github.com/lkgate/lkgate/internal/provider/sseutil"
)

// readStream consumes the alt=sse stream. usageMetadata is cumulative, so
// each chunk's counts replace the previous ones and the last seen values win.
func (c *Client) readStream(ctx context.Context, req *gateway.CompletionRequest, body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	usage := gateway.Usage{PromptTokens: provider.EstimateMessageTokens(req.Messages)}
	usageReported := false
	finishReason := ""

	scanner := sseutil.NewDataScanner(body)
	for {
		data, ok := scanner.Next()
		if !ok {
			break
		}

		r := gjson.Parse(data)
		if u := r.Get("usageMetadata"); u.IsObject() {
			if pt := u.Get("promptTokenCount"); pt.Exists() {
				usage.PromptTokens = int(pt.Int())
			}
			if ct := u.Get("candidatesTokenCount"); ct.Exists() {
				usage.CompletionTokens = int(ct.Int())
				usageReported = true
			}
		}
		if fr := r.Get("candidates.0.finishReason"); fr.Exists() && fr.String() != "" {
			finishReason = fr.String()
		}
		var delta string
		for _, part := range r.Get("candidates.0.content.parts").Array() {
			delta += part.Get("text").String()
		}
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
		ch <- gateway.StreamChunk{Err: fmt.Errorf("gemini: read stream: %w", err)}
		return
	}

	c.core.Observer.RequestCount(providerName, req.Model, "success")
	c.core.Observer.Usage(providerName, req.Model, usage)
	ch <- gateway.StreamChunk{FinishReason: mapFinishReason(finishReason), Usage: &usage}
}
