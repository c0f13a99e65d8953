package anthropic

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/lkgate/lkgate/internal"
	"github.com/lkgate/lkgate/internal/provider"
	"github.com/lkgate/lkgate/internal/provider/sseutil"
)

// readStream consumes the messages event stream. Token counts arrive split
// across events: input_tokens on message_start, output_tokens on
// message_delta. message_stop terminates the stream.
func (c *Client) readStream(ctx context.Context, req *gateway.CompletionRequest, body io.ReadCloser, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	usage := gateway.Usage{PromptTokens: provider.EstimateMessageTokens(req.Messages)}
	outputReported := false
	stopReason := ""

	emitFinal := func() {
		c.core.Observer.RequestCount(providerName, req.Model, "success")
		c.core.Observer.Usage(providerName, req.Model, usage)
		ch <- gateway.StreamChunk{FinishReason: mapStopReason(orStop(stopReason)), Usage: &usage}
	}

	scanner := sseutil.NewDataScanner(body)
	for {
		data, ok := scanner.Next()
		if !ok {
			break
		}

		r := gjson.Parse(data)
		switch r.Get("type").String() {
		case "message_start":
			if in := r.Get("message.usage.input_tokens"); in.Exists() {
				usage.PromptTokens = int(in.Int())
			}
		case "content_block_delta":
			if r.Get("delta.type").String() != "text_delta" {
				continue
			}
			delta := r.Get("delta.text").String()
			if delta == "" {
				continue
			}
			if !outputReported {
				usage.CompletionTokens += provider.EstimateTokens(delta)
			}
			select {
			case ch <- gateway.StreamChunk{Delta: delta}:
			case <-ctx.Done():
				c.core.Observer.RequestCount(providerName, req.Model, "error")
				ch <- gateway.StreamChunk{Err: ctx.Err()}
				return
			}
		case "message_delta":
			if out := r.Get("usage.output_tokens"); out.Exists() {
				usage.CompletionTokens = int(out.Int())
				outputReported = true
			}
			if sr := r.Get("delta.stop_reason"); sr.Exists() && sr.String() != "" {
				stopReason = sr.String()
			}
		case "message_stop":
			emitFinal()
			return
		}
	}
	if err := scanner.Err(); err != nil {
		c.core.Observer.RequestCount(providerName, req.Model, "error")
		ch <- gateway.StreamChunk{Err: fmt.Errorf("anthropic: read stream: %w", err)}
		return
	}
	// EOF without message_stop: treat what we have as complete.
	emitFinal()
}

func orStop(reason string) string {
	if reason == "" {
		return "end_turn"
	}
	return reason
}
