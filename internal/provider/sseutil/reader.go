// Package sseutil reads server-sent event streams for the provider adapters.
package sseutil

import (
	"bufio"
	"io"
	"strings"
)

// maxLineSize bounds a single SSE line; upstream deltas are far smaller.
const maxLineSize = 64 * 1024

// DataScanner iterates the data payloads of an SSE stream, skipping
// comments, event-name lines, and keep-alive blanks. All three upstream APIs
// carry the event type inside the JSON payload, so only data fields matter.
type DataScanner struct {
	sc *bufio.Scanner
}

// NewDataScanner returns a DataScanner over r.
func NewDataScanner(r io.Reader) *DataScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 4096), maxLineSize)
	return &DataScanner{sc: sc}
}

// Next advances to the next non-empty data payload. It returns ok=false when
// the stream ends; check Err to distinguish clean EOF from a read failure.
func (d *DataScanner) Next() (string, bool) {
	for d.sc.Scan() {
		data, found := strings.CutPrefix(d.sc.Text(), "data:")
		if !found {
			continue
		}
		// Optional single space after the colon per the SSE spec.
		data = strings.TrimPrefix(data, " ")
		if data == "" {
			continue
		}
		return data, true
	}
	return "", false
}

// Err returns the first error hit by the underlying reader, nil at clean EOF.
func (d *DataScanner) Err() error { return d.sc.Err() }
