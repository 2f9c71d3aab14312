package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"

	"harmony-core/internal/domain"
)

const maxSSELine = 1024 * 1024

var (
	dataPrefix = []byte("data:")
	doneMarker = []byte("[DONE]")
)

// parseSSEStream reads "data:" lines from body and forwards the content of
// each parsed delta in order. Usage reported anywhere in the stream is held
// back and attached to one closing Done delta, sent on [DONE], EOF or a read
// error. Cancelling ctx closes the channel without a Done delta.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		send := func(d domain.StreamDelta) bool {
			select {
			case ch <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var usage *domain.Usage
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := scanner.Bytes()
			if !bytes.HasPrefix(line, dataPrefix) {
				continue
			}
			data := bytes.TrimSpace(bytes.TrimPrefix(line, dataPrefix))
			if bytes.Equal(data, doneMarker) {
				break
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}
			if delta.Usage != nil {
				usage = delta.Usage
			}
			if delta.Content != "" && !send(domain.StreamDelta{Content: delta.Content}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		send(domain.StreamDelta{Done: true, Usage: usage})
	}()
	return ch
}
