package toolcall

import (
	"context"
	"strings"

	"harmony-core/internal/domain"
)

// StreamGuard decides, chunk by chunk, whether streamed text may be shown.
// Once the buffered reply starts with "{" (suspected) or looks like a
// tool-call payload (confirmed), nothing more is forwarded.
type StreamGuard struct {
	buf       strings.Builder
	suspected bool
	confirmed bool
}

// Feed buffers chunk and reports whether it may be forwarded.
func (g *StreamGuard) Feed(chunk string) bool {
	g.buf.WriteString(chunk)
	current := strings.TrimSpace(g.buf.String())
	if !g.suspected && strings.HasPrefix(current, "{") {
		g.suspected = true
	}
	if !g.confirmed && IsLikelyToolCall(current) {
		g.confirmed = true
	}
	return !g.Held()
}

// Held reports whether forwarding has stopped.
func (g *StreamGuard) Held() bool { return g.suspected || g.confirmed }

// Suspected reports whether the reply started like a JSON object.
func (g *StreamGuard) Suspected() bool { return g.suspected }

// Confirmed reports whether the reply looked like a tool-call payload.
func (g *StreamGuard) Confirmed() bool { return g.confirmed }

// Text returns everything fed so far.
func (g *StreamGuard) Text() string { return g.buf.String() }

// Stream relays in, holding back anything that may be a tool-call payload.
// When in closes and the reply was held, the turn is resolved with Handle
// and its answer is sent as one closing delta. A reply that was never held
// has already been forwarded in full and nothing is added. The last delta
// sent carries Done and the upstream usage.
func (p *Protocol) Stream(ctx context.Context, turn Turn, in <-chan domain.StreamDelta) <-chan domain.StreamDelta {
	out := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(out)
		var (
			guard StreamGuard
			usage *domain.Usage
		)
		send := func(d domain.StreamDelta) bool {
			select {
			case out <- d:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for d := range in {
			if d.Usage != nil {
				usage = d.Usage
			}
			if d.Content == "" {
				continue
			}
			if guard.Feed(d.Content) {
				if !send(domain.StreamDelta{Content: d.Content}) {
					return
				}
			}
		}
		final := domain.StreamDelta{Done: true, Usage: usage}
		if guard.Held() {
			outcome := p.Handle(ctx, turn, guard.Text())
			final.Content = outcome.Text
			if outcome.UsedTool {
				p.logger.Info("streamed reply resolved by tool", "tool", outcome.Tool)
			}
		}
		send(final)
	}()
	return out
}
