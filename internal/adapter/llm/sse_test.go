package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"harmony-core/internal/domain"
)

func textLine(data []byte) (*domain.StreamDelta, error) {
	s := string(data)
	if s == "bad" {
		return nil, errors.New("unparseable")
	}
	if strings.HasPrefix(s, "usage=") {
		return &domain.StreamDelta{Usage: &domain.Usage{TotalTokens: len(s)}}, nil
	}
	return &domain.StreamDelta{Content: s}, nil
}

func collectDeltas(ch <-chan domain.StreamDelta) []domain.StreamDelta {
	var out []domain.StreamDelta
	for d := range ch {
		out = append(out, d)
	}
	return out
}

func TestParseSSEStreamOrderAndDone(t *testing.T) {
	raw := ": comment\nevent: message\ndata: one\n\ndata:two\n\ndata: bad\n\ndata: usage=7\n\ndata: [DONE]\n\ndata: after\n\n"
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(raw)), textLine))

	if len(deltas) != 3 {
		t.Fatalf("expected 3 deltas, got %d: %+v", len(deltas), deltas)
	}
	if deltas[0].Content != "one" || deltas[1].Content != "two" {
		t.Errorf("contents = %q, %q", deltas[0].Content, deltas[1].Content)
	}
	last := deltas[2]
	if !last.Done || last.Content != "" {
		t.Errorf("last delta = %+v, want a bare Done", last)
	}
	if last.Usage == nil || last.Usage.TotalTokens != len("usage=7") {
		t.Errorf("usage not carried on Done: %+v", last.Usage)
	}
}

func TestParseSSEStreamEOFWithoutDoneMarker(t *testing.T) {
	deltas := collectDeltas(parseSSEStream(context.Background(), io.NopCloser(strings.NewReader("data: x\n")), textLine))
	if len(deltas) != 2 || !deltas[1].Done || deltas[1].Usage != nil {
		t.Fatalf("deltas = %+v", deltas)
	}
}

type failingBody struct {
	r      io.Reader
	closed bool
}

func (b *failingBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == io.EOF {
		return n, errors.New("connection reset")
	}
	return n, err
}

func (b *failingBody) Close() error {
	b.closed = true
	return nil
}

func TestParseSSEStreamReadErrorStillFinishes(t *testing.T) {
	body := &failingBody{r: strings.NewReader("data: partial\n")}
	deltas := collectDeltas(parseSSEStream(context.Background(), body, textLine))
	if len(deltas) != 2 || deltas[0].Content != "partial" || !deltas[1].Done {
		t.Fatalf("deltas = %+v", deltas)
	}
	if !body.closed {
		t.Error("body should be closed")
	}
}

func TestParseSSEStreamCancel(t *testing.T) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	ch := parseSSEStream(ctx, pr, textLine)

	go func() { _, _ = pw.Write([]byte("data: first\n")) }()
	if d := <-ch; d.Content != "first" {
		t.Fatalf("first delta = %+v", d)
	}
	cancel()
	pw.Close()

	select {
	case d, ok := <-ch:
		if ok && d.Done {
			t.Errorf("cancelled stream must not report Done")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
