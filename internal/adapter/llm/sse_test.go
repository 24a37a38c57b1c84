package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"prism-chat/internal/domain"
)

func jsonDeltaParser(data []byte) (*domain.StreamDelta, error) {
	var payload struct {
		Text string `json:"text"`
		Done bool   `json:"done"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &domain.StreamDelta{Content: payload.Text, Done: payload.Done}, nil
}

func collectStream(t *testing.T, ch <-chan domain.StreamDelta) (string, bool) {
	t.Helper()
	var content string
	var done bool
	for delta := range ch {
		content += delta.Content
		if delta.Done {
			done = true
		}
	}
	return content, done
}

func TestParseSSEStream(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		`data: {"text":"Hel"}` + "\n\n" +
			`data: {"text":"lo"}` + "\n\n" +
			"data: [DONE]\n\n",
	))

	ch := parseSSEStream(context.Background(), body, newTestLogger(), jsonDeltaParser)
	content, done := collectStream(t, ch)

	if content != "Hello" {
		t.Errorf("content = %q, want %q", content, "Hello")
	}
	if !done {
		t.Error("stream never signaled done")
	}
}

func TestParseSSEStreamSkipsMalformedLines(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		`data: {"text":"a"}` + "\n\n" +
			"data: {not json\n\n" +
			": a comment line\n" +
			"event: ping\n\n" +
			`data: {"text":"b"}` + "\n\n" +
			"data: [DONE]\n\n",
	))

	ch := parseSSEStream(context.Background(), body, newTestLogger(), jsonDeltaParser)
	content, done := collectStream(t, ch)

	if content != "ab" {
		t.Errorf("content = %q, want %q (malformed/comment lines skipped)", content, "ab")
	}
	if !done {
		t.Error("stream never signaled done")
	}
}

// The accumulated text must not depend on how the payload is chunked.
func TestParseSSEStreamChunkBoundaryIndependence(t *testing.T) {
	chunkings := [][]string{
		{"hello world"},
		{"hello", " ", "world"},
		{"he", "llo wo", "rld"},
	}

	for _, words := range chunkings {
		var b strings.Builder
		for _, w := range words {
			payload, _ := json.Marshal(struct {
				Text string `json:"text"`
			}{w})
			b.WriteString("data: " + string(payload) + "\n\n")
		}
		b.WriteString("data: [DONE]\n\n")

		ch := parseSSEStream(context.Background(), io.NopCloser(strings.NewReader(b.String())), newTestLogger(), jsonDeltaParser)
		content, _ := collectStream(t, ch)

		if content != "hello world" {
			t.Errorf("chunking %v: content = %q, want %q", words, content, "hello world")
		}
	}
}

func TestParseSSEStreamStopsAfterDoneDelta(t *testing.T) {
	body := io.NopCloser(strings.NewReader(
		`data: {"text":"x","done":true}` + "\n\n" +
			`data: {"text":"never"}` + "\n\n",
	))

	ch := parseSSEStream(context.Background(), body, newTestLogger(), jsonDeltaParser)
	content, done := collectStream(t, ch)

	if content != "x" {
		t.Errorf("content = %q, want %q", content, "x")
	}
	if !done {
		t.Error("stream never signaled done")
	}
}

type failingReader struct {
	data string
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, r.data), nil
	}
	return 0, fmt.Errorf("connection reset")
}

// A transport failure mid-stream must not look like a normal completion:
// the channel closes without a Done delta.
func TestParseSSEStreamReadErrorClosesWithoutDone(t *testing.T) {
	body := io.NopCloser(&failingReader{data: `data: {"text":"partial"}` + "\n\n"})

	ch := parseSSEStream(context.Background(), body, newTestLogger(), jsonDeltaParser)
	content, done := collectStream(t, ch)

	if content != "partial" {
		t.Errorf("content = %q, want %q", content, "partial")
	}
	if done {
		t.Error("read failure signaled done")
	}
}

type trackingReadCloser struct {
	io.Reader
	closed chan struct{}
}

func (t *trackingReadCloser) Close() error {
	close(t.closed)
	return nil
}

func TestParseSSEStreamClosesBodyOnCancel(t *testing.T) {
	body := &trackingReadCloser{
		Reader: strings.NewReader(strings.Repeat(`data: {"text":"w"}`+"\n\n", 1000)),
		closed: make(chan struct{}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch := parseSSEStream(ctx, body, newTestLogger(), jsonDeltaParser)

	<-ch
	cancel()
	for range ch {
	}

	select {
	case <-body.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("body not closed after cancellation")
	}
}
