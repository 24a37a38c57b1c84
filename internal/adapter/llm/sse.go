package llm

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"

	"prism-chat/internal/domain"
)

// parseSSEStream reads SSE-formatted lines from body and converts each data
// payload into a StreamDelta using the provider-specific parseLine function.
// Malformed data lines are logged and skipped; they never abort the stream.
// The returned channel is closed when the stream ends, the body is closed, or
// ctx is cancelled. A stream that terminates normally always carries a final
// Done delta; a channel that closes without one means the transport failed
// mid-stream. The body is always closed, even when the consumer stops
// reading early.
func parseSSEStream(ctx context.Context, body io.ReadCloser, logger *slog.Logger, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)
	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}

			line := scanner.Bytes()

			// Skip empty lines and comments.
			if len(line) == 0 || line[0] == ':' {
				continue
			}

			// Only "data: ..." lines carry payloads.
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			data := bytes.TrimPrefix(line, []byte("data: "))

			// Common termination signal.
			if bytes.Equal(data, []byte("[DONE]")) {
				ch <- domain.StreamDelta{Done: true}
				return
			}

			delta, err := parseLine(data)
			if err != nil {
				logger.Warn("skipping malformed stream chunk", "error", err)
				continue
			}
			if delta == nil {
				continue
			}

			select {
			case ch <- *delta:
			case <-ctx.Done():
				return
			}

			if delta.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			logger.Warn("stream read failed", "error", err)
		}
	}()
	return ch
}
