// Package stream pumps a server-sent-event response body through the line
// parser and into the event loop.
package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/overturehq/overture-cli/internal/router"
	"github.com/overturehq/overture-cli/internal/sse"
)

// Lines can carry large tool results; give the scanner room.
const maxLineBytes = 1 << 20

// Run consumes body line by line until EOF or context cancellation, feeding
// every decoded event to the loop under the given thread and stream ids.
// Parse errors are logged and skipped; they never abort the stream. A clean
// EOF finalizes the thread's streaming message even if the server omitted a
// done event.
func Run(ctx context.Context, body io.ReadCloser, loop *router.Loop, threadID string, streamID uint64, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	defer body.Close()

	parser := sse.NewParser()
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64<<10), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := strings.TrimRight(scanner.Text(), "\r")
		ev, err := parser.Feed(line)
		if err != nil {
			log.Warn("skipping malformed stream event", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		if !loop.Dispatch(router.StreamEvent{ThreadID: threadID, StreamID: streamID, Event: ev}) {
			return errors.New("event loop stopped")
		}
	}

	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	loop.Dispatch(router.StreamEvent{ThreadID: threadID, StreamID: streamID, Event: sse.DoneEvent{}})
	return nil
}
