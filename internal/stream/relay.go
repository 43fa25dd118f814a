// Package stream implements the StreamRelay: publish/subscribe fan-out
// of StreamEvent envelopes over a chat channel's Redis pub/sub channel,
// with a bounded per-subscriber buffer so one slow SSE client can never
// back-pressure the publisher (the agent loop) or other subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nexora-ai/core/internal/jobqueue"
	"github.com/nexora-ai/core/internal/nexerr"
	"github.com/nexora-ai/core/pkg/coretypes"
)

// DefaultBufferSize is the per-subscriber channel capacity before the
// relay starts dropping content_delta events in favor of keeping up.
const DefaultBufferSize = 64

// Relay publishes and relays StreamEvents for chat channels, built over
// jobqueue.Queue's raw Redis pub/sub primitives — the jobqueue package
// owns the wire-level publish/subscribe calls; this package owns
// per-subscriber bounded-buffer and backpressure semantics.
type Relay struct {
	queue      *jobqueue.Queue
	bufferSize int
	logger     *slog.Logger
}

// New constructs a Relay over an existing jobqueue.Queue.
func New(queue *jobqueue.Queue, bufferSize int, logger *slog.Logger) *Relay {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{queue: queue, bufferSize: bufferSize, logger: logger}
}

// Publish sends one event to a chat channel's subscribers.
func (r *Relay) Publish(ctx context.Context, channelID string, event *coretypes.StreamEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return nexerr.Wrap(nexerr.ValidationError, "stream", err)
	}
	return r.queue.PublishStream(ctx, channelID, body)
}

// PublishDone publishes the terminal success envelope.
func (r *Relay) PublishDone(ctx context.Context, channelID string) error {
	return r.Publish(ctx, channelID, coretypes.NewStreamEvent(coretypes.StreamDone))
}

// PublishError publishes the terminal failure envelope.
func (r *Relay) PublishError(ctx context.Context, channelID string, cause error) error {
	return r.Publish(ctx, channelID, coretypes.NewStreamEvent(coretypes.StreamError).WithMessage(cause.Error()))
}

// Subscribe opens a bounded channel of decoded StreamEvents for a chat
// channel. The returned cancel func must be called to release the
// underlying Redis subscription and stop the relay goroutine; it is
// always safe to call more than once.
//
// If the consumer falls behind and the buffer fills, an incoming
// content_delta event is dropped, while an incoming tool or terminal
// event evicts one buffered content_delta to make room. The relay emits a synthetic error envelope once per
// drop episode so the consumer can tell its transcript has a gap
// instead of silently missing tokens.
func (r *Relay) Subscribe(ctx context.Context, channelID string) (<-chan *coretypes.StreamEvent, func()) {
	sub := r.queue.SubscribeStream(ctx, channelID)
	out := make(chan *coretypes.StreamEvent, r.bufferSize)

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		defer close(out)
		defer sub.Close()

		droppedSinceNotice := false
		ch := sub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event coretypes.StreamEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					r.logger.Warn("stream relay: malformed envelope", "channel_id", channelID, "error", err)
					continue
				}
				r.deliver(out, &event, channelID, &droppedSinceNotice)
			}
		}
	}()

	return out, cancel
}

func (r *Relay) deliver(out chan *coretypes.StreamEvent, event *coretypes.StreamEvent, channelID string, droppedSinceNotice *bool) {
	select {
	case out <- event:
		*droppedSinceNotice = false
		return
	default:
	}

	// Buffer full. Tool lifecycle and terminal events are never dropped —
	// make room by discarding one buffered content_delta if one exists.
	if event.Type != coretypes.StreamContentDelta {
		r.drainOneDelta(out)
		select {
		case out <- event:
		default:
			r.logger.Warn("stream relay: subscriber buffer saturated even after eviction", "channel_id", channelID)
		}
		return
	}

	if !*droppedSinceNotice {
		*droppedSinceNotice = true
		r.logger.Warn("stream relay: dropping content delta, subscriber too slow", "channel_id", channelID)
		select {
		case out <- coretypes.NewStreamEvent(coretypes.StreamError).WithMessage("stream backpressure: some content was dropped"):
		default:
		}
	}
}

// drainOneDelta removes a single buffered content_delta event, if any
// is currently queued, to make room for a higher-priority event without
// blocking the relay goroutine.
func (r *Relay) drainOneDelta(out chan *coretypes.StreamEvent) {
	for i := 0; i < len(out); i++ {
		select {
		case ev := <-out:
			if ev.Type != coretypes.StreamContentDelta {
				// not a delta: put it back at the end and keep scanning.
				select {
				case out <- ev:
				default:
				}
				continue
			}
			return
		default:
			return
		}
	}
}
