package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nexora-ai/core/internal/jobqueue"
	"github.com/nexora-ai/core/pkg/coretypes"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	testRedis       *redis.Client
	testContainer   testcontainers.Container
	skipIntegration bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	func() {
		defer func() {
			if r := recover(); r != nil {
				skipIntegration = true
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
		if err != nil {
			skipIntegration = true
			return
		}
		testContainer = container
		host, err := container.Host(ctx)
		if err != nil {
			skipIntegration = true
			return
		}
		port, err := container.MappedPort(ctx, "6379")
		if err != nil {
			skipIntegration = true
			return
		}
		testRedis = redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
		if err := testRedis.Ping(ctx).Err(); err != nil {
			skipIntegration = true
		}
	}()

	code := m.Run()
	if testRedis != nil {
		_ = testRedis.Close()
	}
	if testContainer != nil {
		_ = testContainer.Terminate(ctx)
	}
	_ = code
}

func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	if skipIntegration {
		t.Skip("docker not available, skipping redis-backed stream relay tests")
	}
	q := jobqueue.New(testRedis, jobqueue.DefaultConfig(), nil)
	return New(q, 4, nil)
}

func TestPublishSubscribeDeliversEvent(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	events, cancel := r.Subscribe(ctx, "chan-1")
	defer cancel()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, r.Publish(ctx, "chan-1", coretypes.NewStreamEvent(coretypes.StreamContentDelta).WithDelta("hello")))

	select {
	case ev := <-events:
		require.Equal(t, coretypes.StreamContentDelta, ev.Type)
		require.Equal(t, "hello", ev.Delta)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered event")
	}
}

func TestPublishDoneAndErrorEnvelopes(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	events, cancel := r.Subscribe(ctx, "chan-2")
	defer cancel()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, r.PublishDone(ctx, "chan-2"))
	select {
	case ev := <-events:
		require.Equal(t, coretypes.StreamDone, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for done envelope")
	}
}

func TestSubscribeCancelClosesChannel(t *testing.T) {
	r := newTestRelay(t)
	ctx := context.Background()

	events, cancel := r.Subscribe(ctx, "chan-3")
	cancel()

	select {
	case _, ok := <-events:
		require.False(t, ok, "channel must close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}

func TestDeliverDropsContentDeltaUnderBackpressure(t *testing.T) {
	r := &Relay{bufferSize: 1, logger: discardLogger()}
	out := make(chan *coretypes.StreamEvent, 1)
	dropped := false

	// fill the buffer
	out <- coretypes.NewStreamEvent(coretypes.StreamContentDelta).WithDelta("first")

	// this one must be dropped, replaced with a backpressure notice
	r.deliver(out, coretypes.NewStreamEvent(coretypes.StreamContentDelta).WithDelta("second"), "chan-x", &dropped)

	require.True(t, dropped)
	first := <-out
	require.Equal(t, "first", first.Delta)
	notice := <-out
	require.Equal(t, coretypes.StreamError, notice.Type)
}

func TestDeliverNeverDropsToolOrTerminalEvents(t *testing.T) {
	r := &Relay{bufferSize: 1, logger: discardLogger()}
	out := make(chan *coretypes.StreamEvent, 1)
	dropped := false

	out <- coretypes.NewStreamEvent(coretypes.StreamContentDelta).WithDelta("filler")
	r.deliver(out, coretypes.NewStreamEvent(coretypes.StreamDone), "chan-y", &dropped)

	ev := <-out
	require.Equal(t, coretypes.StreamDone, ev.Type, "terminal event must evict buffered content instead of being dropped itself")
}
