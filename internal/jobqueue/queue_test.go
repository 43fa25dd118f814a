package jobqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/nexora-ai/core/pkg/coretypes"
)

// Integration tests spin up a disposable Redis container the same way
// the pack's goa-ai registry package does for its health tracker tests:
// skip gracefully when Docker is unavailable instead of failing CI.
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
		container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
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

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	if skipIntegration {
		t.Skip("docker not available, skipping redis-backed jobqueue tests")
	}
	cfg := DefaultConfig()
	cfg.ReaperInterval = 50 * time.Millisecond
	cfg.Backoff.InitialMs = 10
	cfg.Backoff.MaxMs = 20
	return New(testRedis, cfg, nil)
}

func TestEnqueueFunctionSetsQueuedStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	jobID, err := q.EnqueueFunction(ctx, coretypes.FunctionJobPayload{
		FunctionNamespace: "ns", FunctionName: "fn", ExecutionID: "exec-1", InputData: []byte(`{}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	status, err := q.GetStatus(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, status)
	require.Equal(t, coretypes.JobQueued, status.Status)
	require.Equal(t, coretypes.QueueFunctions, status.Queue)
}

func TestDequeueMovesJobToProcessing(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueFunction(ctx, coretypes.FunctionJobPayload{FunctionNamespace: "ns", FunctionName: "fn", ExecutionID: "exec-2"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, coretypes.QueueFunctions, time.Second)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, coretypes.JobRunning, job.Status)

	n, err := testRedis.LLen(ctx, processingKey(coretypes.QueueFunctions)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestAckClearsProcessingAndRecordsStatus(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueFunction(ctx, coretypes.FunctionJobPayload{FunctionNamespace: "ns", FunctionName: "fn", ExecutionID: "exec-3"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, coretypes.QueueFunctions, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Ack(ctx, job, "exec-3"))

	status, err := q.GetStatus(ctx, job.JobID)
	require.NoError(t, err)
	require.Equal(t, coretypes.JobCompleted, status.Status)

	n, err := testRedis.LLen(ctx, processingKey(coretypes.QueueFunctions)).Result()
	require.NoError(t, err)
	require.Equal(t, int64(0), n)
}

func TestFailExhaustsRetriesIntoDeadLetter(t *testing.T) {
	q := newTestQueue(t)
	q.cfg.MaxRetries = 1
	ctx := context.Background()

	_, err := q.EnqueueFunction(ctx, coretypes.FunctionJobPayload{FunctionNamespace: "ns", FunctionName: "fn", ExecutionID: "exec-4"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, coretypes.QueueFunctions, time.Second)
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, job, fmt.Errorf("boom")))

	entries, err := q.ListDeadLetters(ctx, coretypes.QueueFunctions, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, job.JobID, entries[0].JobID)
}

func TestReaperPromotesDelayedJobBackToQueue(t *testing.T) {
	q := newTestQueue(t)
	q.cfg.MaxRetries = 5
	q.cfg.Backoff.InitialMs = 1
	q.cfg.Backoff.MaxMs = 1
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := q.EnqueueFunction(ctx, coretypes.FunctionJobPayload{FunctionNamespace: "ns", FunctionName: "fn", ExecutionID: "exec-5"})
	require.NoError(t, err)

	job, err := q.Dequeue(ctx, coretypes.QueueFunctions, time.Second)
	require.NoError(t, err)
	require.NoError(t, q.Fail(ctx, job, fmt.Errorf("transient")))

	go q.RunReaper(ctx, coretypes.QueueFunctions)

	require.Eventually(t, func() bool {
		n, _ := testRedis.LLen(ctx, queueKey(coretypes.QueueFunctions)).Result()
		return n == 1
	}, 2*time.Second, 50*time.Millisecond, "reaper must promote the delayed job back onto the live queue")
}

func TestEnqueueAndWaitUnblocksOnPublishDone(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	done := make(chan *coretypes.DoneEnvelope, 1)
	errs := make(chan error, 1)
	go func() {
		env, err := q.EnqueueAndWait(ctx, coretypes.FunctionJobPayload{
			FunctionNamespace: "ns", FunctionName: "fn", ExecutionID: "exec-wait-1",
		}, 2*time.Second)
		if err != nil {
			errs <- err
			return
		}
		done <- env
	}()

	// give the subscriber time to establish before publishing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, q.PublishDone(ctx, "exec-wait-1", coretypes.DoneEnvelope{Status: coretypes.ExecutionCompleted}))

	select {
	case env := <-done:
		require.Equal(t, coretypes.ExecutionCompleted, env.Status)
	case err := <-errs:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for EnqueueAndWait to unblock")
	}
}
