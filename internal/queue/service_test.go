package queue_test

import (
	"context"
	"encoding/json"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/queue"
	"payticket-backend/internal/ticket"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var lookup = ticket.LookupRequest{TicketNumber: "PM451052", PlateNumber: "CBCD123"}

func newService(options queue.Options) (queue.Service, *chrono.FakeImpl, *telemetry.Recorder) {
	clock := chrono.NewFakeImpl(time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC))
	rec := &telemetry.Recorder{}
	return queue.NewService(queue.NewMemoryStore(), clock, rec, options), clock, rec
}

func TestEnqueueValidates(t *testing.T) {
	svc, _, _ := newService(queue.Options{})
	err := svc.Enqueue(context.Background(), ticket.LookupRequest{TicketNumber: "PM451052"})
	require.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, rec := newService(queue.Options{})

	require.NoError(t, svc.Enqueue(ctx, lookup))
	require.ErrorIs(t, svc.Enqueue(ctx, lookup), queue.ErrConflict)

	job, err := svc.Status(ctx, lookup)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPending, job.Status)

	claimed, err := svc.Claim(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, lookup, claimed)

	_, err = svc.Claim(ctx, "w1")
	require.ErrorIs(t, err, queue.ErrWorkerBusy)
	require.Len(t, rec.Reports("warning"), 1)

	require.NoError(t, svc.Heartbeat(ctx, "w1", lookup))
	require.NoError(t, svc.Complete(ctx, "w1", lookup, nil))

	job, err = svc.Status(ctx, lookup)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusCompleted, job.Status)
	require.JSONEq(t, `{}`, string(job.Response))

	_, err = svc.Status(ctx, lookup)
	require.ErrorIs(t, err, queue.ErrNotFound, "completed jobs are evicted once read")

	counts := rec.Reports("count")
	require.NotEmpty(t, counts)
	require.Equal(t, "pending", counts[0].Id)
}

func TestKeepCompleted(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(queue.Options{KeepCompleted: true})

	require.NoError(t, svc.Enqueue(ctx, lookup))
	_, err := svc.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, "w1", lookup, json.RawMessage(`{"ok":true}`)))

	for range 2 {
		job, err := svc.Status(ctx, lookup)
		require.NoError(t, err)
		require.Equal(t, ticket.StatusCompleted, job.Status)
	}
}

func TestCompleteRejectsInvalidJson(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(queue.Options{})

	require.NoError(t, svc.Enqueue(ctx, lookup))
	_, err := svc.Claim(ctx, "w1")
	require.NoError(t, err)
	require.ErrorIs(t, svc.Complete(ctx, "w1", lookup, json.RawMessage(`{nope`)), queue.ErrInvalidResponse)

	job, err := svc.Status(ctx, lookup)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusAssigned, job.Status)
}

func TestSweepRequeuesExpiredLeases(t *testing.T) {
	ctx := context.Background()
	svc, clock, rec := newService(queue.Options{})
	require.Equal(t, queue.DefaultLease, svc.Lease())

	require.NoError(t, svc.Enqueue(ctx, lookup))
	_, err := svc.Claim(ctx, "w1")
	require.NoError(t, err)

	clock.Advance(4 * time.Second)
	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	require.NoError(t, svc.Heartbeat(ctx, "w1", lookup))
	clock.Advance(4 * time.Second)
	n, err = svc.Sweep(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "the heartbeat renewed the lease")

	clock.Advance(2 * time.Second)
	n, err = svc.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NotEmpty(t, rec.Reports("warning"))

	require.ErrorIs(t, svc.Complete(ctx, "w1", lookup, nil), queue.ErrNotAssigned)

	claimed, err := svc.Claim(ctx, "w2")
	require.NoError(t, err)
	require.Equal(t, lookup, claimed)
}

func TestRunSweeperStopsWithContext(t *testing.T) {
	svc, _, _ := newService(queue.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		svc.RunSweeper(ctx, time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestWorkers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(queue.Options{})

	require.Error(t, svc.RegisterWorker(ctx, ""))
	require.NoError(t, svc.RegisterWorker(ctx, "w1"))
	_, err := svc.Claim(ctx, "w2")
	require.ErrorIs(t, err, queue.ErrNoneAvailable)

	workers, err := svc.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 2)
}
