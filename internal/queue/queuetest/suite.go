// Package queuetest checks that a queue.Store implementation follows the job lifecycle.
package queuetest

import (
	"context"
	"encoding/json"
	"payticket-backend/internal/queue"
	"payticket-backend/internal/ticket"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

func req(n int) ticket.LookupRequest {
	return ticket.LookupRequest{
		TicketNumber: "PM45100" + string(rune('0'+n)),
		PlateNumber:  "CBCD12" + string(rune('0'+n)),
	}
}

// RunStoreSuite runs every store test against fresh stores created by newStore.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) queue.Store) {
	t.Run("EnqueueConflict", func(t *testing.T) {
		testEnqueueConflict(t, newStore(t))
	})
	t.Run("ClaimFifo", func(t *testing.T) {
		testClaimFifo(t, newStore(t))
	})
	t.Run("WorkerBusy", func(t *testing.T) {
		testWorkerBusy(t, newStore(t))
	})
	t.Run("CompleteAndEvict", func(t *testing.T) {
		testCompleteAndEvict(t, newStore(t))
	})
	t.Run("NotAssigned", func(t *testing.T) {
		testNotAssigned(t, newStore(t))
	})
	t.Run("Requeue", func(t *testing.T) {
		testRequeue(t, newStore(t))
	})
	t.Run("Workers", func(t *testing.T) {
		testWorkers(t, newStore(t))
	})
}

func testEnqueueConflict(t *testing.T, store queue.Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, req(1))
	require.ErrorIs(t, err, queue.ErrNotFound)

	require.NoError(t, store.Enqueue(ctx, req(1), epoch))
	require.ErrorIs(t, store.Enqueue(ctx, req(1), epoch), queue.ErrConflict)

	job, err := store.Get(ctx, req(1))
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPending, job.Status)
	require.Equal(t, req(1), job.Request)

	_, err = store.Claim(ctx, "w1", epoch)
	require.NoError(t, err)
	require.ErrorIs(t, store.Enqueue(ctx, req(1), epoch), queue.ErrConflict)

	require.NoError(t, store.Complete(ctx, "w1", req(1), json.RawMessage(`{"a":1}`)))
	require.NoError(t, store.Enqueue(ctx, req(1), epoch), "completed jobs can be looked up again")

	job, err = store.Get(ctx, req(1))
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPending, job.Status)
	require.Empty(t, job.Response)
}

func testClaimFifo(t *testing.T, store queue.Store) {
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, store.Enqueue(ctx, req(i), epoch.Add(time.Duration(i)*time.Second)))
	}
	pending, err := store.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []ticket.LookupRequest{req(1), req(2), req(3)}, pending)

	for i := 1; i <= 3; i++ {
		worker := "w" + string(rune('0'+i))
		job, err := store.Claim(ctx, worker, epoch)
		require.NoError(t, err)
		require.Equal(t, req(i), job.Request)
		require.Equal(t, ticket.StatusAssigned, job.Status)
		require.Equal(t, worker, job.AssignedTo)
	}

	_, err = store.Claim(ctx, "w4", epoch)
	require.ErrorIs(t, err, queue.ErrNoneAvailable)

	pending, err = store.Pending(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func testWorkerBusy(t *testing.T, store queue.Store) {
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, req(1), epoch))
	require.NoError(t, store.Enqueue(ctx, req(2), epoch))

	_, err := store.Claim(ctx, "w1", epoch)
	require.NoError(t, err)
	_, err = store.Claim(ctx, "w1", epoch)
	require.ErrorIs(t, err, queue.ErrWorkerBusy)

	require.NoError(t, store.Complete(ctx, "w1", req(1), json.RawMessage(`{}`)))
	job, err := store.Claim(ctx, "w1", epoch)
	require.NoError(t, err)
	require.Equal(t, req(2), job.Request)
}

func testCompleteAndEvict(t *testing.T, store queue.Store) {
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, req(1), epoch))

	require.NoError(t, store.Evict(ctx, req(1)))
	_, err := store.Get(ctx, req(1))
	require.NoError(t, err, "pending jobs are never evicted")

	_, err = store.Claim(ctx, "w1", epoch)
	require.NoError(t, err)
	require.NoError(t, store.Complete(ctx, "w1", req(1), json.RawMessage(`{"outerInformation":{"number":"PM451001"}}`)))

	job, err := store.Get(ctx, req(1))
	require.NoError(t, err)
	require.Equal(t, ticket.StatusCompleted, job.Status)
	require.Empty(t, job.AssignedTo)
	require.JSONEq(t, `{"outerInformation":{"number":"PM451001"}}`, string(job.Response))

	require.NoError(t, store.Evict(ctx, req(1)))
	_, err = store.Get(ctx, req(1))
	require.ErrorIs(t, err, queue.ErrNotFound)
}

func testNotAssigned(t *testing.T, store queue.Store) {
	ctx := context.Background()

	require.ErrorIs(t, store.Complete(ctx, "w1", req(1), json.RawMessage(`{}`)), queue.ErrNotAssigned)
	require.ErrorIs(t, store.Heartbeat(ctx, "w1", req(1), epoch), queue.ErrNotAssigned)

	require.NoError(t, store.Enqueue(ctx, req(1), epoch))
	require.ErrorIs(t, store.Complete(ctx, "w1", req(1), json.RawMessage(`{}`)), queue.ErrNotAssigned)

	_, err := store.Claim(ctx, "w1", epoch)
	require.NoError(t, err)
	require.ErrorIs(t, store.Complete(ctx, "w2", req(1), json.RawMessage(`{}`)), queue.ErrNotAssigned)
	require.ErrorIs(t, store.Heartbeat(ctx, "w2", req(1), epoch), queue.ErrNotAssigned)
	require.NoError(t, store.Heartbeat(ctx, "w1", req(1), epoch))
}

func testRequeue(t *testing.T, store queue.Store) {
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, req(1), epoch))
	require.NoError(t, store.Enqueue(ctx, req(2), epoch))

	_, err := store.Claim(ctx, "w1", epoch)
	require.NoError(t, err)
	_, err = store.Claim(ctx, "w2", epoch)
	require.NoError(t, err)

	require.NoError(t, store.Heartbeat(ctx, "w2", req(2), epoch.Add(4*time.Second)))

	requeued, err := store.Requeue(ctx, epoch.Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, []ticket.LookupRequest{req(1)}, requeued)

	job, err := store.Get(ctx, req(1))
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPending, job.Status)
	require.Empty(t, job.AssignedTo)

	require.ErrorIs(t, store.Complete(ctx, "w1", req(1), json.RawMessage(`{}`)), queue.ErrNotAssigned)

	job, err = store.Claim(ctx, "w1", epoch.Add(5*time.Second))
	require.NoError(t, err, "a requeued worker is no longer busy")
	require.Equal(t, req(1), job.Request)

	job, err = store.Get(ctx, req(2))
	require.NoError(t, err)
	require.Equal(t, ticket.StatusAssigned, job.Status)
}

func testWorkers(t *testing.T, store queue.Store) {
	ctx := context.Background()

	require.NoError(t, store.RegisterWorker(ctx, "b", epoch))
	require.NoError(t, store.RegisterWorker(ctx, "a", epoch))
	_, err := store.Claim(ctx, "c", epoch.Add(time.Second))
	require.ErrorIs(t, err, queue.ErrNoneAvailable)

	workers, err := store.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 3)
	require.Equal(t, "a", workers[0].Id)
	require.Equal(t, "b", workers[1].Id)
	require.Equal(t, "c", workers[2].Id)
	require.True(t, workers[2].LastSeen.Equal(epoch.Add(time.Second)))
}
