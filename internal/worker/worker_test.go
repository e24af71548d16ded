package worker

import (
	"context"
	"errors"
	"net/http/httptest"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/queue"
	"payticket-backend/internal/queueclient"
	"payticket-backend/internal/queueserver"
	"payticket-backend/internal/ticket"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type providerFunc func(ctx context.Context, req ticket.LookupRequest) (ticket.Details, error)

func (f providerFunc) Lookup(ctx context.Context, req ticket.LookupRequest) (ticket.Details, error) {
	return f(ctx, req)
}

var lookup = ticket.LookupRequest{TicketNumber: "PM451052", PlateNumber: "CBCD123"}

type fixture struct {
	svc   queue.Service
	clock *chrono.FakeImpl
	url   string
}

func setup(t *testing.T) fixture {
	clock := chrono.NewFakeImpl(time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC))
	svc := queue.NewService(queue.NewMemoryStore(), clock, &telemetry.Recorder{}, queue.Options{KeepCompleted: true})
	server := httptest.NewServer(queueserver.NewServer(svc, &telemetry.Recorder{}).Mux())
	t.Cleanup(server.Close)
	return fixture{svc: svc, clock: clock, url: server.URL}
}

func newWorker(t *testing.T, f fixture, provider ticket.Provider, tel telemetry.API) Worker {
	w, err := NewWorker(provider, Options{
		ServerUrl:         f.url,
		ClientId:          "w1",
		PollInterval:      10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}, chrono.StandardImpl{}, tel)
	require.NoError(t, err)
	return w
}

func TestProcessPostsDetails(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := newWorker(t, f, providerFunc(func(_ context.Context, req ticket.LookupRequest) (ticket.Details, error) {
		return ticket.Details{
			Summary: ticket.Summary{Number: req.TicketNumber, Status: "OUTSTANDING", Amount: "$50.00"},
		}, nil
	}), &telemetry.Recorder{})

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.False(t, processed)

	require.NoError(t, f.svc.Enqueue(ctx, lookup))
	processed, err = w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	job, err := f.svc.Status(ctx, lookup)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusCompleted, job.Status)

	details, err := queueclient.DecodeDetails(job.Response)
	require.NoError(t, err)
	require.Equal(t, "PM451052", details.Summary.Number)
	require.Equal(t, "$50.00", details.Summary.Amount)
}

func TestProcessPostsLookupFailure(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	rec := &telemetry.Recorder{}
	w := newWorker(t, f, providerFunc(func(context.Context, ticket.LookupRequest) (ticket.Details, error) {
		return ticket.Details{}, errors.New("portal unavailable")
	}), rec)

	require.NoError(t, f.svc.Enqueue(ctx, lookup))
	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	job, err := f.svc.Status(ctx, lookup)
	require.NoError(t, err)
	require.JSONEq(t, `{"error":"portal unavailable"}`, string(job.Response))
	require.NotEmpty(t, rec.Reports("warning"))
}

func TestLostLeaseCancelsLookup(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	w := newWorker(t, f, providerFunc(func(ctx context.Context, _ ticket.LookupRequest) (ticket.Details, error) {
		// a heartbeat may land between advancing and sweeping, so retry
		for range 10 {
			f.clock.Advance(time.Minute)
			n, err := f.svc.Sweep(context.Background())
			if err != nil {
				return ticket.Details{}, err
			}
			if n > 0 {
				break
			}
		}
		select {
		case <-ctx.Done():
			return ticket.Details{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return ticket.Details{}, errors.New("lookup was never cancelled")
		}
	}), &telemetry.Recorder{})

	require.NoError(t, f.svc.Enqueue(ctx, lookup))
	processed, err := w.RunOnce(ctx)
	require.True(t, processed)
	require.ErrorIs(t, err, ErrNotAssigned)

	job, err := f.svc.Status(ctx, lookup)
	require.NoError(t, err)
	require.Equal(t, ticket.StatusPending, job.Status)
}

func TestRunUntilCancelled(t *testing.T) {
	f := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := newWorker(t, f, providerFunc(func(_ context.Context, req ticket.LookupRequest) (ticket.Details, error) {
		defer cancel()
		return ticket.Details{Summary: ticket.Summary{Number: req.TicketNumber}}, nil
	}), &telemetry.Recorder{})

	require.NoError(t, f.svc.Enqueue(context.Background(), lookup))
	err := w.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)

	workers, err := f.svc.Workers(context.Background())
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, "w1", workers[0].Id)
}

func TestRunRetriesRegistration(t *testing.T) {
	rec := &telemetry.Recorder{}
	w, err := NewWorker(providerFunc(nil), Options{
		ServerUrl:    "http://127.0.0.1:1",
		PollInterval: time.Second,
	}, chrono.NewFakeImpl(time.Now()), rec)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = w.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotEmpty(t, rec.Reports("broken"))
}

func TestRandomClientId(t *testing.T) {
	a, err := NewWorker(providerFunc(nil), Options{ServerUrl: "http://localhost"}, chrono.StandardImpl{}, &telemetry.Recorder{})
	require.NoError(t, err)
	b, err := NewWorker(providerFunc(nil), Options{ServerUrl: "http://localhost"}, chrono.StandardImpl{}, &telemetry.Recorder{})
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(a.ClientId(), "worker-"))
	require.NotEqual(t, a.ClientId(), b.ClientId())
}
