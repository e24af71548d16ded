package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"payticket-backend/internal/components/assert"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/ticket"
	"time"
)

const (
	report_service_sweep = "service.sweep"
	report_service_claim = "service.claim"
)

const DefaultLease = 5 * time.Second

type Options struct {
	// Lease is how long an assigned job survives without a heartbeat before it is put back
	// to pending, defaults to DefaultLease.
	Lease time.Duration
	// KeepCompleted disables evicting completed jobs once their status has been read.
	KeepCompleted bool
}

// Service enforces the job lifecycle pending -> assigned -> completed on top of a Store.
type Service struct {
	store   Store
	time    chrono.API
	tel     telemetry.API
	options Options
}

func NewService(store Store, time chrono.API, tel telemetry.API, options Options) Service {
	assert.NotNil(store)
	assert.NotNil(time)
	assert.NotNil(tel)

	if options.Lease <= 0 {
		options.Lease = DefaultLease
	}
	return Service{
		store:   store,
		time:    time,
		tel:     telemetry.NewScopedAPI("queue", tel),
		options: options,
	}
}

func (s Service) Lease() time.Duration {
	return s.options.Lease
}

func (s Service) reportQueueSize(ctx context.Context) {
	pending, err := s.store.Pending(ctx)
	if err != nil {
		return
	}
	s.tel.ReportCount("pending", int64(len(pending)))
}

func (s Service) Enqueue(ctx context.Context, req ticket.LookupRequest) error {
	err := req.Validate()
	if err != nil {
		return err
	}
	err = s.store.Enqueue(ctx, req, s.time.Now())
	if err != nil {
		return err
	}
	s.tel.ReportDebug("enqueued", req.Key())
	s.reportQueueSize(ctx)
	return nil
}

// Status returns the job for req, a completed job is evicted once it has been read unless
// Options.KeepCompleted is set.
func (s Service) Status(ctx context.Context, req ticket.LookupRequest) (Job, error) {
	job, err := s.store.Get(ctx, req)
	if err != nil {
		return Job{}, err
	}
	if job.Status.Terminal() && !s.options.KeepCompleted {
		err = s.store.Evict(ctx, req)
		if err != nil {
			s.tel.ReportWarning("evict", req.Key(), err)
		}
	}
	return job, nil
}

func (s Service) Pending(ctx context.Context) ([]ticket.LookupRequest, error) {
	return s.store.Pending(ctx)
}

func (s Service) RegisterWorker(ctx context.Context, workerId string) error {
	if workerId == "" {
		return fmt.Errorf("worker id is empty")
	}
	return s.store.RegisterWorker(ctx, workerId, s.time.Now())
}

func (s Service) Workers(ctx context.Context) ([]Worker, error) {
	return s.store.Workers(ctx)
}

// Claim gives the worker the oldest pending job, unknown workers are registered on the fly.
func (s Service) Claim(ctx context.Context, workerId string) (ticket.LookupRequest, error) {
	if workerId == "" {
		return ticket.LookupRequest{}, fmt.Errorf("worker id is empty")
	}
	job, err := s.store.Claim(ctx, workerId, s.time.Now())
	if errors.Is(err, ErrWorkerBusy) {
		s.tel.ReportWarning(report_service_claim, workerId, err)
		return ticket.LookupRequest{}, err
	}
	if err != nil {
		return ticket.LookupRequest{}, err
	}
	s.tel.ReportDebug("assigned", job.Request.Key(), workerId)
	return job.Request, nil
}

func (s Service) Heartbeat(ctx context.Context, workerId string, req ticket.LookupRequest) error {
	return s.store.Heartbeat(ctx, workerId, req, s.time.Now())
}

// Complete stores the worker's result, an empty response is stored as {}.
func (s Service) Complete(ctx context.Context, workerId string, req ticket.LookupRequest, response json.RawMessage) error {
	if len(response) == 0 {
		response = json.RawMessage("{}")
	}
	if !json.Valid(response) {
		return ErrInvalidResponse
	}
	err := s.store.Complete(ctx, workerId, req, response)
	if err != nil {
		return err
	}
	s.tel.ReportDebug("completed", req.Key(), workerId)
	return nil
}

// Sweep puts jobs whose worker missed the lease back to pending and returns how many were
// requeued.
func (s Service) Sweep(ctx context.Context) (int, error) {
	requeued, err := s.store.Requeue(ctx, s.time.Now().Add(-s.options.Lease))
	if err != nil {
		s.tel.ReportBroken(report_service_sweep, err)
		return 0, err
	}
	for _, req := range requeued {
		s.tel.ReportWarning(report_service_sweep, "lease expired", req.Key())
	}
	if len(requeued) > 0 {
		s.reportQueueSize(ctx)
	}
	return len(requeued), nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s Service) RunSweeper(ctx context.Context, interval time.Duration) {
	for {
		err := s.time.Sleep(ctx, interval)
		if err != nil {
			return
		}
		s.Sweep(ctx)
	}
}
