// Package queue keeps track of ticket lookup jobs on the server side: which tickets are waiting,
// which worker is processing which ticket, and the results of completed lookups.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"payticket-backend/internal/ticket"
	"time"
)

var (
	ErrConflict      = errors.New("ticket already queued")
	ErrNotFound      = errors.New("ticket not found")
	ErrNotAssigned   = errors.New("not_assigned")
	ErrWorkerBusy    = errors.New("worker busy")
	ErrNoneAvailable = errors.New("no pending tickets")
)

// ErrInvalidResponse is returned by Service.Complete for a response that is not JSON.
var ErrInvalidResponse = errors.New("response is not valid json")

type Job struct {
	Request    ticket.LookupRequest
	Status     ticket.JobStatus
	Response   json.RawMessage
	AssignedTo string
	// LastSeen is the time of the assigned worker's last heartbeat.
	LastSeen   time.Time
	EnqueuedAt time.Time
}

type Worker struct {
	Id       string
	LastSeen time.Time
}

// Store persists jobs and workers, every method must be atomic with respect to the others
// since multiple servers (or goroutines) may share a store.
type Store interface {
	// Enqueue marks req as pending. It fails with ErrConflict when req is already pending or
	// assigned, a completed req goes back to pending.
	Enqueue(ctx context.Context, req ticket.LookupRequest, now time.Time) error
	// Get fails with ErrNotFound for unknown requests.
	Get(ctx context.Context, req ticket.LookupRequest) (Job, error)
	// Evict removes req only if it is completed.
	Evict(ctx context.Context, req ticket.LookupRequest) error
	// Pending lists pending requests in the order they will be claimed.
	Pending(ctx context.Context) ([]ticket.LookupRequest, error)

	RegisterWorker(ctx context.Context, workerId string, now time.Time) error
	Workers(ctx context.Context) ([]Worker, error)

	// Claim assigns the oldest pending request to the worker. It fails with ErrWorkerBusy when the
	// worker already has an assignment and ErrNoneAvailable when nothing is pending.
	Claim(ctx context.Context, workerId string, now time.Time) (Job, error)
	// Heartbeat fails with ErrNotAssigned if req is not assigned to the worker.
	Heartbeat(ctx context.Context, workerId string, req ticket.LookupRequest, now time.Time) error
	// Complete fails with ErrNotAssigned if req is not assigned to the worker.
	Complete(ctx context.Context, workerId string, req ticket.LookupRequest, response json.RawMessage) error
	// Requeue puts assigned requests whose last heartbeat is before staleBefore back to pending.
	Requeue(ctx context.Context, staleBefore time.Time) ([]ticket.LookupRequest, error)
}
