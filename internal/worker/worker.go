// Package worker claims lookup jobs from the queue server, resolves them with a ticket.Provider
// and posts the results back.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"payticket-backend/internal/components/assert"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/ticket"
	tracing "payticket-backend/pkg/telemetry"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
)

const (
	report_worker_register  = "worker.register"
	report_worker_claim     = "worker.claim"
	report_worker_heartbeat = "worker.heartbeat"
	report_worker_lookup    = "worker.lookup"
	report_worker_result    = "worker.result"
)

const (
	DefaultPollInterval      = 2 * time.Second
	DefaultHeartbeatInterval = 2 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
)

var ErrNotAssigned = errors.New("job is no longer assigned to this worker")

type Options struct {
	ServerUrl string
	// ClientId identifies the worker to the server, a random one is generated when empty.
	ClientId     string
	PollInterval time.Duration
	// HeartbeatInterval must stay below the server's lease or jobs will be requeued while
	// they are being worked on.
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration
}

type Worker struct {
	http     *resty.Client
	provider ticket.Provider
	options  Options
	time     chrono.API
	tel      telemetry.API
}

func NewWorker(provider ticket.Provider, options Options, time chrono.API, tel telemetry.API) (Worker, error) {
	assert.NotNil(provider)
	assert.NotNil(time)
	assert.NotNil(tel)
	assert.NotEmptyStr(options.ServerUrl)

	if options.ClientId == "" {
		id, err := random.String(8)
		if err != nil {
			return Worker{}, err
		}
		options.ClientId = "worker-" + id
	}
	if options.PollInterval <= 0 {
		options.PollInterval = DefaultPollInterval
	}
	if options.HeartbeatInterval <= 0 {
		options.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultRequestTimeout
	}

	tel = telemetry.NewScopedAPI("worker", tel)

	client := resty.New()
	client.SetBaseURL(options.ServerUrl)
	client.SetTimeout(options.RequestTimeout)
	client.SetHeader("accept", "application/json")
	telemetry.InstrumentResty(client, tel)
	tracing.TraceResty(client, "payticket-backend/worker")

	return Worker{
		http:     client,
		provider: provider,
		options:  options,
		time:     time,
		tel:      tel,
	}, nil
}

func (w Worker) ClientId() string {
	return w.options.ClientId
}

type workerRequest struct {
	ClientId     string          `json:"clientId"`
	TicketNumber string          `json:"ticketNum,omitempty"`
	PlateNumber  string          `json:"plateNum,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (w Worker) assignment(req ticket.LookupRequest) workerRequest {
	return workerRequest{
		ClientId:     w.options.ClientId,
		TicketNumber: req.TicketNumber,
		PlateNumber:  req.PlateNumber,
	}
}

func (w Worker) post(ctx context.Context, path string, body workerRequest) error {
	res, err := w.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return err
	}
	if res.StatusCode() == http.StatusNotFound {
		return ErrNotAssigned
	}
	if !res.IsSuccess() {
		return fmt.Errorf("%s: %s: %s", path, res.Status(), res.String())
	}
	return nil
}

func (w Worker) Register(ctx context.Context) error {
	return w.post(ctx, "/register", workerRequest{ClientId: w.options.ClientId})
}

type workBody struct {
	Status       string `json:"status"`
	TicketNumber string `json:"ticketNum"`
	PlateNumber  string `json:"plateNum"`
}

// Claim asks the server for the next job, ok is false when there is nothing to do.
func (w Worker) Claim(ctx context.Context) (req ticket.LookupRequest, ok bool, err error) {
	var body workBody
	res, err := w.http.R().
		SetContext(ctx).
		SetPathParam("clientId", w.options.ClientId).
		SetResult(&body).
		Get("/work/{clientId}")
	if err != nil {
		return ticket.LookupRequest{}, false, err
	}
	if !res.IsSuccess() {
		return ticket.LookupRequest{}, false, fmt.Errorf("/work: %s: %s", res.Status(), res.String())
	}

	switch body.Status {
	case "busy":
		// the server still thinks we hold a job from before a restart, it will be swept
		w.tel.ReportDebug("server reports busy", w.options.ClientId)
		return ticket.LookupRequest{}, false, nil
	case "none":
		return ticket.LookupRequest{}, false, nil
	}

	req = ticket.LookupRequest{TicketNumber: body.TicketNumber, PlateNumber: body.PlateNumber}
	err = req.Validate()
	if err != nil {
		return ticket.LookupRequest{}, false, fmt.Errorf("/work: %w", err)
	}
	return req, true, nil
}

// Process resolves one claimed job and posts its result. The provider's context is cancelled
// when the server says the job is no longer ours.
func (w Worker) Process(ctx context.Context, req ticket.LookupRequest) error {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lost bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lost = w.heartbeat(jobCtx, req)
		if lost {
			cancel()
		}
	}()

	details, lookupErr := w.provider.Lookup(jobCtx, req)
	cancel()
	wg.Wait()

	if lost {
		w.tel.ReportWarning(report_worker_heartbeat, "lease lost", req.Key())
		return ErrNotAssigned
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body := w.assignment(req)
	if lookupErr != nil {
		w.tel.ReportWarning(report_worker_lookup, req.Key(), lookupErr)
		body.Error = lookupErr.Error()
	} else {
		encoded, err := json.Marshal(details)
		if err != nil {
			return err
		}
		body.Response = encoded
	}

	err := w.post(ctx, "/result", body)
	if err != nil {
		w.tel.ReportBroken(report_worker_result, req.Key(), err)
		return err
	}
	w.tel.ReportDebug("completed", req.Key())
	return nil
}

// heartbeat renews the lease until ctx is done, it returns true if the server says the job was
// reassigned.
func (w Worker) heartbeat(ctx context.Context, req ticket.LookupRequest) bool {
	for {
		err := w.time.Sleep(ctx, w.options.HeartbeatInterval)
		if err != nil {
			return false
		}
		err = w.post(ctx, "/heartbeat", w.assignment(req))
		switch {
		case errors.Is(err, ErrNotAssigned):
			return true
		case err != nil && ctx.Err() == nil:
			w.tel.ReportWarning(report_worker_heartbeat, req.Key(), err)
		}
	}
}

// RunOnce claims and processes at most one job, it returns whether a job was processed.
func (w Worker) RunOnce(ctx context.Context) (bool, error) {
	req, ok, err := w.Claim(ctx)
	if err != nil || !ok {
		return false, err
	}
	w.tel.ReportDebug("claimed", req.Key())
	return true, w.Process(ctx, req)
}

// Run registers and then works until ctx is done, server errors are reported and retried after
// the poll interval.
func (w Worker) Run(ctx context.Context) error {
	for {
		err := w.Register(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.tel.ReportBroken(report_worker_register, err)
		err = w.time.Sleep(ctx, w.options.PollInterval)
		if err != nil {
			return err
		}
	}
	w.tel.ReportDebug("registered", w.options.ClientId)

	for {
		processed, err := w.RunOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !errors.Is(err, ErrNotAssigned) {
			w.tel.ReportWarning(report_worker_claim, err)
		}
		if processed {
			continue
		}
		err = w.time.Sleep(ctx, w.options.PollInterval)
		if err != nil {
			return err
		}
	}
}
