// Package bulk looks up many tickets through the queue server at once.
package bulk

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"payticket-backend/internal/components/assert"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/history"
	"payticket-backend/internal/queueclient"
	"payticket-backend/internal/ticket"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const report_runner_history = "runner.history"

// Kind classifies how a lookup ended.
type Kind string

const (
	KindOk            Kind = "ok"
	KindConflict      Kind = "conflict"
	KindEnqueueFailed Kind = "enqueue_failed"
	KindTimeout       Kind = "timeout"
	KindFetchFailed   Kind = "fetch_failed"
	KindLookupFailed  Kind = "lookup_failed"
	KindCancelled     Kind = "cancelled"
)

// Kinds lists every Kind, it is also the set of outcomes written to history.
var Kinds = []Kind{
	KindOk,
	KindConflict,
	KindEnqueueFailed,
	KindTimeout,
	KindFetchFailed,
	KindLookupFailed,
	KindCancelled,
}

type Outcome struct {
	Request ticket.LookupRequest
	Kind    Kind
	Result  json.RawMessage
	Err     error
	Elapsed time.Duration
}

// Classify maps the result of FetchTicketResult to a Kind.
func Classify(result json.RawMessage, err error) Kind {
	var enqueueErr *queueclient.EnqueueError
	var timeoutErr *queueclient.TimeoutError
	var fetchErr *queueclient.FetchError

	switch {
	case err == nil:
		_, decodeErr := queueclient.DecodeDetails(result)
		if errors.Is(decodeErr, queueclient.ErrLookupFailed) {
			return KindLookupFailed
		}
		return KindOk
	case errors.As(err, &enqueueErr):
		if enqueueErr.Conflict {
			return KindConflict
		}
		return KindEnqueueFailed
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &fetchErr):
		return KindFetchFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	}
	return KindFetchFailed
}

// Fetcher is implemented by queueclient.Client.
type Fetcher interface {
	FetchTicketResult(ctx context.Context, plateNum, ticketNum string) (json.RawMessage, error)
}

// History is implemented by history.Store.
type History interface {
	Record(ctx context.Context, entry history.Entry) (history.Entry, error)
}

type Options struct {
	// Concurrency is how many lookups are in flight at once, defaults to 4.
	Concurrency int
	// RatePerSecond bounds how fast lookups are started, defaults to 2.
	RatePerSecond float64
}

type Runner struct {
	fetcher Fetcher
	history History
	options Options
	time    chrono.API
	tel     telemetry.API
}

// NewRunner creates a runner, history may be nil.
func NewRunner(fetcher Fetcher, history History, options Options, time chrono.API, tel telemetry.API) Runner {
	assert.NotNil(fetcher)
	assert.NotNil(time)
	assert.NotNil(tel)

	if options.Concurrency <= 0 {
		options.Concurrency = 4
	}
	if options.RatePerSecond <= 0 {
		options.RatePerSecond = 2
	}
	return Runner{
		fetcher: fetcher,
		history: history,
		options: options,
		time:    time,
		tel:     telemetry.NewScopedAPI("bulk", tel),
	}
}

// Run looks up every request and returns one outcome per request, in the same order.
func (r Runner) Run(ctx context.Context, reqs []ticket.LookupRequest) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	limiter := rate.NewLimiter(rate.Limit(r.options.RatePerSecond), 1)

	jobs := make(chan int)
	var wg sync.WaitGroup
	for range min(r.options.Concurrency, len(reqs)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = r.lookup(ctx, limiter, reqs[i])
			}
		}()
	}
	for i := range reqs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (r Runner) lookup(ctx context.Context, limiter *rate.Limiter, req ticket.LookupRequest) Outcome {
	err := limiter.Wait(ctx)
	if err != nil {
		return Outcome{Request: req, Kind: KindCancelled, Err: err}
	}

	start := r.time.Now()
	result, err := r.fetcher.FetchTicketResult(ctx, req.PlateNumber, req.TicketNumber)
	outcome := Outcome{
		Request: req,
		Kind:    Classify(result, err),
		Result:  result,
		Err:     err,
		Elapsed: r.time.Now().Sub(start),
	}
	r.tel.ReportDebug("lookup", req.Key(), outcome.Kind, outcome.Elapsed.String())

	if r.history != nil {
		entry := history.Entry{
			Request: req,
			Outcome: string(outcome.Kind),
			Payload: result,
			Elapsed: outcome.Elapsed,
		}
		if err != nil {
			entry.Error = err.Error()
		}
		_, err := r.history.Record(context.WithoutCancel(ctx), entry)
		if err != nil {
			r.tel.ReportBroken(report_runner_history, req.Key(), err)
		}
	}
	return outcome
}

// Err joins the errors of every unsuccessful outcome, nil if all succeeded.
func Err(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", o.Request, o.Err))
		case o.Kind != KindOk:
			errs = append(errs, fmt.Errorf("%s: %s", o.Request, o.Kind))
		}
	}
	return errors.Join(errs...)
}

// Count tallies outcomes by kind.
func Count(outcomes []Outcome) map[Kind]int {
	counts := make(map[Kind]int)
	for _, o := range outcomes {
		counts[o.Kind]++
	}
	return counts
}

// ReadRequests parses one "ticket,plate" pair per line, blank lines and lines starting with
// # are skipped.
func ReadRequests(r io.Reader) ([]ticket.LookupRequest, error) {
	var reqs []ticket.LookupRequest
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		ticketNum, plateNum, ok := strings.Cut(text, ",")
		req := ticket.LookupRequest{
			TicketNumber: strings.TrimSpace(ticketNum),
			PlateNumber:  strings.TrimSpace(plateNum),
		}
		if !ok || req.Validate() != nil {
			return nil, fmt.Errorf("line %d: expected \"ticket,plate\", got %q", line, text)
		}
		reqs = append(reqs, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return reqs, nil
}
