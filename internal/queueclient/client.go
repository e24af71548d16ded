// Package queueclient talks to the ticket queue server: it enqueues a lookup job and polls
// the job's status until the server reports it completed.
package queueclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"payticket-backend/internal/components/assert"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/ticket"
	tracing "payticket-backend/pkg/telemetry"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_client_enqueue = "client.enqueue"
	report_client_poll    = "client.poll"
)

const (
	DefaultBaseUrl        = "http://localhost:3000"
	DefaultTimeout        = 60 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	DefaultPollInterval   = time.Second
)

// StatusRoute is the path prefix the queue server exposes job status under.
type StatusRoute string

const (
	RouteTicket StatusRoute = "/ticket"
	// RouteResult is used by deployments running the older result server.
	RouteResult StatusRoute = "/result"
)

// ParseStatusRoute accepts "/ticket" or "/result", an empty route means RouteTicket.
func ParseStatusRoute(route string) (StatusRoute, error) {
	switch StatusRoute(route) {
	case "":
		return RouteTicket, nil
	case RouteTicket, RouteResult:
		return StatusRoute(route), nil
	}
	return "", fmt.Errorf("unknown status route %q, expected %q or %q", route, RouteTicket, RouteResult)
}

type Options struct {
	// BaseUrl is the root of the queue server, defaults to DefaultBaseUrl.
	BaseUrl string
	// Timeout bounds the total time spent polling, it starts once the job has been enqueued.
	Timeout time.Duration
	// RequestTimeout bounds every individual HTTP call, independently of Timeout.
	RequestTimeout time.Duration
	// PollInterval is how long to wait between status requests while the job is not ready.
	PollInterval time.Duration
	StatusRoute  StatusRoute
}

func (o Options) withDefaults() Options {
	if o.BaseUrl == "" {
		o.BaseUrl = DefaultBaseUrl
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StatusRoute == "" {
		o.StatusRoute = RouteTicket
	}
	return o
}

// Client holds no state between calls, every FetchTicketResult is an independent job lifecycle
// and it is safe to use from multiple goroutines.
type Client struct {
	http    *resty.Client
	options Options
	time    chrono.API
	tel     telemetry.API
}

func NewClient(options Options, time chrono.API, tel telemetry.API) Client {
	assert.NotNil(time)
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("queue_client", tel)
	options = options.withDefaults()

	client := resty.New()
	client.SetBaseURL(options.BaseUrl)
	client.SetTimeout(options.RequestTimeout)
	client.SetHeader("accept", "application/json")
	telemetry.InstrumentResty(client, tel)
	tracing.TraceResty(client, "payticket-backend/queueclient")

	return Client{
		http:    client,
		options: options,
		time:    time,
		tel:     tel,
	}
}

func (c Client) Options() Options {
	return c.options
}

// FetchTicketResult enqueues a lookup for the given plate and ticket, then polls until the
// server reports the job completed and returns its `response` payload ({} if it had none).
//
// It fails with *EnqueueError, *TimeoutError or *FetchError. Only "not found" and "not
// completed yet" are retried, anything else ends the call, a caller wanting resilience should
// call FetchTicketResult again.
func (c Client) FetchTicketResult(ctx context.Context, plateNum, ticketNum string) (json.RawMessage, error) {
	req := ticket.LookupRequest{TicketNumber: ticketNum, PlateNumber: plateNum}

	err := c.enqueue(ctx, req)
	if err != nil {
		return nil, err
	}
	return c.poll(ctx, req)
}

func (c Client) enqueue(ctx context.Context, req ticket.LookupRequest) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/enqueue")
	if err != nil {
		return &EnqueueError{Request: req, Err: err}
	}

	switch {
	case res.StatusCode() == http.StatusConflict:
		return &EnqueueError{
			Request:    req,
			StatusCode: res.StatusCode(),
			Conflict:   true,
			Detail:     parseDetail(res.Body()),
		}
	case !res.IsSuccess():
		c.tel.ReportBroken(report_client_enqueue, res.StatusCode(), res.String())
		return &EnqueueError{
			Request:    req,
			StatusCode: res.StatusCode(),
			Detail:     parseDetail(res.Body()),
		}
	}

	c.tel.ReportDebug("enqueued", req.Key())
	return nil
}

type statusBody struct {
	Status   ticket.JobStatus `json:"status"`
	Response json.RawMessage  `json:"response"`
}

func (b statusBody) result() json.RawMessage {
	if len(b.Response) == 0 || string(b.Response) == "null" {
		return json.RawMessage("{}")
	}
	return b.Response
}

func (c Client) poll(ctx context.Context, req ticket.LookupRequest) (json.RawMessage, error) {
	start := c.time.Now()
	polls := 0

	for {
		if c.time.Now().Sub(start) >= c.options.Timeout {
			return nil, &TimeoutError{Request: req, Timeout: c.options.Timeout, Polls: polls}
		}

		polls++
		res, err := c.http.R().
			SetContext(ctx).
			SetPathParams(map[string]string{
				"ticketNum": req.TicketNumber,
				"plateNum":  req.PlateNumber,
			}).
			Get(string(c.options.StatusRoute) + "/{ticketNum}/{plateNum}")
		if err != nil {
			return nil, &FetchError{Request: req, Err: err}
		}

		switch {
		case res.StatusCode() == http.StatusNotFound:
			c.tel.ReportDebug("not found yet", req.Key(), polls)
		case res.IsSuccess():
			var body statusBody
			err := json.Unmarshal(res.Body(), &body)
			if err != nil {
				c.tel.ReportBroken(report_client_poll, err, res.String())
				return nil, &FetchError{
					Request:     req,
					StatusCode:  res.StatusCode(),
					InvalidBody: true,
					Detail:      res.String(),
					Err:         err,
				}
			}
			if body.Status.Terminal() {
				return body.result(), nil
			}
			c.tel.ReportDebug("not completed yet", req.Key(), body.Status, polls)
		default:
			c.tel.ReportBroken(report_client_poll, res.StatusCode(), res.String())
			return nil, &FetchError{
				Request:    req,
				StatusCode: res.StatusCode(),
				Detail:     parseDetail(res.Body()),
			}
		}

		err = c.time.Sleep(ctx, c.options.PollInterval)
		if err != nil {
			return nil, err
		}
	}
}

// FetchTicketResult is a one-off call using the default request timeout and poll interval.
func FetchTicketResult(ctx context.Context, plateNum, ticketNum, baseUrl string, timeout time.Duration) (json.RawMessage, error) {
	client := NewClient(
		Options{BaseUrl: baseUrl, Timeout: timeout},
		chrono.StandardImpl{},
		telemetry.SlogAPI{},
	)
	return client.FetchTicketResult(ctx, plateNum, ticketNum)
}
