// Package portalapi looks up tickets through the JSON endpoint behind the city's payment portal.
package portalapi

import (
	"context"
	"encoding/json"
	"fmt"
	"payticket-backend/internal/components/assert"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/ticket"
	"payticket-backend/pkg/restydump"
	tracing "payticket-backend/pkg/telemetry"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_provider_lookup = "provider.lookup"
	report_provider_decode = "provider.decode"
)

const (
	DefaultEndpoint = "https://api.toronto.ca/parking/Lookup"
	DefaultOrigin   = "https://secure.toronto.ca"
)

// LookupError is the portal refusing a lookup, usually because the ticket and plate do not match.
type LookupError struct {
	Request ticket.LookupRequest
	Code    string
	Message string
}

func (e *LookupError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("portal rejected lookup of %s", e.Request)
	}
	return fmt.Sprintf("portal rejected lookup of %s: %s", e.Request, e.Message)
}

type Options struct {
	Endpoint string
	Origin   string
	// RequestsPerSecond limits how fast the portal is hit, defaults to 2.
	RequestsPerSecond float64
	Timeout           time.Duration
	// Capture receives a transcript of every exchange with the portal when set.
	Capture restydump.Output
}

type Provider struct {
	http     *resty.Client
	tokens   TokenSource
	endpoint string
	tel      telemetry.API
}

var _ ticket.Provider = Provider{}

func NewProvider(tokens TokenSource, options Options, tel telemetry.API) Provider {
	assert.NotNil(tokens)
	assert.NotNil(tel)

	if options.Endpoint == "" {
		options.Endpoint = DefaultEndpoint
	}
	if options.Origin == "" {
		options.Origin = DefaultOrigin
	}
	if options.RequestsPerSecond <= 0 {
		options.RequestsPerSecond = 2
	}
	if options.Timeout <= 0 {
		options.Timeout = 30 * time.Second
	}

	tel = telemetry.NewScopedAPI("portal_api", tel)

	client := resty.New()
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetTimeout(options.Timeout)
	client.SetHeader("accept", "application/json, text/javascript, */*; q=0.01")
	client.SetHeader("origin", options.Origin)
	client.SetHeader("referer", options.Origin+"/")

	// max burst >= rate just means that no requests will be dropped
	limiter := rate.NewLimiter(rate.Limit(options.RequestsPerSecond), max(1, int(options.RequestsPerSecond)))
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		return limiter.Wait(req.Context())
	})

	telemetry.InstrumentResty(client, tel)
	tracing.TraceResty(client, "payticket-backend/portalapi")
	if options.Capture != nil {
		restydump.Capture(client, "portal_api", options.Capture)
	}

	return Provider{
		http:     client,
		tokens:   tokens,
		endpoint: options.Endpoint,
		tel:      tel,
	}
}

type lookupBody struct {
	PlateNumber  string `json:"PLATE_NUMBER"`
	TicketNumber string `json:"TICKET"`
}

func (p Provider) Lookup(ctx context.Context, req ticket.LookupRequest) (ticket.Details, error) {
	err := req.Validate()
	if err != nil {
		return ticket.Details{}, err
	}

	token, err := p.tokens.Token(ctx)
	if err != nil {
		return ticket.Details{}, err
	}

	res, err := p.http.R().
		SetContext(ctx).
		SetHeader("g-recaptcha-response", token).
		SetBody(lookupBody{
			PlateNumber:  strings.ToUpper(req.PlateNumber),
			TicketNumber: strings.ToUpper(req.TicketNumber),
		}).
		Post(p.endpoint)
	if err != nil {
		return ticket.Details{}, fmt.Errorf("portal lookup: %w", err)
	}
	if !res.IsSuccess() {
		p.tel.ReportBroken(report_provider_lookup, res.StatusCode(), res.String())
		return ticket.Details{}, fmt.Errorf("portal lookup: %s", res.Status())
	}

	var body lookupResponse
	err = json.Unmarshal(res.Body(), &body)
	if err != nil {
		p.tel.ReportBroken(report_provider_decode, err, res.String())
		return ticket.Details{}, fmt.Errorf("decode portal response: %w", err)
	}

	if v := body.ValidateResponse; v != nil && v.Status == "FAILURE" {
		message := v.ErrorMessage
		if message == "" {
			message = v.Message
		}
		return ticket.Details{}, &LookupError{Request: req, Code: v.ErrorCode, Message: message}
	}

	details, err := body.details()
	if err != nil {
		p.tel.ReportBroken(report_provider_decode, err, res.String())
		return ticket.Details{}, fmt.Errorf("decode portal response: %w", err)
	}
	return details, nil
}
