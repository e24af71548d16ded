package portalpage

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"payticket-backend/internal/components/assert"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/ticket"
	"payticket-backend/pkg/restydump"
	"time"

	"github.com/go-resty/resty/v2"
)

const report_provider_parse = "provider.parse"

// HTMLSource renders the portal's result page for a lookup.
type HTMLSource interface {
	Render(ctx context.Context, req ticket.LookupRequest) ([]byte, error)
}

type Provider struct {
	source HTMLSource
	base   *url.URL
	tel    telemetry.API
}

var _ ticket.Provider = Provider{}

// NewProvider creates a provider parsing pages from source, links on the page are resolved
// against baseUrl.
func NewProvider(source HTMLSource, baseUrl string, tel telemetry.API) (Provider, error) {
	assert.NotNil(source)
	assert.NotNil(tel)

	var base *url.URL
	if baseUrl != "" {
		parsed, err := url.Parse(baseUrl)
		if err != nil {
			return Provider{}, err
		}
		base = parsed
	}
	return Provider{
		source: source,
		base:   base,
		tel:    telemetry.NewScopedAPI("portal_page", tel),
	}, nil
}

func (p Provider) Lookup(ctx context.Context, req ticket.LookupRequest) (ticket.Details, error) {
	err := req.Validate()
	if err != nil {
		return ticket.Details{}, err
	}

	page, err := p.source.Render(ctx, req)
	if err != nil {
		return ticket.Details{}, fmt.Errorf("render portal page: %w", err)
	}

	details, err := Parse(bytes.NewReader(page), p.base)
	if err != nil {
		p.tel.ReportWarning(report_provider_parse, req.Key(), err)
		return ticket.Details{}, err
	}
	return details, nil
}

// HTTPSource asks a rendering service to load the portal page, it answers
// POST {url} {"plateNum","ticketNum"} with the page's HTML.
type HTTPSource struct {
	http *resty.Client
	url  string
}

func NewHTTPSource(rendererUrl string, timeout time.Duration, tel telemetry.API) HTTPSource {
	if timeout <= 0 {
		timeout = time.Minute
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("accept", "text/html")
	telemetry.InstrumentResty(client, telemetry.NewScopedAPI("page_renderer", tel))
	return HTTPSource{http: client, url: rendererUrl}
}

// Capture sends a transcript of every render request to output.
func (s HTTPSource) Capture(output restydump.Output) HTTPSource {
	restydump.Capture(s.http, "portal_page", output)
	return s
}

func (s HTTPSource) Render(ctx context.Context, req ticket.LookupRequest) ([]byte, error) {
	res, err := s.http.R().
		SetContext(ctx).
		SetBody(req).
		Post(s.url)
	if err != nil {
		return nil, err
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("renderer: %s: %s", res.Status(), res.String())
	}
	return res.Body(), nil
}

// StaticSource serves the same page for every request.
type StaticSource []byte

func (s StaticSource) Render(context.Context, ticket.LookupRequest) ([]byte, error) {
	return s, nil
}
