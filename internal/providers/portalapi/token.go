package portalapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"payticket-backend/internal/components/telemetry"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrNoToken means the token server has no reCAPTCHA token ready, it is worth retrying later.
var ErrNoToken = errors.New("no recaptcha token available")

// TokenSource hands out single-use reCAPTCHA tokens for the portal's lookup endpoint.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// HttpTokenSource takes tokens from a token server which answers GET /token with {"token"}.
type HttpTokenSource struct {
	http *resty.Client
}

func NewHttpTokenSource(serverUrl string, tel telemetry.API) HttpTokenSource {
	client := resty.New()
	client.SetBaseURL(serverUrl)
	client.SetTimeout(10 * time.Second)
	telemetry.InstrumentResty(client, telemetry.NewScopedAPI("token_source", tel))
	return HttpTokenSource{http: client}
}

func (s HttpTokenSource) Token(ctx context.Context) (string, error) {
	var body struct {
		Token string `json:"token"`
	}
	res, err := s.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/token")
	if err != nil {
		return "", fmt.Errorf("get token: %w", err)
	}
	if res.StatusCode() == http.StatusServiceUnavailable {
		return "", ErrNoToken
	}
	if !res.IsSuccess() {
		return "", fmt.Errorf("get token: %s: %s", res.Status(), res.String())
	}
	if body.Token == "" {
		return "", ErrNoToken
	}
	return body.Token, nil
}

// StaticToken always returns the same token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}
