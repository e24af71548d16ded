package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupWithoutConfig(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })

	tel, err := SetupFromEnv(context.Background(), "test")
	require.NoError(t, err)
	require.Nil(t, tel.TracerProvider)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestTraceResty(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	client := resty.New().SetBaseURL(server.URL)
	TraceResty(client, "test")

	_, err := client.R().SetHeader("g-recaptcha-response", "secret").Get("/")
	require.NoError(t, err)
	_, err = client.R().Get("/missing")
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	require.Equal(t, "http GET", spans[0].Name)

	var redacted bool
	for _, attr := range spans[0].Attributes {
		if attr.Key == attribute.Key("request/header: G-Recaptcha-Response") {
			redacted = attr.Value.AsString() == "<redacted>"
		}
	}
	require.True(t, redacted)
	require.Equal(t, codes.Error, spans[1].Status.Code)
}
