package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

func TestScopedAPI(t *testing.T) {
	rec := &Recorder{}
	tel := NewScopedAPI("outer", NewScopedAPI("inner", rec))

	tel.ReportBroken("store", "a")
	tel.ReportWarning("claim", 1)
	tel.ReportDebug("claimed")
	tel.ReportCount("pending", 3)

	require.Equal(t, []Report{{Kind: "broken", Id: "inner: outer: store", Params: []any{"a"}}}, rec.Reports("broken"))
	require.Equal(t, "inner: outer: claim", rec.Reports("warning")[0].Id)
	require.Equal(t, "inner: outer: claimed", rec.Reports("debug")[0].Id)
	require.Equal(t, []any{int64(3)}, rec.Reports("count")[0].Params)
}

func TestInstrumentResty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	rec := &Recorder{}
	client := resty.New()
	InstrumentResty(client, rec)

	_, err := client.R().SetContext(context.Background()).Get(srv.URL)
	require.NoError(t, err)

	debug := rec.Reports("debug")
	require.Len(t, debug, 2)
	require.Equal(t, report_resty_request, debug[0].Id)
	require.Equal(t, report_resty_response, debug[1].Id)
	require.Equal(t, debug[0].Params[0], debug[1].Params[0])
	require.Contains(t, debug[1].Params[2], "418")
}

func TestInstrumentRestyReportsTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &Recorder{}
	client := resty.New()
	InstrumentResty(client, rec)

	_, err := client.R().Get(url)
	require.Error(t, err)
	require.Len(t, rec.Reports("warning"), 1)
}

func TestScopedReportIds(t *testing.T) {
	rec := &Recorder{}
	NewScopedAPI("worker", rec).ReportWarning("worker.heartbeat", "lease lost")

	warnings := rec.Reports("warning")
	require.Len(t, warnings, 1)
	require.Equal(t, "worker: worker.heartbeat", warnings[0].Id)
	require.Equal(t, []any{"lease lost"}, warnings[0].Params)
}
