package queueclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/ticket"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testPlate  = "CZCL340"
	testTicket = "PM451052"
)

type fakeQueue struct {
	enqueues atomic.Int32
	polls    atomic.Int32

	// enqueue defaults to answering {"queued": true}
	enqueue func(w http.ResponseWriter, r *http.Request)
	// status is called with the 1-indexed poll number
	status func(poll int, w http.ResponseWriter, r *http.Request)
}

func (f *fakeQueue) start(t testing.TB) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /enqueue", func(w http.ResponseWriter, r *http.Request) {
		f.enqueues.Add(1)
		if f.enqueue != nil {
			f.enqueue(w, r)
			return
		}
		writeJson(w, http.StatusOK, `{"queued": true}`)
	})
	statusHandler := func(w http.ResponseWriter, r *http.Request) {
		poll := f.polls.Add(1)
		f.status(int(poll), w, r)
	}
	mux.HandleFunc("GET /ticket/{ticketNum}/{plateNum}", statusHandler)
	mux.HandleFunc("GET /result/{ticketNum}/{plateNum}", statusHandler)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func writeJson(w http.ResponseWriter, status int, body string) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func notFound(w http.ResponseWriter) {
	writeJson(w, http.StatusNotFound, `{"error": "Ticket not found"}`)
}

func newTestClient(t testing.TB, baseUrl string, timeout time.Duration) (Client, *chrono.FakeImpl) {
	clock := chrono.NewFakeImpl(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	client := NewClient(
		Options{BaseUrl: baseUrl, Timeout: timeout},
		clock,
		&telemetry.Recorder{},
	)
	return client, clock
}

func TestCompletedOnFirstPoll(t *testing.T) {
	queue := &fakeQueue{
		status: func(_ int, w http.ResponseWriter, r *http.Request) {
			require.Equal(t, testTicket, r.PathValue("ticketNum"))
			require.Equal(t, testPlate, r.PathValue("plateNum"))
			writeJson(w, http.StatusOK, `{"status": "completed", "response": {"amount": "75.00"}}`)
		},
	}
	var enqueued ticket.LookupRequest
	queue.enqueue = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&enqueued))
		writeJson(w, http.StatusOK, `{"queued": true}`)
	}
	server := queue.start(t)

	client, clock := newTestClient(t, server.URL, time.Minute)
	result, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)
	require.NoError(t, err)

	require.JSONEq(t, `{"amount": "75.00"}`, string(result))
	require.Equal(t, ticket.LookupRequest{TicketNumber: testTicket, PlateNumber: testPlate}, enqueued)
	require.Empty(t, clock.Sleeps())
	require.EqualValues(t, 1, queue.polls.Load())
}

func TestEnqueueConflict(t *testing.T) {
	queue := &fakeQueue{
		enqueue: func(w http.ResponseWriter, r *http.Request) {
			writeJson(w, http.StatusConflict, `{"error": "ticket already queued"}`)
		},
		status: func(int, http.ResponseWriter, *http.Request) {
			t.Fatal("status should never be polled after a conflict")
		},
	}
	server := queue.start(t)

	client, _ := newTestClient(t, server.URL, time.Minute)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)

	var enqueueErr *EnqueueError
	require.ErrorAs(t, err, &enqueueErr)
	require.True(t, enqueueErr.Conflict)
	require.Equal(t, http.StatusConflict, enqueueErr.StatusCode)
	require.Equal(t, map[string]any{"error": "ticket already queued"}, enqueueErr.Detail)
	require.True(t, IsConflict(err))
	require.EqualValues(t, 0, queue.polls.Load())
}

func TestEnqueueFailureKeepsRawBody(t *testing.T) {
	queue := &fakeQueue{
		enqueue: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "upstream down")
		},
		status: func(int, http.ResponseWriter, *http.Request) {
			t.Fatal("status should never be polled after a failed enqueue")
		},
	}
	server := queue.start(t)

	client, _ := newTestClient(t, server.URL, time.Minute)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)

	var enqueueErr *EnqueueError
	require.ErrorAs(t, err, &enqueueErr)
	require.False(t, enqueueErr.Conflict)
	require.Equal(t, http.StatusBadGateway, enqueueErr.StatusCode)
	require.Equal(t, "upstream down", enqueueErr.Detail)
	require.False(t, IsConflict(err))
}

func TestEnqueueTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseUrl := server.URL
	server.Close()

	client, _ := newTestClient(t, baseUrl, time.Minute)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)

	var enqueueErr *EnqueueError
	require.ErrorAs(t, err, &enqueueErr)
	require.Error(t, enqueueErr.Err)
	require.Zero(t, enqueueErr.StatusCode)
}

func TestTimeoutWhenNeverFound(t *testing.T) {
	queue := &fakeQueue{
		status: func(_ int, w http.ResponseWriter, _ *http.Request) {
			notFound(w)
		},
	}
	server := queue.start(t)

	client, clock := newTestClient(t, server.URL, 5*time.Second)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, 5*time.Second, timeoutErr.Timeout)
	require.Equal(t, 5, timeoutErr.Polls)
	require.True(t, IsTimeout(err))

	require.EqualValues(t, 1, queue.enqueues.Load())
	require.EqualValues(t, 5, queue.polls.Load())
	require.Len(t, clock.Sleeps(), 5)
}

func TestTimeoutIsCheckedBeforePolling(t *testing.T) {
	queue := &fakeQueue{
		status: func(_ int, w http.ResponseWriter, _ *http.Request) {
			notFound(w)
		},
	}
	server := queue.start(t)

	clock := chrono.NewFakeImpl(time.Unix(0, 0))
	client := NewClient(
		Options{BaseUrl: server.URL, Timeout: 2500 * time.Millisecond, PollInterval: time.Second},
		clock,
		&telemetry.Recorder{},
	)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)
	require.True(t, IsTimeout(err))

	// polls at 0s, 1s and 2s, at 3s the budget is spent so no fourth poll is made
	require.EqualValues(t, 3, queue.polls.Load())
}

func TestCompletedWithoutResponse(t *testing.T) {
	for _, body := range []string{
		`{"status": "completed"}`,
		`{"status": "completed", "response": null}`,
	} {
		queue := &fakeQueue{
			status: func(_ int, w http.ResponseWriter, _ *http.Request) {
				writeJson(w, http.StatusOK, body)
			},
		}
		server := queue.start(t)

		client, _ := newTestClient(t, server.URL, time.Minute)
		result, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)
		require.NoError(t, err)
		require.JSONEq(t, `{}`, string(result))
	}
}

func TestServerErrorStopsPolling(t *testing.T) {
	queue := &fakeQueue{
		status: func(_ int, w http.ResponseWriter, _ *http.Request) {
			writeJson(w, http.StatusInternalServerError, `{"error": "boom"}`)
		},
	}
	server := queue.start(t)

	client, clock := newTestClient(t, server.URL, time.Minute)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
	require.Equal(t, map[string]any{"error": "boom"}, fetchErr.Detail)
	require.False(t, fetchErr.InvalidBody)
	require.EqualValues(t, 1, queue.polls.Load())
	require.Empty(t, clock.Sleeps())
}

func TestInvalidStatusBody(t *testing.T) {
	queue := &fakeQueue{
		status: func(_ int, w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, "<html>not json</html>")
		},
	}
	server := queue.start(t)

	client, _ := newTestClient(t, server.URL, time.Minute)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.True(t, fetchErr.InvalidBody)
	require.Equal(t, http.StatusOK, fetchErr.StatusCode)
}

func TestPollTransportFailure(t *testing.T) {
	queue := &fakeQueue{
		status: func(_ int, w http.ResponseWriter, _ *http.Request) {
			conn, _, err := w.(http.Hijacker).Hijack()
			if err == nil {
				conn.Close()
			}
		},
	}
	server := queue.start(t)

	client, _ := newTestClient(t, server.URL, time.Minute)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Error(t, fetchErr.Err)
	require.Zero(t, fetchErr.StatusCode)
}

func TestNotReadyStatusesKeepPolling(t *testing.T) {
	statuses := []string{
		`{"status": "pending"}`,
		`{"status": "assigned", "assignedTo": "worker-1"}`,
		`{"status": "processing"}`,
		`{}`,
		`{"status": "completed", "response": {"amount": "30.00"}}`,
	}
	queue := &fakeQueue{
		status: func(poll int, w http.ResponseWriter, _ *http.Request) {
			writeJson(w, http.StatusOK, statuses[poll-1])
		},
	}
	server := queue.start(t)

	client, clock := newTestClient(t, server.URL, time.Minute)
	result, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)
	require.NoError(t, err)
	require.JSONEq(t, `{"amount": "30.00"}`, string(result))
	require.Len(t, clock.Sleeps(), 4)
}

func TestNotFoundTwiceThenCompleted(t *testing.T) {
	queue := &fakeQueue{
		status: func(poll int, w http.ResponseWriter, _ *http.Request) {
			if poll <= 2 {
				notFound(w)
				return
			}
			writeJson(w, http.StatusOK, `{"status":"completed","response":{"amount":"75.00"}}`)
		},
	}
	server := queue.start(t)

	client, clock := newTestClient(t, server.URL, time.Minute)
	result, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)
	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"75.00"}`, string(result))
	require.Equal(t, []time.Duration{time.Second, time.Second}, clock.Sleeps())
}

func TestNotFoundTwiceThenCompletedWallClock(t *testing.T) {
	queue := &fakeQueue{
		status: func(poll int, w http.ResponseWriter, _ *http.Request) {
			if poll <= 2 {
				notFound(w)
				return
			}
			writeJson(w, http.StatusOK, `{"status":"completed","response":{"amount":"75.00"}}`)
		},
	}
	server := queue.start(t)

	interval := 100 * time.Millisecond
	client := NewClient(
		Options{BaseUrl: server.URL, PollInterval: interval},
		chrono.StandardImpl{},
		&telemetry.Recorder{},
	)

	start := time.Now()
	result, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.JSONEq(t, `{"amount":"75.00"}`, string(result))
	require.GreaterOrEqual(t, elapsed, 2*interval)
	require.Less(t, elapsed, 3*interval+time.Second)
}

func TestResultRoute(t *testing.T) {
	queue := &fakeQueue{
		status: func(_ int, w http.ResponseWriter, r *http.Request) {
			require.Equal(t, fmt.Sprintf("/result/%s/%s", testTicket, testPlate), r.URL.Path)
			writeJson(w, http.StatusOK, `{"status": "completed", "response": {}}`)
		},
	}
	server := queue.start(t)

	client := NewClient(
		Options{BaseUrl: server.URL + "/", StatusRoute: RouteResult},
		chrono.NewFakeImpl(time.Unix(0, 0)),
		&telemetry.Recorder{},
	)
	_, err := client.FetchTicketResult(context.Background(), testPlate, testTicket)
	require.NoError(t, err)
}

func TestCancelWhileWaiting(t *testing.T) {
	queue := &fakeQueue{
		status: func(_ int, w http.ResponseWriter, _ *http.Request) {
			notFound(w)
		},
	}
	server := queue.start(t)

	client := NewClient(
		Options{BaseUrl: server.URL, PollInterval: time.Hour},
		chrono.StandardImpl{},
		&telemetry.Recorder{},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := client.FetchTicketResult(ctx, testPlate, testTicket)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
	require.False(t, IsTimeout(err))
}

func TestDefaults(t *testing.T) {
	options := Options{}.withDefaults()
	require.Equal(t, Options{
		BaseUrl:        "http://localhost:3000",
		Timeout:        60 * time.Second,
		RequestTimeout: 10 * time.Second,
		PollInterval:   time.Second,
		StatusRoute:    RouteTicket,
	}, options)
}

func TestParseStatusRoute(t *testing.T) {
	route, err := ParseStatusRoute("")
	require.NoError(t, err)
	require.Equal(t, RouteTicket, route)

	route, err = ParseStatusRoute("/result")
	require.NoError(t, err)
	require.Equal(t, RouteResult, route)

	_, err = ParseStatusRoute("results")
	require.Error(t, err)
	_, err = ParseStatusRoute("ticket")
	require.Error(t, err)
}
