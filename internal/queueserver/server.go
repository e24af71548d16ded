// Package queueserver exposes a queue.Service over the JSON HTTP protocol spoken by
// queueclient and worker.
package queueserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"payticket-backend/internal/components/assert"
	"payticket-backend/internal/components/telemetry"
	"payticket-backend/internal/queue"
	"payticket-backend/internal/ticket"
	"time"
)

const (
	report_server_store  = "server.store"
	report_server_encode = "server.encode"
)

const DefaultSweepInterval = time.Second

type Server struct {
	svc queue.Service
	tel telemetry.API
}

func NewServer(svc queue.Service, tel telemetry.API) Server {
	assert.NotNil(tel)
	return Server{
		svc: svc,
		tel: telemetry.NewScopedAPI("queue_server", tel),
	}
}

// RunSweeper requeues expired leases every interval until ctx is done.
func (s Server) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.svc.RunSweeper(ctx, interval)
}

// Mux registers every route of the queue protocol on a new ServeMux.
func (s Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /enqueue", s.enqueue)
	mux.HandleFunc("GET /ticket/{ticketNum}/{plateNum}", s.status)
	mux.HandleFunc("GET /result/{ticketNum}/{plateNum}", s.status)
	mux.HandleFunc("GET /queue", s.pending)
	mux.HandleFunc("GET /workers", s.workers)
	mux.HandleFunc("POST /register", s.register)
	mux.HandleFunc("GET /work/{clientId}", s.work)
	mux.HandleFunc("POST /heartbeat", s.heartbeat)
	mux.HandleFunc("POST /result", s.result)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type errorBody struct {
	Error string `json:"error"`
}

func (s Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(body)
	if err != nil {
		s.tel.ReportWarning(report_server_encode, err)
	}
}

func (s Server) writeError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, errorBody{Error: message})
}

// storeFailure answers 500 for errors that are not part of the job lifecycle.
func (s Server) storeFailure(w http.ResponseWriter, err error) {
	s.tel.ReportBroken(report_server_store, err)
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	return json.NewDecoder(r.Body).Decode(out)
}

func (s Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req ticket.LookupRequest
	err := decode(w, r, &req)
	if err != nil || req.Validate() != nil {
		s.writeError(w, http.StatusBadRequest, "ticketNum and plateNum required")
		return
	}

	err = s.svc.Enqueue(r.Context(), req)
	switch {
	case errors.Is(err, queue.ErrConflict):
		s.writeError(w, http.StatusConflict, "ticket already queued")
		return
	case err != nil:
		s.storeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"queued": true})
}

type statusBody struct {
	Status     ticket.JobStatus `json:"status"`
	Response   json.RawMessage  `json:"response,omitempty"`
	AssignedTo string           `json:"assignedTo,omitempty"`
}

func (s Server) status(w http.ResponseWriter, r *http.Request) {
	req := ticket.LookupRequest{
		TicketNumber: r.PathValue("ticketNum"),
		PlateNumber:  r.PathValue("plateNum"),
	}

	job, err := s.svc.Status(r.Context(), req)
	switch {
	case errors.Is(err, queue.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "Ticket not found")
		return
	case err != nil:
		s.storeFailure(w, err)
		return
	}

	body := statusBody{Status: job.Status}
	switch job.Status {
	case ticket.StatusCompleted:
		body.Response = job.Response
	case ticket.StatusAssigned:
		body.AssignedTo = job.AssignedTo
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s Server) pending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.svc.Pending(r.Context())
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	if pending == nil {
		pending = []ticket.LookupRequest{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// WorkerRequest is the body of every worker call, Response and Error are only read by /result.
type WorkerRequest struct {
	ClientId     string          `json:"clientId"`
	TicketNumber string          `json:"ticketNum,omitempty"`
	PlateNumber  string          `json:"plateNum,omitempty"`
	Response     json.RawMessage `json:"response,omitempty"`
	Error        string          `json:"error,omitempty"`
}

func (b WorkerRequest) lookup() ticket.LookupRequest {
	return ticket.LookupRequest{TicketNumber: b.TicketNumber, PlateNumber: b.PlateNumber}
}

func (s Server) register(w http.ResponseWriter, r *http.Request) {
	var body WorkerRequest
	err := decode(w, r, &body)
	if err != nil || body.ClientId == "" {
		s.writeError(w, http.StatusBadRequest, "clientId required")
		return
	}
	err = s.svc.RegisterWorker(r.Context(), body.ClientId)
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type workerBody struct {
	ClientId string    `json:"clientId"`
	LastSeen time.Time `json:"lastSeen"`
}

func (s Server) workers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.svc.Workers(r.Context())
	if err != nil {
		s.storeFailure(w, err)
		return
	}
	out := make([]workerBody, 0, len(workers))
	for _, worker := range workers {
		out = append(out, workerBody{ClientId: worker.Id, LastSeen: worker.LastSeen})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"workers": out})
}

func (s Server) work(w http.ResponseWriter, r *http.Request) {
	req, err := s.svc.Claim(r.Context(), r.PathValue("clientId"))
	switch {
	case errors.Is(err, queue.ErrWorkerBusy):
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "busy"})
		return
	case errors.Is(err, queue.ErrNoneAvailable):
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "none"})
		return
	case err != nil:
		s.storeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s Server) decodeAssignment(w http.ResponseWriter, r *http.Request) (WorkerRequest, bool) {
	var body WorkerRequest
	err := decode(w, r, &body)
	if err != nil || body.ClientId == "" || body.lookup().Validate() != nil {
		s.writeError(w, http.StatusBadRequest, "missing fields")
		return WorkerRequest{}, false
	}
	return body, true
}

func (s Server) heartbeat(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeAssignment(w, r)
	if !ok {
		return
	}
	err := s.svc.Heartbeat(r.Context(), body.ClientId, body.lookup())
	switch {
	case errors.Is(err, queue.ErrNotAssigned):
		s.writeError(w, http.StatusNotFound, queue.ErrNotAssigned.Error())
		return
	case err != nil:
		s.storeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s Server) result(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeAssignment(w, r)
	if !ok {
		return
	}

	response := body.Response
	if body.Error != "" {
		encoded, err := json.Marshal(errorBody{Error: body.Error})
		if err != nil {
			s.storeFailure(w, err)
			return
		}
		response = encoded
	}

	err := s.svc.Complete(r.Context(), body.ClientId, body.lookup(), response)
	switch {
	case errors.Is(err, queue.ErrInvalidResponse):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, queue.ErrNotAssigned):
		s.writeError(w, http.StatusNotFound, queue.ErrNotAssigned.Error())
		return
	case err != nil:
		s.storeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
