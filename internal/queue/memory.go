package queue

import (
	"context"
	"encoding/json"
	"payticket-backend/internal/ticket"
	"slices"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory, it is lost on restart.
type MemoryStore struct {
	mutex   sync.Mutex
	jobs    map[string]*Job
	order   []string
	workers map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:    make(map[string]*Job),
		workers: make(map[string]time.Time),
	}
}

func (s *MemoryStore) removeFromOrder(key string) {
	idx := slices.Index(s.order, key)
	if idx >= 0 {
		s.order = slices.Delete(s.order, idx, idx+1)
	}
}

func (s *MemoryStore) Enqueue(_ context.Context, req ticket.LookupRequest, now time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := req.Key()
	job, ok := s.jobs[key]
	if ok && !job.Status.Terminal() {
		return ErrConflict
	}

	s.removeFromOrder(key)
	s.order = append(s.order, key)
	s.jobs[key] = &Job{
		Request:    req,
		Status:     ticket.StatusPending,
		EnqueuedAt: now,
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, req ticket.LookupRequest) (Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, ok := s.jobs[req.Key()]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *job, nil
}

func (s *MemoryStore) Evict(_ context.Context, req ticket.LookupRequest) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := req.Key()
	job, ok := s.jobs[key]
	if !ok || !job.Status.Terminal() {
		return nil
	}
	delete(s.jobs, key)
	s.removeFromOrder(key)
	return nil
}

func (s *MemoryStore) Pending(_ context.Context) ([]ticket.LookupRequest, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var out []ticket.LookupRequest
	for _, key := range s.order {
		job := s.jobs[key]
		if job.Status == ticket.StatusPending {
			out = append(out, job.Request)
		}
	}
	return out, nil
}

func (s *MemoryStore) RegisterWorker(_ context.Context, workerId string, now time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.workers[workerId] = now
	return nil
}

func (s *MemoryStore) Workers(_ context.Context) ([]Worker, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]Worker, 0, len(s.workers))
	for id, lastSeen := range s.workers {
		out = append(out, Worker{Id: id, LastSeen: lastSeen})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Id < out[j].Id
	})
	return out, nil
}

func (s *MemoryStore) Claim(_ context.Context, workerId string, now time.Time) (Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.workers[workerId] = now

	for _, job := range s.jobs {
		if job.Status == ticket.StatusAssigned && job.AssignedTo == workerId {
			return Job{}, ErrWorkerBusy
		}
	}
	for _, key := range s.order {
		job := s.jobs[key]
		if job.Status != ticket.StatusPending {
			continue
		}
		job.Status = ticket.StatusAssigned
		job.AssignedTo = workerId
		job.LastSeen = now
		return *job, nil
	}
	return Job{}, ErrNoneAvailable
}

func (s *MemoryStore) assignedTo(workerId string, req ticket.LookupRequest) (*Job, error) {
	job, ok := s.jobs[req.Key()]
	if !ok || job.Status != ticket.StatusAssigned || job.AssignedTo != workerId {
		return nil, ErrNotAssigned
	}
	return job, nil
}

func (s *MemoryStore) Heartbeat(_ context.Context, workerId string, req ticket.LookupRequest, now time.Time) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, err := s.assignedTo(workerId, req)
	if err != nil {
		return err
	}
	job.LastSeen = now
	s.workers[workerId] = now
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, workerId string, req ticket.LookupRequest, response json.RawMessage) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	job, err := s.assignedTo(workerId, req)
	if err != nil {
		return err
	}
	job.Status = ticket.StatusCompleted
	job.Response = append(json.RawMessage(nil), response...)
	job.AssignedTo = ""
	job.LastSeen = time.Time{}
	return nil
}

func (s *MemoryStore) Requeue(_ context.Context, staleBefore time.Time) ([]ticket.LookupRequest, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var stale []string
	for _, key := range s.order {
		job := s.jobs[key]
		if job.Status == ticket.StatusAssigned && job.LastSeen.Before(staleBefore) {
			stale = append(stale, key)
		}
	}

	// requeued jobs go to the back of the line
	requeued := make([]ticket.LookupRequest, 0, len(stale))
	for _, key := range stale {
		job := s.jobs[key]
		job.Status = ticket.StatusPending
		job.AssignedTo = ""
		job.LastSeen = time.Time{}
		s.removeFromOrder(key)
		s.order = append(s.order, key)
		requeued = append(requeued, job.Request)
	}
	return requeued, nil
}
