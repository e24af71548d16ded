// Package redisstore is a queue.Store backed by redis, it lets several queue servers share
// one queue.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"payticket-backend/internal/queue"
	"payticket-backend/internal/ticket"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "payticket"

type Options struct {
	// Prefix namespaces every key the store writes, defaults to DefaultPrefix.
	Prefix string
	// CompletedTTL expires completed jobs nobody read, zero keeps them until evicted.
	CompletedTTL time.Duration
}

type Store struct {
	rdb     *redis.Client
	options Options
}

var _ queue.Store = Store{}

func New(rdb *redis.Client, options Options) Store {
	if options.Prefix == "" {
		options.Prefix = DefaultPrefix
	}
	return Store{rdb: rdb, options: options}
}

// Open connects to the redis server at url (redis://...) and makes sure it is reachable.
func Open(ctx context.Context, url string, options Options) (Store, error) {
	redisOptions, err := redis.ParseURL(url)
	if err != nil {
		return Store{}, err
	}
	rdb := redis.NewClient(redisOptions)
	err = rdb.Ping(ctx).Err()
	if err != nil {
		rdb.Close()
		return Store{}, fmt.Errorf("ping redis: %w", err)
	}
	return New(rdb, options), nil
}

func (s Store) Close() error {
	return s.rdb.Close()
}

func (s Store) jobPrefix() string {
	return s.options.Prefix + ":job:"
}

func (s Store) jobKey(req ticket.LookupRequest) string {
	return s.jobPrefix() + req.Key()
}

func (s Store) pendingKey() string {
	return s.options.Prefix + ":pending"
}

func (s Store) assignedKey() string {
	return s.options.Prefix + ":assigned"
}

func (s Store) busyKey() string {
	return s.options.Prefix + ":busy"
}

func (s Store) workersKey() string {
	return s.options.Prefix + ":workers"
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(value string) time.Time {
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func (s Store) Enqueue(ctx context.Context, req ticket.LookupRequest, now time.Time) error {
	ok, err := enqueueScript.Run(
		ctx, s.rdb,
		[]string{s.jobKey(req), s.pendingKey()},
		req.Key(), millis(now),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return queue.ErrConflict
	}
	return nil
}

func (s Store) Get(ctx context.Context, req ticket.LookupRequest) (queue.Job, error) {
	fields, err := s.rdb.HGetAll(ctx, s.jobKey(req)).Result()
	if err != nil {
		return queue.Job{}, err
	}
	if len(fields) == 0 {
		return queue.Job{}, queue.ErrNotFound
	}

	job := queue.Job{
		Request:    req,
		Status:     ticket.JobStatus(fields["status"]),
		AssignedTo: fields["assignedTo"],
		LastSeen:   fromMillis(fields["lastSeen"]),
		EnqueuedAt: fromMillis(fields["enqueuedAt"]),
	}
	if response, ok := fields["response"]; ok {
		job.Response = json.RawMessage(response)
	}
	return job, nil
}

func (s Store) Evict(ctx context.Context, req ticket.LookupRequest) error {
	return evictScript.Run(ctx, s.rdb, []string{s.jobKey(req)}).Err()
}

func (s Store) Pending(ctx context.Context) ([]ticket.LookupRequest, error) {
	keys, err := s.rdb.LRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.rdb.Pipeline()
	statuses := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		statuses[i] = pipe.HGet(ctx, s.jobPrefix()+key, "status")
	}
	_, err = pipe.Exec(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []ticket.LookupRequest
	for i, key := range keys {
		if statuses[i].Val() != string(ticket.StatusPending) {
			continue
		}
		req, err := ticket.ParseKey(key)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (s Store) RegisterWorker(ctx context.Context, workerId string, now time.Time) error {
	return s.rdb.HSet(ctx, s.workersKey(), workerId, millis(now)).Err()
}

func (s Store) Workers(ctx context.Context) ([]queue.Worker, error) {
	fields, err := s.rdb.HGetAll(ctx, s.workersKey()).Result()
	if err != nil {
		return nil, err
	}
	out := make([]queue.Worker, 0, len(fields))
	for id, lastSeen := range fields {
		out = append(out, queue.Worker{Id: id, LastSeen: fromMillis(lastSeen)})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Id < out[j].Id
	})
	return out, nil
}

func (s Store) Claim(ctx context.Context, workerId string, now time.Time) (queue.Job, error) {
	res, err := claimScript.Run(
		ctx, s.rdb,
		[]string{s.pendingKey(), s.assignedKey(), s.busyKey(), s.workersKey()},
		workerId, millis(now), s.jobPrefix(),
	).StringSlice()
	if err != nil {
		return queue.Job{}, err
	}

	switch res[0] {
	case "busy":
		return queue.Job{}, queue.ErrWorkerBusy
	case "none":
		return queue.Job{}, queue.ErrNoneAvailable
	}

	req, err := ticket.ParseKey(res[1])
	if err != nil {
		return queue.Job{}, err
	}
	return s.Get(ctx, req)
}

func (s Store) Heartbeat(ctx context.Context, workerId string, req ticket.LookupRequest, now time.Time) error {
	ok, err := heartbeatScript.Run(
		ctx, s.rdb,
		[]string{s.jobKey(req), s.assignedKey(), s.busyKey(), s.workersKey()},
		workerId, req.Key(), millis(now),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return queue.ErrNotAssigned
	}
	return nil
}

func (s Store) Complete(ctx context.Context, workerId string, req ticket.LookupRequest, response json.RawMessage) error {
	ok, err := completeScript.Run(
		ctx, s.rdb,
		[]string{s.jobKey(req), s.assignedKey(), s.busyKey()},
		workerId, req.Key(), string(response), int64(s.options.CompletedTTL/time.Second),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return queue.ErrNotAssigned
	}
	return nil
}

func (s Store) Requeue(ctx context.Context, staleBefore time.Time) ([]ticket.LookupRequest, error) {
	keys, err := requeueScript.Run(
		ctx, s.rdb,
		[]string{s.assignedKey(), s.pendingKey(), s.busyKey()},
		millis(staleBefore), s.jobPrefix(),
	).StringSlice()
	if err != nil {
		return nil, err
	}

	out := make([]ticket.LookupRequest, 0, len(keys))
	for _, key := range keys {
		req, err := ticket.ParseKey(key)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}
