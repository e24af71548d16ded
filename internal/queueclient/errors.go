package queueclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"payticket-backend/internal/ticket"
	"time"
)

// EnqueueError means the lookup job was never admitted by the queue server.
type EnqueueError struct {
	Request ticket.LookupRequest
	// StatusCode is 0 when the request never got a response.
	StatusCode int
	// Conflict is set when the server already has this ticket queued or in progress.
	Conflict bool
	// Detail is the server's response body, decoded as JSON when possible and the raw text otherwise.
	Detail any
	Err    error
}

func (e *EnqueueError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("enqueue %s: %v", e.Request, e.Err)
	case e.Conflict:
		return fmt.Sprintf("enqueue %s: conflict (duplicate or already processed): %v", e.Request, e.Detail)
	default:
		return fmt.Sprintf("enqueue %s: HTTP %d: %v", e.Request, e.StatusCode, e.Detail)
	}
}

func (e *EnqueueError) Unwrap() error {
	return e.Err
}

// TimeoutError means the job did not reach the completed status within the polling budget.
type TimeoutError struct {
	Request ticket.LookupRequest
	Timeout time.Duration
	// Polls is the number of status requests that were made before giving up.
	Polls int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf(
		"timeout after %.0f seconds waiting for result of %s (%d polls)",
		e.Timeout.Seconds(), e.Request, e.Polls,
	)
}

// FetchError means a status request failed in a way that is not "not found yet".
type FetchError struct {
	Request ticket.LookupRequest
	// StatusCode is 0 when the request never got a response.
	StatusCode int
	// InvalidBody is set when the server answered with a success status but the body was not JSON.
	InvalidBody bool
	Detail      any
	Err         error
}

func (e *FetchError) Error() string {
	switch {
	case e.InvalidBody:
		return fmt.Sprintf("fetch %s: result endpoint returned invalid JSON: %v", e.Request, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.Request, e.Err)
	default:
		return fmt.Sprintf("fetch %s: unexpected HTTP %d: %v", e.Request, e.StatusCode, e.Detail)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is an EnqueueError caused by a duplicate enqueue.
func IsConflict(err error) bool {
	var enqueueErr *EnqueueError
	return errors.As(err, &enqueueErr) && enqueueErr.Conflict
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

func parseDetail(body []byte) any {
	var detail any
	if err := json.Unmarshal(body, &detail); err == nil {
		return detail
	}
	return string(body)
}
