package queueclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"payticket-backend/internal/ticket"
)

// ErrLookupFailed is returned by Lookup when the worker that processed the job reported an error
// instead of ticket details.
var ErrLookupFailed = errors.New("lookup failed")

type failurePayload struct {
	Error string `json:"error"`
}

// Lookup makes the queue server usable wherever a ticket.Provider is expected.
func (c Client) Lookup(ctx context.Context, req ticket.LookupRequest) (ticket.Details, error) {
	raw, err := c.FetchTicketResult(ctx, req.PlateNumber, req.TicketNumber)
	if err != nil {
		return ticket.Details{}, err
	}
	return DecodeDetails(raw)
}

// DecodeDetails interprets a completed job's payload as ticket details.
func DecodeDetails(raw json.RawMessage) (ticket.Details, error) {
	var failure failurePayload
	err := json.Unmarshal(raw, &failure)
	if err == nil && failure.Error != "" {
		return ticket.Details{}, fmt.Errorf("%w: %s", ErrLookupFailed, failure.Error)
	}

	var details ticket.Details
	err = json.Unmarshal(raw, &details)
	if err != nil {
		return ticket.Details{}, fmt.Errorf("decode ticket details: %w", err)
	}
	return details, nil
}
