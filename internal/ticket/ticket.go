// Package ticket holds the types shared by everything that looks up a parking ticket,
// regardless of whether the lookup goes through the queue server, the portal API or
// a rendered portal page.
package ticket

import (
	"context"
	"fmt"
	"strings"
)

// LookupRequest identifies one ticket lookup. Both fields are passed through verbatim,
// normalizing case is left to whoever builds the request.
type LookupRequest struct {
	TicketNumber string `json:"ticketNum"`
	PlateNumber  string `json:"plateNum"`
}

func (r LookupRequest) Validate() error {
	if r.TicketNumber == "" || r.PlateNumber == "" {
		return fmt.Errorf("ticketNum and plateNum required")
	}
	return nil
}

// Key is the form a request is stored under on the queue server.
func (r LookupRequest) Key() string {
	return r.TicketNumber + "|" + r.PlateNumber
}

func (r LookupRequest) String() string {
	return fmt.Sprintf("ticket %s / plate %s", r.TicketNumber, r.PlateNumber)
}

// ParseKey is the inverse of LookupRequest.Key.
func ParseKey(key string) (LookupRequest, error) {
	ticketNum, plateNum, ok := strings.Cut(key, "|")
	if !ok {
		return LookupRequest{}, fmt.Errorf("malformed ticket key %q", key)
	}
	return LookupRequest{TicketNumber: ticketNum, PlateNumber: plateNum}, nil
}

// JobStatus is the state the queue server attaches to a LookupRequest.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusAssigned  JobStatus = "assigned"
	StatusCompleted JobStatus = "completed"
)

// Terminal reports whether no further transitions happen to a job in this status.
// Unknown statuses are not terminal.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted
}

// Summary is the row the portal shows in its search results.
type Summary struct {
	Number string `json:"number"`
	Status string `json:"status"`
	Date   string `json:"date"`
	Amount string `json:"amount"`
	Action string `json:"action"`
}

// Detail is the full violation notice.
type Detail struct {
	Number             string `json:"number"`
	InfractionDateTime string `json:"infractionDateTime"`
	ViolationNotice    string `json:"violationNotice"`
	Plate              string `json:"plate"`
	CourtDateTime      string `json:"courtDateTime,omitempty"`
	CourtLocation      string `json:"courtLocation,omitempty"`
	CourtLocationLink  string `json:"courtLocationLink,omitempty"`
	InfractionLocation string `json:"infractionLocation"`
	InfractionDesc     string `json:"infractionDesc"`
	Amount             string `json:"amount"`
	AdditionalCost     string `json:"additionalCost"`
	Total              string `json:"total"`
	AmountDue          string `json:"amountDue"`
	DueDate            string `json:"dueDate"`
}

// Details is the result of a successful lookup.
type Details struct {
	Summary Summary `json:"outerInformation"`
	Detail  Detail  `json:"innerInformation"`
}

// Provider resolves a lookup request into ticket details, it is the contract shared by
// every way of looking up a ticket.
type Provider interface {
	Lookup(ctx context.Context, req LookupRequest) (Details, error)
}

// TrimAmount removes the currency sign and surrounding whitespace from a dollar amount.
func TrimAmount(amount string) string {
	return strings.TrimSpace(strings.ReplaceAll(amount, "$", ""))
}
