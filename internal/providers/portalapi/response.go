package portalapi

import (
	"fmt"
	"payticket-backend/internal/ticket"
)

type keyBody struct {
	Key  string `json:"Key"`
	Body string `json:"body"`
}

type validateResponse struct {
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
	Message      string `json:"message"`
}

type address struct {
	StreetName            string `json:"StreetName"`
	AdditionalDescription string `json:"AdditionalDescription"`
}

type accountParty struct {
	Address []address `json:"Address"`
}

type financialDocument struct {
	PaymentStatus  string    `json:"PaymentStatus"`
	TotalAmount    string    `json:"TotalAmount"`
	KeyDate        []keyBody `json:"KeyDate"`
	AmountLineItem []keyBody `json:"AmountLineItem"`
}

type relatedAccount struct {
	ID                []keyBody           `json:"ID"`
	Status            keyBody             `json:"Status"`
	Attribute         []keyBody           `json:"Attribute"`
	FinancialDocument []financialDocument `json:"FinancialDocument"`
	AccountParty      []accountParty      `json:"AccountParty"`
}

type serviceAccount struct {
	AccountNumber  string           `json:"AccountNumber"`
	RelatedAccount []relatedAccount `json:"RelatedAccount"`
}

type lookupResponse struct {
	ValidateResponse *validateResponse `json:"validateResponse"`
	ServiceAccount   []serviceAccount  `json:"ServiceAccount"`
}

const (
	notAvailable  = "N/A"
	disputeAction = "Dispute this violation notice"
)

func at(items []keyBody, i int) string {
	if i >= len(items) {
		return ""
	}
	return items[i].Body
}

func (r lookupResponse) details() (ticket.Details, error) {
	if len(r.ServiceAccount) == 0 || len(r.ServiceAccount[0].RelatedAccount) == 0 {
		return ticket.Details{}, fmt.Errorf("response has no service account")
	}
	account := r.ServiceAccount[0]
	related := account.RelatedAccount[0]
	if len(related.FinancialDocument) == 0 {
		return ticket.Details{}, fmt.Errorf("response has no financial document")
	}
	doc := related.FinancialDocument[0]

	action := notAvailable
	for _, attr := range related.Attribute {
		if (attr.Key == "SCREENING_FLAG" || attr.Key == "HEARING_FLAG") && attr.Body == "Y" {
			action = disputeAction
		}
	}

	var location, description string
	if len(related.AccountParty) > 0 && len(related.AccountParty[0].Address) > 0 {
		addr := related.AccountParty[0].Address[0]
		location = addr.StreetName
		description = addr.AdditionalDescription
	}

	keyDate := at(doc.KeyDate, 0)
	total := ticket.TrimAmount(at(doc.AmountLineItem, 2))

	return ticket.Details{
		Summary: ticket.Summary{
			Number: account.AccountNumber,
			Status: doc.PaymentStatus,
			Date:   keyDate,
			Amount: ticket.TrimAmount(doc.TotalAmount),
			Action: action,
		},
		Detail: ticket.Detail{
			Number:             at(related.ID, 0),
			InfractionDateTime: keyDate,
			ViolationNotice:    related.Status.Body,
			Plate:              at(related.Attribute, 0),
			CourtDateTime:      notAvailable,
			CourtLocation:      notAvailable,
			CourtLocationLink:  notAvailable,
			InfractionLocation: location,
			InfractionDesc:     description,
			Amount:             ticket.TrimAmount(at(doc.AmountLineItem, 0)),
			AdditionalCost:     ticket.TrimAmount(at(doc.AmountLineItem, 1)),
			Total:              total,
			AmountDue:          total,
			DueDate:            keyDate,
		},
	}, nil
}
