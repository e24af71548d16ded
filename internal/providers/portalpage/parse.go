// Package portalpage extracts ticket details from the portal's rendered search result page.
// Rendering the page (and solving whatever the portal puts in front of it) is left to an
// external renderer.
package portalpage

import (
	"errors"
	"io"
	"net/url"
	"payticket-backend/internal/ticket"
	"payticket-backend/pkg/htmlutil"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

var ErrNoTicket = errors.New("page has no ticket row")

// minLabelSimilarity is the Jaro-Winkler similarity a label needs to be recognized, the portal
// has been seen to reword labels slightly ("Date-Time" vs "Date/Time").
const minLabelSimilarity = 0.9

type detailField int

const (
	fieldNumber detailField = iota
	fieldInfractionDateTime
	fieldViolationNotice
	fieldPlate
	fieldCourtDateTime
	fieldCourtLocation
	fieldInfractionLocation
	fieldInfractionDesc
)

var knownLabels = map[string]detailField{
	"violation notice number": fieldNumber,
	"infraction date-time":    fieldInfractionDateTime,
	"violation notice status": fieldViolationNotice,
	"plate number":            fieldPlate,
	"court date-time":         fieldCourtDateTime,
	"court location":          fieldCourtLocation,
	"infraction location":     fieldInfractionLocation,
	"infraction description":  fieldInfractionDesc,
}

func normalizeLabel(label string) string {
	label = strings.ToLower(htmlutil.Clean(label))
	return strings.TrimSpace(strings.TrimSuffix(label, ":"))
}

func matchLabel(label string) (detailField, bool) {
	label = normalizeLabel(label)
	if label == "" {
		return 0, false
	}
	if field, ok := knownLabels[label]; ok {
		return field, true
	}

	var best detailField
	bestScore := 0.0
	for known, field := range knownLabels {
		score := matchr.JaroWinkler(label, known, false)
		if score > bestScore {
			best = field
			bestScore = score
		}
	}
	return best, bestScore >= minLabelSimilarity
}

// Parse reads a result page. Links are resolved against base, which may be nil.
func Parse(r io.Reader, base *url.URL) (ticket.Details, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return ticket.Details{}, err
	}

	row := doc.Find("table#parkingtickets td.tixamount").First().Parent()
	if row.Length() == 0 {
		return ticket.Details{}, ErrNoTicket
	}

	details := ticket.Details{
		Summary: ticket.Summary{
			Number: htmlutil.Text(row.Find("td.tixno")),
			Status: htmlutil.Text(row.Find("td.tixstatus")),
			Date:   htmlutil.Text(row.Find("td.tixdate")),
			Amount: ticket.TrimAmount(htmlutil.Text(row.Find("td.tixamount"))),
			Action: htmlutil.Text(row.Find("td.tixaction")),
		},
	}

	detail := doc.Find(".ticketdetail").First()
	if detail.Length() == 0 {
		return details, nil
	}

	forEachPair(detail, func(label, value *goquery.Selection) {
		field, ok := matchLabel(htmlutil.Text(label))
		if !ok {
			return
		}
		text := htmlutil.Text(value)
		d := &details.Detail
		switch field {
		case fieldNumber:
			d.Number = text
		case fieldInfractionDateTime:
			d.InfractionDateTime = text
		case fieldViolationNotice:
			d.ViolationNotice = text
		case fieldPlate:
			d.Plate = text
		case fieldCourtDateTime:
			d.CourtDateTime = text
		case fieldCourtLocation:
			d.CourtLocation = text
			d.CourtLocationLink = htmlutil.Href(value, base)
		case fieldInfractionLocation:
			d.InfractionLocation = text
		case fieldInfractionDesc:
			d.InfractionDesc = text
		}
	})

	d := &details.Detail
	d.Amount = ticket.TrimAmount(htmlutil.Text(detail.Find(".row.cost .ticketamount")))
	d.AdditionalCost = ticket.TrimAmount(htmlutil.Text(detail.Find(".row.additionalcost .additionalcharge")))
	d.Total = ticket.TrimAmount(htmlutil.Text(detail.Find(".row.amountdue .amountdue")))
	d.AmountDue = ticket.TrimAmount(htmlutil.Text(detail.Find(".row.totalcost .totalcharge")))

	dueDate := htmlutil.Text(doc.Find("p.paymentduedate"))
	if _, after, ok := strings.Cut(dueDate, ":"); ok {
		dueDate = strings.TrimSpace(after)
	}
	d.DueDate = dueDate

	return details, nil
}

// forEachPair calls fn for every label followed by its value, either as <dt>/<dd> or as two
// sibling <div>s in a row.
func forEachPair(root *goquery.Selection, fn func(label, value *goquery.Selection)) {
	root.Find("dt").Each(func(_ int, dt *goquery.Selection) {
		dd := dt.NextFiltered("dd")
		if dd.Length() > 0 {
			fn(dt, dd)
		}
	})
	root.Find("div").Each(func(_ int, div *goquery.Selection) {
		if div.ChildrenFiltered("div").Length() > 0 {
			return
		}
		value := div.NextFiltered("div")
		if value.Length() > 0 {
			fn(div, value)
		}
	})
}
