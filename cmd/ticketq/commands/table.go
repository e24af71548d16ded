package commands

import (
	"os"
	"payticket-backend/internal/ticket"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func renderDetails(details ticket.Details) {
	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"Ticket", details.Summary.Number},
		{"Status", details.Summary.Status},
		{"Date", details.Summary.Date},
		{"Amount", details.Summary.Amount},
		{"Action", details.Summary.Action},
	})
	t.AppendSeparator()

	d := details.Detail
	rows := []table.Row{
		{"Infraction", d.InfractionDateTime},
		{"Violation notice", d.ViolationNotice},
		{"Plate", d.Plate},
		{"Location", d.InfractionLocation},
		{"Description", d.InfractionDesc},
		{"Court date", d.CourtDateTime},
		{"Court location", d.CourtLocation},
		{"Fine", d.Amount},
		{"Additional cost", d.AdditionalCost},
		{"Total", d.Total},
		{"Amount due", d.AmountDue},
		{"Due date", d.DueDate},
	}
	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		t.AppendRow(row)
	}
	t.Render()
}
