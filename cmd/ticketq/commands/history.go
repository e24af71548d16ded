package commands

import (
	"errors"
	"fmt"
	"payticket-backend/internal/bulk"
	"payticket-backend/internal/history"
	"payticket-backend/internal/ticket"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	historyLimit  *int
	historyPlate  *string
	historyTicket *string
)

func init() {
	historyLimit = historyCmd.Flags().Int("limit", 50, "How many entries to show, most recent first.")
	historyPlate = historyCmd.Flags().String("plate", "", "Only show the latest lookup of --ticket for this plate.")
	historyTicket = historyCmd.Flags().String("ticket", "", "Used with --plate.")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history [--limit n] [--plate p --ticket t]",
	Short: "Lists past lookups recorded by fetch and bulk.",
	Long:  "Lists past lookups recorded by fetch and bulk. Outcomes are one of: " + outcomeNames() + ".",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, ok, err := openHistory(ctx, newClock())
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("history is not configured, set history.file or history.url")
		}
		defer store.Close()

		t := newTable()
		t.AppendHeader(table.Row{"When", "Ticket", "Plate", "Outcome", "Elapsed", "Error"})

		if *historyPlate != "" || *historyTicket != "" {
			req := ticket.LookupRequest{PlateNumber: *historyPlate, TicketNumber: *historyTicket}
			err := req.Validate()
			if err != nil {
				return err
			}
			entry, err := store.Latest(ctx, req)
			if err != nil {
				return err
			}
			t.AppendRow(historyRow(entry))
			t.Render()
			if len(entry.Payload) > 0 {
				fmt.Println(string(entry.Payload))
			}
			return nil
		}

		entries, err := store.List(ctx, *historyLimit)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			t.AppendRow(historyRow(entry))
		}
		t.Render()
		return nil
	},
}

func historyRow(entry history.Entry) table.Row {
	return table.Row{
		entry.At.Format(time.DateTime),
		entry.Request.TicketNumber,
		entry.Request.PlateNumber,
		entry.Outcome,
		entry.Elapsed.Round(time.Millisecond).String(),
		entry.Error,
	}
}

func outcomeNames() string {
	names := make([]string, 0, len(bulk.Kinds))
	for _, kind := range bulk.Kinds {
		names = append(names, string(kind))
	}
	return strings.Join(names, ", ")
}
