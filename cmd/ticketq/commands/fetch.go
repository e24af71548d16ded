package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"payticket-backend/internal/bulk"
	"payticket-backend/internal/history"
	"payticket-backend/internal/queueclient"
	"payticket-backend/internal/ticket"
	"time"

	"github.com/spf13/cobra"
)

var fetchRaw *bool

func init() {
	fetchRaw = fetchCmd.Flags().Bool("raw", false, "Print the raw JSON response instead of a table.")
	rootCmd.AddCommand(fetchCmd)
}

var fetchCmd = &cobra.Command{
	Use:   "fetch <plate> <ticket> [--raw]",
	Short: "Enqueues a lookup and waits for its result.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		req := ticket.LookupRequest{PlateNumber: args[0], TicketNumber: args[1]}
		err := req.Validate()
		if err != nil {
			return err
		}

		clock := newClock()
		client := queueclient.NewClient(cfg.Queue.options(), clock, newTelemetry())

		start := clock.Now()
		result, fetchErr := client.FetchTicketResult(ctx, req.PlateNumber, req.TicketNumber)
		elapsed := clock.Now().Sub(start)

		recordFetch(ctx, req, result, fetchErr, elapsed)
		if fetchErr != nil {
			return fetchErr
		}

		if *fetchRaw {
			fmt.Fprintln(os.Stdout, string(result))
			return nil
		}
		details, err := queueclient.DecodeDetails(result)
		if errors.Is(err, queueclient.ErrLookupFailed) {
			return err
		}
		if err != nil {
			slog.Warn("result is not a ticket, printing it as is", "err", err)
			fmt.Fprintln(os.Stdout, string(result))
			return nil
		}
		renderDetails(details)
		return nil
	},
}

func recordFetch(ctx context.Context, req ticket.LookupRequest, result json.RawMessage, fetchErr error, elapsed time.Duration) {
	store, ok, err := openHistory(ctx, newClock())
	if err != nil {
		slog.Warn("failed to open history", "err", err)
		return
	}
	if !ok {
		return
	}
	defer store.Close()

	entry := history.Entry{
		Request: req,
		Outcome: string(bulk.Classify(result, fetchErr)),
		Payload: result,
		Elapsed: elapsed,
	}
	if fetchErr != nil {
		entry.Error = fetchErr.Error()
	}
	_, err = store.Record(context.WithoutCancel(ctx), entry)
	if err != nil {
		slog.Warn("failed to record lookup", "err", err)
	}
}
