package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"payticket-backend/internal/bulk"
	"payticket-backend/internal/components/chrono"
	"payticket-backend/internal/notify"
	"payticket-backend/internal/queueclient"
	"payticket-backend/internal/ticket"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	bulkEmail       *bool
	bulkConcurrency *int
	bulkSchedule    *string
)

func init() {
	bulkEmail = bulkCmd.Flags().Bool("email", false, "Mail the report to smtp.report_to when done.")
	bulkConcurrency = bulkCmd.Flags().Int("concurrency", 0, "Lookups in flight at once, overrides bulk.concurrency.")
	bulkSchedule = bulkCmd.Flags().String("schedule", "", "Rerun on this cron spec (ex. \"0 8 * * 1-5\") until interrupted, the file is reread every run.")
	rootCmd.AddCommand(bulkCmd)
}

func readRequestsFile(path string) ([]ticket.LookupRequest, error) {
	var in io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		in = f
	}
	reqs, err := bulk.ReadRequests(in)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return reqs, nil
}

type bulkJob struct {
	path   string
	runner bulk.Runner
	clock  chrono.API
}

func (j bulkJob) run(ctx context.Context) error {
	reqs, err := readRequestsFile(j.path)
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		slog.Info("nothing to look up", "file", j.path)
		return nil
	}

	slog.Info("starting bulk lookup", "count", len(reqs))
	outcomes := j.runner.Run(ctx, reqs)
	renderOutcomes(outcomes)

	if *bulkEmail {
		mailer := notify.NewMailer(cfg.Smtp.SmtpConfig)
		err := mailer.SendReport(outcomes, j.clock.Now().In(j.clock.Location()), cfg.Smtp.ReportTo...)
		if err != nil {
			return fmt.Errorf("send report: %w", err)
		}
		slog.Info("report sent", "to", cfg.Smtp.ReportTo)
	}
	return bulk.Err(outcomes)
}

var bulkCmd = &cobra.Command{
	Use:   "bulk <file|-> [--email] [--concurrency n] [--schedule spec]",
	Short: "Looks up every \"ticket,plate\" line of a file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if *bulkEmail && len(cfg.Smtp.ReportTo) == 0 {
			return errors.New("--email given but smtp.report_to is empty")
		}
		if *bulkSchedule != "" {
			if args[0] == "-" {
				return errors.New("--schedule needs a file, stdin can only be read once")
			}
			err := chrono.ValidateSpec(*bulkSchedule)
			if err != nil {
				return fmt.Errorf("invalid --schedule: %w", err)
			}
		}

		clock := newClock()
		tel := newTelemetry()

		var recorder bulk.History
		store, ok, err := openHistory(ctx, clock)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		if ok {
			defer store.Close()
			recorder = store
		}

		options := bulk.Options{
			Concurrency:   cfg.Bulk.Concurrency,
			RatePerSecond: cfg.Bulk.RatePerSecond,
		}
		if *bulkConcurrency > 0 {
			options.Concurrency = *bulkConcurrency
		}
		client := queueclient.NewClient(cfg.Queue.options(), clock, tel)
		job := bulkJob{
			path:   args[0],
			runner: bulk.NewRunner(client, recorder, options, clock, tel),
			clock:  clock,
		}

		if *bulkSchedule == "" {
			return job.run(ctx)
		}

		scheduler := chrono.NewStandardScheduler(clock, tel)
		err = scheduler.Schedule(*bulkSchedule, func() {
			err := job.run(ctx)
			if err != nil {
				slog.Warn("scheduled bulk lookup had failures", "err", err)
			}
		})
		if err != nil {
			return err
		}
		slog.Info("bulk lookup scheduled", "schedule", *bulkSchedule, "file", args[0])

		<-ctx.Done()
		<-scheduler.Stop().Done()
		return nil
	},
}

func renderOutcomes(outcomes []bulk.Outcome) {
	t := newTable()
	t.AppendHeader(table.Row{"Ticket", "Plate", "Outcome", "Amount", "Status", "Elapsed"})
	for _, o := range outcomes {
		row := table.Row{o.Request.TicketNumber, o.Request.PlateNumber, o.Kind, "", "", o.Elapsed.Round(time.Millisecond).String()}
		if o.Kind == bulk.KindOk {
			details, err := queueclient.DecodeDetails(o.Result)
			if err == nil {
				row[3] = details.Summary.Amount
				row[4] = details.Summary.Status
			}
		}
		t.AppendRow(row)
	}

	counts := bulk.Count(outcomes)
	t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d/%d ok", counts[bulk.KindOk], len(outcomes))})
	t.Render()
}
