package chrono

import (
	"context"
	"fmt"
	"payticket-backend/internal/components/telemetry"

	"github.com/robfig/cron/v3"
)

const report_cron = "cron"

// Scheduler runs callbacks on cron specs ("0 8 * * 1-5"), evaluated in the clock's location.
type Scheduler interface {
	Schedule(spec string, callback func()) error
}

// StandardScheduler is Scheduler on top of `github.com/robfig/cron/v3`, a run that is still
// going when its next tick arrives is skipped.
type StandardScheduler struct {
	cron *cron.Cron
}

func NewStandardScheduler(time API, tel telemetry.API) StandardScheduler {
	logger := cronLogger{tel: tel}
	cronner := cron.New(
		cron.WithLogger(logger),
		cron.WithLocation(time.Location()),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	cronner.Start()
	return StandardScheduler{cron: cronner}
}

func (s StandardScheduler) Schedule(spec string, callback func()) error {
	_, err := s.cron.AddFunc(spec, callback)
	return err
}

// Stop stops scheduling new runs, the returned context is done once running callbacks return.
func (s StandardScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// ValidateSpec checks a standard 5 field cron expression or a descriptor such as "@every 1h".
func ValidateSpec(spec string) error {
	_, err := cron.ParseStandard(spec)
	return err
}

type cronLogger struct {
	tel telemetry.API
}

func (l cronLogger) formatParams(keysAndValues []any) []any {
	params := make([]any, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		params = append(params, fmt.Sprintf("%v: %v", keysAndValues[i], keysAndValues[i+1]))
	}
	return params
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.tel.ReportDebug("cron: "+msg, l.formatParams(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.tel.ReportBroken(report_cron, append([]any{fmt.Errorf("%s: %w", msg, err)}, l.formatParams(keysAndValues)...)...)
}
