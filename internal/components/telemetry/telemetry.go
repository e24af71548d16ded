package telemetry

import (
	"fmt"
)

// API is what every component reports through instead of calling slog directly, so tests can
// swap in a Recorder and assert on what was reported.
//
// Ids are declared per package as report_<component>_<operation> constants whose value is
// "<component>.<operation>", ex. report_client_poll = "client.poll" or report_service_sweep =
// "service.sweep". The component is the piece that owns the failure (client, server, service,
// worker, provider, runner), the operation the call that failed. Details go in params, never
// in the id. Constructors wrap the API they are given in a ScopedAPI named after their package
// (queue_client, queue, worker, portal_api, ...) so reports read "worker: worker.heartbeat".
type API interface {
	// ReportBroken is for failures an operator has to look at: the queue store erroring, a
	// portal answering with a shape we cannot decode, history not being written.
	ReportBroken(id string, params ...any)

	// ReportWarning is for expected failures worth keeping an eye on: an expired lease, a
	// worker asking for work while still busy, a lookup the portal rejected.
	ReportWarning(id string, params ...any)

	// ReportDebug takes a free-form message instead of an id, it is dropped unless --verbose.
	ReportDebug(msg string, params ...any)

	// ReportCount records a gauge reading (ex. "pending" jobs after every enqueue), readings are
	// points over time and must not be summed.
	ReportCount(id string, count int64)
}

// ScopedAPI prefixes every id (and debug message) with "<namespace>: ". Scopes nest, the
// outermost NewScopedAPI call ends up closest to the id.
type ScopedAPI struct {
	namespace string
	inner     API
}

func NewScopedAPI(namespace string, inner API) ScopedAPI {
	return ScopedAPI{namespace: namespace, inner: inner}
}

func (s ScopedAPI) ReportBroken(id string, params ...any) {
	s.inner.ReportBroken(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportWarning(id string, params ...any) {
	s.inner.ReportWarning(fmt.Sprintf("%s: %s", s.namespace, id), params...)
}

func (s ScopedAPI) ReportDebug(msg string, params ...any) {
	s.inner.ReportDebug(fmt.Sprintf("%s: %s", s.namespace, msg), params...)
}

func (s ScopedAPI) ReportCount(id string, count int64) {
	s.inner.ReportCount(fmt.Sprintf("%s: %s", s.namespace, id), count)
}
