// Package dispatch routes verified deploy events to their handlers.
//
// Every deploy.EventType has exactly one handler in the dispatch table; labels
// the gateway does not recognize arrive as deploy.EventUnknown and are
// acknowledged rather than rejected, so the platform never retries them.
//
// Handlers are pure mappings from event to result plus a log line. Dispatch
// success and deploy success are independent: a handled deploy_failed event
// yields a successful result.
//
// Downstream notification:
//   - The optional Notifier is invoked at most once per dispatched event
//   - It runs in its own goroutine with a bounded timeout, detached from
//     request cancellation
//   - Its error or panic is logged and counted, never returned
//   - Wait blocks until in-flight notifications finish (shutdown, tests)
package dispatch

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/mattjoyce/deploygw/internal/dispatch Notifier
