// Package notify delivers dispatched deploy events to downstream sinks.
//
// HTTP posts a JSON alert to a configured URL for a selected set of event
// types, guarded by a circuit breaker so an unavailable receiver is not
// hammered on every deploy. Multi fans one event out to several sinks (the
// alert webhook, the deploy history and the live event hub).
package notify
