package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/deploygw/internal/deploy"
	"github.com/mattjoyce/deploygw/internal/log"
	"github.com/mattjoyce/deploygw/internal/metrics"
)

// DefaultNotifyTimeout bounds a single notifier invocation.
const DefaultNotifyTimeout = 5 * time.Second

// Notifier is a downstream integration told about dispatched events.
type Notifier interface {
	Notify(ctx context.Context, ev deploy.Event) error
}

// HandlerFunc maps an event to its dispatch result.
type HandlerFunc func(logger *slog.Logger, ev deploy.Event) deploy.Result

// Dispatcher routes events by type and fans them out to the notifier.
type Dispatcher struct {
	handlers      map[deploy.EventType]HandlerFunc
	notifier      Notifier
	notifyTimeout time.Duration
	logger        *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New creates a Dispatcher. notifier may be nil.
func New(notifier Notifier, notifyTimeout time.Duration) *Dispatcher {
	if notifyTimeout <= 0 {
		notifyTimeout = DefaultNotifyTimeout
	}
	return &Dispatcher{
		handlers: map[deploy.EventType]HandlerFunc{
			deploy.EventSucceeded: handleSucceeded,
			deploy.EventFailed:    handleFailed,
			deploy.EventLocked:    handleLocked,
			deploy.EventUnlocked:  handleUnlocked,
			deploy.EventUnknown:   handleUnknown,
		},
		notifier:      notifier,
		notifyTimeout: notifyTimeout,
		logger:        log.WithComponent("dispatch"),
	}
}

// Dispatch runs the handler for ev.Type and schedules the notifier. It never
// fails and never waits for the notifier.
func (d *Dispatcher) Dispatch(ctx context.Context, ev deploy.Event) deploy.Result {
	logger := d.logger.With("deploy_id", ev.DeployID, "event", ev.Label)

	handler, ok := d.handlers[ev.Type]
	if !ok {
		handler = handleUnknown
	}
	result := handler(logger, ev)

	d.notify(ctx, logger, ev)
	return result
}

// Wait blocks until all in-flight notifications have returned. Events
// dispatched once Wait has been called still get their result but are not
// handed to the notifier.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) notify(ctx context.Context, logger *slog.Logger, ev deploy.Event) {
	if d.notifier == nil {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logger.Warn("dispatcher draining; notification dropped")
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	// The request context ends with the response; the notification must not.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.notifyTimeout)

	go func() {
		defer d.wg.Done()
		defer cancel()

		err := d.callNotifier(nctx, ev)
		metrics.Notification(err)
		if err != nil {
			logger.Warn("deploy notification failed", "error", err)
			return
		}
		logger.Debug("deploy notification sent")
	}()
}

func (d *Dispatcher) callNotifier(ctx context.Context, ev deploy.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return d.notifier.Notify(ctx, ev)
}

func handleSucceeded(logger *slog.Logger, ev deploy.Event) deploy.Result {
	logger.Info("deploy succeeded",
		"site_name", ev.SiteName,
		"deploy_url", ev.DeployURL,
		"branch", ev.Branch,
	)
	return deploy.Result{
		Success: true,
		Message: "Deploy succeeded event processed",
		Detail: map[string]string{
			"deploy_id":  ev.DeployID,
			"site_name":  ev.SiteName,
			"deploy_url": ev.DeployURL,
		},
	}
}

func handleFailed(logger *slog.Logger, ev deploy.Event) deploy.Result {
	errorMessage := ev.ErrorMessage
	if errorMessage == "" {
		errorMessage = "Unknown error"
	}

	logger.Error("deploy failed",
		"site_name", ev.SiteName,
		"branch", ev.Branch,
		"error_message", errorMessage,
	)
	return deploy.Result{
		Success: true,
		Message: "Deploy failed event processed",
		Detail: map[string]string{
			"deploy_id":     ev.DeployID,
			"site_name":     ev.SiteName,
			"error_message": errorMessage,
		},
	}
}

func handleLocked(logger *slog.Logger, ev deploy.Event) deploy.Result {
	logger.Info("deploy locked", "site_name", ev.SiteName)
	return deploy.Result{Success: true, Message: "Deploy locked event processed"}
}

func handleUnlocked(logger *slog.Logger, ev deploy.Event) deploy.Result {
	logger.Info("deploy unlocked", "site_name", ev.SiteName)
	return deploy.Result{Success: true, Message: "Deploy unlocked event processed"}
}

func handleUnknown(logger *slog.Logger, ev deploy.Event) deploy.Result {
	logger.Info("unhandled deploy event")
	return deploy.Result{
		Success: true,
		Message: fmt.Sprintf("Event %s received but not processed", ev.Label),
	}
}
