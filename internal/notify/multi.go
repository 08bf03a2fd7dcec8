package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/deploygw/internal/deploy"
)

// Notifier receives dispatched deploy events.
type Notifier interface {
	Notify(ctx context.Context, ev deploy.Event) error
}

// Sink is a named Notifier.
type Sink struct {
	Name     string
	Notifier Notifier
}

// Multi delivers each event to every sink in order. A failing sink does not
// stop the others; all failures are returned joined.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, ev deploy.Event) error {
	var errs []error
	for _, s := range m {
		if s.Notifier == nil {
			continue
		}
		if err := s.Notifier.Notify(ctx, ev); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
