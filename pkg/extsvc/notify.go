package extsvc

import (
	"context"
	"log"
)

// Event is a notification about a pipeline or deployment failure.
type Event struct {
	TenantId string

	// what failed: "job" or "deployment".
	Subject string

	// id of the failed job/deployment.
	Reference string

	Message string
}

type Notifier interface {
	Notify(ctx context.Context, event Event, recipients []string) error
}

type discard struct{}

// Discard returns a notifier dropping everything. Used when no notification
// channel is configured.
func Discard() Notifier {
	return discard{}
}

func (discard) Notify(ctx context.Context, event Event, recipients []string) error {
	return nil
}

type fireAndForget struct {
	notifier Notifier
	logger   *log.Logger
}

// FireAndForget wraps a notifier so its failures are logged and swallowed.
// A notification failure must never fail the transition that triggered it.
func FireAndForget(notifier Notifier, logger *log.Logger) Notifier {
	return &fireAndForget{notifier: notifier, logger: logger}
}

func (f *fireAndForget) Notify(ctx context.Context, event Event, recipients []string) error {
	if err := f.notifier.Notify(ctx, event, recipients); err != nil {
		f.logger.Printf(
			"notification dropped (tenant %s, %s %s): %s",
			event.TenantId, event.Subject, event.Reference, err,
		)
	}
	return nil
}
