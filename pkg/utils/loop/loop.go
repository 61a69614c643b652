package loop

import (
	"context"
	"fmt"
	"time"
)

type Next struct {
	// if not nil, breaks with error
	err error

	// if quit == true and err == nil, breaks without error
	quit bool

	// otherwise, continue loop with interval.
	interval time.Duration
}

func (n Next) String() string {
	if n.err != nil {
		return fmt.Sprintf("[break] with error: %v", n.err)
	}
	if n.quit {
		return "[break] without error"
	}

	return fmt.Sprintf("[continue] interval: %s", n.interval)
}

// continue loop.
//
// args:
//
// - interval: sleep before starting next task.
func Continue(interval time.Duration) Next {
	return Next{interval: interval}
}

// break loop.
//
// args:
//
// - err: If you break loop with error, set non nil value.
func Break(err error) Next {
	return Next{quit: true, err: err}
}

// Task runs repeatedly under Start.
//
// It takes the value returned by the previous cycle and returns the value for
// the next one, together with Next deciding whether the loop goes on.
type Task[T any] func(context.Context, T) (T, Next)

// Start task in loop.
//
// Each cycle receives the T returned by the previous cycle (initial for the
// first one). When the task returns Break(err), Start returns the last T and
// err. When ctx is cancelled, Start returns with ctx's error.
func Start[T any](ctx context.Context, initial T, task Task[T]) (T, error) {
	value := initial

	for {
		if err := ctx.Err(); err != nil {
			return value, err
		}

		v, next := task(ctx, value)
		value = v

		if next.quit || next.err != nil {
			return value, next.err
		}

		if next.interval <= 0 {
			continue
		}

		timer := time.NewTimer(next.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return value, ctx.Err()
		case <-timer.C:
		}
	}
}
