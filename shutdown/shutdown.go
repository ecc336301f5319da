// Package shutdown maps the platform's termination signals onto a context.
package shutdown

import (
	"context"
	"os/signal"
)

// Context is canceled on the first termination signal. A second signal
// kills the process as usual once stop has been called.
func Context(parent context.Context) (ctx context.Context, stop context.CancelFunc) {
	return signal.NotifyContext(parent, signals...)
}
