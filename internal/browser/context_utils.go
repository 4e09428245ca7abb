// File: internal/browser/context_utils.go
package browser

import "context"

// CombineContext derives a context from primary (which carries the CDP target values)
// that is also cancelled when secondary is done. The cause of secondary's cancellation
// is preserved and available through context.Cause.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(primary)
	stop := context.AfterFunc(secondary, func() {
		cancel(context.Cause(secondary))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
