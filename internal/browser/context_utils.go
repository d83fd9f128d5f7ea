// internal/browser/context_utils.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context derived from ctx1, so it keeps the CDP
// values ctx1 carries, that is also canceled when ctx2 is.
func CombineContext(ctx1, ctx2 context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(ctx1)
	go func() {
		select {
		case <-ctx2.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context with the values of ctx but none of its
// cancellation. Cleanup that must reach the browser after ctx ends uses it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
