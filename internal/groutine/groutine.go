package groutine

import (
	"context"
	"runtime/pprof"
)

type ctxKey string

const nameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name, so that profiles and
// goroutine dumps show which device operation or monitor owns it.
//
//	groutine.Go(ctx, "link-monitor:c4:7c:8d:65:d5:26", func(ctx context.Context) {
//	    <-peripheral.Disconnected()
//	})
//
// A nil parent is treated as context.Background().
func Go(parent context.Context, name string, fn func(ctx context.Context)) {
	if parent == nil {
		parent = context.Background()
	}

	go pprof.Do(parent, pprof.Labels("goroutine_name", name), func(ctx context.Context) {
		fn(context.WithValue(ctx, nameKey, name))
	})
}

// Name returns the label given to the goroutine that owns ctx, or "".
func Name(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(nameKey).(string)
	return name
}
