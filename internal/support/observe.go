package support

import (
	"context"
	"time"
)

// ObservationHooks lets a component report start/completion of an operation
// to whatever is listening (metrics, tracing) without depending on it directly.
type ObservationHooks struct {
	OnStart    func(ctx context.Context, meta map[string]string)
	OnComplete func(ctx context.Context, meta map[string]string, err error, duration time.Duration)
}

// NoopObservationHooks discards all observations.
var NoopObservationHooks = ObservationHooks{
	OnStart:    func(context.Context, map[string]string) {},
	OnComplete: func(context.Context, map[string]string, error, time.Duration) {},
}

// DispatchHooks is an alias used by dispatcher-shaped components (schedulers,
// chain executors) that report the same start/complete shape.
type DispatchHooks = ObservationHooks

// NoopDispatchHooks discards all dispatch observations.
var NoopDispatchHooks = NoopObservationHooks

// StartObservation fires OnStart and returns a function to call with the
// outcome once the operation finishes.
func StartObservation(ctx context.Context, hooks ObservationHooks, meta map[string]string) func(error) {
	if hooks.OnStart == nil {
		hooks.OnStart = NoopObservationHooks.OnStart
	}
	if hooks.OnComplete == nil {
		hooks.OnComplete = NoopObservationHooks.OnComplete
	}
	start := time.Now()
	hooks.OnStart(ctx, meta)
	return func(err error) {
		hooks.OnComplete(ctx, meta, err, time.Since(start))
	}
}

// StartDispatch is StartObservation under the DispatchHooks alias.
func StartDispatch(ctx context.Context, hooks DispatchHooks, meta map[string]string) func(error) {
	return StartObservation(ctx, hooks, meta)
}
