// Package events wraps pkg/pgnotify.Bus with the engine's one domain event:
// a job reaching a terminal state. The Dependency Engine subscribes to it
// instead of polling the jobs table, so a multi-process deployment still
// reacts to completions without a broker. The Quality Pipeline is not
// subscribed.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/pkg/pgnotify"
)

// Channel is the pg_notify channel every completion is published to.
const Channel = "ingestion_job_completed"

// CompletionPayload mirrors runner.CompletionEvent; duplicated rather than
// imported so this package has no dependency on internal/runner and can be
// wired from either side.
type CompletionPayload struct {
	JobID  string `json:"job_id"`
	Source string `json:"source"`
	Status string `json:"status"`
}

// CompletionHandler reacts to one job's terminal state.
type CompletionHandler func(ctx context.Context, payload CompletionPayload)

// Publisher publishes job completions onto the bus.
type Publisher struct {
	bus *pgnotify.Bus
}

// NewPublisher constructs a Publisher over an existing Bus.
func NewPublisher(bus *pgnotify.Bus) *Publisher {
	return &Publisher{bus: bus}
}

// Publish announces a job's terminal state. jobID/source/status come from
// runner.CompletionEvent at the call site.
func (p *Publisher) Publish(ctx context.Context, jobID, source string, status model.JobStatus) error {
	return p.bus.Publish(ctx, Channel, CompletionPayload{JobID: jobID, Source: source, Status: string(status)})
}

// Subscribe registers handler for every completion event published on
// Channel. A payload that fails to decode is not passed to handler; the
// decode error is returned to the bus, which logs it. Other subscribers on
// the channel run in their own goroutines and are unaffected.
func Subscribe(bus *pgnotify.Bus, handler CompletionHandler) error {
	return bus.Subscribe(Channel, func(ctx context.Context, event pgnotify.Event) error {
		var payload CompletionPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return fmt.Errorf("events: decode completion payload: %w", err)
		}
		handler(ctx, payload)
		return nil
	})
}
