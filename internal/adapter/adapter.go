// Package adapter defines the Source Adapter (C2) contract and the registry
// of per-source implementations. An adapter declares its table schema,
// drives its own pagination walk, and parses raw payloads into rows; the
// Job Runner never knows the shape of any particular upstream API.
package adapter

import (
	"fmt"
	"sync"

	"github.com/r3e-network/ingestion-engine/internal/fetch"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
)

// FetchStep is one HTTP call an adapter wants made: URL, query parameters,
// headers, and an opaque pagination cursor the adapter itself interprets.
type FetchStep struct {
	URL     string
	Query   map[string]string
	Headers map[string]string
	Cursor  string
}

// Clone returns a copy of the step with its own Query/Headers maps, so a
// Pager can mutate per-page parameters without aliasing the seed step.
func (s FetchStep) Clone() FetchStep {
	c := FetchStep{URL: s.URL, Cursor: s.Cursor}
	if s.Query != nil {
		c.Query = make(map[string]string, len(s.Query))
		for k, v := range s.Query {
			c.Query[k] = v
		}
	}
	if s.Headers != nil {
		c.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			c.Headers[k] = v
		}
	}
	return c
}

// Pager drives the paginated walk for one plan() invocation. The Job
// Runner calls Step to get the next FetchStep (ok=false means the walk is
// complete), fetches and parses it, then calls Observe with what came
// back so the pager can apply the spec's termination rules: empty page,
// page smaller than the requested limit, explicit has_more=false, total
// count reached, or a max-pages cap.
type Pager interface {
	Step() (FetchStep, bool)
	Observe(payload []byte, rowCount int)
}

// Adapter is the per-source module: schema declaration, pagination plan,
// and payload parsing. Every method is pure given its inputs except Plan,
// which returns a stateful Pager scoped to one run.
type Adapter interface {
	// Name is the adapter's registry key, e.g. "eia".
	Name() string

	// Defaults returns the fetch policy this source should run under
	// (concurrency, retries, rate limit, timeouts). The Fetcher honors
	// these per adapter rather than using one engine-wide policy.
	Defaults() fetch.Policy

	// SchemaFor declares the table a dataset lands in. Deterministic:
	// the same (dataset, config) always yields the same table name.
	SchemaFor(dataset string, config map[string]any) (provision.SchemaSpec, error)

	// Plan seeds a Pager for one run of the given config.
	Plan(config map[string]any) (Pager, error)

	// Parse maps one fetched payload into rows conforming to the
	// schema SchemaFor declared. Malformed individual records are
	// skipped (the adapter logs a warning itself); a wholly
	// unparseable payload returns an error.
	Parse(step FetchStep, payload []byte) ([]model.Row, error)
}

// Registry holds adapters keyed by source name. Adapters self-register via
// init() in their own files, so the engine's dispatch mechanics stay
// generic over which sources are compiled in.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// Default is the process-wide adapter registry.
var Default = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own Name(). Panics on duplicate
// registration, matching the fail-fast init()-time registration idiom.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := a.Name()
	if _, exists := r.adapters[name]; exists {
		panic(fmt.Sprintf("adapter: duplicate registration for %q", name))
	}
	r.adapters[name] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Sources lists every registered adapter name.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
