// Package chain implements the Dependency Engine (C7): it validates a job
// DAG for cycles at definition time, and on every job completion evaluates
// that job's downstream edges, releasing a BLOCKED job to PENDING once all
// of its upstream dependencies are satisfied.
package chain

import (
	"context"
	"fmt"

	"github.com/r3e-network/ingestion-engine/internal/ingesterr"
	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/store"
	"github.com/r3e-network/ingestion-engine/pkg/logger"
)

// Edge is one proposed dependency, used for cycle detection before any of
// it is persisted.
type Edge struct {
	Upstream   string
	Downstream string
	Condition  model.DependencyCondition
}

// DetectCycle reports whether adding edges to a DAG already containing
// existing would introduce a cycle, via depth-first search from every node
// with outgoing edges. Returns the first cycle found as a job-id path.
func DetectCycle(existing []model.JobDependency, edges []Edge) []string {
	adj := make(map[string][]string)
	for _, d := range existing {
		adj[d.UpstreamJobID] = append(adj[d.UpstreamJobID], d.DownstreamJobID)
	}
	for _, e := range edges {
		adj[e.Upstream] = append(adj[e.Upstream], e.Downstream)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int)
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		state[node] = visiting
		path = append(path, node)
		for _, next := range adj[node] {
			switch state[next] {
			case visiting:
				cycleStart := indexOf(path, next)
				return append(append([]string{}, path[cycleStart:]...), next)
			case unvisited:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		path = path[:len(path)-1]
		state[node] = done
		return nil
	}

	for node := range adj {
		if state[node] == unvisited {
			if cycle := visit(node); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

func indexOf(path []string, node string) int {
	for i, p := range path {
		if p == node {
			return i
		}
	}
	return 0
}

// Dispatcher runs one job to a terminal state, matching runner.Runner.Run
// and retry.Scheduler's dispatch contract.
type Dispatcher interface {
	Run(ctx context.Context, jobID string) error
}

// Engine evaluates completion events against the persisted DAG and releases
// downstream jobs whose dependencies are satisfied.
type Engine struct {
	chains     *store.ChainStore
	jobs       *store.JobStore
	dispatcher Dispatcher
	log        *logger.Logger
}

// New constructs an Engine. dispatcher may be nil if the caller never calls
// Execute.
func New(chains *store.ChainStore, jobs *store.JobStore, dispatcher Dispatcher, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("chain")
	}
	return &Engine{chains: chains, jobs: jobs, dispatcher: dispatcher, log: log}
}

// Execute starts a defined chain by dispatching its root job. Downstream
// jobs advance on their own as OnCompletion fires for each completed job;
// Execute only kicks off the root.
func (e *Engine) Execute(ctx context.Context, chainID string) error {
	c, err := e.chains.GetChain(ctx, chainID)
	if err != nil {
		return err
	}
	if e.dispatcher == nil {
		return ingesterr.New(ingesterr.KindConfig, "chain engine has no dispatcher configured")
	}
	return e.dispatcher.Run(ctx, c.RootJobID)
}

// DefineChain validates edges for cycles, then persists the chain and every
// edge. rootJobID must be one of the edges' upstream or downstream jobs, or
// a standalone job this chain starts from.
func (e *Engine) DefineChain(ctx context.Context, name, rootJobID string, edges []Edge) (model.JobChain, error) {
	if cycle := DetectCycle(nil, edges); cycle != nil {
		return model.JobChain{}, ingesterr.New(ingesterr.KindConfig, fmt.Sprintf("dependency cycle detected: %v", cycle))
	}

	c, err := e.chains.CreateChain(ctx, name, rootJobID)
	if err != nil {
		return model.JobChain{}, err
	}
	for _, edge := range edges {
		if _, err := e.chains.AddDependency(ctx, c.ID, edge.Upstream, edge.Downstream, edge.Condition); err != nil {
			return model.JobChain{}, err
		}
	}
	return c, nil
}

// OnCompletion evaluates every downstream edge of a completed job, releasing
// each downstream job whose condition matches the upstream's outcome and
// whose every other upstream dependency (if any) is already satisfied.
// Called from the Job Runner's CompletionEvent; errors for individual edges
// are logged rather than returned, so one bad edge never blocks the rest.
func (e *Engine) OnCompletion(ctx context.Context, jobID string, status model.JobStatus) {
	edges, err := e.chains.DownstreamOf(ctx, jobID)
	if err != nil {
		e.log.WithField("job_id", jobID).WithField("error", err.Error()).Error("list downstream dependencies failed")
		return
	}

	for _, edge := range edges {
		if !conditionMet(edge.Condition, status) {
			continue
		}
		satisfied, err := e.allUpstreamSatisfied(ctx, edge.DownstreamJobID)
		if err != nil {
			e.log.WithField("job_id", edge.DownstreamJobID).WithField("error", err.Error()).Error("check upstream dependencies failed")
			continue
		}
		if !satisfied {
			continue
		}
		if err := e.jobs.Release(ctx, edge.DownstreamJobID); err != nil {
			e.log.WithField("job_id", edge.DownstreamJobID).WithField("error", err.Error()).Error("release downstream job failed")
		}
	}
}

// allUpstreamSatisfied reports whether every upstream dependency of jobID
// has a terminal upstream job whose status matches that edge's condition.
func (e *Engine) allUpstreamSatisfied(ctx context.Context, jobID string) (bool, error) {
	deps, err := e.chains.UpstreamOf(ctx, jobID)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		upstream, err := e.jobs.Get(ctx, dep.UpstreamJobID)
		if err != nil {
			return false, err
		}
		if upstream.Status != model.JobSuccess && upstream.Status != model.JobFailed {
			return false, nil
		}
		if !conditionMet(dep.Condition, upstream.Status) {
			return false, nil
		}
	}
	return true, nil
}

func conditionMet(cond model.DependencyCondition, status model.JobStatus) bool {
	switch cond {
	case model.OnSuccess:
		return status == model.JobSuccess
	case model.OnFailure:
		return status == model.JobFailed
	case model.OnCompletion:
		return status == model.JobSuccess || status == model.JobFailed
	default:
		return false
	}
}
