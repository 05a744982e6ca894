package collect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/store"
	"github.com/r3e-network/ingestion-engine/internal/support"
	"github.com/r3e-network/ingestion-engine/pkg/logger"
)

// Collector fetches one source's items for one target. Implementations
// wrap an adapter or a bespoke scraper; errors are per-(target,source) and
// never abort the rest of the run.
type Collector interface {
	Name() string
	Collect(ctx context.Context, target model.CollectionTarget) ([]model.CollectedItem, error)
}

// Progress reports the orchestrator's position through one run. All fields
// are safe to read concurrently via Orchestrator.Progress.
type Progress struct {
	Total         int
	Completed     int
	Succeeded     int
	Failed        int
	CurrentTarget string
}

// PercentComplete returns 0-100.
func (p Progress) PercentComplete() float64 {
	if p.Total == 0 {
		return 100
	}
	return 100 * float64(p.Completed) / float64(p.Total)
}

// Orchestrator runs the Collection Orchestrator's per-target, per-source
// fan-out, dedup, and persistence.
type Orchestrator struct {
	store      *store.CollectionStore
	collectors []Collector
	maxConcurrentTargets int
	log        *logger.Logger
	hooks      support.ObservationHooks

	mu       sync.Mutex
	progress Progress
}

// New constructs an Orchestrator. maxConcurrentTargets <= 0 defaults to 5.
func New(collectionStore *store.CollectionStore, collectors []Collector, maxConcurrentTargets int, log *logger.Logger) *Orchestrator {
	if maxConcurrentTargets <= 0 {
		maxConcurrentTargets = 5
	}
	if log == nil {
		log = logger.NewDefault("collect")
	}
	return &Orchestrator{store: collectionStore, collectors: collectors, maxConcurrentTargets: maxConcurrentTargets, log: log}
}

// WithHooks attaches observation hooks (e.g.
// pkg/metrics.CollectionOrchestratorHooks()) fired around every
// collectTarget call. Returns o for chaining at construction time.
func (o *Orchestrator) WithHooks(hooks support.ObservationHooks) *Orchestrator {
	o.hooks = hooks
	return o
}

// Progress returns a snapshot of the current run's progress.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Run starts one goroutine per target under the configured semaphore; within
// a target the collectors run one after another, not concurrently. It
// dedupes and persists the results, and updates each target's
// last_collection_at when at least one of its sources succeeded.
func (o *Orchestrator) Run(ctx context.Context, targets []model.CollectionTarget) error {
	o.mu.Lock()
	o.progress = Progress{Total: len(targets)}
	o.mu.Unlock()

	sem := make(chan struct{}, o.maxConcurrentTargets)
	var wg sync.WaitGroup
	var firstErr error
	var errMu sync.Mutex

	for _, target := range targets {
		target := target
		wg.Add(1)
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Done()
			continue
		}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			o.setCurrentTarget(target.Name)
			ok := o.collectTarget(ctx, target)
			o.recordOutcome(ok)

			if !ok {
				errMu.Lock()
				if firstErr == nil {
					firstErr = fmt.Errorf("collection failed for target %s", target.ID)
				}
				errMu.Unlock()
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (o *Orchestrator) setCurrentTarget(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.CurrentTarget = name
}

func (o *Orchestrator) recordOutcome(succeeded bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.progress.Completed++
	if succeeded {
		o.progress.Succeeded++
	} else {
		o.progress.Failed++
	}
}

// collectTarget runs every configured collector against target, dedupes the
// combined items, persists them, and reports whether at least one collector
// succeeded.
func (o *Orchestrator) collectTarget(ctx context.Context, target model.CollectionTarget) (anySucceeded bool) {
	done := support.StartObservation(ctx, o.hooks, map[string]string{"target": target.ID})
	defer func() {
		var err error
		if !anySucceeded {
			err = fmt.Errorf("no collector succeeded for target %s", target.ID)
		}
		done(err)
	}()

	var items []model.CollectedItem

	for _, c := range o.collectors {
		got, err := c.Collect(ctx, target)
		if err != nil {
			o.log.WithField("target", target.ID).WithField("source", c.Name()).WithField("error", err.Error()).Warn("collector failed")
			continue
		}
		anySucceeded = true
		items = append(items, got...)
	}

	deduped := Dedupe(items)
	for _, item := range deduped {
		if err := o.persist(ctx, item); err != nil {
			o.log.WithField("target", target.ID).WithField("item_type", item.ItemType).WithField("error", err.Error()).Error("persist collected item failed")
		}
	}

	if anySucceeded {
		if err := o.store.TouchCollectedAt(ctx, target.ID, time.Now().UTC()); err != nil {
			o.log.WithField("target", target.ID).WithField("error", err.Error()).Error("touch last_collection_at failed")
		}
	}
	return anySucceeded
}

func (o *Orchestrator) persist(ctx context.Context, item model.CollectedItem) error {
	if len(item.AdditionalSources) > 0 {
		if item.Data == nil {
			item.Data = map[string]any{}
		}
		item.Data["additional_sources"] = item.AdditionalSources
	}
	switch item.ItemType {
	case "contact":
		name, _ := item.Data["name"].(string)
		_, err := o.store.SaveContact(ctx, item, normalizeName(name))
		return err
	case "holding":
		cusip, _ := item.Data["cusip"].(string)
		reportDate, _ := item.Data["report_date"].(time.Time)
		_, err := o.store.SaveHolding(ctx, item, cusip, reportDate)
		return err
	case "document", "news":
		_, err := o.store.SaveDocument(ctx, item)
		return err
	default:
		return fmt.Errorf("collect: unknown item type %q", item.ItemType)
	}
}

// normalizeName lowercases and collapses whitespace so the same person
// collected from two sources with different capitalization/spacing still
// dedups to one contact row.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
