package quality

import (
	"context"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
	"github.com/r3e-network/ingestion-engine/internal/provision"
	"github.com/r3e-network/ingestion-engine/internal/store"
	"github.com/r3e-network/ingestion-engine/pkg/logger"
)

// Pipeline wires the Profiler, Rule Evaluator, auto-seeder, and Anomaly
// Detector together into one per-table quality run. Run executes only when
// a caller invokes it; neither the Job Runner nor the completion events
// start it after an ingest.
type Pipeline struct {
	store    *store.QualityStore
	profiler *Profiler
	eval     *Evaluator
	detector *Detector
	log      *logger.Logger
}

// New constructs a Pipeline.
func New(db *sqlx.DB, qualityStore *store.QualityStore, sampleThreshold int64, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NewDefault("quality")
	}
	return &Pipeline{
		store:    qualityStore,
		profiler: NewProfiler(db, sampleThreshold),
		eval:     NewEvaluator(db),
		detector: NewDetector(),
		log:      log,
	}
}

// RunResult summarizes one table's quality run.
type RunResult struct {
	Snapshot     model.ProfileSnapshot
	Results      []model.QualityResult
	NewAlerts    []model.AnomalyAlert
	SeededRules  int
	Score        float64
}

// Run profiles tableName, evaluates its declared rules (seeding new ones
// from the profile when none exist yet), detects anomalies against its
// history, and records the day's composite quality score.
func (p *Pipeline) Run(ctx context.Context, tableName string, columns []provision.ColumnSpec) (RunResult, error) {
	snap, err := p.profiler.Profile(ctx, tableName, columns)
	if err != nil {
		return RunResult{}, err
	}
	saved, err := p.store.SaveSnapshot(ctx, snap)
	if err != nil {
		return RunResult{}, err
	}

	rules, err := p.store.RulesForTable(ctx, tableName)
	if err != nil {
		return RunResult{}, err
	}

	seeded := 0
	if len(rules) == 0 {
		for _, proposal := range ProposeRules(tableName, saved) {
			saved2, err := p.store.SaveRule(ctx, proposal)
			if err != nil {
				p.log.WithField("table", tableName).WithField("error", err.Error()).Warn("auto-seed rule save failed")
				continue
			}
			rules = append(rules, saved2)
			seeded++
		}
	}

	var results []model.QualityResult
	var errorCount, warningCount, passCount int
	for _, rule := range rules {
		result, err := p.eval.Evaluate(ctx, rule, saved)
		if err != nil {
			p.log.WithField("table", tableName).WithField("rule_id", rule.ID).WithField("error", err.Error()).Warn("rule evaluation failed")
			continue
		}
		saved3, err := p.store.SaveResult(ctx, result)
		if err != nil {
			p.log.WithField("table", tableName).WithField("rule_id", rule.ID).WithField("error", err.Error()).Warn("save rule result failed")
			continue
		}
		results = append(results, saved3)
		if result.Passed {
			passCount++
			continue
		}
		switch rule.Severity {
		case model.SeverityError:
			errorCount++
		case model.SeverityWarning:
			warningCount++
		}
	}

	history, err := p.store.RecentSnapshots(ctx, tableName, MinSnapshotsForDetection+1)
	if err != nil {
		return RunResult{}, err
	}
	var historical []model.ProfileSnapshot
	for _, h := range history {
		if h.ID != saved.ID {
			historical = append(historical, h)
		}
	}

	alerts := p.detector.Detect(tableName, saved, historical)
	for _, alert := range alerts {
		if _, err := p.store.SaveAlert(ctx, alert); err != nil {
			p.log.WithField("table", tableName).WithField("error", err.Error()).Warn("save anomaly alert failed")
		}
	}

	validity := validityScore(errorCount, warningCount, len(rules))
	completeness := completenessScore(saved)
	freshness := freshnessScore(rules, results)
	consistency := 1.0
	if len(alerts) > 0 {
		consistency = math.Max(0, 1-float64(len(alerts))*0.1)
	}

	score := model.CompositeScore(completeness, freshness, validity, consistency)
	if err := p.store.SaveDailyScore(ctx, tableName, time.Now().UTC(), completeness, freshness, validity, consistency); err != nil {
		return RunResult{}, err
	}

	return RunResult{Snapshot: saved, Results: results, NewAlerts: alerts, SeededRules: seeded, Score: score}, nil
}

func validityScore(errorCount, warningCount, totalRules int) float64 {
	if totalRules == 0 {
		return 1.0
	}
	penalty := float64(errorCount)*1.0 + float64(warningCount)*0.3
	score := 1 - penalty/float64(totalRules)
	if score < 0 {
		return 0
	}
	return score
}

func completenessScore(snap model.ProfileSnapshot) float64 {
	if len(snap.Columns) == 0 {
		return 1.0
	}
	var total float64
	for _, c := range snap.Columns {
		total += 1 - c.NullPct
	}
	return total / float64(len(snap.Columns))
}

func freshnessScore(rules []model.QualityRule, results []model.QualityResult) float64 {
	resultByRule := make(map[string]model.QualityResult, len(results))
	for _, r := range results {
		resultByRule[r.RuleID] = r
	}
	found := false
	for _, rule := range rules {
		if rule.Type != model.RuleFreshness {
			continue
		}
		found = true
		if res, ok := resultByRule[rule.ID]; ok && res.Passed {
			return 1.0
		}
	}
	if !found {
		return 1.0
	}
	return 0.0
}
