package model

import "time"

// JobStatus is the lifecycle state of an IngestionJob.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobBlocked JobStatus = "BLOCKED"
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
)

// IngestionJob is a durable unit of work tracked from submission through
// terminal state. Only the Job Runner and Retry Scheduler mutate it; it is
// never deleted, so the table doubles as an audit log.
type IngestionJob struct {
	ID            string
	Source        string
	Status        JobStatus
	Config        map[string]any
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	RowsInserted  *int64
	ErrorMessage  *string
	ErrorDetails  map[string]any
	RetryCount    int
	MaxRetries    int
	NextRetryAt   *time.Time
	ParentJobID   *string
}

func (j IngestionJob) GetID() string            { return j.ID }
func (j *IngestionJob) SetCreatedAt(t time.Time) { j.CreatedAt = t }
func (j *IngestionJob) SetUpdatedAt(time.Time)   {}

// Retryable reports whether this job is currently eligible for a scheduled
// retry: FAILED, not cancelled (error_details.exception_type "cancelled",
// as the Job Runner records it), and under its retry budget.
func (j IngestionJob) Retryable() bool {
	if kind, _ := j.ErrorDetails["exception_type"].(string); kind == "cancelled" {
		return false
	}
	return j.Status == JobFailed && j.RetryCount < j.MaxRetries
}

// DatasetRegistry catalogs a materialized, dynamically-provisioned table.
type DatasetRegistry struct {
	Source         string
	DatasetID      string
	TableName      string
	DisplayName    string
	Description    string
	SourceMetadata map[string]any
	CreatedAt      time.Time
	LastUpdatedAt  time.Time
}

func (d DatasetRegistry) GetID() string             { return d.TableName }
func (d *DatasetRegistry) SetCreatedAt(t time.Time)  { d.CreatedAt = t }
func (d *DatasetRegistry) SetUpdatedAt(t time.Time)  { d.LastUpdatedAt = t }

// ScheduleFrequency is the recurrence unit for an IngestionSchedule.
type ScheduleFrequency string

const (
	FrequencyHourly  ScheduleFrequency = "HOURLY"
	FrequencyDaily   ScheduleFrequency = "DAILY"
	FrequencyWeekly  ScheduleFrequency = "WEEKLY"
	FrequencyMonthly ScheduleFrequency = "MONTHLY"
	FrequencyCustom  ScheduleFrequency = "CUSTOM"
)

// IngestionSchedule is a periodic trigger dispatched by the cron-driven
// schedule dispatcher.
type IngestionSchedule struct {
	ID          string
	Source      string
	Frequency   ScheduleFrequency
	CronExpr    string
	Hour        *int
	Day         *int
	IsActive    bool
	LastRunAt   *time.Time
	NextRunAt   time.Time
	LastJobID   *string
	Config      map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s IngestionSchedule) GetID() string            { return s.ID }
func (s *IngestionSchedule) SetCreatedAt(t time.Time) { s.CreatedAt = t }
func (s *IngestionSchedule) SetUpdatedAt(t time.Time) { s.UpdatedAt = t }

// DependencyCondition governs when a downstream job is released.
type DependencyCondition string

const (
	OnSuccess    DependencyCondition = "ON_SUCCESS"
	OnFailure    DependencyCondition = "ON_FAILURE"
	OnCompletion DependencyCondition = "ON_COMPLETION"
)

// JobDependency is one edge of a job DAG: downstream waits on upstream.
type JobDependency struct {
	ID             string
	ChainID        string
	UpstreamJobID  string
	DownstreamJobID string
	Condition      DependencyCondition
	CreatedAt      time.Time
}

func (d JobDependency) GetID() string             { return d.ID }
func (d *JobDependency) SetCreatedAt(t time.Time)  { d.CreatedAt = t }
func (d *JobDependency) SetUpdatedAt(time.Time)    {}

// JobChain groups a set of dependencies defined together, so the API can
// start the whole DAG with one call.
type JobChain struct {
	ID        string
	Name      string
	RootJobID string
	CreatedAt time.Time
}

func (c JobChain) GetID() string            { return c.ID }
func (c *JobChain) SetCreatedAt(t time.Time) { c.CreatedAt = t }
func (c *JobChain) SetUpdatedAt(time.Time)   {}

// Confidence ranks how trustworthy a CollectedItem's source is, used to
// resolve conflicts when the same entity is seen from more than one source.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

var confidenceRank = map[Confidence]int{
	ConfidenceHigh:   3,
	ConfidenceMedium: 2,
	ConfidenceLow:    1,
}

// Outranks reports whether c is strictly more trustworthy than other.
func (c Confidence) Outranks(other Confidence) bool {
	return confidenceRank[c] > confidenceRank[other]
}

// CollectedItem is a typed record emitted by a collector within the
// Collection Orchestrator, prior to dedup and persistence.
type CollectedItem struct {
	ItemType   string
	TargetID   string
	Data       map[string]any
	SourceURL  string
	Source     string
	Confidence Confidence
	IsNew      bool

	// AdditionalSources holds the source URLs of lower-confidence
	// duplicates that lost dedup resolution, so provenance isn't lost
	// when only the winning item is persisted.
	AdditionalSources []string
}

// CollectionTarget is one entry in the LP or FO registry JSON file.
type CollectionTarget struct {
	ID                string
	Name              string
	Type              string
	Region            string
	CountryCode       string
	WebsiteURL        string
	PrincipalName     string
	CollectionPriority int
	LastCollectionAt  *time.Time
	Extra             map[string]any
}

// ProfileColumn holds per-column statistics computed by the Profiler.
type ProfileColumn struct {
	Name            string
	NullPct         float64
	DistinctCount   int64
	CardinalityRatio float64
	Stats           map[string]any
}

// ProfileSnapshot is one immutable, point-in-time profile of a table.
type ProfileSnapshot struct {
	ID        string
	TableName string
	RowCount  int64
	Columns   []ProfileColumn
	CreatedAt time.Time
}

func (p ProfileSnapshot) GetID() string            { return p.ID }
func (p *ProfileSnapshot) SetCreatedAt(t time.Time) { p.CreatedAt = t }
func (p *ProfileSnapshot) SetUpdatedAt(time.Time)   {}

// RuleType enumerates the declarative quality-rule kinds the Rule Evaluator
// understands.
type RuleType string

const (
	RuleNotNull    RuleType = "NOT_NULL"
	RuleRange      RuleType = "RANGE"
	RuleEnum       RuleType = "ENUM"
	RuleRegex      RuleType = "REGEX"
	RuleRowCount   RuleType = "ROW_COUNT"
	RuleFreshness  RuleType = "FRESHNESS"
)

// Severity is how seriously a failed QualityRule should be treated.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// QualityRule is a declarative check against one table/column, either
// authored directly or proposed by the auto-seeder from a ProfileSnapshot.
type QualityRule struct {
	ID        string
	TableName string
	Column    string
	Type      RuleType
	Severity  Severity
	Params    map[string]any
	AutoSeeded bool
	CreatedAt time.Time
}

func (r QualityRule) GetID() string            { return r.ID }
func (r *QualityRule) SetCreatedAt(t time.Time) { r.CreatedAt = t }
func (r *QualityRule) SetUpdatedAt(time.Time)   {}

// QualityResult is the outcome of evaluating one QualityRule at one point
// in time.
type QualityResult struct {
	ID        string
	RuleID    string
	TableName string
	Passed    bool
	Details   map[string]any
	RunAt     time.Time
}

func (r QualityResult) GetID() string            { return r.ID }
func (r *QualityResult) SetCreatedAt(t time.Time) { r.RunAt = t }
func (r *QualityResult) SetUpdatedAt(time.Time)   {}

// AnomalyStatus tracks an AnomalyAlert through its lifecycle.
type AnomalyStatus string

const (
	AnomalyOpen         AnomalyStatus = "open"
	AnomalyAcknowledged AnomalyStatus = "acknowledged"
	AnomalyResolved     AnomalyStatus = "resolved"
)

// AnomalyAlert flags statistically significant drift detected by comparing
// a current ProfileSnapshot against historical ones.
type AnomalyAlert struct {
	ID        string
	TableName string
	Type      string
	Status    AnomalyStatus
	Details   map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a AnomalyAlert) GetID() string            { return a.ID }
func (a *AnomalyAlert) SetCreatedAt(t time.Time) { a.CreatedAt = t }
func (a *AnomalyAlert) SetUpdatedAt(t time.Time) { a.UpdatedAt = t }

// SLATarget is a threshold on a composite quality score for one table.
type SLATarget struct {
	ID          string
	TableName   string
	MinScore    float64
	CreatedAt   time.Time
}

func (s SLATarget) GetID() string            { return s.ID }
func (s *SLATarget) SetCreatedAt(t time.Time) { s.CreatedAt = t }
func (s *SLATarget) SetUpdatedAt(time.Time)   {}

// QualityScoreWeights are the fixed weights composing the per-table daily
// quality score from its four subsystem outputs.
var QualityScoreWeights = struct {
	Completeness float64
	Freshness    float64
	Validity     float64
	Consistency  float64
}{
	Completeness: 0.30,
	Freshness:    0.20,
	Validity:     0.30,
	Consistency:  0.20,
}

// CompositeScore combines the four quality subsystem outputs using the
// fixed weighting from spec §4.9.
func CompositeScore(completeness, freshness, validity, consistency float64) float64 {
	w := QualityScoreWeights
	return completeness*w.Completeness + freshness*w.Freshness + validity*w.Validity + consistency*w.Consistency
}
