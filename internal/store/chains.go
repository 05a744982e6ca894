package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/r3e-network/ingestion-engine/internal/model"
)

// ChainStore persists JobChain and JobDependency records forming the
// Dependency Engine's DAG.
type ChainStore struct {
	db *sqlx.DB
}

// NewChainStore constructs a ChainStore over db.
func NewChainStore(db *sqlx.DB) *ChainStore {
	return &ChainStore{db: db}
}

// CreateChain registers a new chain rooted at rootJobID.
func (s *ChainStore) CreateChain(ctx context.Context, name, rootJobID string) (model.JobChain, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_chains (id, name, root_job_id, created_at) VALUES ($1, $2, $3, $4)
	`, id, name, rootJobID, now)
	if err != nil {
		return model.JobChain{}, fmt.Errorf("create chain: %w", err)
	}
	return model.JobChain{ID: id, Name: name, RootJobID: rootJobID, CreatedAt: now}, nil
}

// GetChain fetches a chain by id.
func (s *ChainStore) GetChain(ctx context.Context, id string) (model.JobChain, error) {
	var row struct {
		ID        string    `db:"id"`
		Name      string    `db:"name"`
		RootJobID string    `db:"root_job_id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM job_chains WHERE id = $1`, id)
	if err != nil {
		return model.JobChain{}, fmt.Errorf("get chain %s: %w", id, err)
	}
	return model.JobChain{ID: row.ID, Name: row.Name, RootJobID: row.RootJobID, CreatedAt: row.CreatedAt}, nil
}

// AddDependency records one DAG edge: downstream waits on upstream per
// condition.
func (s *ChainStore) AddDependency(ctx context.Context, chainID, upstreamJobID, downstreamJobID string, cond model.DependencyCondition) (model.JobDependency, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_dependencies (id, chain_id, upstream_job_id, downstream_job_id, condition, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, chainID, upstreamJobID, downstreamJobID, cond, now)
	if err != nil {
		return model.JobDependency{}, fmt.Errorf("add dependency %s->%s: %w", upstreamJobID, downstreamJobID, err)
	}
	return model.JobDependency{
		ID: id, ChainID: chainID, UpstreamJobID: upstreamJobID,
		DownstreamJobID: downstreamJobID, Condition: cond, CreatedAt: now,
	}, nil
}

type dependencyRow struct {
	ID              string    `db:"id"`
	ChainID         string    `db:"chain_id"`
	UpstreamJobID   string    `db:"upstream_job_id"`
	DownstreamJobID string    `db:"downstream_job_id"`
	Condition       string    `db:"condition"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r dependencyRow) toModel() model.JobDependency {
	return model.JobDependency{
		ID: r.ID, ChainID: r.ChainID, UpstreamJobID: r.UpstreamJobID,
		DownstreamJobID: r.DownstreamJobID, Condition: model.DependencyCondition(r.Condition),
		CreatedAt: r.CreatedAt,
	}
}

// ByChain returns every dependency edge in a chain.
func (s *ChainStore) ByChain(ctx context.Context, chainID string) ([]model.JobDependency, error) {
	var rows []dependencyRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM job_dependencies WHERE chain_id = $1`, chainID)
	if err != nil {
		return nil, fmt.Errorf("list dependencies for chain %s: %w", chainID, err)
	}
	out := make([]model.JobDependency, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// DownstreamOf returns every edge where jobID is the upstream, used to find
// which jobs to evaluate after jobID completes.
func (s *ChainStore) DownstreamOf(ctx context.Context, jobID string) ([]model.JobDependency, error) {
	var rows []dependencyRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM job_dependencies WHERE upstream_job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list downstream dependencies of %s: %w", jobID, err)
	}
	out := make([]model.JobDependency, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// UpstreamOf returns every edge where jobID is the downstream, used to
// check whether all of a job's dependencies are satisfied.
func (s *ChainStore) UpstreamOf(ctx context.Context, jobID string) ([]model.JobDependency, error) {
	var rows []dependencyRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM job_dependencies WHERE downstream_job_id = $1`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list upstream dependencies of %s: %w", jobID, err)
	}
	out := make([]model.JobDependency, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}
