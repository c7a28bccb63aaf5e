package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"visualbatch/internal/domain"
	"visualbatch/internal/infra"
	"visualbatch/internal/sqlinline"
)

// GenerationRepositoryPG implements domain.GenerationRepository. Visuals are
// stored as a single jsonb array so each save persists the full list.
type GenerationRepositoryPG struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewGenerationRepository creates a repository backed by PostgreSQL.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepositoryPG {
	return &GenerationRepositoryPG{sql: sql, now: time.Now}
}

// Create inserts a new generation record.
func (r *GenerationRepositoryPG) Create(ctx context.Context, gen *domain.Generation) error {
	visuals, err := marshalVisuals(gen.Visuals)
	if err != nil {
		return err
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = r.now().UTC()
	}
	gen.UpdatedAt = gen.CreatedAt
	_, err = r.sql.Exec(ctx, sqlinline.QInsertGeneration,
		gen.ID,
		gen.OwnerID,
		gen.ProductRef,
		gen.StyleRef,
		gen.CollectionRef,
		gen.ProductName,
		gen.CollectionName,
		gen.AspectRatio,
		gen.Resolution,
		gen.ModelHint,
		string(gen.Status),
		visuals,
		gen.Progress,
		gen.CompletedCount,
		gen.Error,
		gen.StartedAt,
		gen.CompletedAt,
		gen.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// Get fetches a generation by its identifier.
func (r *GenerationRepositoryPG) Get(ctx context.Context, id string) (*domain.Generation, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QSelectGeneration, id)
	var (
		gen     domain.Generation
		status  string
		visuals []byte
	)
	if err := row.Scan(
		&gen.ID,
		&gen.OwnerID,
		&gen.ProductRef,
		&gen.StyleRef,
		&gen.CollectionRef,
		&gen.ProductName,
		&gen.CollectionName,
		&gen.AspectRatio,
		&gen.Resolution,
		&gen.ModelHint,
		&status,
		&visuals,
		&gen.Progress,
		&gen.CompletedCount,
		&gen.Error,
		&gen.StartedAt,
		&gen.CompletedAt,
		&gen.CreatedAt,
		&gen.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("select generation: %w", err)
	}
	gen.Status = domain.Status(status)
	if len(visuals) > 0 {
		if err := json.Unmarshal(visuals, &gen.Visuals); err != nil {
			return nil, fmt.Errorf("decode visuals: %w", err)
		}
	}
	if gen.Visuals == nil {
		gen.Visuals = []domain.Visual{}
	}
	return &gen, nil
}

// Save rewrites the mutable part of the record, recomputing derived counters first.
func (r *GenerationRepositoryPG) Save(ctx context.Context, gen *domain.Generation) error {
	gen.Recompute()
	visuals, err := marshalVisuals(gen.Visuals)
	if err != nil {
		return err
	}
	gen.UpdatedAt = r.now().UTC()
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateGeneration,
		gen.ID,
		gen.ModelHint,
		string(gen.Status),
		visuals,
		gen.Progress,
		gen.CompletedCount,
		gen.Error,
		gen.StartedAt,
		gen.CompletedAt,
		gen.AspectRatio,
		gen.Resolution,
		gen.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update generation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func marshalVisuals(visuals []domain.Visual) ([]byte, error) {
	if visuals == nil {
		visuals = []domain.Visual{}
	}
	raw, err := json.Marshal(visuals)
	if err != nil {
		return nil, fmt.Errorf("encode visuals: %w", err)
	}
	return raw, nil
}

var _ domain.GenerationRepository = (*GenerationRepositoryPG)(nil)
