package domain

import "context"

// GenerationRepository persists generations. Save writes the whole record,
// visuals included, so every processing step is a read-modify-write.
type GenerationRepository interface {
	Create(ctx context.Context, gen *Generation) error
	Get(ctx context.Context, id string) (*Generation, error)
	Save(ctx context.Context, gen *Generation) error
}
