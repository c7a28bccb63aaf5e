package repo

import (
	"context"
	"sync"
	"time"

	"visualbatch/internal/domain"
)

// GenerationRepositoryMemory keeps generations in process memory. It is used
// by STORE_DRIVER=memory and by tests; values are cloned on the way in and out.
type GenerationRepositoryMemory struct {
	mu    sync.RWMutex
	items map[string]*domain.Generation
	now   func() time.Time
}

// NewMemoryGenerationRepository creates an empty in-memory repository.
func NewMemoryGenerationRepository() *GenerationRepositoryMemory {
	return &GenerationRepositoryMemory{items: make(map[string]*domain.Generation), now: time.Now}
}

func (r *GenerationRepositoryMemory) Create(ctx context.Context, gen *domain.Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[gen.ID]; exists {
		return domain.Conflict("generation %s already exists", gen.ID)
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = r.now().UTC()
	}
	gen.UpdatedAt = gen.CreatedAt
	r.items[gen.ID] = gen.Clone()
	return nil
}

func (r *GenerationRepositoryMemory) Get(ctx context.Context, id string) (*domain.Generation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return gen.Clone(), nil
}

func (r *GenerationRepositoryMemory) Save(ctx context.Context, gen *domain.Generation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	gen.Recompute()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[gen.ID]; !ok {
		return domain.ErrNotFound
	}
	gen.UpdatedAt = r.now().UTC()
	r.items[gen.ID] = gen.Clone()
	return nil
}

var _ domain.GenerationRepository = (*GenerationRepositoryMemory)(nil)
