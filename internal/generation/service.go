// Package generation owns the client-facing lifecycle of a generation:
// creation, submission, single-visual retry, progress reads and reset.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"visualbatch/internal/domain"
	"visualbatch/internal/infra"
	"visualbatch/internal/queue"
)

const maxPrompts = 24

var (
	aspectRatios = map[string]struct{}{
		"1:1": {}, "2:3": {}, "3:2": {}, "3:4": {}, "4:3": {},
		"4:5": {}, "5:4": {}, "9:16": {}, "16:9": {}, "21:9": {},
	}
	resolutions = map[string]struct{}{"1K": {}, "2K": {}, "4K": {}}
)

type Service struct {
	repo   domain.GenerationRepository
	queue  queue.Queue
	logger infra.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(repo domain.GenerationRepository, q queue.Queue, logger infra.Logger) *Service {
	return &Service{
		repo:   repo,
		queue:  q,
		logger: infra.Component(logger, "generation_service"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

type CreateInput struct {
	OwnerID        string `json:"-"`
	ProductRef     string `json:"product_ref"`
	StyleRef       string `json:"style_ref"`
	CollectionRef  string `json:"collection_ref"`
	ProductName    string `json:"product_name"`
	CollectionName string `json:"collection_name"`
	AspectRatio    string `json:"aspect_ratio"`
	Resolution     string `json:"resolution"`
}

type SubmitInput struct {
	OwnerID      string   `json:"-"`
	GenerationID string   `json:"generation_id"`
	Prompts      []string `json:"prompts"`
	VisualTypes  []string `json:"visual_types"`
	ModelHint    string   `json:"model_hint"`
}

// Progress is the lightweight polling view of a generation.
type Progress struct {
	Status          domain.Status    `json:"status"`
	ProgressPercent int              `json:"progress_percent"`
	Completed       int              `json:"completed"`
	Failed          int              `json:"failed"`
	Total           int              `json:"total"`
	Visuals         []VisualProgress `json:"visuals"`
}

type VisualProgress struct {
	Index  int           `json:"index"`
	Type   string        `json:"type"`
	Status domain.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// Create stores a new PENDING generation without visuals.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Generation, error) {
	in.ProductRef = strings.TrimSpace(in.ProductRef)
	in.StyleRef = strings.TrimSpace(in.StyleRef)
	if in.ProductRef == "" {
		return nil, domain.Validation("product_ref is required")
	}
	if in.StyleRef == "" {
		return nil, domain.Validation("style_ref is required")
	}
	aspect := strings.TrimSpace(in.AspectRatio)
	if aspect == "" {
		aspect = domain.DefaultAspectRatio
	}
	if _, ok := aspectRatios[aspect]; !ok {
		return nil, domain.Validation("unsupported aspect_ratio %q", aspect)
	}
	resolution := strings.ToUpper(strings.TrimSpace(in.Resolution))
	if resolution == "" {
		resolution = domain.DefaultResolution
	}
	if _, ok := resolutions[resolution]; !ok {
		return nil, domain.Validation("unsupported resolution %q", in.Resolution)
	}

	now := s.now().UTC()
	gen := &domain.Generation{
		ID:             s.newID(),
		OwnerID:        in.OwnerID,
		ProductRef:     in.ProductRef,
		StyleRef:       in.StyleRef,
		CollectionRef:  strings.TrimSpace(in.CollectionRef),
		ProductName:    strings.TrimSpace(in.ProductName),
		CollectionName: strings.TrimSpace(in.CollectionName),
		AspectRatio:    aspect,
		Resolution:     resolution,
		Status:         domain.StatusPending,
		Visuals:        []domain.Visual{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, gen); err != nil {
		return nil, storageError("create generation", err)
	}
	s.logger.Info().Str("generation_id", gen.ID).Str("owner_id", gen.OwnerID).Msg("generation created")
	return gen, nil
}

// Submit replaces the work list, flips the generation to PROCESSING and
// enqueues its job. Validation, ownership and conflict checks all happen
// before the queue is touched.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*domain.Generation, error) {
	visuals, err := buildVisuals(in.Prompts, in.VisualTypes)
	if err != nil {
		return nil, err
	}
	gen, err := s.load(ctx, in.OwnerID, in.GenerationID)
	if err != nil {
		return nil, err
	}
	if gen.Status == domain.StatusProcessing {
		return nil, domain.Conflict("generation %s is already processing", gen.ID)
	}

	previous := gen.Clone()
	now := s.now().UTC()
	gen.Visuals = visuals
	gen.Status = domain.StatusProcessing
	gen.ModelHint = strings.TrimSpace(in.ModelHint)
	gen.StartedAt = &now
	gen.CompletedAt = nil
	gen.Error = ""
	if err := s.repo.Save(ctx, gen); err != nil {
		return nil, storageError("save generation", err)
	}

	if err := s.enqueue(ctx, gen, previous, queue.Payload{ModelHint: gen.ModelHint}); err != nil {
		return nil, err
	}
	s.logger.Info().Str("generation_id", gen.ID).Int("visuals", len(visuals)).Msg("generation submitted")
	return gen, nil
}

// RetryVisual re-runs a single visual of a finished generation.
func (s *Service) RetryVisual(ctx context.Context, ownerID, generationID string, index int) (*domain.Generation, error) {
	gen, err := s.load(ctx, ownerID, generationID)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(gen.Visuals) {
		return nil, domain.Validation("visual index %d out of range", index)
	}
	if gen.Status == domain.StatusProcessing {
		return nil, domain.Conflict("generation %s is already processing", gen.ID)
	}

	previous := gen.Clone()
	now := s.now().UTC()
	gen.Visuals[index].Clear()
	gen.Status = domain.StatusProcessing
	gen.StartedAt = &now
	gen.CompletedAt = nil
	gen.Error = ""
	if err := s.repo.Save(ctx, gen); err != nil {
		return nil, storageError("save generation", err)
	}
	if err := s.enqueue(ctx, gen, previous, queue.Payload{ModelHint: gen.ModelHint, Indices: []int{index}}); err != nil {
		return nil, err
	}
	s.logger.Info().Str("generation_id", gen.ID).Int("index", index).Msg("visual retry submitted")
	return gen, nil
}

// enqueue rolls the generation back to previous when the job cannot be queued.
func (s *Service) enqueue(ctx context.Context, gen, previous *domain.Generation, payload queue.Payload) error {
	jobID, enqueued, err := s.queue.Enqueue(ctx, gen.ID, payload)
	if err != nil {
		if rbErr := s.repo.Save(context.WithoutCancel(ctx), previous); rbErr != nil {
			s.logger.Error().Err(rbErr).Str("generation_id", gen.ID).Msg("rollback after failed enqueue")
		}
		return domain.Infrastructure("enqueue job", err)
	}
	if !enqueued {
		s.logger.Warn().Str("generation_id", gen.ID).Str("job_id", jobID).Msg("job already active; enqueue absorbed")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, ownerID, generationID string) (*domain.Generation, error) {
	return s.load(ctx, ownerID, generationID)
}

func (s *Service) Progress(ctx context.Context, ownerID, generationID string) (*Progress, error) {
	gen, err := s.load(ctx, ownerID, generationID)
	if err != nil {
		return nil, err
	}
	completed, failed := gen.Tally()
	out := &Progress{
		Status:          gen.Status,
		ProgressPercent: gen.Progress,
		Completed:       completed,
		Failed:          failed,
		Total:           gen.Total(),
		Visuals:         make([]VisualProgress, len(gen.Visuals)),
	}
	for i, v := range gen.Visuals {
		out.Visuals[i] = VisualProgress{Index: v.Index, Type: v.Type, Status: v.Status, Error: v.Error}
	}
	return out, nil
}

// Reset returns a finished generation to PENDING. Calling it again is a no-op.
func (s *Service) Reset(ctx context.Context, ownerID, generationID string) (*domain.Generation, error) {
	gen, err := s.load(ctx, ownerID, generationID)
	if err != nil {
		return nil, err
	}
	if gen.Status == domain.StatusProcessing {
		return nil, domain.Conflict("generation %s is processing", gen.ID)
	}
	gen.Reset()
	if err := s.repo.Save(ctx, gen); err != nil {
		return nil, storageError("save generation", err)
	}
	s.logger.Info().Str("generation_id", gen.ID).Msg("generation reset")
	return gen, nil
}

// Authorize checks that ownerID may observe the generation.
func (s *Service) Authorize(ctx context.Context, ownerID, generationID string) error {
	_, err := s.load(ctx, ownerID, generationID)
	return err
}

func (s *Service) load(ctx context.Context, ownerID, generationID string) (*domain.Generation, error) {
	generationID = strings.TrimSpace(generationID)
	if generationID == "" {
		return nil, domain.Validation("generation_id is required")
	}
	if _, err := uuid.Parse(generationID); err != nil {
		return nil, domain.ErrNotFound
	}
	gen, err := s.repo.Get(ctx, generationID)
	if err != nil {
		return nil, storageError("load generation", err)
	}
	if gen.OwnerID != ownerID {
		return nil, domain.ErrPermission
	}
	return gen, nil
}

func buildVisuals(prompts, types []string) ([]domain.Visual, error) {
	if len(prompts) == 0 {
		return nil, domain.Validation("prompts must not be empty")
	}
	if len(prompts) > maxPrompts {
		return nil, domain.Validation("at most %d prompts are allowed", maxPrompts)
	}
	if len(types) > 0 && len(types) != len(prompts) {
		return nil, domain.Validation("visual_types has %d entries, prompts has %d", len(types), len(prompts))
	}
	visuals := make([]domain.Visual, len(prompts))
	for i, prompt := range prompts {
		prompt = strings.TrimSpace(prompt)
		if prompt == "" {
			return nil, domain.Validation("prompt %d is blank", i)
		}
		visualType := fmt.Sprintf("shot-%d", i+1)
		if len(types) > 0 {
			if t := strings.TrimSpace(types[i]); t != "" {
				visualType = t
			}
		}
		visuals[i] = domain.Visual{Index: i, Type: visualType, Prompt: prompt, Status: domain.StatusPending}
	}
	return visuals, nil
}

// storageError passes domain sentinels through and marks everything else as
// an infrastructure failure.
func storageError(op string, err error) error {
	for _, sentinel := range []error{domain.ErrNotFound, domain.ErrConflict, domain.ErrValidation} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return domain.Infrastructure(op, err)
}
