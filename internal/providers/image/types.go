package image

import (
	"context"

	"visualbatch/internal/domain"
)

// ErrProvider marks a failed generation call. Such failures belong to a single
// visual and never abort the job.
var ErrProvider = domain.ErrProviderFailure

// Request describes one image to generate.
type Request struct {
	Prompt      string
	AspectRatio string
	Resolution  string
	ModelHint   string
	RequestID   string
}

// Result carries the generated bytes.
type Result struct {
	MimeType string
	Data     []byte
}

// Generator is the contract implemented by all image providers.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// GeneratorFunc adapts a function into a Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
