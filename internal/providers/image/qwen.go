package image

import (
	"context"
	"fmt"

	"visualbatch/internal/providers/qwen"
)

type QwenGenerator struct {
	client *qwen.Client
}

func NewQwenGenerator(client *qwen.Client) *QwenGenerator {
	return &QwenGenerator{client: client}
}

func (g *QwenGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	asset, err := g.client.GenerateImage(ctx, qwen.ImageRequest{
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Resolution:  req.Resolution,
		Model:       req.ModelHint,
		RequestID:   req.RequestID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return &Result{MimeType: asset.MimeType, Data: asset.Data}, nil
}

var _ Generator = (*QwenGenerator)(nil)
