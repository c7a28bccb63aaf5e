package image

import (
	"context"
	"strings"
)

// Router picks a provider from the model hint. A hint naming a model family
// ("gemini-...", "qwen-...") goes to that provider with the hint as the model;
// any other hint is dropped and the fallback provider uses its default model.
type Router struct {
	fallback Generator
	routes   []route
}

type route struct {
	prefix string
	gen    Generator
}

func NewRouter(fallback Generator) *Router {
	return &Router{fallback: fallback}
}

// Handle routes hints starting with prefix to gen.
func (r *Router) Handle(prefix string, gen Generator) *Router {
	r.routes = append(r.routes, route{prefix: strings.ToLower(prefix), gen: gen})
	return r
}

func (r *Router) Generate(ctx context.Context, req Request) (*Result, error) {
	hint := strings.ToLower(strings.TrimSpace(req.ModelHint))
	if hint != "" {
		for _, rt := range r.routes {
			if strings.HasPrefix(hint, rt.prefix) {
				return rt.gen.Generate(ctx, req)
			}
		}
	}
	req.ModelHint = ""
	return r.fallback.Generate(ctx, req)
}

var _ Generator = (*Router)(nil)
