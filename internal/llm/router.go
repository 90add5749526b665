// Package llm routes classifier completions to the provider that serves each model,
// so a single fallback chain can mix Gemini and Claude models.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/linnemanlabs/floodvoice/internal/checkin"
)

// Router implements checkin.Provider by dispatching on the model name prefix.
type Router struct {
	routes   []route
	fallback checkin.Provider
}

type route struct {
	prefix   string
	provider checkin.Provider
}

// NewRouter returns an empty router. Requests for models that match no route go to fallback (may be nil).
func NewRouter(fallback checkin.Provider) *Router {
	return &Router{fallback: fallback}
}

// Handle sends models starting with prefix to p. Longer prefixes win.
func (r *Router) Handle(prefix string, p checkin.Provider) *Router {
	r.routes = append(r.routes, route{prefix: strings.ToLower(prefix), provider: p})
	sort.SliceStable(r.routes, func(i, j int) bool { return len(r.routes[i].prefix) > len(r.routes[j].prefix) })
	return r
}

// Complete implements checkin.Provider.
func (r *Router) Complete(ctx context.Context, req *checkin.CompletionRequest) (*checkin.CompletionResponse, error) {
	p := r.providerFor(req.Model)
	if p == nil {
		return nil, fmt.Errorf("no provider configured for model %q", req.Model)
	}
	return p.Complete(ctx, req)
}

func (r *Router) providerFor(model string) checkin.Provider {
	m := strings.ToLower(model)
	for _, rt := range r.routes {
		if strings.HasPrefix(m, rt.prefix) {
			return rt.provider
		}
	}
	return r.fallback
}
