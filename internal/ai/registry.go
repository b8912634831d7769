package ai

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderFactory builds a provider. An empty model keeps the configured one.
type ProviderFactory func(ctx context.Context, model string) (Provider, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ProviderFactory)}
}

func (r *Registry) Register(name string, f ProviderFactory) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, model)
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry registers the OpenAI and GitHub Models providers built from
// the given settings.
func DefaultRegistry(oa OpenAISettings, gh GitHubModelsSettings) *Registry {
	reg := NewRegistry()
	reg.Register("openai", func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		s := oa
		if m := strings.TrimSpace(model); m != "" {
			s.Model = m
		}
		return NewOpenAIProvider(s)
	})
	reg.Register("githubmodels", func(ctx context.Context, model string) (Provider, error) {
		_ = ctx
		s := gh
		if m := strings.TrimSpace(model); m != "" {
			s.Model = m
		}
		return NewGitHubModelsProvider(s)
	})
	return reg
}
