package ai

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Settings is the effective provider configuration for one call.
type Settings struct {
	APIKey      string
	BaseURL     string
	TextModel   string
	VisionModel string
}

// SettingsSource resolves Settings per call so admin edits apply without a restart.
type SettingsSource interface {
	Provider(ctx context.Context) Settings
}

type ProviderFactory func(ctx context.Context, s Settings) (Provider, error)

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

func (r *Registry) Get(ctx context.Context, name string, s Settings) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown ai provider: %s", name)
	}
	return f(ctx, s)
}
