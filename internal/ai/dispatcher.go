package ai

import (
	"context"
	"errors"
	"time"
)

// Temperature is fixed for every call.
const Temperature = 0.7

// Observer receives one sample per provider call; metrics.Registry implements it.
type Observer interface {
	ObserveProviderCall(provider, model, outcome string, d time.Duration)
}

type Dispatcher struct {
	registry *Registry
	provider string
	settings SettingsSource
	observer Observer
}

// NewDispatcher routes every call to the named provider of registry. observer may be nil.
func NewDispatcher(registry *Registry, provider string, settings SettingsSource, observer Observer) *Dispatcher {
	if provider == "" {
		provider = "siliconflow"
	}
	return &Dispatcher{registry: registry, provider: provider, settings: settings, observer: observer}
}

// BuildRequest selects the vision model when an image is attached, the text model otherwise.
// Web search is only attached to text-only calls.
func BuildRequest(s Settings, messages []Message, hasImage, useSearch bool) ChatRequest {
	req := ChatRequest{
		Model:       s.TextModel,
		Messages:    messages,
		Temperature: Temperature,
	}
	if hasImage {
		req.Model = s.VisionModel
	}
	if useSearch && !hasImage {
		req.Tools = []Tool{WebSearchTool}
	}
	return req
}

// Dispatch issues one synchronous call. Failures are returned as-is; there is no retry.
func (d *Dispatcher) Dispatch(ctx context.Context, messages []Message, hasImage, useSearch bool) (*ChatResult, error) {
	s := d.settings.Provider(ctx)
	p, err := d.registry.Get(ctx, d.provider, s)
	if err != nil {
		return nil, err
	}

	req := BuildRequest(s, messages, hasImage, useSearch)
	start := time.Now()
	res, err := p.Chat(ctx, req)
	if d.observer != nil {
		d.observer.ObserveProviderCall(d.provider, req.Model, outcome(err), time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func outcome(err error) string {
	var pe *ProviderError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &pe):
		return "provider_error"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	default:
		return "transport_error"
	}
}
