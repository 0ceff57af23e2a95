package settings

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/song-pt/TongAI/internal/ai"
	"github.com/song-pt/TongAI/internal/prompt"
	"github.com/song-pt/TongAI/internal/store"
)

const DefaultAppTitle = "TongAI"

type Backend interface {
	GetConfigValue(ctx context.Context, key string) (string, bool, error)
	UpdateConfigValue(ctx context.Context, key, value string) error
}

// Cache is an optional read-through layer in front of Backend. Any Get error is treated as a miss.
type Cache interface {
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string, ttl time.Duration) error
	DeleteConfig(ctx context.Context, key string) error
}

type App struct {
	Title     string      `json:"title"`
	Logo      string      `json:"logo"`
	Mode      prompt.Mode `json:"mode"`
	ShowUsage bool        `json:"show_usage"`
}

type Resolver struct {
	backend  Backend
	cache    Cache
	ttl      time.Duration
	defaults ai.Settings
}

// NewResolver builds a resolver; cache may be nil.
func NewResolver(backend Backend, cache Cache, ttl time.Duration, defaults ai.Settings) *Resolver {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Resolver{backend: backend, cache: cache, ttl: ttl, defaults: defaults}
}

// Get returns the raw stored value ("" when unset).
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	if r.cache != nil {
		if v, err := r.cache.GetConfig(ctx, key); err == nil {
			return v, nil
		}
	}
	v, _, err := r.backend.GetConfigValue(ctx, key)
	if err != nil {
		return "", err
	}
	if r.cache != nil {
		if err := r.cache.SetConfig(ctx, key, v, r.ttl); err != nil {
			log.Printf("settings cache set key=%s err=%v", key, err)
		}
	}
	return v, nil
}

func (r *Resolver) Set(ctx context.Context, key, value string) error {
	if err := r.backend.UpdateConfigValue(ctx, key, value); err != nil {
		return err
	}
	if r.cache != nil {
		if err := r.cache.DeleteConfig(ctx, key); err != nil {
			log.Printf("settings cache invalidate key=%s err=%v", key, err)
		}
	}
	return nil
}

// valueOr returns the stored value when non-empty, else def. Store errors fall back to def.
func (r *Resolver) valueOr(ctx context.Context, key, def string) string {
	v, err := r.Get(ctx, key)
	if err != nil {
		log.Printf("settings read failed key=%s, using default: %v", key, err)
		return def
	}
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

// Provider resolves the effective AI provider settings; it satisfies ai.SettingsSource.
func (r *Resolver) Provider(ctx context.Context) ai.Settings {
	return ai.Settings{
		APIKey:      r.valueOr(ctx, store.ConfigAIAPIKey, r.defaults.APIKey),
		BaseURL:     r.valueOr(ctx, store.ConfigAIBaseURL, r.defaults.BaseURL),
		TextModel:   r.valueOr(ctx, store.ConfigAITextModel, r.defaults.TextModel),
		VisionModel: r.valueOr(ctx, store.ConfigAIVisionModel, r.defaults.VisionModel),
	}
}

func (r *Resolver) AIMode(ctx context.Context) prompt.Mode {
	return prompt.ParseMode(r.valueOr(ctx, store.ConfigAIMode, string(prompt.ModeSolver)))
}

// FollowUpLimit is the follow-up context window, clamped to [1, 20]; unset or invalid means 5.
func (r *Resolver) FollowUpLimit(ctx context.Context) int {
	n, err := strconv.Atoi(r.valueOr(ctx, store.ConfigFollowUpContext, ""))
	if err != nil {
		return prompt.DefaultContextLimit
	}
	return prompt.ClampContextLimit(n)
}

func (r *Resolver) ShowUsage(ctx context.Context) bool {
	b, err := strconv.ParseBool(r.valueOr(ctx, store.ConfigShowUsage, "false"))
	return err == nil && b
}

func (r *Resolver) App(ctx context.Context) App {
	return App{
		Title:     r.valueOr(ctx, store.ConfigAppTitle, DefaultAppTitle),
		Logo:      r.valueOr(ctx, store.ConfigAppLogo, ""),
		Mode:      r.AIMode(ctx),
		ShowUsage: r.ShowUsage(ctx),
	}
}
