package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/song-pt/TongAI/internal/admin"
	"github.com/song-pt/TongAI/internal/ai"
	"github.com/song-pt/TongAI/internal/chat"
	"github.com/song-pt/TongAI/internal/config"
	"github.com/song-pt/TongAI/internal/db"
	"github.com/song-pt/TongAI/internal/gate"
	"github.com/song-pt/TongAI/internal/httpapi"
	"github.com/song-pt/TongAI/internal/httpapi/middleware"
	"github.com/song-pt/TongAI/internal/metrics"
	"github.com/song-pt/TongAI/internal/settings"
	"github.com/song-pt/TongAI/internal/store"
	"github.com/song-pt/TongAI/internal/store/rabbitmq"
	"github.com/song-pt/TongAI/internal/store/redisstore"
	"github.com/song-pt/TongAI/internal/usage"
)

type usageQueue interface {
	usage.Queue
	Close()
}

type rabbitQueue struct{ *rabbitmq.Publisher }

func (q rabbitQueue) Close() {
	if err := q.Publisher.Close(); err != nil {
		log.Printf("rabbit close err=%v", err)
	}
}

func newUsageQueue(cfg config.Config, applier *usage.Applier) usageQueue {
	if cfg.UsageQueue == "rabbitmq" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		log.Printf("usage queue=rabbitmq queue=%s", cfg.RabbitQueue)
		return rabbitQueue{pub}
	}
	log.Printf("usage queue=local workers=%d", cfg.UsageWorkers)
	return usage.NewLocalQueue(applier, cfg.UsageWorkers, 0)
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := store.AutoMigrate(gdb); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	repo := store.NewRepo(gdb)

	// redis is optional: config cache and rate limiting switch off without it
	var (
		cache   settings.Cache
		limiter middleware.Limiter
		rdb     *redisstore.Store
	)
	if cfg.RedisAddr != "" {
		rdb = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Printf("redis unavailable addr=%s err=%v, continuing without cache and rate limit", cfg.RedisAddr, err)
			_ = rdb.Close()
			rdb = nil
		} else {
			cache, limiter = rdb, rdb
		}
	}

	m := metrics.NewRegistry()

	resolver := settings.NewResolver(repo, cache, time.Duration(cfg.ConfigCacheTTLSecs)*time.Second, ai.Settings{
		APIKey:      cfg.SiliconFlowAPIKey,
		BaseURL:     cfg.SiliconFlowBaseURL,
		TextModel:   cfg.TextModel,
		VisionModel: cfg.VisionModel,
	})

	reg := ai.NewRegistry()
	reg.Register("siliconflow", func(ctx context.Context, s ai.Settings) (ai.Provider, error) {
		return ai.NewOpenAICompatProvider("siliconflow", s.BaseURL, s.APIKey), nil
	})
	reg.Register("ollama", func(ctx context.Context, s ai.Settings) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, cfg.OllamaModel), nil
	})
	dispatcher := ai.NewDispatcher(reg, cfg.AIProvider, resolver, m)

	queue := newUsageQueue(cfg, usage.NewApplier(repo, m))
	recorder := usage.NewRecorder(queue, m)

	r := httpapi.NewRouter(httpapi.Deps{
		Cfg:      cfg,
		Repo:     repo,
		Settings: resolver,
		Gate:     gate.New(repo),
		Chat:     chat.NewService(repo, dispatcher, resolver, recorder),
		Admin:    admin.NewService(repo, resolver, cfg.AdminPassword, cfg.JWTSecret),
		Metrics:  m,
		Limiter:  limiter,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server started addr=%s provider=%s", cfg.HTTPAddr, cfg.AIProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown err=%v", err)
	}

	// pending usage is applied before exit
	queue.Close()
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Printf("server stopped")
}
