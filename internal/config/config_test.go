package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DB_DSN", "USAGE_QUEUE", "USAGE_WORKERS", "CORS_ORIGINS", "AI_PROVIDER", "ADMIN_PASSWORD"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.DBDSN != "sqlite:tongai.db" {
		t.Fatalf("dsn=%q", cfg.DBDSN)
	}
	if cfg.UsageQueue != "local" || cfg.UsageWorkers != 4 {
		t.Fatalf("usage queue=%q workers=%d", cfg.UsageQueue, cfg.UsageWorkers)
	}
	if cfg.AIProvider != "siliconflow" || cfg.TextModel != DefaultTextModel || cfg.VisionModel != DefaultVisionModel {
		t.Fatalf("ai defaults: %+v", cfg)
	}
	if cfg.AdminPassword != DefaultAdminPassword {
		t.Fatalf("admin password=%q", cfg.AdminPassword)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("cors=%v", cfg.CORSOrigins)
	}
}

func TestLoad_Normalizes(t *testing.T) {
	t.Setenv("USAGE_QUEUE", "RabbitMQ")
	t.Setenv("USAGE_WORKERS", "-3")
	t.Setenv("AI_PROVIDER", " Ollama ")
	t.Setenv("CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("REDIS_DB", "not-a-number")

	cfg := Load()
	if cfg.UsageQueue != "rabbitmq" {
		t.Fatalf("usage queue=%q", cfg.UsageQueue)
	}
	if cfg.UsageWorkers != 4 {
		t.Fatalf("workers=%d", cfg.UsageWorkers)
	}
	if cfg.AIProvider != "ollama" {
		t.Fatalf("provider=%q", cfg.AIProvider)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("cors=%v", cfg.CORSOrigins)
	}
	if cfg.RedisDB != 0 {
		t.Fatalf("redis db=%d", cfg.RedisDB)
	}

	t.Setenv("USAGE_QUEUE", "kafka")
	if got := Load().UsageQueue; got != "local" {
		t.Fatalf("unknown queue kind should fall back to local, got %q", got)
	}
}
