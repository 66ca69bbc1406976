package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OTK_BATCH", "")
	t.Setenv("SPK_TTL", "")
	cfg := Load()
	if cfg.OneTimePreKeyBatch != 100 || cfg.OneTimePreKeyLowWater != 20 {
		t.Fatalf("unexpected prekey defaults: %d / %d", cfg.OneTimePreKeyBatch, cfg.OneTimePreKeyLowWater)
	}
	if cfg.SignedPreKeyTTL != 14*24*time.Hour {
		t.Fatalf("unexpected signed prekey ttl %v", cfg.SignedPreKeyTTL)
	}
}

func TestLoadFallsBackOnBadValues(t *testing.T) {
	t.Setenv("OTK_BATCH", "many")
	t.Setenv("OTK_LOW_WATER", "500")
	t.Setenv("SPK_TTL", "-1h")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("LOG_LEVEL", "chatty")
	cfg := Load()
	if cfg.OneTimePreKeyBatch != 100 {
		t.Fatalf("bad int should fall back, got %d", cfg.OneTimePreKeyBatch)
	}
	if cfg.OneTimePreKeyLowWater != 20 {
		t.Fatalf("low water above batch should reset, got %d", cfg.OneTimePreKeyLowWater)
	}
	if cfg.SignedPreKeyTTL != 14*24*time.Hour {
		t.Fatalf("negative duration should fall back, got %v", cfg.SignedPreKeyTTL)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("unknown log level should fall back to info, got %q", cfg.LogLevel)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %q", cfg.CORSOrigins)
	}
}
