package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Chat.BatchSize != 30 {
		t.Errorf("expected batch size 30, got %d", cfg.Chat.BatchSize)
	}
	if cfg.Chat.MaxRetries != 3 {
		t.Errorf("expected 3 retries, got %d", cfg.Chat.MaxRetries)
	}
	if cfg.Chat.LoadTimeout != 10*time.Second {
		t.Errorf("expected 10s load timeout, got %s", cfg.Chat.LoadTimeout)
	}
	if cfg.Chat.DuplicateLoginGrace != 10*time.Second {
		t.Errorf("expected 10s grace, got %s", cfg.Chat.DuplicateLoginGrace)
	}
	if cfg.Chat.LoadCooldown != 300*time.Millisecond {
		t.Errorf("expected 300ms cooldown, got %s", cfg.Chat.LoadCooldown)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"CHAT_BATCH_SIZE", "thirty"},
		{"CHAT_LOAD_TIMEOUT", "10 seconds"},
		{"LOG_COMPRESS", "maybe"},
		{"CHAT_BATCH_SIZE", "0"},
		{"CHAT_RETRY_MAX_DELAY", "1ms"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "test-secret")
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
		})
	}
}

func TestStringListFromEnv(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	got := StringListFromEnv("ALLOWED_ORIGINS", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected list: %v", got)
	}
}
