package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://a.test , ,http://b.test")
	t.Setenv("WS_PONG_WAIT", "20s")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.APIAddr != ":9000" {
		t.Errorf("APIAddr = %q", c.APIAddr)
	}
	if !slices.Equal(c.AllowedOrigin, []string{"http://a.test", "http://b.test"}) {
		t.Errorf("AllowedOrigin = %v", c.AllowedOrigin)
	}
	if c.PongWait != 20*time.Second || c.PingPeriod() != 18*time.Second {
		t.Errorf("PongWait = %v, PingPeriod = %v", c.PongWait, c.PingPeriod())
	}
	if c.SendBuffer != defaultSendBuffer {
		t.Errorf("invalid int should fall back, got %d", c.SendBuffer)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadFile(""); err == nil {
		t.Fatal("expected an error without JWT_SECRET")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "educast.yaml")
	body := []byte(`
api_addr: ":7000"
jwt_secret: from-file
redis_addr: "redis:6379"
chat_history_limit: 50
pong_wait: 30s
ice_servers:
  - stun:stun.example.org:3478
log_format: json
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("JWT_SECRET", "")
	t.Setenv("API_ADDR", "")
	t.Setenv("PORT", "")
	t.Setenv("REDIS_ADDR", "override:6379")

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.APIAddr != ":7000" || c.JWTSecret != "from-file" {
		t.Errorf("file values not applied: %+v", c)
	}
	if c.RedisAddr != "override:6379" {
		t.Errorf("env should override file, RedisAddr = %q", c.RedisAddr)
	}
	if c.ChatHistoryLimit != 50 || c.PongWait != 30*time.Second {
		t.Errorf("ChatHistoryLimit = %d, PongWait = %v", c.ChatHistoryLimit, c.PongWait)
	}
	if !slices.Equal(c.ICEServers, []string{"stun:stun.example.org:3478"}) {
		t.Errorf("ICEServers = %v", c.ICEServers)
	}
	if c.LogFormat != "json" {
		t.Errorf("LogFormat = %q", c.LogFormat)
	}
}

func TestPortFallback(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("API_ADDR", "")
	t.Setenv("PORT", "5050")
	c, err := LoadFile("")
	if err != nil {
		t.Fatal(err)
	}
	if c.APIAddr != ":5050" {
		t.Fatalf("APIAddr = %q, want :5050", c.APIAddr)
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (Config{LogLevel: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
