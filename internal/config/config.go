// Package config loads the server settings.
//
// Values come from defaults, then an optional YAML file, then environment
// variables, each layer overriding the previous one.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultAPIAddr          = ":5000"
	defaultRedisAddr        = "localhost:6379"
	defaultSendBuffer       = 256
	defaultMaxMessageSize   = 64 * 1024 // enough for a non-trickle SDP
	defaultPongWait         = 60 * time.Second
	defaultWriteWait        = 10 * time.Second
	defaultChatHistoryLimit = 500
	defaultShutdownTimeout  = 30 * time.Second
)

// FileEnv names the environment variable pointing at the YAML config file.
const FileEnv = "EDUCAST_CONFIG"

var defaultAllowedOrigins = []string{
	"http://localhost:5173",
}

var defaultICEServers = []string{
	"stun:stun.l.google.com:19302",
}

// Config holds every server setting.
type Config struct {
	APIAddr          string        `yaml:"api_addr"`
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPassword    string        `yaml:"redis_password"`
	RedisDB          int           `yaml:"redis_db"`
	JWTSecret        string        `yaml:"jwt_secret"`
	AllowedOrigin    []string      `yaml:"allowed_origins"`
	SendBuffer       int           `yaml:"send_buffer"`      // per-connection outbound queue length
	MaxMessageSize   int64         `yaml:"max_message_size"` // bytes per inbound frame
	PongWait         time.Duration `yaml:"pong_wait"`
	WriteWait        time.Duration `yaml:"write_wait"`
	ChatHistoryLimit int           `yaml:"chat_history_limit"` // classroom messages kept per classroom
	ICEServers       []string      `yaml:"ice_servers"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"` // text or json
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		APIAddr:          defaultAPIAddr,
		RedisAddr:        defaultRedisAddr,
		AllowedOrigin:    append([]string(nil), defaultAllowedOrigins...),
		SendBuffer:       defaultSendBuffer,
		MaxMessageSize:   defaultMaxMessageSize,
		PongWait:         defaultPongWait,
		WriteWait:        defaultWriteWait,
		ChatHistoryLimit: defaultChatHistoryLimit,
		ICEServers:       append([]string(nil), defaultICEServers...),
		LogLevel:         "info",
		LogFormat:        "text",
		ShutdownTimeout:  defaultShutdownTimeout,
	}
}

// Load reads the environment on top of the defaults, and the file named by
// EDUCAST_CONFIG when set.
func Load() (Config, error) {
	return LoadFile(os.Getenv(FileEnv))
}

// LoadFile reads path (skipped when empty) and then the environment.
func LoadFile(path string) (Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.APIAddr = envOr("API_ADDR", c.APIAddr)
	if port := os.Getenv("PORT"); port != "" && os.Getenv("API_ADDR") == "" {
		c.APIAddr = ":" + port
	}
	c.RedisAddr = envOr("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = envOr("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = envInt("REDIS_DB", c.RedisDB)
	c.JWTSecret = envOr("JWT_SECRET", c.JWTSecret)
	c.AllowedOrigin = envCSV("CORS_ALLOWED_ORIGINS", c.AllowedOrigin)
	if front := os.Getenv("FRONTEND_URL"); front != "" && os.Getenv("CORS_ALLOWED_ORIGINS") == "" {
		c.AllowedOrigin = []string{front}
	}
	c.SendBuffer = envInt("WS_SEND_BUFFER", c.SendBuffer)
	c.MaxMessageSize = int64(envInt("WS_MAX_MESSAGE_SIZE", int(c.MaxMessageSize)))
	c.PongWait = envDuration("WS_PONG_WAIT", c.PongWait)
	c.WriteWait = envDuration("WS_WRITE_WAIT", c.WriteWait)
	c.ChatHistoryLimit = envInt("CHAT_HISTORY_LIMIT", c.ChatHistoryLimit)
	c.ICEServers = envCSV("ICE_SERVERS", c.ICEServers)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.ShutdownTimeout = envDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("config: send buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PongWait <= 0 || c.WriteWait <= 0 {
		return fmt.Errorf("config: websocket timeouts must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: log format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// PingPeriod is how often the server pings a client. It must stay below PongWait.
func (c Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			slog.Warn("invalid integer setting, using default", "key", key, "value", v, "default", def)
			return def
		}
		return i
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			slog.Warn("invalid duration setting, using default", "key", key, "value", v, "default", def)
			return def
		}
		return d
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
