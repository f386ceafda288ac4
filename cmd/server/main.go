package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loksaikotini/EduCast/internal/auth"
	"github.com/loksaikotini/EduCast/internal/config"
	"github.com/loksaikotini/EduCast/internal/handlers"
	httpx "github.com/loksaikotini/EduCast/internal/http"
	"github.com/loksaikotini/EduCast/internal/registry"
	"github.com/loksaikotini/EduCast/internal/repo"
	"github.com/loksaikotini/EduCast/internal/service"
	"github.com/redis/go-redis/v9"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "educast: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		addr       string
	)
	flag.StringVar(&configPath, "config", os.Getenv(config.FileEnv), "path to a YAML config file")
	flag.StringVar(&addr, "addr", "", "listen address, overrides the config")
	flag.Parse()

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if addr != "" {
		cfg.APIAddr = addr
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	conns := service.NewConns()
	meetings := service.NewMeetingService(registry.New(), conns, logger.With("component", "meetings"))
	chats := service.NewClassroomChatService(
		repo.NewRedisClassroomRepo(rdb, cfg.ChatHistoryLimit),
		conns,
		logger.With("component", "classroom-chat"),
	)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	router := httpx.NewRouter(httpx.Handlers{
		Meetings:   handlers.NewMeetingHandler(meetings, cfg.ICEServers, logger),
		Classrooms: handlers.NewClassroomHandler(chats, cfg.ChatHistoryLimit, logger),
		Sockets: handlers.NewWebSocketHandler(meetings, chats, verifier, handlers.Options{
			SendBuffer:     cfg.SendBuffer,
			MaxMessageSize: cfg.MaxMessageSize,
			PongWait:       cfg.PongWait,
			WriteWait:      cfg.WriteWait,
			AllowedOrigins: cfg.AllowedOrigin,
		}, logger.With("component", "sockets")),
		Verifier: verifier,
	}, cfg.AllowedOrigin)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		// hijacked sockets are not tracked by Shutdown; they close with the process
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	stats, live := meetings.Stats()
	logger.Info("server stopped", "rooms", stats.Rooms, "connections", live)
	return nil
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h).With("service", "educast")
}
