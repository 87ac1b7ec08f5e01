package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/valkey-io/valkey-go"
	"golang.org/x/sync/errgroup"

	"chat-server/internal/auth"
	"chat-server/internal/backfill"
	"chat-server/internal/chat"
	"chat-server/internal/config"
	"chat-server/internal/database"
	"chat-server/internal/game"
	"chat-server/internal/handlers"
	"chat-server/internal/llm"
	"chat-server/internal/membership"
	"chat-server/internal/relay"
	"chat-server/internal/services"
	"chat-server/internal/websocket"
	"chat-server/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config_load_failed", "err", err)
	}

	log, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		logger.Fatal("logger_init_failed", "err", err)
	}

	if err := run(context.Background(), cfg, log); err != nil {
		logger.Fatal("server_failed", "err", err)
	}
	log.Info("server_stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgresDB(signalCtx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := db.EnsureSchema(signalCtx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	log.Info("database_connected")

	valkeyClient, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{cfg.Valkey.Addr},
		Password:    cfg.Valkey.Password,
		SelectDB:    cfg.Valkey.DB,
	})
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer valkeyClient.Close()
	log.Info("valkey_connected", "addr", cfg.Valkey.Addr)

	authService := auth.NewService(db, auth.NewSessionStore(valkeyClient, cfg.Valkey.SessionTTL), cfg.JWT)
	roomService := services.NewRoomService(db)

	g, gctx := errgroup.WithContext(signalCtx)

	hubs := websocket.NewManager(cfg.Chat.HubIdleTimeout, log)
	registry := websocket.NewRegistry(authService, cfg.Chat.DuplicateLoginGrace, log)
	members := membership.NewTracker()
	history := backfill.NewEngine(db, backfill.Options{
		BatchSize:      cfg.Chat.BatchSize,
		LoadTimeout:    cfg.Chat.LoadTimeout,
		MaxRetries:     cfg.Chat.MaxRetries,
		RetryBaseDelay: cfg.Chat.RetryBaseDelay,
		RetryMaxDelay:  cfg.Chat.RetryMaxDelay,
		Cooldown:       cfg.Chat.LoadCooldown,
	}, log)
	games := game.NewEngine(members, game.WithLogger(log))
	streams := relay.New(llm.NewGemini(cfg.Gemini, log), games, db, hubs, registry, log)
	orchestrator := chat.New(chat.Deps{
		Store:    db,
		Sessions: authService,
		Hubs:     hubs,
		Registry: registry,
		Members:  members,
		Backfill: history,
		Games:    games,
		Relay:    streams,
	}, cfg.Chat.BatchSize, log)

	router := handlers.NewRouter(handlers.RouterDeps{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Authenticator:  authService,
		Auth:           handlers.NewAuthHandlers(authService, log),
		Rooms:          handlers.NewRoomHandlers(roomService, log),
		WebSocket: handlers.NewWebSocketHandlers(gctx, registry, orchestrator, handlers.WebSocketOptions{
			AllowedOrigins:  cfg.Server.AllowedOrigins,
			EventsPerSecond: cfg.Chat.EventsPerSecond,
			EventBurst:      cfg.Chat.EventBurst,
		}, log),
		Health: func() gin.H {
			return gin.H{
				"connections": registry.Count(),
				"rooms":       hubs.HubCount(),
				"members":     members.Count(),
			}
		},
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		hubs.Run(gctx)
		return nil
	})

	g.Go(func() error {
		log.Info("server_start", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("server_shutting_down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		err := server.Shutdown(shutdownCtx)

		// Hijacked sockets are not tracked by the http server.
		registry.CloseAll(websocket.ReasonServerShutdown)
		orchestrator.Wait()
		if err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
