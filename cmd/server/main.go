package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"social_backend/internal/config"
	"social_backend/internal/httpserver"
	"social_backend/internal/security"
	"social_backend/internal/store/postgres"
	"social_backend/internal/store/sqlite"
	"social_backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	deps := httpserver.Deps{}

	var db *sql.DB
	switch cfg.DBDriver {
	case "postgres":
		db, err = postgres.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := postgres.Migrate(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		deps.Users = postgres.NewUserRepo(db)
		deps.Conversations = postgres.NewConversationRepo(db)
		deps.Messages = postgres.NewMessageRepo(db)
		deps.Participants = postgres.NewParticipantRepo(db)
	case "sqlite":
		db, err = sqlite.Open(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		if err := sqlite.Migrate(db); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		deps.Users = sqlite.NewUserRepo(db)
		deps.Conversations = sqlite.NewConversationRepo(db)
		deps.Messages = sqlite.NewMessageRepo(db)
		deps.Participants = sqlite.NewParticipantRepo(db)
	}
	defer db.Close()

	deps.Tokens = security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	deps.Hasher = security.NewPasswordHasher(0)

	deps.Hub = ws.NewHub()
	deps.Calls = ws.NewCallRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The hub alone covers a single process; with Redis configured, room
	// broadcasts route through pub/sub so rooms span processes.
	deps.Relay = deps.Hub
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		fabric := ws.NewRedisFabric(rdb, deps.Hub)
		deps.Relay = fabric
		go func() {
			if err := fabric.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("redis fabric stopped: %v", err)
			}
		}()
	}

	router := httpserver.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting %s on %s", cfg.AppName, cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
