package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"chat-backend/internal/auth"
	"chat-backend/internal/chat"
	"chat-backend/internal/realtime"
	"chat-backend/internal/server"
	"chat-backend/internal/storage"
	"chat-backend/internal/storage/memstore"
)

type config struct {
	Server        server.EnvConfig
	Storage       storage.Config
	Auth          auth.Config
	Realtime      realtime.Config
	StorageDriver string `env:"STORAGE_DRIVER" envDefault:"postgres"`
	PublishOnSend bool   `env:"PUBLISH_ON_SEND" envDefault:"true"`
}

// store is what both storage backends provide
type store interface {
	chat.Store
	auth.UserStore
	Close()
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Application is starting")

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		sugar.Fatalf("Cannot load .env file: %v", err)
	}

	cfg := config{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}

	var st store
	switch cfg.StorageDriver {
	case "postgres":
		st, err = storage.New(context.Background(), sugar, cfg.Storage,
			storage.ConnectionTimeout(30*time.Second),
			storage.MaxConns(cfg.Storage.MaxConns),
		)
		if err != nil {
			sugar.Fatalf("Cannot create Store instance: %v", err)
		}
	case "memory":
		sugar.Warn("Using in-memory storage, data is lost on exit")
		st = memstore.New(sugar)
	default:
		sugar.Fatalf("Unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	gate := auth.NewGate(sugar, st, cfg.Auth)
	hub := realtime.NewHub(sugar, cfg.Realtime)

	var chatOpts []chat.Option
	if cfg.PublishOnSend {
		chatOpts = append(chatOpts, chat.WithPublisher(hub))
	}
	chats := chat.NewService(sugar, st, chatOpts...)

	serverOpts := []server.Option{
		server.WithEnvConfig(cfg.Server),
		server.ReadHeaderTimeout(5 * time.Second),
		server.RegisterAfterShutdown(func() {
			sugar.Info("Closing store")
			st.Close()
			sugar.Info("Store is closed")
		}),
	}

	srv, err := server.NewServer(sugar, server.Deps{Gate: gate, Chats: chats, Hub: hub}, serverOpts...)
	if err != nil {
		sugar.Fatalf("Cannot create Server instance: %v", err)
	}

	if err := srv.Start(); err != nil {
		sugar.Fatalf("Cannot start http srv: %v", err)
	}
}
