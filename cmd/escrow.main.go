package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"escrow-service/internal/config"
	"escrow-service/internal/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Escrow: No .env file found, relying on system env vars")
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg := config.Load()
	srv, err := server.New(cfg, sugar)
	if err != nil {
		sugar.Fatalf("failed to build server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		sugar.Infof("Escrow service starting on %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		sugar.Info("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	case err := <-errCh:
		sugar.Fatal(err)
	}
}
