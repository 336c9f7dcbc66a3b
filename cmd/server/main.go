package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"caseline-sync/internal/api"
	"caseline-sync/internal/config"
	"caseline-sync/internal/database"
	"caseline-sync/internal/domain"
	"caseline-sync/internal/logger"
	"caseline-sync/internal/store"
	syncengine "caseline-sync/internal/sync"
	"caseline-sync/internal/transport"
)

func main() {
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.InitLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File); err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Log.Info("Starting caseline sync service")

	db, err := database.NewDatabase(cfg.Storage)
	if err != nil {
		logger.Log.Fatal("Failed to open local database", zap.Error(err))
	}
	defer db.Close()

	queue, err := store.NewSQLiteStore(db)
	if err != nil {
		logger.Log.Fatal("Failed to init sync queue store", zap.Error(err))
	}

	repo, err := domain.NewSQLiteRepository(db)
	if err != nil {
		logger.Log.Fatal("Failed to init domain repository", zap.Error(err))
	}

	remote := transport.NewHTTPClient(cfg.Remote)
	engine := syncengine.NewEngine(cfg.Sync, queue, repo, remote, remote)

	scheduler := syncengine.NewScheduler(cfg.Scheduler, engine)
	scheduler.Start()

	handler := api.NewHandler(engine, queue, cfg.Server)
	router := handler.Routes()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	go func() {
		logger.Log.Info("Server listening", zap.String("addr", serverAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down...")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server shutdown error", zap.Error(err))
	}
}
