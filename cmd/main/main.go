package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/beegy-labs/authorization-service/config"
	"github.com/beegy-labs/authorization-service/pkg/db"
	"github.com/beegy-labs/authorization-service/pkg/engine"
	"github.com/beegy-labs/authorization-service/pkg/handler"
	"github.com/beegy-labs/authorization-service/pkg/logger"
	"github.com/beegy-labs/authorization-service/pkg/middleware"
	"github.com/beegy-labs/authorization-service/pkg/repository"
	"github.com/beegy-labs/authorization-service/pkg/service"
)

func main() {
	if err := config.Init(config.ParseConfigFlag()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, _ := logger.GetZapLogger(ctx)
	defer func() {
		// can't handle the error due to https://github.com/uber-go/zap/issues/880
		_ = log.Sync()
	}()

	gormDB := db.GetConnection()
	defer db.Close(gormDB)

	redisClient := redis.NewClient(&config.Config.Cache.Redis.RedisOptions)
	defer redisClient.Close()

	repo := repository.NewRepository(gormDB, redisClient)
	svc := service.NewService(repo, redisClient, engine.Options{
		MaxDepth:         config.Config.Engine.MaxDepth,
		EvalConcurrency:  config.Config.Engine.EvalConcurrency,
		BatchConcurrency: config.Config.Engine.BatchConcurrency,
		MaxBatchSize:     config.Config.Engine.MaxBatchSize,
		MaxListResults:   config.Config.Engine.MaxListResults,
	})

	ping := func(ctx context.Context) error {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	router := middleware.NewRouter(log, middleware.Options{
		Debug:          config.Config.Server.Debug,
		AllowOrigins:   config.Config.Server.CORS.AllowOrigins,
		RequestTimeout: config.Config.Server.RequestTimeout,
	})
	handler.NewPublicHandler(svc, config.Config.Server.DefaultModelID, ping).AddRoutes(router)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%v", config.Config.Server.PublicPort),
		Handler: router,
	}

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	quitSig := make(chan os.Signal, 1)
	errSig := make(chan error)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errSig <- err
		}
	}()
	log.Info("authorization server is running.")

	// kill (no param) default send syscall.SIGTERM
	// kill -2 is syscall.SIGINT
	// kill -9 is syscall.SIGKILL but can't be catch, so don't need add it
	signal.Notify(quitSig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errSig:
		log.Error(fmt.Sprintf("Fatal error: %v\n", err))
	case <-quitSig:
		log.Info("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error(err.Error())
		}
	}
}
