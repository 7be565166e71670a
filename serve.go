package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/hijab-blur/internal/auth"
	"github.com/example/hijab-blur/internal/config"
	"github.com/example/hijab-blur/internal/grpcserver"
	"github.com/example/hijab-blur/internal/handlers"
	"github.com/example/hijab-blur/internal/usecase"
	"github.com/example/hijab-blur/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg, logger)
	},
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	layout := newLayout(cfg)
	pipe, err := newPipeline(cfg, layout, logger)
	if err != nil {
		return err
	}

	store, closeStore, err := initTaskStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	repo, closeDB, err := initAuditLog(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDB()
	var audit usecase.AuditRepository
	if repo != nil {
		audit = repo
	}

	pool := worker.NewPool(worker.Config{Workers: cfg.Pipeline.Workers, QueueSize: cfg.Pipeline.QueueSize}, logger)
	pool.Start()

	uc := usecase.NewTaskUseCase(store, pool, pipe, layout, audit, usecase.Options{
		Retention:        cfg.Tasks.Retention,
		EvictOnRetrieval: cfg.Tasks.EvictOnRetrieval,
	}, logger)

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go uc.RunSweeper(sweepCtx, cfg.Tasks.SweepInterval)

	var health *grpcserver.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return err
		}
		health = grpcserver.New(logger)
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("gRPC server failed", zap.Error(err))
			}
		}()
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newRouter(uc, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("hijab blur API listening", zap.String("addr", cfg.Server.Addr))
	serveErr := serveHTTPServer(server, cfg.Server.ShutdownTimeout, logger)

	stopSweeper()
	if health != nil {
		health.SetServing(false)
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := pool.Stop(drainCtx); err != nil {
		logger.Warn("worker pool did not drain in time", zap.Error(err))
	}
	if health != nil {
		health.Stop(drainCtx)
	}
	return serveErr
}

func newRouter(uc handlers.TaskService, cfg *config.Config, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(logger))
	r.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	authCfg := auth.Config{Secret: cfg.Auth.JWTSecret, Audience: cfg.Auth.JWTAudience}
	if authCfg.Enabled() {
		logger.Info("JWT authentication enabled")
	}

	handlers.RegisterRoutes(r, uc, handlers.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
		Middleware:     []gin.HandlerFunc{auth.Middleware(authCfg)},
	})
	return r
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
