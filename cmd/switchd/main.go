package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callswitch/internal/auth"
	"callswitch/internal/bridge"
	"callswitch/internal/cdr"
	"callswitch/internal/config"
	"callswitch/internal/gateway"
	"callswitch/internal/session"
	"callswitch/internal/signaling"
	"callswitch/internal/transport"
	"callswitch/pkg/logger"
	"callswitch/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	registry := session.NewRegistry(cfg.Switch.RegistryRetention)
	cdrService := cdr.NewService(
		cdr.NewPostgresStore(db),
		cdr.NewRedisPublisher(rdb, cfg.Switch.CDRChannel),
		log,
	)

	// The attendant pipeline is an external collaborator; until its
	// client is configured the switch runs signaling-only and calls
	// degrade gracefully to no media.
	var pipeline bridge.SpeechPipeline

	hub := gateway.NewHub(authManager, registry, noopHITL{}, cfg.Switch.MaxSubscriptions, log)

	dispatcher := signaling.NewDispatcher(signaling.Config{
		Registry: registry,
		Pipeline: pipeline,
		Broadcaster: signaling.MultiBroadcaster{
			hub,
			signaling.NewRedisMirror(rdb, cfg.Switch.EventChannel, log),
		},
		CDR:              cdrService,
		Redis:            rdb,
		ExtensionCallCap: cfg.Switch.ExtensionCallCap,
		Logger:           log,
	})
	dispatcher.SetWriterFactory(func(callID string) (bridge.PacketWriter, error) {
		port, err := transport.NewUDPMediaPort(callID, log)
		if err != nil {
			return nil, err
		}
		port.Start(rootCtx, dispatcher.HandleMedia)
		return port, nil
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, registerDeps{
		auth:       authManager,
		registry:   registry,
		dispatcher: dispatcher,
		hub:        hub,
		db:         db,
		rdb:        rdb,
		log:        log,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("switch listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// noopHITL stands in until the attendant pipeline client is wired.
type noopHITL struct{}

func (noopHITL) SubmitResponse(_ context.Context, _ string, _ gateway.HITLResponse) error {
	return errors.New("attendant pipeline not configured")
}
