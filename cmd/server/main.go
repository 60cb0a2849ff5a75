// Command server runs the consultation chat service: REST endpoints for rooms
// and history, and the WebSocket gateway for live delivery.
//
// @title                      Consult Chat API
// @version                    1.0
// @description                Patient and doctor consultation rooms with ordered, idempotent message delivery.
// @BasePath                   /api/v1
// @schemes                    http https
//
// @securityDefinitions.apikey BearerAuth
// @in                         header
// @name                       Authorization
// @description                "Bearer <token>"
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	_ "github.com/tbourn/go-consult-chat/docs"
	"github.com/tbourn/go-consult-chat/internal/auth"
	"github.com/tbourn/go-consult-chat/internal/config"
	httpapi "github.com/tbourn/go-consult-chat/internal/http"
	"github.com/tbourn/go-consult-chat/internal/observability"
	"github.com/tbourn/go-consult-chat/internal/realtime"
	"github.com/tbourn/go-consult-chat/internal/repo"
	"github.com/tbourn/go-consult-chat/internal/services"
	"github.com/tbourn/go-consult-chat/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = ""

const shutdownTimeout = 15 * time.Second

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	ver := sysutil.FirstNonEmpty(version, os.Getenv("APP_VERSION"), "dev")

	sysutil.SetLogLevel(cfg.LogLevel)
	log.Logger = sysutil.NewLogger(os.Stdout, cfg.LogPretty, cfg.OTEL.ServiceName, ver)
	gin.SetMode(cfg.GinMode)

	if err := run(cfg, ver); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
}

func run(cfg config.Config, ver string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, ver)
	if err != nil {
		return err
	}

	dsn := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := repo.Open(cfg.DBDriver, dsn)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	var (
		revocations auth.RevocationChecker
		broker      realtime.Broker = realtime.NewLocalBroker()
		rdb         *redis.Client
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return err
		}
		revocations = auth.NewRedisRevocations(rdb, cfg.Redis.Prefix)
		broker = realtime.NewRedisBroker(rdb, cfg.Redis.Prefix)
		log.Info().Str("prefix", cfg.Redis.Prefix).Msg("redis enabled: revocations and cross-node fan-out")
	}

	verifier := auth.NewJWTVerifier(auth.JWTOptions{
		Secret:      []byte(cfg.Auth.JWTSecret),
		Issuer:      cfg.Auth.Issuer,
		Leeway:      cfg.Auth.Leeway,
		Revocations: revocations,
	})

	hub := realtime.NewHub()
	if err := broker.Subscribe(ctx, hub.Deliver); err != nil {
		return err
	}
	dispatcher := realtime.NewDispatcher(broker, cfg.Realtime.DispatchQueue)
	dispatcher.Start()

	rooms := services.NewRoomService(db, repo.Rooms{}, cfg.RoomLockTimeout)
	msgs := services.NewMessageService(db, rooms, dispatcher, services.LedgerOptions{
		MaxBodyRunes:   cfg.MaxBodyRunes,
		LockTimeout:    cfg.RoomLockTimeout,
		PageLimit:      cfg.HistoryPageLimit,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	gw := realtime.NewGateway(verifier, rooms, msgs, hub, cfg.Realtime)

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:       db,
		Verifier: verifier,
		Rooms:    rooms,
		Messages: msgs,
		Realtime: gw.Handle,
	}, cfg)

	srv := &http.Server{
		Addr:              sysutil.ListenAddr(cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("db", cfg.DBDriver).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	}

	// Fresh context: the signal context is already done.
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop accepting requests first; hijacked WebSocket connections are not
	// tracked by the server and are closed by the hub below.
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := hub.Shutdown(sctx, realtime.ReasonServerShutdown); err != nil {
		log.Warn().Err(err).Msg("session shutdown")
	}
	if err := dispatcher.Stop(sctx); err != nil {
		log.Warn().Err(err).Msg("dispatcher drain")
	}
	if err := broker.Close(); err != nil {
		log.Warn().Err(err).Msg("broker close")
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if err := shutdownOTel(sctx); err != nil {
		log.Warn().Err(err).Msg("otel flush")
	}
	log.Info().Msg("bye")
	return nil
}
